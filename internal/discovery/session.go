// Package discovery periodically enumerates multiplexer sessions on the
// local machine and every configured host, enriches them with metadata, and
// publishes immutable snapshots to subscribers. It owns the session map.
package discovery

import (
	"fmt"
	"strings"
	"time"
)

// LocalHostID is the reserved pseudo-host id for the local machine.
const LocalHostID = "local"

// Status is the lifecycle state of a discovered session.
type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
	StatusTerminated   Status = "terminated"
)

// HostSummary identifies the host a session lives on.
type HostSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Local bool   `json:"local"`
}

// MuxCoords locates the session inside its multiplexer.
type MuxCoords struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
	PaneID      string `json:"pane_id"`
	WindowIndex int    `json:"window_index"`
}

// ProcessInfo describes the pane's foreground process.
type ProcessInfo struct {
	PID            int    `json:"pid"`
	CurrentCommand string `json:"current_command"`
}

// Dimensions is the pane size in character cells.
type Dimensions struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Session is one discovered multiplexer pane plus its enrichment metadata.
// Records are immutable once published; each refresh builds a new map.
type Session struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Host               HostSummary `json:"host"`
	Mux                MuxCoords   `json:"mux"`
	Status             Status      `json:"status"`
	IsAssistantSession bool        `json:"is_assistant_session"`
	Process            ProcessInfo `json:"process"`
	CreatedAt          time.Time   `json:"created_at"`
	LastActivityAt     time.Time   `json:"last_activity_at"`
	Dimensions         Dimensions  `json:"dimensions"`
	WorkingDir         string      `json:"working_dir"`
	WorkspaceID        *string     `json:"workspace_id"`

	LastOutputLine           string `json:"last_output_line,omitempty"`
	StatusBar                string `json:"status_bar,omitempty"`
	ConversationSummary      string `json:"conversation_summary,omitempty"`
	UserLastInput            string `json:"user_last_input,omitempty"`
	AssistantOperationStatus string `json:"assistant_operation_status,omitempty"`
}

// ComposeID builds the globally unique session id from its coordinates.
func ComposeID(hostID, muxSessionID, paneID string) string {
	return hostID + ":" + muxSessionID + ":" + paneID
}

// ParseID splits a session id back into its coordinates.
func ParseID(id string) (hostID, muxSessionID, paneID string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed session id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}
