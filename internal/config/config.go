package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds the server-level configuration loaded from the environment.
type Settings struct {
	Port     int    `envconfig:"PORT" default:"8000"`
	BindHost string `envconfig:"BIND_HOST" default:"0.0.0.0"`
	DataPath string `envconfig:"DATA_PATH" default:"~/.session-manager"`
	LogPath  string `envconfig:"LOG_PATH" default:""`

	// WebSocket settings
	WSPath      string `envconfig:"WS_PATH" default:"/ws"`
	HeartbeatMS int    `envconfig:"WS_HEARTBEAT_MS" default:"30000"`

	// Discovery settings
	PollMS              int    `envconfig:"DISCOVERY_POLL_MS" default:"2000"`
	IncludeNonAssistant bool   `envconfig:"DISCOVERY_INCLUDE_NON_ASSISTANT" default:"true"`
	AssistantCommand    string `envconfig:"ASSISTANT_COMMAND" default:"claude"`

	// Auth settings. When AuthEnabled is false the API and WebSocket are open.
	AuthEnabled      bool   `envconfig:"AUTH_ENABLED" default:"false"`
	AuthSecret       string `envconfig:"AUTH_SECRET" default:""`
	TokenExpiryS     int    `envconfig:"AUTH_TOKEN_EXPIRY_S" default:"86400"`
	AuthUsername     string `envconfig:"AUTH_USERNAME" default:""`
	AuthPasswordHash string `envconfig:"AUTH_PASSWORD_HASH" default:""`

	// Hosts file. JSON or YAML, see hosts.go.
	HostsPath string `envconfig:"HOSTS_PATH" default:"~/.config/session-manager/hosts.json"`
}

var Cfg Settings

// Load reads settings from the environment and validates them.
// Fatal on invalid configuration: a misconfigured server must not boot.
func Load() {
	if err := envconfig.Process("MUXDECK", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := Cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	Cfg.DataPath = ExpandHome(Cfg.DataPath)
	Cfg.HostsPath = ExpandHome(Cfg.HostsPath)
}

// Validate checks startup invariants that must prevent boot when violated.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", s.Port)
	}
	if s.PollMS < 500 {
		return fmt.Errorf("discovery poll interval %dms below minimum 500ms", s.PollMS)
	}
	if s.HeartbeatMS < 1000 {
		return fmt.Errorf("websocket heartbeat %dms below minimum 1000ms", s.HeartbeatMS)
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		return fmt.Errorf("websocket path %q must start with /", s.WSPath)
	}
	if s.AuthEnabled {
		if s.AuthSecret == "" {
			return fmt.Errorf("auth enabled but no auth secret configured")
		}
		if s.AuthUsername == "" || s.AuthPasswordHash == "" {
			return fmt.Errorf("auth enabled but username or password hash missing")
		}
		if s.TokenExpiryS <= 0 {
			return fmt.Errorf("auth token expiry must be positive, got %d", s.TokenExpiryS)
		}
	}
	return nil
}

// ExpandHome expands a leading "~" against the current user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
