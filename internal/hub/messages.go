package hub

import "github.com/gluk-w/muxdeck/internal/discovery"

// Wire protocol. Every frame is a JSON object tagged by "type".

// Inbound message types.
const (
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
	msgInput        = "input"
	msgResize       = "resize"
	msgListSessions = "list-sessions"
)

// Outbound message types.
const (
	msgSessions = "sessions"
	msgOutput   = "output"
	msgBuffer   = "buffer"
	msgError    = "error"
)

// Error codes carried on error frames.
const (
	codeSessionNotFound = "SESSION_NOT_FOUND"
	codeInvalidMessage  = "INVALID_MESSAGE"
)

type inboundMessage struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId,omitempty"`
	Data          string `json:"data,omitempty"`
	Cols          int    `json:"cols,omitempty"`
	Rows          int    `json:"rows,omitempty"`
	IncludeHidden bool   `json:"includeHidden,omitempty"`
}

// outboundMessage's Data field is a string on output frames and an array
// of retained lines on buffer frames.
type outboundMessage struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId,omitempty"`
	Data      any                 `json:"data,omitempty"`
	Seq       uint64              `json:"seq,omitempty"`
	Sessions  []discovery.Session `json:"sessions,omitempty"`
	Message   string              `json:"message,omitempty"`
	Code      string              `json:"code,omitempty"`
}

func errorMessage(sessionID, message, code string) outboundMessage {
	return outboundMessage{Type: msgError, SessionID: sessionID, Message: message, Code: code}
}

func sessionsMessage(snap discovery.Snapshot) outboundMessage {
	sessions := snap.Sessions
	if sessions == nil {
		sessions = []discovery.Session{}
	}
	return outboundMessage{Type: msgSessions, Seq: snap.Seq, Sessions: sessions}
}
