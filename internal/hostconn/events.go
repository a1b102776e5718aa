package hostconn

import (
	"sync"
	"time"
)

// ConnectionEventType defines the type of connection state change event.
type ConnectionEventType string

const (
	EventConnected       ConnectionEventType = "connected"
	EventDisconnected    ConnectionEventType = "disconnected"
	EventReconnecting    ConnectionEventType = "reconnecting"
	EventReconnected     ConnectionEventType = "reconnected"
	EventReconnectFailed ConnectionEventType = "reconnect_failed"
)

// ConnectionEvent represents a connection state change.
type ConnectionEvent struct {
	HostID    string              `json:"host_id"`
	Type      ConnectionEventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Details   string              `json:"details"`
}

// EventListener is a callback for connection events. Listeners are called
// synchronously; long-running handlers should spawn goroutines.
type EventListener func(event ConnectionEvent)

// eventLogSize is the number of recent events retained per host for the
// events API.
const eventLogSize = 100

type eventLog struct {
	mu     sync.Mutex
	events map[string][]ConnectionEvent
}

func newEventLog() *eventLog {
	return &eventLog{events: make(map[string][]ConnectionEvent)}
}

func (l *eventLog) record(ev ConnectionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := append(l.events[ev.HostID], ev)
	if len(events) > eventLogSize {
		events = events[len(events)-eventLogSize:]
	}
	l.events[ev.HostID] = events
}

func (l *eventLog) recent(hostID string) []ConnectionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events[hostID]
	result := make([]ConnectionEvent, len(events))
	copy(result, events)
	return result
}
