// state.go implements connection state tracking for the hostconn package.
//
// Each host connection has a ConnectionState (disconnected, connecting,
// connected, error) that is updated by the Manager lifecycle methods. State
// transitions are recorded in a per-host ring buffer (50 entries) for
// debugging, and registered callbacks are invoked on every state change so
// the UI can render host status.

package hostconn

import (
	"sync"
	"time"
)

// ConnectionState represents the current state of a host connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// stateTransitionBufferSize is the maximum number of state transitions
// retained per host.
const stateTransitionBufferSize = 50

// StateTransition records a single state change.
type StateTransition struct {
	From      ConnectionState `json:"from"`
	To        ConnectionState `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

// StateChangeCallback is called when a connection state changes.
// Callbacks are invoked synchronously; long-running handlers should spawn
// goroutines.
type StateChangeCallback func(hostID string, from, to ConnectionState)

type stateEntry struct {
	current     ConnectionState
	transitions [stateTransitionBufferSize]StateTransition
	head        int
	count       int
}

func (e *stateEntry) record(from, to ConnectionState, reason string) {
	e.transitions[e.head] = StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	e.head = (e.head + 1) % stateTransitionBufferSize
	if e.count < stateTransitionBufferSize {
		e.count++
	}
}

// history returns the state transitions in chronological order.
func (e *stateEntry) history() []StateTransition {
	if e.count == 0 {
		return nil
	}
	result := make([]StateTransition, e.count)
	if e.count < stateTransitionBufferSize {
		copy(result, e.transitions[:e.count])
	} else {
		n := copy(result, e.transitions[e.head:])
		copy(result[n:], e.transitions[:e.head])
	}
	return result
}

// stateTracker manages per-host connection state, transition history, and
// state change callbacks. It is embedded in Manager.
type stateTracker struct {
	mu        sync.RWMutex
	states    map[string]*stateEntry
	callbacks []StateChangeCallback
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]*stateEntry)}
}

func (st *stateTracker) getOrCreate(hostID string) *stateEntry {
	entry, ok := st.states[hostID]
	if !ok {
		entry = &stateEntry{current: StateDisconnected}
		st.states[hostID] = entry
	}
	return entry
}

func (st *stateTracker) setState(hostID string, state ConnectionState, reason string) {
	st.mu.Lock()
	entry := st.getOrCreate(hostID)
	from := entry.current
	if from == state {
		st.mu.Unlock()
		return
	}
	entry.current = state
	entry.record(from, state, reason)

	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(hostID, from, state)
	}
}

func (st *stateTracker) getState(hostID string) ConnectionState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	entry, ok := st.states[hostID]
	if !ok {
		return StateDisconnected
	}
	return entry.current
}

func (st *stateTracker) getTransitions(hostID string) []StateTransition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	entry, ok := st.states[hostID]
	if !ok {
		return nil
	}
	return entry.history()
}

func (st *stateTracker) onStateChange(cb StateChangeCallback) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, cb)
}

func (st *stateTracker) remove(hostID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.states, hostID)
}
