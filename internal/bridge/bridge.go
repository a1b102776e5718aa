// Package bridge streams terminal output between one multiplexer session
// and its subscribed WebSocket clients. One bridge exists per actively
// streamed session id; the registry owns them.
package bridge

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/muxdeck/internal/discovery"
	"github.com/gluk-w/muxdeck/internal/hostconn"
	"github.com/gluk-w/muxdeck/internal/logutil"
)

// ErrBridgeClosed is returned for operations on a closed bridge.
var ErrBridgeClosed = errors.New("bridge is closed")

// State is the bridge lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateConnected    State = "connected"
	StatePaused       State = "paused"
	StateError        State = "error"
	StateClosed       State = "closed"
)

// Dispatcher resolves client ids to live connections. The hub implements
// it; the bridge never holds connection handles itself.
type Dispatcher interface {
	// DeliverBuffer replays the retained output to one client.
	DeliverBuffer(clientID, sessionID string, lines []string)
	// DeliverOutput sends a live output delta to one client.
	DeliverOutput(clientID, sessionID string, data []byte)
	// DeliverError reports a bridge failure to one client.
	DeliverError(clientID, sessionID, message string)
}

// StatusSink receives assistant statuses from the incremental detector.
type StatusSink func(sessionID, status string)

// Incremental detector tuning.
const (
	statusWindowSize    = 2 * 1024
	statusDebounce      = 100 * time.Millisecond
	bridgeReadChunkSize = 4096
)

// Bridge pumps one shell stream to many clients.
type Bridge struct {
	sessionID string
	dispatch  Dispatcher
	onExit    func(sessionID string)

	mu    sync.Mutex
	state State
	subs  map[string]struct{}
	shell hostconn.ShellStream
	ring  *ringBuffer

	// openDone is closed once the shell open settles, successfully or not;
	// openErr is only read after the close.
	openDone chan struct{}
	openErr  error

	// Incremental assistant status detection.
	statusSink   StatusSink
	statusWindow []byte
	lastStatus   string
	lastShift    time.Time
}

func newBridge(sessionID string, d Dispatcher, onExit func(string)) *Bridge {
	return &Bridge{
		sessionID: sessionID,
		dispatch:  d,
		onExit:    onExit,
		state:     StateInitializing,
		subs:      make(map[string]struct{}),
		ring:      newRingBuffer(),
		openDone:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribers returns the current subscriber count.
func (b *Bridge) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// start attaches the shell and begins pumping output. Called by the
// registry with the stream already open.
func (b *Bridge) start(shell hostconn.ShellStream, statusSink StatusSink) {
	b.mu.Lock()
	b.shell = shell
	b.state = StateConnected
	b.statusSink = statusSink
	b.mu.Unlock()
	close(b.openDone)
	go b.readLoop()
}

// failOpen marks a bridge whose shell never opened and releases any
// subscribers waiting on the open.
func (b *Bridge) failOpen(err error) {
	b.mu.Lock()
	b.state = StateError
	b.openErr = err
	b.mu.Unlock()
	close(b.openDone)
}

// waitOpen blocks until the shell open settles and returns its error.
func (b *Bridge) waitOpen(ctx context.Context) error {
	select {
	case <-b.openDone:
		return b.openErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribe adds a client and replays the buffer to it. Registration and
// replay share the lock that orders output dispatch, so the replay always
// reaches the client before any live delta.
func (b *Bridge) subscribe(clientID string) {
	b.mu.Lock()
	b.subs[clientID] = struct{}{}
	lines := b.ring.Lines()
	b.dispatch.DeliverBuffer(clientID, b.sessionID, lines)
	b.mu.Unlock()
}

// unsubscribe removes a client; the last one out closes the bridge.
func (b *Bridge) unsubscribe(clientID string) (empty bool) {
	b.mu.Lock()
	delete(b.subs, clientID)
	empty = len(b.subs) == 0
	b.mu.Unlock()
	if empty {
		b.Close()
	}
	return empty
}

// Write forwards client input to the shell verbatim.
func (b *Bridge) Write(data []byte) error {
	b.mu.Lock()
	shell, state := b.shell, b.state
	b.mu.Unlock()
	if state != StateConnected && state != StatePaused {
		return ErrBridgeClosed
	}
	_, err := shell.Write(data)
	return err
}

// Resize sets the PTY dimensions.
func (b *Bridge) Resize(cols, rows uint16) error {
	b.mu.Lock()
	shell, state := b.shell, b.state
	b.mu.Unlock()
	if state != StateConnected && state != StatePaused {
		return ErrBridgeClosed
	}
	return shell.Resize(cols, rows)
}

// Pause keeps the shell running but stops dispatching output deltas; the
// ring buffer keeps filling so a Resume replays nothing stale.
func (b *Bridge) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateConnected {
		b.state = StatePaused
	}
}

// Resume restores output dispatch after a Pause.
func (b *Bridge) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StatePaused {
		b.state = StateConnected
	}
}

// Close tears the bridge down: shell closed, buffer freed.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	shell := b.shell
	sink := b.statusSink
	b.subs = make(map[string]struct{})
	b.mu.Unlock()

	if shell != nil {
		shell.Close()
	}
	if sink != nil {
		// The incremental detector is gone; retract its last status so the
		// discovery classifier takes back over.
		sink(b.sessionID, "")
	}
	if b.onExit != nil {
		b.onExit(b.sessionID)
	}
}

func (b *Bridge) readLoop() {
	buf := make([]byte, bridgeReadChunkSize)
	for {
		n, err := b.shell.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.handleOutput(chunk)
		}
		if err != nil {
			b.handleExit(err)
			return
		}
	}
}

// handleOutput appends a chunk to the ring and fans it out. Append and
// dispatch stay under one lock so a concurrent subscribe sees either the
// chunk in its replay or the delta after it, never both and never neither.
func (b *Bridge) handleOutput(chunk []byte) {
	b.mu.Lock()
	b.ring.Append(chunk)
	if b.state != StatePaused {
		for clientID := range b.subs {
			b.dispatch.DeliverOutput(clientID, b.sessionID, chunk)
		}
	}
	b.mu.Unlock()

	b.detectStatus(chunk)
}

// detectStatus runs the incremental assistant status detector over a
// sliding window of recent output. Transitions are debounced so spinner
// redraws do not flap the status.
func (b *Bridge) detectStatus(chunk []byte) {
	b.mu.Lock()
	sink := b.statusSink
	if sink == nil {
		b.mu.Unlock()
		return
	}
	b.statusWindow = append(b.statusWindow, chunk...)
	if len(b.statusWindow) > statusWindowSize {
		b.statusWindow = b.statusWindow[len(b.statusWindow)-statusWindowSize:]
	}
	window := string(b.statusWindow)
	last, lastShift := b.lastStatus, b.lastShift
	b.mu.Unlock()

	status := discovery.StatusFromWindow(window)
	if status == "" || status == last {
		return
	}
	if time.Since(lastShift) < statusDebounce {
		return
	}

	b.mu.Lock()
	b.lastStatus = status
	b.lastShift = time.Now()
	b.mu.Unlock()
	sink(b.sessionID, status)
}

func (b *Bridge) handleExit(err error) {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateError
	subs := make([]string, 0, len(b.subs))
	for id := range b.subs {
		subs = append(subs, id)
	}
	b.mu.Unlock()

	log.Printf("[bridge] %s: shell ended: %v", logutil.Sanitize(b.sessionID), err)
	for _, clientID := range subs {
		b.dispatch.DeliverError(clientID, b.sessionID, "session terminated")
	}
	b.Close()
}
