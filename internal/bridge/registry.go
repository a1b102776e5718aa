package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gluk-w/muxdeck/internal/hostconn"
	"github.com/gluk-w/muxdeck/internal/logutil"
)

// OpenFunc resolves a session id to a live shell stream attached to its
// multiplexer session. The second result reports whether the session is an
// assistant session, which enables the incremental status detector.
type OpenFunc func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error)

// Registry owns all bridges, keyed by session id.
type Registry struct {
	dispatch Dispatcher
	open     OpenFunc
	sink     StatusSink

	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewRegistry builds an empty registry. sink may be nil to disable
// incremental status detection entirely.
func NewRegistry(d Dispatcher, open OpenFunc, sink StatusSink) *Registry {
	return &Registry{
		dispatch: d,
		open:     open,
		sink:     sink,
		bridges:  make(map[string]*Bridge),
	}
}

// Subscribe attaches a client to the session's bridge, creating the bridge
// and opening the shell on first subscribe. The client receives the buffer
// replay before any live output. Subscribers arriving while the open is
// still in flight wait for it and share its outcome.
func (r *Registry) Subscribe(ctx context.Context, sessionID, clientID string) error {
	r.mu.Lock()
	b, ok := r.bridges[sessionID]
	if !ok {
		b = newBridge(sessionID, r.dispatch, r.remove)
		r.bridges[sessionID] = b
	}
	r.mu.Unlock()

	if !ok {
		shell, assistant, err := r.open(ctx, sessionID)
		if err != nil {
			err = fmt.Errorf("open shell for %s: %w", sessionID, err)
			b.failOpen(err)
			r.remove(sessionID)
			return err
		}
		var sink StatusSink
		if assistant {
			sink = r.sink
		}
		b.start(shell, sink)
	} else if err := b.waitOpen(ctx); err != nil {
		return err
	}

	b.subscribe(clientID)
	return nil
}

// Unsubscribe detaches a client; the bridge closes itself when its last
// subscriber leaves.
func (r *Registry) Unsubscribe(sessionID, clientID string) {
	if b, ok := r.get(sessionID); ok {
		b.unsubscribe(clientID)
	}
}

// DropClient detaches a client from every bridge it subscribes to. Called
// when a WebSocket connection goes away.
func (r *Registry) DropClient(clientID string) {
	r.mu.Lock()
	all := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		all = append(all, b)
	}
	r.mu.Unlock()
	for _, b := range all {
		b.unsubscribe(clientID)
	}
}

// Input forwards client bytes to the session's shell.
func (r *Registry) Input(sessionID string, data []byte) error {
	b, ok := r.get(sessionID)
	if !ok {
		return ErrBridgeClosed
	}
	return b.Write(data)
}

// Resize sets the session's PTY dimensions.
func (r *Registry) Resize(sessionID string, cols, rows uint16) error {
	b, ok := r.get(sessionID)
	if !ok {
		return ErrBridgeClosed
	}
	return b.Resize(cols, rows)
}

// Close tears down one session's bridge regardless of subscribers.
func (r *Registry) Close(sessionID string) {
	if b, ok := r.get(sessionID); ok {
		b.Close()
	}
}

// CloseAll tears down every bridge. Part of graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		all = append(all, b)
	}
	r.mu.Unlock()
	for _, b := range all {
		b.Close()
	}
}

// Sweep drops bridges that ended up closed or errored without being
// removed, and closes any that lost all subscribers. Run periodically by
// the maintenance job.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	stale := make([]*Bridge, 0)
	for _, b := range r.bridges {
		stale = append(stale, b)
	}
	r.mu.Unlock()

	swept := 0
	for _, b := range stale {
		switch {
		case b.State() == StateClosed || b.State() == StateError:
			r.remove(b.sessionID)
			swept++
		case b.Subscribers() == 0 && b.State() == StateConnected:
			log.Printf("[bridge] sweeping idle bridge for %s", logutil.Sanitize(b.sessionID))
			b.Close()
			swept++
		}
	}
	return swept
}

// Count reports the number of live bridges.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

func (r *Registry) get(sessionID string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[sessionID]
	return b, ok
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bridges, sessionID)
}
