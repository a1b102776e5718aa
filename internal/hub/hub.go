// Package hub fans terminal output and session snapshots out to WebSocket
// clients, and routes client input back to the owning terminal bridge.
package hub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/gluk-w/muxdeck/internal/bridge"
	"github.com/gluk-w/muxdeck/internal/discovery"
	"github.com/gluk-w/muxdeck/internal/logutil"
)

// defaultHeartbeat is the ping interval used when the configured one is
// missing or non-positive. A peer that misses a pong within the write
// timeout is dropped.
const defaultHeartbeat = 30 * time.Second

// sendQueueSize bounds the per-client outbound queue. Terminal output can
// burst; a client that cannot drain this is disconnected.
const sendQueueSize = 256

type client struct {
	id   string
	conn *websocket.Conn
	send chan outboundMessage

	mu   sync.Mutex
	subs map[string]struct{}
}

func (c *client) addSub(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sessionID] = struct{}{}
}

func (c *client) removeSub(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sessionID)
}

// enqueue hands a message to the client's writer goroutine. Reports false
// when the queue is full, which marks the client for disconnection.
func (c *client) enqueue(msg outboundMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// SessionSource is the slice of the discovery engine the hub consumes.
type SessionSource interface {
	Get(sessionID string) (discovery.Session, bool)
	Snapshot(includeHidden bool) discovery.Snapshot
	Subscribe() (int, <-chan discovery.Snapshot)
	Unsubscribe(id int)
}

// Hub is the client registry. It implements bridge.Dispatcher so bridges
// can deliver to clients by id without holding connections.
type Hub struct {
	engine    SessionSource
	bridges   *bridge.Registry
	heartbeat time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

// New builds a hub over the discovery engine. The bridge registry is
// attached separately because it needs the hub as its dispatcher.
func New(engine SessionSource, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Hub{
		engine:    engine,
		heartbeat: heartbeat,
		clients:   make(map[string]*client),
	}
}

// SetRegistry attaches the bridge registry. Must be called before serving.
func (h *Hub) SetRegistry(r *bridge.Registry) { h.bridges = r }

// Run broadcasts every discovery snapshot to all connected clients until
// ctx is done.
func (h *Hub) Run(ctx context.Context) {
	subID, snapshots := h.engine.Subscribe()
	defer h.engine.Unsubscribe(subID)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			h.broadcast(sessionsMessage(snap))
		}
	}
}

func (h *Hub) broadcast(msg outboundMessage) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		if !c.enqueue(msg) {
			log.Printf("[hub] client %s send queue full, dropping connection", c.id)
			c.conn.Close(websocket.StatusPolicyViolation, "send queue overflow")
		}
	}
}

// ClientCount reports connected clients, for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and serves the connection until it drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("[hub] websocket accept failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan outboundMessage, sendQueueSize),
		subs: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	log.Printf("[hub] client %s connected", c.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, c)
	go h.pingLoop(ctx, c)

	// Every new client gets the current snapshot immediately.
	c.enqueue(sessionsMessage(h.engine.Snapshot(false)))

	h.readLoop(ctx, c)

	cancel()
	h.dropClient(c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var msg inboundMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			return
		}
		h.handleMessage(ctx, c, msg)
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *client, msg inboundMessage) {
	switch msg.Type {
	case msgSubscribe:
		if _, ok := h.engine.Get(msg.SessionID); !ok {
			c.enqueue(errorMessage(msg.SessionID, "session not found", codeSessionNotFound))
			return
		}
		if err := h.bridges.Subscribe(ctx, msg.SessionID, c.id); err != nil {
			log.Printf("[hub] client %s subscribe %s failed: %v", c.id, logutil.Sanitize(msg.SessionID), err)
			c.enqueue(errorMessage(msg.SessionID, err.Error(), ""))
			return
		}
		c.addSub(msg.SessionID)

	case msgUnsubscribe:
		c.removeSub(msg.SessionID)
		h.bridges.Unsubscribe(msg.SessionID, c.id)

	case msgInput:
		if err := h.bridges.Input(msg.SessionID, []byte(msg.Data)); err != nil {
			c.enqueue(errorMessage(msg.SessionID, "session not found", codeSessionNotFound))
		}

	case msgResize:
		if msg.Cols <= 0 || msg.Rows <= 0 {
			c.enqueue(errorMessage(msg.SessionID, "Invalid message format", codeInvalidMessage))
			return
		}
		if err := h.bridges.Resize(msg.SessionID, uint16(msg.Cols), uint16(msg.Rows)); err != nil {
			c.enqueue(errorMessage(msg.SessionID, "session not found", codeSessionNotFound))
		}

	case msgListSessions:
		c.enqueue(sessionsMessage(h.engine.Snapshot(msg.IncludeHidden)))

	default:
		// Unknown tags get an error frame; the connection stays open.
		c.enqueue(errorMessage("", "Invalid message format", codeInvalidMessage))
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (h *Hub) dropClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	h.bridges.DropClient(c.id)
	c.conn.Close(websocket.StatusNormalClosure, "")
	log.Printf("[hub] client %s disconnected", c.id)
}

// bridge.Dispatcher implementation.

// DeliverBuffer replays retained output to one client.
func (h *Hub) DeliverBuffer(clientID, sessionID string, lines []string) {
	if lines == nil {
		lines = []string{}
	}
	h.deliver(clientID, outboundMessage{Type: msgBuffer, SessionID: sessionID, Data: lines})
}

// DeliverOutput sends a live output delta to one client.
func (h *Hub) DeliverOutput(clientID, sessionID string, data []byte) {
	h.deliver(clientID, outboundMessage{Type: msgOutput, SessionID: sessionID, Data: string(data)})
}

// DeliverError reports a bridge failure to one client.
func (h *Hub) DeliverError(clientID, sessionID, message string) {
	h.deliver(clientID, errorMessage(sessionID, message, ""))
}

func (h *Hub) deliver(clientID string, msg outboundMessage) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if !c.enqueue(msg) {
		log.Printf("[hub] client %s send queue full, dropping connection", c.id)
		c.conn.Close(websocket.StatusPolicyViolation, "send queue overflow")
	}
}
