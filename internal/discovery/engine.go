package discovery

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gluk-w/muxdeck/internal/config"
	"github.com/gluk-w/muxdeck/internal/hostconn"
	"github.com/gluk-w/muxdeck/internal/mux"
	"github.com/gluk-w/muxdeck/internal/store"
)

// Options configures the discovery engine.
type Options struct {
	// Interval between refresh cycles. Enforced minimum 500ms.
	Interval time.Duration
	// AssistantCommand is the CLI name panes are classified against.
	AssistantCommand string
	// IncludeNonAssistant lists sessions not running the assistant in the
	// available-for-attach query.
	IncludeNonAssistant bool
}

// Snapshot is one immutable published view of the managed sessions.
type Snapshot struct {
	Seq      uint64    `json:"seq"`
	Sessions []Session `json:"sessions"`
}

// Engine owns the session map. It refreshes it periodically and publishes
// snapshots to subscribers; all session mutations go through it so that
// persistence happens before notification.
type Engine struct {
	opts    Options
	store   *store.Store
	hosts   *hostconn.Manager
	adapter *mux.Adapter
	local   mux.Runner

	mu       sync.RWMutex
	sessions map[string]Session
	seq      uint64

	subMu sync.Mutex
	subs  map[int]chan Snapshot
	nextS int

	refreshMu sync.Mutex

	statusMu  sync.Mutex
	overrides map[string]string
}

// hostRunner adapts the connection manager's exec to the mux Runner.
type hostRunner struct {
	mgr    *hostconn.Manager
	hostID string
}

func (r hostRunner) Run(ctx context.Context, command string) (string, error) {
	return r.mgr.Exec(ctx, r.hostID, command)
}

// trackingRunner remembers whether any command failed. The mux adapter
// swallows errors into empty lists, but the engine must tell "host has no
// sessions" apart from "host is unreachable".
type trackingRunner struct {
	inner  mux.Runner
	failed *atomic.Bool
}

func (r trackingRunner) Run(ctx context.Context, command string) (string, error) {
	out, err := r.inner.Run(ctx, command)
	if err != nil {
		r.failed.Store(true)
	}
	return out, err
}

// NewEngine builds an engine over the store, the connection manager, and
// the local multiplexer.
func NewEngine(opts Options, st *store.Store, hosts *hostconn.Manager) *Engine {
	if opts.Interval < 500*time.Millisecond {
		opts.Interval = 500 * time.Millisecond
	}
	return &Engine{
		opts:      opts,
		store:     st,
		hosts:     hosts,
		adapter:   mux.New(),
		local:     mux.LocalRunner{},
		sessions:  make(map[string]Session),
		subs:      make(map[int]chan Snapshot),
		overrides: make(map[string]string),
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.Refresh(ctx)
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tryRefresh(ctx)
		}
	}
}

// Refresh runs one discovery cycle. A cycle already in flight is waited
// out first, so the caller always observes a cycle started after its call;
// session create and attach rely on that to find what they just made.
func (e *Engine) Refresh(ctx context.Context) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	e.refreshCycle(ctx)
}

// tryRefresh runs a cycle unless one is already in flight. Ticker ticks
// are skipped rather than queued.
func (e *Engine) tryRefresh(ctx context.Context) {
	if !e.refreshMu.TryLock() {
		return
	}
	defer e.refreshMu.Unlock()
	e.refreshCycle(ctx)
}

func (e *Engine) refreshCycle(ctx context.Context) {
	type result struct {
		hostID   string
		sessions []Session
		failed   bool
	}

	hosts := e.hosts.Hosts()
	results := make(chan result, len(hosts)+1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions := e.discoverHost(ctx, HostSummary{ID: LocalHostID, Name: "Local", Local: true}, e.local)
		results <- result{hostID: LocalHostID, sessions: sessions}
	}()

	for _, h := range hosts {
		wg.Add(1)
		go func(h config.HostConfig) {
			defer wg.Done()
			// A failing host contributes nothing; its previously known
			// sessions go to disconnected rather than terminated.
			if e.hosts.State(h.ID) == hostconn.StateError {
				results <- result{hostID: h.ID, failed: true}
				return
			}
			name := h.Name
			if name == "" {
				name = h.ID
			}
			var failed atomic.Bool
			runner := trackingRunner{inner: hostRunner{mgr: e.hosts, hostID: h.ID}, failed: &failed}
			sessions := e.discoverHost(ctx, HostSummary{ID: h.ID, Name: name}, runner)
			results <- result{hostID: h.ID, sessions: sessions, failed: failed.Load()}
		}(h)
	}

	wg.Wait()
	close(results)

	discovered := make(map[string]Session)
	failedHosts := make(map[string]bool)
	for r := range results {
		if r.failed {
			failedHosts[r.hostID] = true
			log.Printf("[discovery] host %s unavailable, keeping prior sessions as disconnected", r.hostID)
			continue
		}
		for _, s := range r.sessions {
			discovered[s.ID] = s
		}
	}

	bindings := e.store.Bindings()
	now := time.Now()

	e.mu.Lock()
	prior := e.sessions
	next := make(map[string]Session, len(discovered))
	for id, s := range discovered {
		if ws, managed := bindings[id]; managed {
			s.WorkspaceID = ws
		}
		if p, ok := prior[id]; ok {
			s.CreatedAt = p.CreatedAt
		}
		next[id] = s
	}

	// Sessions on unreachable hosts persist as disconnected; managed
	// sessions the mux no longer reports are kept, marked terminated.
	for id := range bindings {
		if _, ok := next[id]; ok {
			continue
		}
		p, hadPrior := prior[id]
		if !hadPrior {
			p = e.placeholderSession(id, now)
		}
		if failedHosts[p.Host.ID] {
			p.Status = StatusDisconnected
		} else {
			p.Status = StatusTerminated
		}
		p.WorkspaceID = bindings[id]
		next[id] = p
	}

	e.sessions = next
	e.seq++
	e.mu.Unlock()

	e.publish()
}

// placeholderSession reconstructs a minimal record for a managed id that
// was never observed in this process lifetime.
func (e *Engine) placeholderSession(id string, now time.Time) Session {
	hostID, muxID, paneID, err := ParseID(id)
	if err != nil {
		hostID = LocalHostID
	}
	name := muxID
	host := HostSummary{ID: hostID, Name: hostID, Local: hostID == LocalHostID}
	if h, ok := e.hosts.Host(hostID); ok && h.Name != "" {
		host.Name = h.Name
	}
	return Session{
		ID:             id,
		Name:           name,
		Host:           host,
		Mux:            MuxCoords{SessionID: muxID, SessionName: name, PaneID: paneID},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// discoverHost enumerates one host's mux sessions and panes. Only local
// panes are enriched; per-pane enrichment over SSH would multiply round
// trips by pane count every cycle.
func (e *Engine) discoverHost(ctx context.Context, host HostSummary, runner mux.Runner) []Session {
	var out []Session
	now := time.Now()

	for _, ms := range e.adapter.ListSessions(ctx, runner) {
		panes := e.adapter.ListPanes(ctx, runner, ms.Name)
		for _, p := range panes {
			id := ComposeID(host.ID, ms.ID, p.ID)

			assistant := classifyFast(p.CurrentCommand, e.opts.AssistantCommand)
			if !assistant && containsWord(ms.Name, e.opts.AssistantCommand) {
				assistant = classifyDeep(ctx, runner, p.PID, e.opts.AssistantCommand)
			}

			s := Session{
				ID:                 id,
				Name:               ms.Name,
				Host:               host,
				Mux:                MuxCoords{SessionID: ms.ID, SessionName: ms.Name, PaneID: p.ID, WindowIndex: p.WindowIndex},
				Status:             StatusActive,
				IsAssistantSession: assistant,
				Process:            ProcessInfo{PID: p.PID, CurrentCommand: p.CurrentCommand},
				CreatedAt:          time.Unix(ms.CreatedUnix, 0),
				LastActivityAt:     now,
				Dimensions:         Dimensions{Cols: p.Width, Rows: p.Height},
				WorkingDir:         p.CurrentPath,
			}

			if host.Local {
				e.enrichLocal(ctx, runner, &s, now)
			}
			if assistant && s.AssistantOperationStatus == OpIdle {
				s.Status = StatusIdle
			}
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) enrichLocal(ctx context.Context, runner mux.Runner, s *Session, now time.Time) {
	s.LastOutputLine = e.adapter.CaptureLastLine(ctx, runner, s.Mux.SessionName, s.Mux.PaneID)
	s.StatusBar = e.adapter.CaptureStatusBar(ctx, runner, s.Mux.SessionName)

	buffer := e.adapter.CaptureRecentBuffer(ctx, runner, s.Mux.SessionName, s.Mux.PaneID, 50)
	s.UserLastInput = ExtractUserInput(buffer)

	if !s.IsAssistantSession {
		return
	}
	s.ConversationSummary = conversationSummary(s.WorkingDir)

	if override := e.takeOverride(s.ID); override != "" {
		s.AssistantOperationStatus = override
		return
	}
	s.AssistantOperationStatus = AssistantStatus(buffer, projectDirFor(s.WorkingDir), s.WorkingDir, s.StatusBar, now)
}

func (e *Engine) takeOverride(sessionID string) string {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.overrides[sessionID]
}

// SetAssistantStatus records a status observed by a terminal bridge's
// incremental detector; it is folded into the next snapshot.
func (e *Engine) SetAssistantStatus(sessionID, status string) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if status == "" {
		delete(e.overrides, sessionID)
		return
	}
	e.overrides[sessionID] = status
}

// Get returns one session by id from the current map, managed or not.
func (e *Engine) Get(sessionID string) (Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// FindByName locates a session on a host by its mux session name.
func (e *Engine) FindByName(hostID, sessionName string) (Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.sessions {
		if s.Host.ID == hostID && s.Mux.SessionName == sessionName {
			return s, true
		}
	}
	return Session{}, false
}

// Snapshot returns the managed sessions, sorted by id. Hidden sessions are
// excluded unless includeHidden is set.
func (e *Engine) Snapshot(includeHidden bool) Snapshot {
	e.mu.RLock()
	seq := e.seq
	all := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.RUnlock()

	var out []Session
	for _, s := range all {
		if !e.store.IsManaged(s.ID) {
			continue
		}
		if !includeHidden && e.store.IsHidden(s.ID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return Snapshot{Seq: seq, Sessions: out}
}

// Subscribe registers a snapshot listener. The returned channel receives
// every publication; slow consumers drop snapshots rather than block the
// engine.
func (e *Engine) Subscribe() (int, <-chan Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextS
	e.nextS++
	ch := make(chan Snapshot, 4)
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Engine) Unsubscribe(id int) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) publish() {
	snap := e.Snapshot(false)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			log.Printf("[discovery] subscriber %d lagging, snapshot %d dropped", id, snap.Seq)
		}
	}
}

// AvailableSession is a mux session eligible for attachment: either not
// yet managed, or managed but hidden.
type AvailableSession struct {
	SessionID   string `json:"session_id"`
	Name        string `json:"name"`
	PaneID      string `json:"pane_id"`
	Windows     int    `json:"windows"`
	CreatedUnix int64  `json:"created_unix"`
	Hidden      bool   `json:"hidden"`
	IsAssistant bool   `json:"is_assistant"`
}

// ListAvailableFor queries a host's mux directly and returns sessions that
// could be attached: unmanaged ones, plus hidden managed ones.
func (e *Engine) ListAvailableFor(ctx context.Context, hostID string) ([]AvailableSession, error) {
	var runner mux.Runner = e.local
	if hostID != LocalHostID {
		if _, ok := e.hosts.Host(hostID); !ok {
			return nil, hostconn.ErrHostUnknown
		}
		runner = hostRunner{mgr: e.hosts, hostID: hostID}
	}

	var out []AvailableSession
	for _, ms := range e.adapter.ListSessions(ctx, runner) {
		for _, p := range e.adapter.ListPanes(ctx, runner, ms.Name) {
			id := ComposeID(hostID, ms.ID, p.ID)
			hidden := e.store.IsHidden(id)
			if e.store.IsManaged(id) && !hidden {
				continue
			}
			assistant := classifyFast(p.CurrentCommand, e.opts.AssistantCommand)
			if !assistant && !hidden && !e.opts.IncludeNonAssistant {
				continue
			}
			out = append(out, AvailableSession{
				SessionID:   id,
				Name:        ms.Name,
				PaneID:      p.ID,
				Windows:     ms.Windows,
				CreatedUnix: ms.CreatedUnix,
				Hidden:      hidden,
				IsAssistant: assistant,
			})
		}
	}
	return out, nil
}

// Mutations. Every one persists through the store before publishing, so a
// subscriber never sees state that is not on disk.

// AddManaged puts a session under management, optionally bound to a
// workspace.
func (e *Engine) AddManaged(sessionID string, workspaceID *string) {
	e.store.Bind(sessionID, workspaceID)
	e.updateWorkspace(sessionID, workspaceID)
	e.publish()
}

// RemoveManaged forgets a session.
func (e *Engine) RemoveManaged(sessionID string) {
	e.store.Unbind(sessionID)
	e.publish()
}

// SetWorkspace rebinds a managed session's workspace (nil clears it).
func (e *Engine) SetWorkspace(sessionID string, workspaceID *string) {
	e.store.Bind(sessionID, workspaceID)
	e.updateWorkspace(sessionID, workspaceID)
	e.publish()
}

// Hide removes a session from default listings without unmanaging it.
func (e *Engine) Hide(sessionID string) {
	e.store.Hide(sessionID)
	e.publish()
}

// Unhide restores a hidden session to default listings.
func (e *Engine) Unhide(sessionID string) {
	e.store.Unhide(sessionID)
	e.publish()
}

func (e *Engine) updateWorkspace(sessionID string, workspaceID *string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		s.WorkspaceID = workspaceID
		e.sessions[sessionID] = s
	}
}

// Adapter exposes the mux adapter for components that build commands
// against the same binary (session create, attach, kill).
func (e *Engine) Adapter() *mux.Adapter { return e.adapter }

// RunnerFor returns the command runner for a host id.
func (e *Engine) RunnerFor(hostID string) (mux.Runner, error) {
	if hostID == LocalHostID {
		return e.local, nil
	}
	if _, ok := e.hosts.Host(hostID); !ok {
		return nil, hostconn.ErrHostUnknown
	}
	return hostRunner{mgr: e.hosts, hostID: hostID}, nil
}
