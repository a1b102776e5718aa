// Package hostconn provides pooled SSH connectivity to configured hosts.
//
// It consolidates four concerns into a single package:
//   - Connection management (manager.go): at most one live SSH client per
//     host id, keyed by the stable host id from configuration.
//   - Reconnection (reconnect.go): exponential backoff with a hard attempt
//     cap, resumed on demand when a command is requested.
//   - Shell access (shell.go): PTY-backed interactive streams over SSH or a
//     local PTY, consumed by the terminal bridge.
//   - Native fallback (native.go): a spawned ssh binary in a PTY for hosts
//     whose auth model (password auth through a jump host) cannot be
//     serviced by library-based tunneling.
//
// The central type is Manager. All lookups use the host id string from the
// hosts file; the reserved id "local" never reaches this package.
package hostconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/muxdeck/internal/config"
	"golang.org/x/crypto/ssh"
)

const (
	// keepaliveInterval is how often keepalive requests are sent.
	keepaliveInterval = 30 * time.Second

	// directTimeout bounds connect and exec for directly-reachable hosts.
	directTimeout = 10 * time.Second

	// jumpTimeout bounds connect and exec when a jump host is involved.
	jumpTimeout = 30 * time.Second
)

// Manager maintains at most one live SSH client per configured host id.
type Manager struct {
	mu    sync.RWMutex
	hosts map[string]config.HostConfig
	conns map[string]*managedConn
	locks map[string]*sync.Mutex // serializes connect-or-reuse per host

	reconnMu     sync.Mutex
	reconnecting map[string]context.CancelFunc
	attempts     map[string]int

	listenerMu     sync.RWMutex
	eventListeners []EventListener

	stateTracker *stateTracker
	eventLog     *eventLog
}

// managedConn wraps an SSH client together with the jump client it was
// tunneled through, so both are torn down atomically.
type managedConn struct {
	client *ssh.Client
	jump   *ssh.Client // nil for direct connections
	cancel context.CancelFunc
	native bool // connection is serviced by the native ssh binary
}

func (mc *managedConn) closeAll() {
	if mc.cancel != nil {
		mc.cancel()
	}
	if mc.client != nil {
		mc.client.Close()
	}
	if mc.jump != nil {
		mc.jump.Close()
	}
}

// NewManager creates a Manager for the given host configurations.
func NewManager(hosts []config.HostConfig) *Manager {
	m := &Manager{
		hosts:        make(map[string]config.HostConfig, len(hosts)),
		conns:        make(map[string]*managedConn),
		locks:        make(map[string]*sync.Mutex),
		reconnecting: make(map[string]context.CancelFunc),
		attempts:     make(map[string]int),
		stateTracker: newStateTracker(),
		eventLog:     newEventLog(),
	}
	for _, h := range hosts {
		m.hosts[h.ID] = h
	}
	return m
}

// hostTimeout returns the connect/exec budget for the host.
func hostTimeout(h *config.HostConfig) time.Duration {
	if h.JumpHost != nil {
		return jumpTimeout
	}
	return directTimeout
}

func (m *Manager) hostLock(hostID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[hostID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[hostID] = l
	}
	return l
}

// Host returns the configuration for a host id.
func (m *Manager) Host(hostID string) (config.HostConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hosts[hostID]
	return h, ok
}

// Hosts returns all configured hosts sorted by id.
func (m *Manager) Hosts() []config.HostConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hosts := make([]config.HostConfig, 0, len(m.hosts))
	for _, h := range m.hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })
	return hosts
}

// AddHost registers a new host.
func (m *Manager) AddHost(h config.HostConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.hosts[h.ID]; exists {
		return fmt.Errorf("host %q already configured", h.ID)
	}
	m.hosts[h.ID] = h
	return nil
}

// UpdateHost replaces a host's configuration and forces reconnection.
func (m *Manager) UpdateHost(h config.HostConfig) error {
	m.mu.Lock()
	if _, exists := m.hosts[h.ID]; !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrHostUnknown, h.ID)
	}
	m.hosts[h.ID] = h
	m.mu.Unlock()

	m.Disconnect(h.ID)
	return nil
}

// RemoveHost removes a host and tears down its connection and state.
func (m *Manager) RemoveHost(hostID string) {
	m.Disconnect(hostID)
	m.mu.Lock()
	delete(m.hosts, hostID)
	delete(m.locks, hostID)
	m.mu.Unlock()
	m.stateTracker.remove(hostID)
}

// Connect establishes the connection for a host id. It is idempotent when
// already connected, and resets a quiescent reconnect counter so a host that
// exhausted its attempts can be retried on demand.
func (m *Manager) Connect(ctx context.Context, hostID string) error {
	m.reconnMu.Lock()
	m.attempts[hostID] = 0
	m.reconnMu.Unlock()

	_, err := m.ensureClient(ctx, hostID)
	return err
}

// ensureClient returns the live connection for a host, establishing one if
// needed. The per-host lock serializes the connect-or-reuse decision so two
// concurrent discovery subtasks cannot both start a client for one host.
func (m *Manager) ensureClient(ctx context.Context, hostID string) (*managedConn, error) {
	h, ok := m.Host(hostID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostUnknown, hostID)
	}

	lock := m.hostLock(hostID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	mc, live := m.conns[hostID]
	m.mu.RUnlock()
	if live && m.connAlive(mc) {
		return mc, nil
	}

	// A fresh connect supersedes any scheduled reconnect.
	m.cancelReconnect(hostID)

	mc, err := m.connectLocked(ctx, &h)
	if err != nil {
		return nil, err
	}
	return mc, nil
}

func (m *Manager) connAlive(mc *managedConn) bool {
	if mc.native {
		return true
	}
	_, _, err := mc.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// connectLocked performs the actual connection. Caller holds the host lock.
func (m *Manager) connectLocked(ctx context.Context, h *config.HostConfig) (*managedConn, error) {
	hostID := h.ID
	m.stateTracker.setState(hostID, StateConnecting, fmt.Sprintf("connecting to %s:%d", h.Hostname, h.Port))

	if usesNativeSSH(h) {
		// The native path has no persistent client; each exec/shell spawns
		// a fresh ssh process. Probe reachability once so state reflects it.
		if err := nativeProbe(ctx, h); err != nil {
			m.stateTracker.setState(hostID, StateDisconnected, fmt.Sprintf("native ssh probe failed: %v", err))
			m.scheduleReconnect(hostID, err.Error())
			return nil, err
		}
		mc := &managedConn{native: true}
		m.storeConn(hostID, mc)
		m.stateTracker.setState(hostID, StateConnected, "connected (native ssh)")
		m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventConnected, Timestamp: time.Now(), Details: "native ssh"})
		return mc, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, hostTimeout(h))
	defer cancel()

	client, jump, err := dialHost(connectCtx, h)
	if err != nil {
		m.stateTracker.setState(hostID, StateDisconnected, fmt.Sprintf("connect failed: %v", err))
		m.scheduleReconnect(hostID, err.Error())
		return nil, err
	}

	keepCtx, keepCancel := context.WithCancel(context.Background())
	mc := &managedConn{client: client, jump: jump, cancel: keepCancel}
	m.storeConn(hostID, mc)

	go m.keepalive(keepCtx, hostID, client)

	m.stateTracker.setState(hostID, StateConnected, fmt.Sprintf("connected to %s:%d", h.Hostname, h.Port))
	m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventConnected, Timestamp: time.Now(),
		Details: fmt.Sprintf("%s:%d", h.Hostname, h.Port)})
	log.Printf("[hostconn] connected to %s (%s:%d)", hostID, h.Hostname, h.Port)
	return mc, nil
}

func (m *Manager) storeConn(hostID string, mc *managedConn) {
	m.mu.Lock()
	if existing, ok := m.conns[hostID]; ok {
		existing.closeAll()
	}
	m.conns[hostID] = mc
	m.mu.Unlock()
}

// dialHost opens the SSH connection, tunneling through the jump host when
// one is configured. The returned jump client must be closed together with
// the target client.
func dialHost(ctx context.Context, h *config.HostConfig) (*ssh.Client, *ssh.Client, error) {
	auth, err := assembleAuth(hostCreds(h))
	if err != nil {
		return nil, nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            h.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         hostTimeout(h),
	}
	addr := net.JoinHostPort(h.Hostname, fmt.Sprintf("%d", h.Port))

	if h.JumpHost == nil {
		dialer := net.Dialer{Timeout: directTimeout}
		netConn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, classifyConnectError(err, false)
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
		if err != nil {
			netConn.Close()
			return nil, nil, classifyConnectError(err, false)
		}
		return ssh.NewClient(sshConn, chans, reqs), nil, nil
	}

	jumpClient, err := dialJump(ctx, h.JumpHost)
	if err != nil {
		return nil, nil, err
	}

	// direct-tcpip channel through the jump client becomes the socket for
	// the target handshake.
	tunnel, err := jumpClient.Dial("tcp", addr)
	if err != nil {
		jumpClient.Close()
		return nil, nil, fmt.Errorf("%w: dial %s through jump: %v", ErrJumpHost, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tunnel, addr, cfg)
	if err != nil {
		tunnel.Close()
		jumpClient.Close()
		return nil, nil, classifyConnectError(err, true)
	}
	return ssh.NewClient(sshConn, chans, reqs), jumpClient, nil
}

func dialJump(ctx context.Context, j *config.JumpHostConfig) (*ssh.Client, error) {
	auth, err := assembleAuth(jumpCreds(j))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJumpHost, err)
	}
	cfg := &ssh.ClientConfig{
		User:            j.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         jumpTimeout,
	}
	addr := net.JoinHostPort(j.Hostname, fmt.Sprintf("%d", j.Port))

	dialer := net.Dialer{Timeout: jumpTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrJumpHost, addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrJumpHost, addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Exec runs a command on the host and returns captured stdout. A non-zero
// exit with non-empty stderr is a failure; a non-zero exit with empty stderr
// yields an empty string (mux queries exit non-zero when the mux is down).
func (m *Manager) Exec(ctx context.Context, hostID, command string) (string, error) {
	h, ok := m.Host(hostID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrHostUnknown, hostID)
	}

	execCtx, cancel := context.WithTimeout(ctx, hostTimeout(&h))
	defer cancel()

	if usesNativeSSH(&h) {
		return nativeExec(execCtx, &h, command)
	}

	mc, err := m.ensureClient(execCtx, hostID)
	if err != nil {
		return "", err
	}

	session, err := mc.client.NewSession()
	if err != nil {
		// A dead transport rejects new sessions; drop the client and let
		// the background reconnect take over.
		m.dropConn(hostID, fmt.Sprintf("new session failed: %v", err))
		return "", fmt.Errorf("new ssh session on %s: %w", hostID, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-execCtx.Done():
		session.Close()
		return "", fmt.Errorf("%w: exec on %s", ErrTimeout, hostID)
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			if strings.TrimSpace(stderr.String()) == "" {
				return "", nil
			}
			return "", fmt.Errorf("exec on %s exited %d: %s", hostID, exitErr.ExitStatus(),
				strings.TrimSpace(stderr.String()))
		}
		m.dropConn(hostID, fmt.Sprintf("exec transport error: %v", err))
		return "", fmt.Errorf("exec on %s: %w", hostID, err)
	}
	return stdout.String(), nil
}

// dropConn removes a dead connection and schedules a background reconnect.
func (m *Manager) dropConn(hostID, reason string) {
	m.mu.Lock()
	mc, ok := m.conns[hostID]
	if ok {
		delete(m.conns, hostID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	mc.closeAll()
	m.stateTracker.setState(hostID, StateDisconnected, reason)
	m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventDisconnected, Timestamp: time.Now(), Details: reason})
	m.scheduleReconnect(hostID, reason)
}

// Disconnect closes the connection for a host. Explicit disconnects cancel
// any scheduled reconnect.
func (m *Manager) Disconnect(hostID string) {
	m.cancelReconnect(hostID)

	m.mu.Lock()
	mc, ok := m.conns[hostID]
	if ok {
		delete(m.conns, hostID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	mc.closeAll()
	m.stateTracker.setState(hostID, StateDisconnected, "disconnected by caller")
	m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventDisconnected, Timestamp: time.Now(), Details: "disconnected by caller"})
	log.Printf("[hostconn] disconnected from %s", hostID)
}

// DisconnectAll closes every connection. Used during shutdown; cancels all
// in-flight reconnect timers first.
func (m *Manager) DisconnectAll() {
	m.reconnMu.Lock()
	for id, cancel := range m.reconnecting {
		cancel()
		delete(m.reconnecting, id)
	}
	m.reconnMu.Unlock()

	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*managedConn)
	m.mu.Unlock()

	for id, mc := range conns {
		mc.closeAll()
		m.stateTracker.setState(id, StateDisconnected, "shutdown")
	}
	log.Printf("[hostconn] all connections closed (%d total)", len(conns))
}

// State returns the current connection state for a host.
func (m *Manager) State(hostID string) ConnectionState {
	return m.stateTracker.getState(hostID)
}

// Transitions returns the recent state transition history for a host in
// chronological order.
func (m *Manager) Transitions(hostID string) []StateTransition {
	return m.stateTracker.getTransitions(hostID)
}

// Events returns the recent connection events for a host.
func (m *Manager) Events(hostID string) []ConnectionEvent {
	return m.eventLog.recent(hostID)
}

// OnStateChange registers a callback invoked on every state change.
func (m *Manager) OnStateChange(cb StateChangeCallback) {
	m.stateTracker.onStateChange(cb)
}

// OnEvent registers a listener for connection events.
func (m *Manager) OnEvent(listener EventListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.eventListeners = append(m.eventListeners, listener)
}

func (m *Manager) emitEvent(event ConnectionEvent) {
	m.eventLog.record(event)

	m.listenerMu.RLock()
	listeners := make([]EventListener, len(m.eventListeners))
	copy(listeners, m.eventListeners)
	m.listenerMu.RUnlock()

	for _, l := range listeners {
		l(event)
	}
}

// keepalive sends periodic keepalive requests to detect dead connections.
func (m *Manager) keepalive(ctx context.Context, hostID string, client *ssh.Client) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				m.mu.Lock()
				if mc, ok := m.conns[hostID]; ok && mc.client == client {
					delete(m.conns, hostID)
					mc.closeAll()
				}
				m.mu.Unlock()
				reason := fmt.Sprintf("keepalive failed: %v", err)
				log.Printf("[hostconn] %s: %s", hostID, reason)
				m.stateTracker.setState(hostID, StateDisconnected, reason)
				m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventDisconnected, Timestamp: time.Now(), Details: reason})
				m.scheduleReconnect(hostID, reason)
				return
			}
		}
	}
}

// TestResult is the outcome of a one-off connection test.
type TestResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// TestDirect builds a throwaway client for the given configuration and tears
// it down immediately. The connection pool is never touched.
func (m *Manager) TestDirect(ctx context.Context, h config.HostConfig) TestResult {
	if h.Port == 0 {
		h.Port = 22
	}

	testCtx, cancel := context.WithTimeout(ctx, hostTimeout(&h))
	defer cancel()

	if usesNativeSSH(&h) {
		if err := nativeProbe(testCtx, &h); err != nil {
			return TestResult{OK: false, Message: err.Error()}
		}
		return TestResult{OK: true}
	}

	client, jump, err := dialHost(testCtx, &h)
	if err != nil {
		return TestResult{OK: false, Message: err.Error()}
	}
	client.Close()
	if jump != nil {
		jump.Close()
	}
	return TestResult{OK: true}
}
