// reconnect.go implements automatic reconnection with exponential backoff.
//
// When a keepalive or exec detects a dead connection, scheduleReconnect
// launches an asynchronous reconnection goroutine for that host. Delays
// follow an exponential schedule (5s → 10s → 20s → 40s → 60s cap). The
// attempt counter persists across failures and resets on success; once it
// reaches maxReconnectAttempts the host goes quiescent in the error state
// until a caller-initiated Connect resets it.

package hostconn

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Reconnection policy. Package-level vars so tests can shrink the delays.
var (
	reconnectInitialBackoff = 5 * time.Second
	reconnectMaxBackoff     = 60 * time.Second
	maxReconnectAttempts    = 10
)

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitialBackoff
	b.Multiplier = 2
	b.MaxInterval = reconnectMaxBackoff
	b.RandomizationFactor = 0
	return b
}

// scheduleReconnect starts an asynchronous reconnection for a host. Only one
// reconnection runs per host at a time; duplicate calls are dropped. Hosts
// that have exhausted their attempt budget stay quiescent.
func (m *Manager) scheduleReconnect(hostID, reason string) {
	m.reconnMu.Lock()
	if _, inProgress := m.reconnecting[hostID]; inProgress {
		m.reconnMu.Unlock()
		return
	}
	if m.attempts[hostID] >= maxReconnectAttempts {
		m.reconnMu.Unlock()
		m.stateTracker.setState(hostID, StateError,
			fmt.Sprintf("max reconnect attempts exceeded (%d)", maxReconnectAttempts))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.reconnecting[hostID] = cancel
	m.reconnMu.Unlock()

	go func() {
		defer func() {
			m.reconnMu.Lock()
			delete(m.reconnecting, hostID)
			m.reconnMu.Unlock()
		}()
		m.reconnectLoop(ctx, hostID, reason)
	}()
}

func (m *Manager) reconnectLoop(ctx context.Context, hostID, reason string) {
	m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventReconnecting, Timestamp: time.Now(), Details: reason})

	policy := newReconnectBackoff()

	// Resume from the persisted attempt count so repeated failures across
	// separate loops still converge on the cap.
	m.reconnMu.Lock()
	resumed := m.attempts[hostID]
	m.reconnMu.Unlock()
	for i := 0; i < resumed; i++ {
		policy.NextBackOff()
	}

	for {
		m.reconnMu.Lock()
		attempt := m.attempts[hostID] + 1
		m.attempts[hostID] = attempt
		m.reconnMu.Unlock()

		if attempt > maxReconnectAttempts {
			msg := fmt.Sprintf("max reconnect attempts exceeded (%d)", maxReconnectAttempts)
			log.Printf("[hostconn] %s: %s", hostID, msg)
			m.stateTracker.setState(hostID, StateError, msg)
			m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventReconnectFailed, Timestamp: time.Now(), Details: msg})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.NextBackOff()):
		}

		h, ok := m.Host(hostID)
		if !ok {
			return
		}

		lock := m.hostLock(hostID)
		lock.Lock()
		// A caller-initiated connect may have completed while this loop was
		// sleeping; in that case the scheduled reconnect stands down.
		m.mu.RLock()
		mc, live := m.conns[hostID]
		m.mu.RUnlock()
		if live && m.connAlive(mc) {
			lock.Unlock()
			return
		}

		log.Printf("[hostconn] reconnect attempt %d/%d for %s", attempt, maxReconnectAttempts, hostID)
		_, err := m.connectLocked(ctx, &h)
		lock.Unlock()

		if err == nil {
			m.reconnMu.Lock()
			m.attempts[hostID] = 0
			m.reconnMu.Unlock()
			m.emitEvent(ConnectionEvent{HostID: hostID, Type: EventReconnected, Timestamp: time.Now(),
				Details: fmt.Sprintf("reconnected after %d attempt(s)", attempt)})
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// cancelReconnect stops any scheduled reconnect for the host.
func (m *Manager) cancelReconnect(hostID string) {
	m.reconnMu.Lock()
	defer m.reconnMu.Unlock()
	if cancel, ok := m.reconnecting[hostID]; ok {
		cancel()
		delete(m.reconnecting, hostID)
	}
}

// Attempts returns the current reconnect attempt count for a host.
func (m *Manager) Attempts(hostID string) int {
	m.reconnMu.Lock()
	defer m.reconnMu.Unlock()
	return m.attempts[hostID]
}
