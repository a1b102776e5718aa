package hostconn

import (
	"testing"
	"time"
)

func TestReconnectBackoffSchedule(t *testing.T) {
	b := newReconnectBackoff()
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i, got, w)
		}
	}
}

func TestScheduleReconnectQuiescentAtCap(t *testing.T) {
	m := NewManager(nil)
	m.reconnMu.Lock()
	m.attempts["h1"] = maxReconnectAttempts
	m.reconnMu.Unlock()

	m.scheduleReconnect("h1", "test")

	m.reconnMu.Lock()
	_, running := m.reconnecting["h1"]
	m.reconnMu.Unlock()
	if running {
		t.Error("reconnect loop started for a host at the attempt cap")
	}
	if got := m.State("h1"); got != StateError {
		t.Errorf("state = %q, want %q", got, StateError)
	}
}

func TestCancelReconnectStopsLoop(t *testing.T) {
	old := reconnectInitialBackoff
	reconnectInitialBackoff = 10 * time.Millisecond
	defer func() { reconnectInitialBackoff = old }()

	m := NewManager(nil)
	// Host is unknown, so the loop exits on its first wake-up; scheduling
	// and cancelling must not race or leak the entry.
	m.scheduleReconnect("ghost", "test")
	m.cancelReconnect("ghost")

	deadline := time.After(time.Second)
	for {
		m.reconnMu.Lock()
		_, running := m.reconnecting["ghost"]
		m.reconnMu.Unlock()
		if !running {
			return
		}
		select {
		case <-deadline:
			t.Fatal("reconnect entry not cleaned up after cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
