package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gluk-w/muxdeck/internal/hostconn"
)

// pipeShell is a ShellStream backed by in-memory pipes.
type pipeShell struct {
	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	mu      sync.Mutex
	resized [][2]uint16
	closed  bool
}

func newPipeShell() *pipeShell {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	return &pipeShell{outR: outR, outW: outW, inR: inR, inW: inW}
}

func (p *pipeShell) Read(b []byte) (int, error)  { return p.outR.Read(b) }
func (p *pipeShell) Write(b []byte) (int, error) { return p.inW.Write(b) }

func (p *pipeShell) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resized = append(p.resized, [2]uint16{cols, rows})
	return nil
}

func (p *pipeShell) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.outW.Close()
	p.inR.Close()
	return nil
}

func (p *pipeShell) emit(s string) { p.outW.Write([]byte(s)) }

func (p *pipeShell) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// recordingDispatcher captures everything delivered to clients.
type recordingDispatcher struct {
	mu      sync.Mutex
	buffers map[string][][]string
	outputs map[string][]string
	errors  map[string][]string
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		buffers: make(map[string][][]string),
		outputs: make(map[string][]string),
		errors:  make(map[string][]string),
	}
}

func (d *recordingDispatcher) DeliverBuffer(clientID, sessionID string, lines []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers[clientID] = append(d.buffers[clientID], lines)
}

func (d *recordingDispatcher) DeliverOutput(clientID, sessionID string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs[clientID] = append(d.outputs[clientID], string(data))
}

func (d *recordingDispatcher) DeliverError(clientID, sessionID, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors[clientID] = append(d.errors[clientID], message)
}

func (d *recordingDispatcher) outputFor(clientID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.outputs[clientID], "")
}

func (d *recordingDispatcher) bufferCount(clientID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers[clientID])
}

func (d *recordingDispatcher) errorCount(clientID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.errors[clientID])
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestRegistry(shell *pipeShell, d Dispatcher) *Registry {
	open := func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error) {
		return shell, true, nil
	}
	return NewRegistry(d, open, nil)
}

func TestFirstSubscribeOpensShell(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)

	if err := r.Subscribe(context.Background(), "local:$1:%0", "c1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if d.bufferCount("c1") != 1 {
		t.Error("subscriber did not get a buffer replay")
	}

	shell.emit("hello\n")
	waitFor(t, "output delivery", func() bool {
		return strings.Contains(d.outputFor("c1"), "hello")
	})
}

func TestSecondSubscriberGetsReplayThenDeltas(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)

	r.Subscribe(context.Background(), "s", "c1")
	shell.emit("history line\n")
	waitFor(t, "first delivery", func() bool {
		return strings.Contains(d.outputFor("c1"), "history line")
	})

	r.Subscribe(context.Background(), "s", "c2")
	d.mu.Lock()
	replay := d.buffers["c2"]
	d.mu.Unlock()
	if len(replay) != 1 || len(replay[0]) == 0 || replay[0][0] != "history line" {
		t.Errorf("replay = %+v, want the retained history", replay)
	}

	shell.emit("fresh\n")
	waitFor(t, "delta to late subscriber", func() bool {
		return strings.Contains(d.outputFor("c2"), "fresh")
	})
	if strings.Contains(d.outputFor("c2"), "history") {
		t.Error("late subscriber got history as output delta instead of replay")
	}
}

func TestInputForwarded(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)
	r.Subscribe(context.Background(), "s", "c1")

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := shell.inR.Read(buf)
		got <- string(buf[:n])
	}()

	if err := r.Input("s", []byte("ls -la\r")); err != nil {
		t.Fatalf("Input: %v", err)
	}
	select {
	case s := <-got:
		if s != "ls -la\r" {
			t.Errorf("shell received %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("input never reached the shell")
	}
}

func TestResizeForwarded(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)
	r.Subscribe(context.Background(), "s", "c1")

	if err := r.Resize("s", 132, 43); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	shell.mu.Lock()
	defer shell.mu.Unlock()
	if len(shell.resized) != 1 || shell.resized[0] != [2]uint16{132, 43} {
		t.Errorf("resized = %v", shell.resized)
	}
}

func TestLastUnsubscribeClosesBridge(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)

	r.Subscribe(context.Background(), "s", "c1")
	r.Subscribe(context.Background(), "s", "c2")

	r.Unsubscribe("s", "c1")
	if shell.isClosed() {
		t.Fatal("bridge closed while a subscriber remained")
	}

	r.Unsubscribe("s", "c2")
	waitFor(t, "shell close", shell.isClosed)
	waitFor(t, "registry cleanup", func() bool { return r.Count() == 0 })
}

func TestShellExitNotifiesSubscribers(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)
	r.Subscribe(context.Background(), "s", "c1")

	shell.outW.CloseWithError(errors.New("pty exited"))
	waitFor(t, "error notification", func() bool { return d.errorCount("c1") > 0 })
	waitFor(t, "registry cleanup", func() bool { return r.Count() == 0 })
}

func TestOpenFailurePropagates(t *testing.T) {
	d := newRecordingDispatcher()
	open := func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error) {
		return nil, false, errors.New("host down")
	}
	r := NewRegistry(d, open, nil)

	if err := r.Subscribe(context.Background(), "s", "c1"); err == nil {
		t.Fatal("open failure not propagated")
	}
	if r.Count() != 0 {
		t.Error("failed bridge left in the registry")
	}
}

func TestDropClientLeavesOtherSubscribers(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	r := newTestRegistry(shell, d)
	r.Subscribe(context.Background(), "s", "c1")
	r.Subscribe(context.Background(), "s", "c2")

	r.DropClient("c1")
	if shell.isClosed() {
		t.Error("bridge closed while c2 was still subscribed")
	}
	r.DropClient("c2")
	waitFor(t, "shell close", shell.isClosed)
}

// firstKindDispatcher remembers only the kind of the first delivery each
// client received.
type firstKindDispatcher struct {
	mu    sync.Mutex
	first map[string]string
}

func newFirstKindDispatcher() *firstKindDispatcher {
	return &firstKindDispatcher{first: make(map[string]string)}
}

func (d *firstKindDispatcher) note(clientID, kind string) {
	d.mu.Lock()
	if _, seen := d.first[clientID]; !seen {
		d.first[clientID] = kind
	}
	d.mu.Unlock()
}

func (d *firstKindDispatcher) DeliverBuffer(clientID, sessionID string, lines []string) {
	d.note(clientID, "buffer")
}

func (d *firstKindDispatcher) DeliverOutput(clientID, sessionID string, data []byte) {
	d.note(clientID, "output")
}

func (d *firstKindDispatcher) DeliverError(clientID, sessionID, message string) {
	d.note(clientID, "error")
}

func (d *firstKindDispatcher) firstFor(clientID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.first[clientID]
}

func TestReplayPrecedesDeltasUnderConcurrentOutput(t *testing.T) {
	d := newFirstKindDispatcher()
	b := newBridge("s", d, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.handleOutput([]byte("x\n"))
			}
		}
	}()

	const clients = 2000
	for i := 0; i < clients; i++ {
		b.subscribe(fmt.Sprintf("c%d", i))
	}
	close(stop)
	wg.Wait()

	for i := 0; i < clients; i++ {
		id := fmt.Sprintf("c%d", i)
		if kind := d.firstFor(id); kind != "buffer" {
			t.Fatalf("client %s first delivery was %q, want its buffer replay", id, kind)
		}
	}
}

func TestConcurrentFirstSubscribersShareOpen(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	entered := make(chan struct{})
	release := make(chan struct{})
	open := func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error) {
		close(entered)
		<-release
		return shell, false, nil
	}
	r := NewRegistry(d, open, nil)

	errs := make(chan error, 2)
	go func() { errs <- r.Subscribe(context.Background(), "s", "c1") }()
	<-entered
	go func() { errs <- r.Subscribe(context.Background(), "s", "c2") }()
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	for _, id := range []string{"c1", "c2"} {
		if d.bufferCount(id) != 1 {
			t.Errorf("client %s got %d replays, want 1", id, d.bufferCount(id))
		}
	}
}

func TestConcurrentFirstSubscribersShareOpenFailure(t *testing.T) {
	d := newRecordingDispatcher()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	open := func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return nil, false, errors.New("host down")
	}
	r := NewRegistry(d, open, nil)

	errs := make(chan error, 2)
	go func() { errs <- r.Subscribe(context.Background(), "s", "c1") }()
	<-entered
	go func() { errs <- r.Subscribe(context.Background(), "s", "c2") }()
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			t.Fatal("subscriber saw a failed open as success")
		}
	}
	if n := d.bufferCount("c1") + d.bufferCount("c2"); n != 0 {
		t.Errorf("failed open still delivered %d replays", n)
	}
	waitFor(t, "registry cleanup", func() bool { return r.Count() == 0 })
}

func TestCloseRetractsAssistantStatus(t *testing.T) {
	shell := newPipeShell()
	d := newRecordingDispatcher()
	var mu sync.Mutex
	var last [2]string
	var seen bool
	sink := func(sessionID, status string) {
		mu.Lock()
		last = [2]string{sessionID, status}
		seen = true
		mu.Unlock()
	}
	open := func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error) {
		return shell, true, nil
	}
	r := NewRegistry(d, open, sink)

	if err := r.Subscribe(context.Background(), "s", "c1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	r.Unsubscribe("s", "c1")

	waitFor(t, "status retraction on close", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen && last == [2]string{"s", ""}
	})
}

func TestRingBufferBounds(t *testing.T) {
	r := newRingBuffer()
	for i := 0; i < 1000; i++ {
		r.Append([]byte("line of output\n"))
	}
	lines := r.Lines()
	if len(lines) > ringMaxLines {
		t.Errorf("kept %d lines, cap %d", len(lines), ringMaxLines)
	}
	if r.Len() > ringMaxBytes {
		t.Errorf("kept %d bytes, cap %d", r.Len(), ringMaxBytes)
	}
}

func TestRingBufferPartialLine(t *testing.T) {
	r := newRingBuffer()
	r.Append([]byte("complete\nincompl"))
	lines := r.Lines()
	if len(lines) != 2 || lines[0] != "complete" || lines[1] != "incompl" {
		t.Errorf("lines = %v", lines)
	}

	r.Append([]byte("ete\n"))
	lines = r.Lines()
	if len(lines) != 2 || lines[1] != "incomplete" {
		t.Errorf("after completion, lines = %v", lines)
	}
}
