// native.go implements the native-ssh fallback path.
//
// Library-based tunneling cannot service interactive password prompts during
// nested handshakes, so hosts with password auth behind a jump host (and
// hosts with force_native_ssh set) are driven through the system ssh binary
// spawned inside a PTY. A prompt watcher scans the PTY output for password
// prompts and answers them in hop order: jump password first, target second.

package hostconn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gluk-w/muxdeck/internal/config"
	"github.com/gluk-w/muxdeck/internal/mux"
)

// promptDebounce is the minimum gap between two password-prompt answers.
// Prompt echoes and retransmits inside that window are ignored.
const promptDebounce = 500 * time.Millisecond

// nativeArgs builds the ssh argv for the host, without the remote command.
func nativeArgs(h *config.HostConfig) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=no",
		"-o", "LogLevel=ERROR",
		"-p", fmt.Sprintf("%d", h.Port),
	}
	if h.JumpHost != nil {
		j := h.JumpHost
		args = append(args, "-J", fmt.Sprintf("%s@%s:%d", j.Username, j.Hostname, j.Port))
		if j.PrivateKeyPath != "" {
			args = append(args, "-i", j.PrivateKeyPath)
		}
	}
	if h.PrivateKeyPath != "" {
		args = append(args, "-i", h.PrivateKeyPath)
	}
	args = append(args, fmt.Sprintf("%s@%s", h.Username, h.Hostname))
	return args
}

// hopPasswords returns the password answers in prompt order: the jump host
// asks first, then the target.
func hopPasswords(h *config.HostConfig) []string {
	var pws []string
	if h.JumpHost != nil {
		if pw := jumpCreds(h.JumpHost).resolvePassword(); pw != "" {
			pws = append(pws, pw)
		}
	}
	if pw := hostCreds(h).resolvePassword(); pw != "" {
		pws = append(pws, pw)
	}
	return pws
}

// promptWatcher answers password prompts found in PTY output.
type promptWatcher struct {
	mu        sync.Mutex
	passwords []string
	next      int
	lastSent  time.Time
	tail      string // lowercased tail so prompts spanning reads still match
}

func newPromptWatcher(passwords []string) *promptWatcher {
	return &promptWatcher{passwords: passwords}
}

// scan inspects a chunk of PTY output and returns the password to send, if
// a prompt was detected and the debounce window has passed.
func (w *promptWatcher) scan(chunk []byte) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tail += strings.ToLower(string(chunk))
	if len(w.tail) > 256 {
		w.tail = w.tail[len(w.tail)-256:]
	}
	if !strings.Contains(w.tail, "password:") {
		return "", false
	}
	w.tail = ""

	if w.next >= len(w.passwords) {
		return "", false
	}
	if time.Since(w.lastSent) < promptDebounce {
		return "", false
	}
	pw := w.passwords[w.next]
	w.next++
	w.lastSent = time.Now()
	return pw, true
}

// answered reports how many prompts were answered so far.
func (w *promptWatcher) answered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// nativeExec runs a command through the native ssh binary and returns its
// cleaned output. The context deadline doubles as the process watchdog.
func nativeExec(ctx context.Context, h *config.HostConfig, command string) (string, error) {
	args := append(nativeArgs(h), command)
	cmd := exec.Command("ssh", args...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("spawn native ssh: %w", err)
	}
	defer ptmx.Close()

	watcher := newPromptWatcher(hopPasswords(h))

	var out strings.Builder
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				out.Write(buf[:n])
				if pw, ok := watcher.scan(buf[:n]); ok {
					ptmx.Write([]byte(pw + "\n"))
				}
			}
			if err != nil {
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Watchdog: the spawned process must not outlive the budget.
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-waitDone
		<-readDone
		return "", fmt.Errorf("%w: native ssh exec", ErrTimeout)
	case err = <-waitDone:
		<-readDone
	}

	cleaned := cleanNativeOutput(out.String(), watcher.answered())
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			// Mirror the library exec contract: a quiet non-zero exit means
			// the mux was not running, not a transport failure.
			if strings.TrimSpace(cleaned) == "" {
				return "", nil
			}
			if watcher.answered() < len(hopPasswords(h)) {
				return "", fmt.Errorf("%w: native ssh exited %d before all prompts were answered",
					ErrAuthFailed, ee.ExitCode())
			}
			return cleaned, nil
		}
		return "", fmt.Errorf("native ssh exec: %w", err)
	}
	return cleaned, nil
}

// cleanNativeOutput strips ANSI escapes and drops prompt-echo lines from the
// captured PTY transcript.
func cleanNativeOutput(raw string, prompts int) string {
	lines := strings.Split(mux.StripANSI(raw), "\n")
	var kept []string
	dropped := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if dropped < prompts && strings.Contains(lower, "password:") {
			dropped++
			continue
		}
		if strings.HasPrefix(trimmed, "Warning: Permanently added") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, "\r"))
	}
	return strings.TrimLeft(strings.Join(kept, "\n"), "\r\n")
}

// nativeProbe verifies the host is reachable through the native path.
func nativeProbe(ctx context.Context, h *config.HostConfig) error {
	out, err := nativeExec(ctx, h, "echo muxdeck-probe")
	if err != nil {
		return err
	}
	if !strings.Contains(out, "muxdeck-probe") {
		return fmt.Errorf("%w: probe produced no output", ErrNetwork)
	}
	return nil
}

// nativePTY is a ShellStream over the spawned ssh process. Reads run the
// prompt watcher as a side effect so password hops are answered even in
// interactive mode.
type nativePTY struct {
	ptmx    *os.File
	cmd     *exec.Cmd
	watcher *promptWatcher
}

func (s *nativePTY) Read(p []byte) (int, error) {
	n, err := s.ptmx.Read(p)
	if n > 0 {
		if pw, ok := s.watcher.scan(p[:n]); ok {
			s.ptmx.Write([]byte(pw + "\n"))
		}
	}
	return n, err
}

func (s *nativePTY) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

func (s *nativePTY) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (s *nativePTY) Close() error {
	err := s.ptmx.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return err
}

// nativeShell opens an interactive session through the native ssh binary.
// The remote command is passed with -t so the mux gets a proper TTY.
func nativeShell(ctx context.Context, h *config.HostConfig, command string) (ShellStream, error) {
	args := append([]string{"-t"}, nativeArgs(h)...)
	if command != "" {
		args = append(args, command)
	}
	cmd := exec.CommandContext(ctx, "ssh", args...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return nil, fmt.Errorf("spawn native ssh shell: %w", err)
	}

	return &nativePTY{ptmx: ptmx, cmd: cmd, watcher: newPromptWatcher(hopPasswords(h))}, nil
}
