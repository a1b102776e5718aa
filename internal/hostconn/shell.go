package hostconn

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/crypto/ssh"
)

// ShellStream is a bidirectional byte stream onto an interactive shell.
// Reads return terminal output; writes feed terminal input.
type ShellStream interface {
	io.Reader
	io.Writer
	// Resize sets the PTY dimensions.
	Resize(cols, rows uint16) error
	// Close terminates the shell and releases its resources.
	Close() error
}

// sshShell wraps an SSH session with a requested PTY.
type sshShell struct {
	stdin   io.WriteCloser
	stdout  io.Reader
	session *ssh.Session
}

func (s *sshShell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sshShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshShell) Resize(cols, rows uint16) error {
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshShell) Close() error {
	return s.session.Close()
}

// OpenShell starts the given command on the host inside a PTY and returns a
// bidirectional stream. An empty command starts the login shell.
func (m *Manager) OpenShell(ctx context.Context, hostID, command string) (ShellStream, error) {
	h, ok := m.Host(hostID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostUnknown, hostID)
	}

	if usesNativeSSH(&h) {
		return nativeShell(ctx, &h, command)
	}

	mc, err := m.ensureClient(ctx, hostID)
	if err != nil {
		return nil, err
	}

	session, err := mc.client.NewSession()
	if err != nil {
		m.dropConn(hostID, fmt.Sprintf("new shell session failed: %v", err))
		return nil, fmt.Errorf("new ssh session on %s: %w", hostID, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty on %s: %w", hostID, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if command == "" {
		err = session.Shell()
	} else {
		err = session.Start(command)
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell on %s: %w", hostID, err)
	}

	return &sshShell{stdin: stdin, stdout: stdout, session: session}, nil
}

// localShell wraps a local process running under a PTY.
type localShell struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func (s *localShell) Read(p []byte) (int, error)  { return s.ptmx.Read(p) }
func (s *localShell) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

func (s *localShell) Resize(cols, rows uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (s *localShell) Close() error {
	err := s.ptmx.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return err
}

// OpenLocalShell starts argv under a local PTY and returns the stream.
// TERM is forced to a color-capable value so the mux renders properly.
func OpenLocalShell(ctx context.Context, argv []string) (ShellStream, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return nil, fmt.Errorf("start local pty: %w", err)
	}
	return &localShell{ptmx: ptmx, cmd: cmd}, nil
}
