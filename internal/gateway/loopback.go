package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/creack/pty"

	"github.com/calebmh/termdock/internal/model"
)

// Loopback is an in-process Gateway that serves only the local
// pseudo-connection: it spawns real shells under a PTY and pushes their
// output as session-data events. It also persists the connection list to a
// JSON file so the application works without a backend. Remote operations
// (transfers, forwards, remote sessions) report a clear error.
type Loopback struct {
	shell     string
	statePath string

	mu               sync.Mutex
	sessions         map[string]*localSession
	sessionHandlers  map[string]func([]byte)
	statusHandlers   map[int]func(StatusEvent)
	transferHandlers map[int]func(TransferEvent)
	nextHandler      int
	closed           bool
}

type localSession struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// NewLoopback creates a loopback gateway. shell may be empty, in which case
// $SHELL (or /bin/sh) is used. stateDir is where the connection list is
// persisted.
func NewLoopback(shell, stateDir string) *Loopback {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Loopback{
		shell:            shell,
		statePath:        filepath.Join(stateDir, "connections.json"),
		sessions:         map[string]*localSession{},
		sessionHandlers:  map[string]func([]byte){},
		statusHandlers:   map[int]func(StatusEvent){},
		transferHandlers: map[int]func(TransferEvent){},
	}
}

func (l *Loopback) requireLocal(connectionID string, op Command) error {
	if connectionID != model.LocalConnectionID {
		return fmt.Errorf("%s: connection %q needs a backend (loopback gateway serves only %q)", op, connectionID, model.LocalConnectionID)
	}
	return nil
}

func (l *Loopback) Connect(ctx context.Context, cfg ConnectConfig) error {
	return l.requireLocal(cfg.ConnectionID, CmdConnect)
}

func (l *Loopback) Disconnect(ctx context.Context, connectionID string) error {
	return l.requireLocal(connectionID, CmdDisconnect)
}

func (l *Loopback) SpawnSession(ctx context.Context, connectionID, sessionID string, rows, cols int) error {
	if err := l.requireLocal(connectionID, CmdSpawnSession); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("spawn-session: gateway closed")
	}
	if _, exists := l.sessions[sessionID]; exists {
		return fmt.Errorf("spawn-session: session %q already spawned", sessionID)
	}

	cmd := exec.Command(l.shell, "-l")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	if rows <= 0 || cols <= 0 {
		rows, cols = 24, 80
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return fmt.Errorf("spawn-session: %w", err)
	}
	l.sessions[sessionID] = &localSession{cmd: cmd, ptmx: ptmx}
	go l.readLoop(sessionID, ptmx)
	return nil
}

// readLoop pushes PTY output to the registered session-data handler until the
// shell exits or the session is closed.
func (l *Loopback) readLoop(sessionID string, ptmx *os.File) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			l.mu.Lock()
			fn := l.sessionHandlers[sessionID]
			l.mu.Unlock()
			if fn != nil {
				out := make([]byte, n)
				copy(out, buf[:n])
				fn(out)
			}
		}
		if err != nil {
			return
		}
	}
}

func (l *Loopback) Write(sessionID string, data []byte) error {
	l.mu.Lock()
	s := l.sessions[sessionID]
	l.mu.Unlock()
	if s == nil {
		return fmt.Errorf("write: unknown session %q", sessionID)
	}
	_, err := s.ptmx.Write(data)
	return err
}

func (l *Loopback) Resize(sessionID string, rows, cols int) error {
	l.mu.Lock()
	s := l.sessions[sessionID]
	l.mu.Unlock()
	if s == nil {
		return fmt.Errorf("resize: unknown session %q", sessionID)
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (l *Loopback) CloseSession(sessionID string) error {
	l.mu.Lock()
	s := l.sessions[sessionID]
	delete(l.sessions, sessionID)
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	return closeLocalSession(s)
}

func closeLocalSession(s *localSession) error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	// Reap the shell so it does not linger as a zombie.
	go func() { _ = s.cmd.Wait() }()
	return err
}

func (l *Loopback) StartTransfer(ctx context.Context, req TransferRequest) error {
	return fmt.Errorf("start-transfer: transfers need a backend")
}

func (l *Loopback) CancelTransfer(ctx context.Context, transferID string) error {
	return fmt.Errorf("cancel-transfer: transfers need a backend")
}

func (l *Loopback) ListDirectory(ctx context.Context, connectionID, path string) ([]DirEntry, error) {
	if err := l.requireLocal(connectionID, CmdListDirectory); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		de := DirEntry{Name: e.Name(), Path: filepath.Join(path, e.Name()), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			de.Size = info.Size()
			de.Mode = info.Mode().String()
		}
		out = append(out, de)
	}
	return out, nil
}

func (l *Loopback) Rename(ctx context.Context, connectionID, oldPath, newPath string) error {
	if err := l.requireLocal(connectionID, CmdRename); err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

func (l *Loopback) HomeDir(ctx context.Context, connectionID string) (string, error) {
	if err := l.requireLocal(connectionID, CmdHomeDir); err != nil {
		return "", err
	}
	return os.UserHomeDir()
}

func (l *Loopback) StartForward(ctx context.Context, connectionID string, fwd model.ForwardSpec) error {
	return fmt.Errorf("start-forward: forwards need a backend")
}

func (l *Loopback) SaveConnections(ctx context.Context, conns []model.Connection) error {
	if err := os.MkdirAll(filepath.Dir(l.statePath), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.statePath, b, 0o600)
}

func (l *Loopback) LoadConnections(ctx context.Context) ([]model.Connection, error) {
	b, err := os.ReadFile(l.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []model.Connection
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", l.statePath, err)
	}
	return out, nil
}

func (l *Loopback) OnSessionData(sessionID string, fn func([]byte)) (cancel func()) {
	l.mu.Lock()
	l.sessionHandlers[sessionID] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.sessionHandlers, sessionID)
		l.mu.Unlock()
	}
}

func (l *Loopback) OnTransferEvent(fn func(TransferEvent)) (cancel func()) {
	l.mu.Lock()
	id := l.nextHandler
	l.nextHandler++
	l.transferHandlers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.transferHandlers, id)
		l.mu.Unlock()
	}
}

func (l *Loopback) OnConnectionStatus(fn func(StatusEvent)) (cancel func()) {
	l.mu.Lock()
	id := l.nextHandler
	l.nextHandler++
	l.statusHandlers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.statusHandlers, id)
		l.mu.Unlock()
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	sessions := l.sessions
	l.sessions = map[string]*localSession{}
	l.closed = true
	l.mu.Unlock()
	for id, s := range sessions {
		if err := closeLocalSession(s); err != nil {
			slog.Debug("close local session", "session", id, "error", err)
		}
	}
	return nil
}
