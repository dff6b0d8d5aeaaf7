package ptypool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/session"
	"github.com/stevehuang0115/agentmux-sub002/internal/session/detect"
	"go.uber.org/zap"
)

// Config holds pool-wide terminal defaults.
type Config struct {
	Cols int
	Rows int
}

// DefaultConfig returns an 80x24 pool.
func DefaultConfig() Config {
	return Config{Cols: 80, Rows: 24}
}

// Pool is the in-process PTY session backend.
type Pool struct {
	cfg    Config
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*ptySession
}

type ptySession struct {
	name    string
	runtime v1.RuntimeType
	cmd     *exec.Cmd
	handle  PtyHandle
	tracker *detect.ScreenTracker

	closeOnce sync.Once
	done      chan struct{}
}

// New builds an empty pool.
func New(cfg Config, log *logger.Logger) *Pool {
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}
	return &Pool{
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "pty-pool")),
		sessions: make(map[string]*ptySession),
	}
}

var _ session.Backend = (*Pool)(nil)

// CreateSession launches the agent command on a fresh PTY and starts the
// screen tracker feed.
func (p *Pool) CreateSession(ctx context.Context, opts session.CreateSessionOptions) error {
	if opts.Name == "" {
		return fmt.Errorf("session name must not be empty")
	}

	p.mu.Lock()
	if _, ok := p.sessions[opts.Name]; ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", session.ErrSessionExists, opts.Name)
	}
	p.mu.Unlock()

	command := opts.Command
	if command == "" {
		command = defaultShell()
	}
	cmd := exec.Command(command, opts.Args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = p.cfg.Cols
	}
	if rows <= 0 {
		rows = p.cfg.Rows
	}

	handle, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return fmt.Errorf("start pty for %s: %w", opts.Name, err)
	}

	s := &ptySession{
		name:    opts.Name,
		runtime: opts.Runtime,
		cmd:     cmd,
		handle:  handle,
		tracker: detect.NewScreenTracker(cols, rows, detect.ForRuntime(opts.Runtime)),
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	if _, ok := p.sessions[opts.Name]; ok {
		p.mu.Unlock()
		s.close()
		return fmt.Errorf("%w: %s", session.ErrSessionExists, opts.Name)
	}
	p.sessions[opts.Name] = s
	p.mu.Unlock()

	go p.readLoop(s)

	p.logger.Info("session created",
		zap.String("session", opts.Name),
		zap.String("runtime", string(opts.Runtime)),
		zap.String("command", command))
	return nil
}

// readLoop pumps PTY output into the screen tracker until the process ends,
// then reaps the session.
func (p *Pool) readLoop(s *ptySession) {
	buf := make([]byte, 4096)
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			s.tracker.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	s.close()
	if s.cmd.Process != nil {
		_, _ = s.cmd.Process.Wait()
	}

	p.mu.Lock()
	if current, ok := p.sessions[s.name]; ok && current == s {
		delete(p.sessions, s.name)
	}
	p.mu.Unlock()

	p.logger.Info("session ended", zap.String("session", s.name))
}

func (s *ptySession) close() {
	s.closeOnce.Do(func() {
		_ = s.handle.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		close(s.done)
	})
}

func (p *Pool) lookup(name string) (*ptySession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, name)
	}
	return s, nil
}

// SessionExists reports whether name has a live PTY.
func (p *Pool) SessionExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[name]
	return ok, nil
}

// Send writes raw bytes to the session's PTY.
func (p *Pool) Send(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := p.lookup(name)
	if err != nil {
		return err
	}
	_, err = s.handle.Write(data)
	return err
}

// SendPayloadThenEnter writes the payload, waits interWrite, then writes a
// carriage return as its own event.
func (p *Pool) SendPayloadThenEnter(ctx context.Context, name, text string, interWrite time.Duration) error {
	if err := p.Send(ctx, name, []byte(text)); err != nil {
		return err
	}
	if interWrite > 0 {
		select {
		case <-time.After(interWrite):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.Send(ctx, name, []byte("\r"))
}

// Snapshot returns the last lines of the rendered screen.
func (p *Pool) Snapshot(ctx context.Context, name string, lines int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, err := p.lookup(name)
	if err != nil {
		return "", err
	}
	return s.tracker.Snapshot(lines), nil
}

// IsPromptIdle classifies the session's screen. The session's own tracker is
// used when the runtime matches (it carries detector state such as the codex
// stability window); a mismatched runtime gets a stateless pass.
func (p *Pool) IsPromptIdle(ctx context.Context, name string, runtime v1.RuntimeType) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s, err := p.lookup(name)
	if err != nil {
		return false, err
	}
	if runtime == "" || runtime == s.runtime {
		return detect.PromptIdle(s.tracker.State()), nil
	}
	state := detect.ForRuntime(runtime).DetectState(s.tracker.Lines(), nil)
	return detect.PromptIdle(state), nil
}

// KillSession terminates the process and drops the session.
func (p *Pool) KillSession(ctx context.Context, name string) error {
	s, err := p.lookup(name)
	if err != nil {
		return err
	}
	s.close()

	p.mu.Lock()
	if current, ok := p.sessions[name]; ok && current == s {
		delete(p.sessions, name)
	}
	p.mu.Unlock()
	return nil
}

// ListSessions returns live session names, sorted.
func (p *Pool) ListSessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CloseAll kills every session. Shutdown path.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	sessions := make([]*ptySession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*ptySession)
	p.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Resize changes a session's terminal size, keeping the tracker in sync.
func (p *Pool) Resize(ctx context.Context, name string, cols, rows int) error {
	s, err := p.lookup(name)
	if err != nil {
		return err
	}
	if err := s.handle.Resize(uint16(cols), uint16(rows)); err != nil {
		return err
	}
	s.tracker.Resize(cols, rows)
	return nil
}
