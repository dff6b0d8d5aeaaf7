// Package tmux implements the session backend over a tmux server. Sessions
// are tmux sessions; writes go through send-keys, snapshots through
// capture-pane. The daemon can restart without losing agent terminals.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/session"
	"github.com/stevehuang0115/agentmux-sub002/internal/session/detect"
	"go.uber.org/zap"
)

// Backend drives a tmux server through its CLI. Stateless beyond the
// binary path; tmux owns all session state.
type Backend struct {
	binary string
	logger *logger.Logger
}

// New returns a tmux-backed session backend. An empty binary falls back
// to "tmux" on PATH.
func New(binary string, log *logger.Logger) *Backend {
	if binary == "" {
		binary = "tmux"
	}
	return &Backend{
		binary: binary,
		logger: log.WithFields(zap.String("component", "tmux-backend")),
	}
}

var _ session.Backend = (*Backend)(nil)

// run executes one tmux subcommand and returns its stdout.
func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tmux %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// SessionExists probes with has-session. tmux exits non-zero both for an
// unknown session and for no server at all; either way the session is not
// there.
func (b *Backend) SessionExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	// "=" pins exact-match; bare names also prefix-match in tmux.
	_, err := b.run(ctx, "has-session", "-t", "="+name)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return true, nil
}

// Send writes raw bytes as literal keys.
func (b *Backend) Send(ctx context.Context, name string, data []byte) error {
	_, err := b.run(ctx, "send-keys", "-t", "="+name, "-l", "--", string(data))
	return err
}

// SendPayloadThenEnter writes the payload literally, sleeps interWrite, then
// sends Enter as a key event. Sending "payload\n" in one write gets the
// newline swallowed by chat-style TUIs.
func (b *Backend) SendPayloadThenEnter(ctx context.Context, name, text string, interWrite time.Duration) error {
	if err := b.Send(ctx, name, []byte(text)); err != nil {
		return err
	}
	if interWrite > 0 {
		select {
		case <-time.After(interWrite):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := b.run(ctx, "send-keys", "-t", "="+name, "Enter")
	return err
}

// Snapshot captures the last lines of the pane, scrollback included.
func (b *Backend) Snapshot(ctx context.Context, name string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	out, err := b.run(ctx, "capture-pane", "-p", "-t", "="+name, "-S", "-"+strconv.Itoa(lines))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// IsPromptIdle captures the pane and runs the runtime's screen detector
// over it.
func (b *Backend) IsPromptIdle(ctx context.Context, name string, runtime v1.RuntimeType) (bool, error) {
	snapshot, err := b.Snapshot(ctx, name, 50)
	if err != nil {
		return false, err
	}
	state := detect.ForRuntime(runtime).DetectState(strings.Split(snapshot, "\n"), nil)
	return detect.PromptIdle(state), nil
}

// CreateSession starts a detached session running the agent command.
func (b *Backend) CreateSession(ctx context.Context, opts session.CreateSessionOptions) error {
	exists, err := b.SessionExists(ctx, opts.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", session.ErrSessionExists, opts.Name)
	}

	args := []string{"new-session", "-d", "-s", opts.Name}
	if opts.WorkDir != "" {
		args = append(args, "-c", opts.WorkDir)
	}
	if opts.Cols > 0 {
		args = append(args, "-x", strconv.Itoa(opts.Cols))
	}
	if opts.Rows > 0 {
		args = append(args, "-y", strconv.Itoa(opts.Rows))
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
		args = append(args, opts.Args...)
	}

	if _, err := b.run(ctx, args...); err != nil {
		return err
	}
	b.logger.Info("session created",
		zap.String("session", opts.Name),
		zap.String("runtime", string(opts.Runtime)))
	return nil
}

// KillSession terminates the tmux session.
func (b *Backend) KillSession(ctx context.Context, name string) error {
	exists, err := b.SessionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, name)
	}
	_, err = b.run(ctx, "kill-session", "-t", "="+name)
	return err
}

// ListSessions returns all live session names. No running server means no
// sessions, not an error.
func (b *Backend) ListSessions(ctx context.Context) ([]string, error) {
	out, err := b.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}
