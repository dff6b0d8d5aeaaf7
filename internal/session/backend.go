// Package session defines the backend port over named terminal sessions and
// the runtime resolution used before delivering text to them. Two backends
// exist: tmux panes (internal/session/tmux) and in-process PTYs
// (internal/session/ptypool).
package session

import (
	"context"
	"errors"
	"time"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ErrSessionNotFound marks an operation aimed at a session name the backend
// does not know.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists marks a create against an already-live session name.
var ErrSessionExists = errors.New("session already exists")

// CreateSessionOptions describes a session to launch.
type CreateSessionOptions struct {
	// Name is the unique session name.
	Name string
	// Command and Args launch the agent process. Empty Command starts the
	// user's shell.
	Command string
	Args    []string
	// WorkDir is the initial working directory.
	WorkDir string
	// Env entries are appended to the inherited environment, KEY=VALUE.
	Env []string
	// Runtime selects the screen detector for idle classification.
	Runtime v1.RuntimeType
	// Cols and Rows size the terminal. Zero means 80x24.
	Cols int
	Rows int
}

// Backend is the capability surface over named terminal sessions. All
// blocking calls honor ctx; SendPayloadThenEnter in particular sleeps
// between its two writes.
type Backend interface {
	// SessionExists reports whether name is live.
	SessionExists(ctx context.Context, name string) (bool, error)

	// Send writes raw bytes to the session's input.
	Send(ctx context.Context, name string, data []byte) error

	// SendPayloadThenEnter writes text, waits interWrite, then writes the
	// Enter key as its own event. Interactive runtimes coalesce fast input
	// and swallow a trailing newline, so the two writes must be separate.
	SendPayloadThenEnter(ctx context.Context, name, text string, interWrite time.Duration) error

	// Snapshot returns up to lines of recent rendered terminal output.
	Snapshot(ctx context.Context, name string, lines int) (string, error)

	// IsPromptIdle reports whether the runtime appears to be at a prompt
	// accepting input.
	IsPromptIdle(ctx context.Context, name string, runtime v1.RuntimeType) (bool, error)

	// CreateSession launches a new named session.
	CreateSession(ctx context.Context, opts CreateSessionOptions) error

	// KillSession terminates a session and releases its resources.
	KillSession(ctx context.Context, name string) error

	// ListSessions returns the names of all live sessions.
	ListSessions(ctx context.Context) ([]string, error)
}
