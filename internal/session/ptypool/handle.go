// Package ptypool implements the session backend as in-process PTYs. Each
// named session is an agent CLI attached to a pseudo-terminal whose output
// feeds a vt10x screen tracker, so snapshots and idle detection work without
// an external multiplexer. Sessions die with the daemon; tmux is the
// restart-safe alternative.
package ptypool

import "io"

// PtyHandle abstracts PTY operations across Unix and Windows. Unix wraps a
// creack/pty master file, Windows a ConPTY pseudo-console.
type PtyHandle interface {
	io.ReadWriteCloser
	// Resize changes the PTY window size.
	Resize(cols, rows uint16) error
}
