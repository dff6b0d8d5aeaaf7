package detect

import (
	"strings"
	"sync"

	"github.com/tuzig/vt10x"
)

// ScreenTracker feeds raw PTY output through a vt10x terminal emulator so
// escape-sequence-heavy TUIs can be read back as plain rendered lines. One
// tracker per live PTY session.
type ScreenTracker struct {
	mu       sync.Mutex
	term     vt10x.Terminal
	detector StatusDetector
	cols     int
	rows     int
	state    AgentState
}

// NewScreenTracker builds a tracker with the given emulated size.
func NewScreenTracker(cols, rows int, detector StatusDetector) *ScreenTracker {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if detector == nil {
		detector = NoOpDetector{}
	}
	return &ScreenTracker{
		term:     vt10x.New(vt10x.WithSize(cols, rows)),
		detector: detector,
		cols:     cols,
		rows:     rows,
		state:    StateUnknown,
	}
}

// Write feeds PTY output into the emulator.
func (t *ScreenTracker) Write(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.term.Write(data)
}

// Resize changes the emulated terminal size.
func (t *ScreenTracker) Resize(cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.term.Resize(cols, rows)
	t.cols = cols
	t.rows = rows
}

// Lines returns the rendered screen rows, top to bottom.
func (t *ScreenTracker) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines, _ := t.contentLocked()
	return lines
}

// Snapshot returns the last n rendered rows joined by newlines, with
// trailing blank rows dropped.
func (t *ScreenTracker) Snapshot(n int) string {
	lines := t.Lines()
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := 0
	if n > 0 && end-n > 0 {
		start = end - n
	}
	return strings.Join(lines[start:end], "\n")
}

// State re-detects and returns the current agent state, honoring the
// detector's transition veto.
func (t *ScreenTracker) State() AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines, glyphs := t.contentLocked()
	next := t.detector.DetectState(lines, glyphs)
	if next != t.state && t.detector.ShouldAcceptStateChange(t.state, next) {
		t.state = next
	}
	return t.state
}

func (t *ScreenTracker) contentLocked() ([]string, [][]vt10x.Glyph) {
	lines := make([]string, t.rows)
	glyphs := make([][]vt10x.Glyph, t.rows)

	for row := 0; row < t.rows; row++ {
		rowGlyphs := make([]vt10x.Glyph, t.cols)
		chars := make([]rune, t.cols)
		for col := 0; col < t.cols; col++ {
			g := t.term.Cell(col, row)
			rowGlyphs[col] = g
			if g.Char == 0 {
				chars[col] = ' '
			} else {
				chars[col] = g.Char
			}
		}
		lines[row] = string(chars)
		glyphs[row] = rowGlyphs
	}
	return lines, glyphs
}
