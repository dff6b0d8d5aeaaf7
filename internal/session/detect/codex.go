package detect

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tuzig/vt10x"
)

// codexWorkingExitWindow is how long a working detection keeps vetoing
// transitions out of working. The codex TUI repaints intermittently while
// processing, so a single clean frame must not read as idle.
const codexWorkingExitWindow = time.Second

// CodexDetector reads the codex-cli TUI.
type CodexDetector struct {
	mu          sync.Mutex
	lastWorking time.Time
}

// NewCodexDetector returns the codex-cli screen classifier.
func NewCodexDetector() *CodexDetector {
	return &CodexDetector{}
}

var (
	// "• Working (65s • esc to interrupt)" timer rows.
	codexWorkingPattern = regexp.MustCompile(
		`^[•◦]\s*.+\(?(\d+h\s+)?(\d+m\s+)?\d+s\s*[•·]\s*(esc|ctrl\+c)\s+to\s+interrup(t)?\)?`,
	)

	// "─ Worked for 2m 30s ────" closes a turn; the prompt follows.
	codexWorkedPattern = regexp.MustCompile(`^─\s*Worked\s+for\s+.+─+$`)

	// MCP startup chatter must not read as activity.
	codexMCPNoise = regexp.MustCompile(`(?i)starting\s+mcp\s+servers?`)

	codexSelectionPattern = regexp.MustCompile(`^[›❯]\s*\d+\.\s+`)
	codexConfirmPattern   = regexp.MustCompile(`(?i)press\s+enter\s+to\s+confirm`)
	codexCancelPattern    = regexp.MustCompile(`(?i)esc\s+to\s+cancel`)
	codexApprovalPattern  = regexp.MustCompile(`(?i)(approve|allow|confirm|proceed)\s*\?`)
)

// DetectState classifies the visible screen.
func (d *CodexDetector) DetectState(lines []string, glyphs [][]vt10x.Glyph) AgentState {
	if state := d.detectApproval(lines); state != StateUnknown {
		return state
	}

	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if codexMCPNoise.MatchString(line) {
			continue
		}
		if codexWorkingPattern.MatchString(line) {
			d.mu.Lock()
			d.lastWorking = time.Now()
			d.mu.Unlock()
			return StateWorking
		}
		if codexWorkedPattern.MatchString(line) {
			return StateWaitingInput
		}
	}
	return StateUnknown
}

// ShouldAcceptStateChange vetoes exits from working until the screen has
// been free of working frames for the exit window.
func (d *CodexDetector) ShouldAcceptStateChange(current, next AgentState) bool {
	if current == StateWorking && next != StateWorking {
		d.mu.Lock()
		lastWorking := d.lastWorking
		d.mu.Unlock()
		if time.Since(lastWorking) < codexWorkingExitWindow {
			return false
		}
	}
	return true
}

func (d *CodexDetector) detectApproval(lines []string) AgentState {
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")

		if codexSelectionPattern.MatchString(line) {
			for j := i + 1; j < len(lines) && j < i+5; j++ {
				nearby := strings.TrimRight(lines[j], " \t")
				if codexConfirmPattern.MatchString(nearby) || codexCancelPattern.MatchString(nearby) {
					return StateWaitingApproval
				}
			}
			return StateWaitingApproval
		}
		if codexApprovalPattern.MatchString(line) {
			return StateWaitingApproval
		}
		if codexConfirmPattern.MatchString(line) && codexCancelPattern.MatchString(line) {
			return StateWaitingApproval
		}
	}
	return StateUnknown
}
