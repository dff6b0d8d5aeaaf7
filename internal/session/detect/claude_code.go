package detect

import (
	"regexp"
	"strings"

	"github.com/tuzig/vt10x"
)

// ClaudeCodeDetector reads the claude-code TUI. The working state shows a
// spinner glyph plus an interrupt hint; the idle prompt draws an input box
// between horizontal separators with a hint line inside.
type ClaudeCodeDetector struct{}

// NewClaudeCodeDetector returns the claude-code screen classifier.
func NewClaudeCodeDetector() *ClaudeCodeDetector {
	return &ClaudeCodeDetector{}
}

var (
	// "✻ Billowing… (esc to interrupt)" and friends.
	claudeWorkingPattern = regexp.MustCompile(
		`^\s*[✻✽✶∴·○◆▪▫□■☐☑☒★☆✓✔✗✘⚬⚫⚪⬤◯▸▹►▻◂◃◄◅✢*]\s+.+[…\.]{2,}\s*\((esc|ctrl\+c)\s+to\s+interrupt`,
	)

	// "⎿ Tip: …" inside the input box marks an idle prompt.
	claudeHintPattern = regexp.MustCompile(`^[\s\x{00a0}]*⎿[\s\x{00a0}]+(?:Tip|Next|Hint):`)

	// Input box boundaries are rows of horizontal box-drawing characters.
	claudeSeparatorPattern = regexp.MustCompile(`^[─━═┄┅┈┉\-]{10,}$`)

	// Empty prompt box: "│ > " cursor row between separators.
	claudePromptRowPattern = regexp.MustCompile(`^\s*[│>]\s*>?\s*$`)

	// Approval dialogs.
	claudeEnterToSelect = regexp.MustCompile(`(?i)enter\s+to\s+select`)
	claudeDoYouWantTo   = regexp.MustCompile(`(?i)do\s+you\s+want\s+to\s+`)
	claudeSubmitAnswers = regexp.MustCompile(`(?i)ready\s+to\s+submit\s+your\s+answers`)
	claudeMenuArrow     = regexp.MustCompile(`^\s*[❯>]\s*\d+\.`)
	claudeYesNo         = regexp.MustCompile(`(?i)\[?y/?n\]?`)
)

// DetectState classifies the visible screen. Approval dialogs take
// precedence: a working spinner may still be on screen above a modal.
func (d *ClaudeCodeDetector) DetectState(lines []string, glyphs [][]vt10x.Glyph) AgentState {
	if state := d.detectApproval(lines); state != StateUnknown {
		return state
	}

	for _, line := range lines {
		if claudeWorkingPattern.MatchString(strings.TrimRight(line, " \t")) {
			return StateWorking
		}
	}

	if d.hasIdlePrompt(lines) {
		return StateWaitingInput
	}
	return StateUnknown
}

// ShouldAcceptStateChange accepts every transition; claude-code renders
// state changes cleanly enough to not need a stability window.
func (d *ClaudeCodeDetector) ShouldAcceptStateChange(current, next AgentState) bool {
	return true
}

func (d *ClaudeCodeDetector) hasIdlePrompt(lines []string) bool {
	var separators []int
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 10 && claudeSeparatorPattern.MatchString(trimmed) {
			separators = append(separators, i)
		}
	}

	// With a drawn input box, look for the hint or an empty prompt row
	// inside the two bottom separators.
	if len(separators) >= 2 {
		start := separators[len(separators)-2]
		end := separators[len(separators)-1]
		for i := end - 1; i >= start && i >= 0; i-- {
			if claudeHintPattern.MatchString(lines[i]) || claudePromptRowPattern.MatchString(lines[i]) {
				return true
			}
		}
	}

	for _, line := range lines {
		if claudeHintPattern.MatchString(line) {
			return true
		}
	}
	return false
}

// detectApproval scans bottom-up since dialogs render near the cursor.
func (d *ClaudeCodeDetector) detectApproval(lines []string) AgentState {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t")

		if claudeEnterToSelect.MatchString(line) ||
			claudeDoYouWantTo.MatchString(line) ||
			claudeSubmitAnswers.MatchString(line) {
			return StateWaitingApproval
		}

		if claudeMenuArrow.MatchString(line) {
			for j := i + 1; j < len(lines) && j < i+5; j++ {
				nearby := strings.ToLower(strings.TrimRight(lines[j], " \t"))
				if strings.Contains(nearby, "confirm") || strings.Contains(nearby, "enter to") {
					return StateWaitingApproval
				}
			}
		}

		if claudeYesNo.MatchString(line) {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "?") || strings.Contains(lower, "allow") || strings.Contains(lower, "approve") {
				return StateWaitingApproval
			}
		}
	}
	return StateUnknown
}
