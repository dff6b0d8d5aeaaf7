package detect

import (
	"regexp"
	"strings"

	"github.com/tuzig/vt10x"
)

// GeminiDetector reads the gemini-cli TUI. Its working state shows a
// spinner with an "esc to cancel" hint; the idle prompt is a bordered box
// whose placeholder invites a message.
type GeminiDetector struct{}

// NewGeminiDetector returns the gemini-cli screen classifier.
func NewGeminiDetector() *GeminiDetector {
	return &GeminiDetector{}
}

var (
	// "⠋ Thinking... (esc to cancel)" spinner rows.
	geminiWorkingPattern = regexp.MustCompile(
		`^\s*[⠁⠂⠄⡀⢀⠠⠐⠈⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏✦✧*]\s+.+\((esc|ctrl\+c)\s+to\s+cancel`,
	)

	// Placeholder of the empty input box.
	geminiPromptPattern = regexp.MustCompile(`(?i)type\s+your\s+message|>\s+type\s+here`)

	// "│ > " cursor row inside the bordered input box.
	geminiInputRowPattern = regexp.MustCompile(`^\s*[│╭╰]?\s*>\s*$`)

	// Approval dialogs: tool call confirmation.
	geminiApplyPattern   = regexp.MustCompile(`(?i)(apply\s+this\s+change|allow\s+execution)\s*\?`)
	geminiConfirmPattern = regexp.MustCompile(`(?i)(yes,\s+allow|no\s+\(esc\))`)
)

// DetectState classifies the visible screen.
func (d *GeminiDetector) DetectState(lines []string, glyphs [][]vt10x.Glyph) AgentState {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t")
		if geminiApplyPattern.MatchString(line) || geminiConfirmPattern.MatchString(line) {
			return StateWaitingApproval
		}
	}

	for _, line := range lines {
		if geminiWorkingPattern.MatchString(strings.TrimRight(line, " \t")) {
			return StateWorking
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if geminiPromptPattern.MatchString(trimmed) || geminiInputRowPattern.MatchString(trimmed) {
			return StateWaitingInput
		}
	}
	return StateUnknown
}

// ShouldAcceptStateChange accepts every transition.
func (d *GeminiDetector) ShouldAcceptStateChange(current, next AgentState) bool {
	return true
}
