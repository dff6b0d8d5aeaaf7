// Package detect classifies what an interactive agent CLI is doing by
// reading its rendered terminal screen. Each supported runtime gets its own
// detector because every TUI paints working spinners, approval dialogs and
// input prompts differently.
package detect

import (
	"github.com/tuzig/vt10x"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// AgentState is the coarse classification of a runtime's screen.
type AgentState string

const (
	StateUnknown         AgentState = "unknown"
	StateWorking         AgentState = "working"
	StateWaitingApproval AgentState = "waiting_approval"
	StateWaitingInput    AgentState = "waiting_input"
)

// StatusDetector classifies terminal content for one runtime flavor.
type StatusDetector interface {
	// DetectState examines the visible terminal lines. glyphs carries the
	// full cell attributes when the caller renders through vt10x; detectors
	// must tolerate nil glyphs (plain text capture).
	DetectState(lines []string, glyphs [][]vt10x.Glyph) AgentState

	// ShouldAcceptStateChange lets a detector veto flappy transitions.
	ShouldAcceptStateChange(current, next AgentState) bool
}

// ForRuntime returns the detector matching a runtime type. Unknown runtimes
// get the claude-code detector, mirroring the default runtime assumption.
func ForRuntime(rt v1.RuntimeType) StatusDetector {
	switch rt {
	case v1.RuntimeGeminiCLI:
		return NewGeminiDetector()
	case v1.RuntimeCodexCLI:
		return NewCodexDetector()
	default:
		return NewClaudeCodeDetector()
	}
}

// PromptIdle interprets a detected state for delivery preflight. Working
// screens and modal approval dialogs swallow typed input; anything else is
// treated as a prompt that accepts text.
func PromptIdle(state AgentState) bool {
	switch state {
	case StateWorking, StateWaitingApproval:
		return false
	}
	return true
}

// NoOpDetector never classifies. Used for sessions with no known runtime.
type NoOpDetector struct{}

func (NoOpDetector) DetectState([]string, [][]vt10x.Glyph) AgentState { return StateUnknown }

func (NoOpDetector) ShouldAcceptStateChange(AgentState, AgentState) bool { return true }
