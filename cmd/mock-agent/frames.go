package main

import (
	"fmt"
	"strings"
	"time"
)

// frames renders the terminal look of one runtime flavor. idle leaves the
// cursor on the input row so typed text echoes where the real TUI puts it.
// The rendered lines must classify correctly under the daemon's screen
// detectors, otherwise the mock is useless as a delivery target.
type frames interface {
	banner() string
	idle() string
	working(elapsed time.Duration, tick int) string
	respond(input string, took time.Duration) string
}

// framesFor maps a runtime name to its frame renderer.
func framesFor(runtime string) (frames, error) {
	switch runtime {
	case "claude-code":
		return claudeFrames{}, nil
	case "gemini-cli":
		return geminiFrames{}, nil
	case "codex-cli":
		return codexFrames{}, nil
	}
	return nil, fmt.Errorf("unknown runtime %q", runtime)
}

// truncate keeps transcripts readable when a delivered payload is long.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

type claudeFrames struct{}

func (claudeFrames) banner() string {
	return "mock-agent: claude-code flavor. Type a message, /quit to exit."
}

func (claudeFrames) idle() string {
	sep := strings.Repeat("─", 60)
	return sep + "\n" +
		"  ⎿ Tip: type a message and press Enter\n" +
		sep + "\n" +
		"│ > "
}

var claudeGlyphs = []rune{'✻', '✽', '✶', '·'}

func (claudeFrames) working(elapsed time.Duration, tick int) string {
	glyph := claudeGlyphs[tick%len(claudeGlyphs)]
	return fmt.Sprintf("%c Cogitating... (esc to interrupt)", glyph)
}

func (claudeFrames) respond(input string, took time.Duration) string {
	return fmt.Sprintf("⏺ Got it. Spent %s on %q. Nothing further in mock mode.",
		took.Round(time.Second), truncate(input, 48))
}

type geminiFrames struct{}

func (geminiFrames) banner() string {
	return "mock-agent: gemini-cli flavor. Type a message, /quit to exit."
}

func (geminiFrames) idle() string {
	top := "╭" + strings.Repeat("─", 58) + "╮"
	placeholder := "│ > Type your message" + strings.Repeat(" ", 38) + "│"
	bottom := "╰" + strings.Repeat("─", 58) + "╯"
	return top + "\n" + placeholder + "\n" + bottom + "\n> "
}

var geminiGlyphs = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

func (geminiFrames) working(elapsed time.Duration, tick int) string {
	glyph := geminiGlyphs[tick%len(geminiGlyphs)]
	return fmt.Sprintf("%c Thinking... (esc to cancel)", glyph)
}

func (geminiFrames) respond(input string, took time.Duration) string {
	return fmt.Sprintf("✦ Understood. Handled %q in %s.",
		truncate(input, 48), took.Round(time.Second))
}

type codexFrames struct{}

func (codexFrames) banner() string {
	return "mock-agent: codex-cli flavor. Type a message, /quit to exit."
}

func (codexFrames) idle() string {
	return "› "
}

func (codexFrames) working(elapsed time.Duration, tick int) string {
	return fmt.Sprintf("• Working (%ds • esc to interrupt)", int(elapsed.Seconds()))
}

func (codexFrames) respond(input string, took time.Duration) string {
	secs := int(took.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("• Handled %q.\n─ Worked for %ds %s",
		truncate(input, 48), secs, strings.Repeat("─", 24))
}
