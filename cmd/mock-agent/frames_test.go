package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stevehuang0115/agentmux-sub002/internal/session/detect"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// classify runs the daemon's real screen detector over a rendered frame.
func classify(rt v1.RuntimeType, screen string) detect.AgentState {
	return detect.ForRuntime(rt).DetectState(strings.Split(screen, "\n"), nil)
}

func TestClaudeFramesClassify(t *testing.T) {
	f := claudeFrames{}

	if got := classify(v1.RuntimeClaudeCode, f.idle()); got != detect.StateWaitingInput {
		t.Fatalf("idle frame classified as %s, want %s", got, detect.StateWaitingInput)
	}
	if got := classify(v1.RuntimeClaudeCode, f.working(time.Second, 1)); got != detect.StateWorking {
		t.Fatalf("working frame classified as %s, want %s", got, detect.StateWorking)
	}
	if detect.PromptIdle(classify(v1.RuntimeClaudeCode, f.working(time.Second, 2))) {
		t.Fatal("working frame must not read as an idle prompt")
	}
}

func TestGeminiFramesClassify(t *testing.T) {
	f := geminiFrames{}

	if got := classify(v1.RuntimeGeminiCLI, f.idle()); got != detect.StateWaitingInput {
		t.Fatalf("idle frame classified as %s, want %s", got, detect.StateWaitingInput)
	}
	if got := classify(v1.RuntimeGeminiCLI, f.working(time.Second, 3)); got != detect.StateWorking {
		t.Fatalf("working frame classified as %s, want %s", got, detect.StateWorking)
	}
}

func TestCodexFramesClassify(t *testing.T) {
	f := codexFrames{}

	if got := classify(v1.RuntimeCodexCLI, f.working(5*time.Second, 20)); got != detect.StateWorking {
		t.Fatalf("working frame classified as %s, want %s", got, detect.StateWorking)
	}

	// The worked-for rule closes the turn.
	resp := f.respond("ship the thing", 3*time.Second)
	if got := classify(v1.RuntimeCodexCLI, resp); got != detect.StateWaitingInput {
		t.Fatalf("response frame classified as %s, want %s", got, detect.StateWaitingInput)
	}

	// Before the first turn the codex screen has no markers at all; that
	// still counts as a prompt that accepts text.
	if !detect.PromptIdle(classify(v1.RuntimeCodexCLI, f.idle())) {
		t.Fatal("bare prompt must read as idle")
	}
}

func TestResponseFramesStayIdle(t *testing.T) {
	// A finished turn leaves response text plus a fresh prompt on screen;
	// stale response lines must not read as working or approval.
	cases := []struct {
		rt     v1.RuntimeType
		screen string
	}{
		{v1.RuntimeClaudeCode, claudeFrames{}.respond("update the board", 2*time.Second) + "\n" + claudeFrames{}.idle()},
		{v1.RuntimeGeminiCLI, geminiFrames{}.respond("update the board", 2*time.Second) + "\n" + geminiFrames{}.idle()},
	}
	for _, tc := range cases {
		if got := classify(tc.rt, tc.screen); got != detect.StateWaitingInput {
			t.Errorf("%s transcript classified as %s, want %s", tc.rt, got, detect.StateWaitingInput)
		}
	}
}

func TestFramesForUnknownRuntime(t *testing.T) {
	if _, err := framesFor("copilot"); err == nil {
		t.Fatal("expected an error for an unsupported runtime")
	}
	for _, name := range []string{"claude-code", "gemini-cli", "codex-cli"} {
		if _, err := framesFor(name); err != nil {
			t.Fatalf("framesFor(%q) returned %v", name, err)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate kept %q", got)
	}
	long := strings.Repeat("api", 20)
	got := truncate(long, 9)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != 10 {
		t.Fatalf("truncate returned %q", got)
	}
}
