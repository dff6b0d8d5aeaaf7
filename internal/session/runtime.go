package session

import (
	"regexp"
	"time"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Profile carries the per-runtime tuning the delivery path needs: how long
// to wait between the payload write and the Enter write, how fast to re-probe
// a busy prompt, and how to recognize the payload echoed on screen.
type Profile struct {
	Runtime v1.RuntimeType

	// InterWriteDelay separates the payload write from the Enter write.
	InterWriteDelay time.Duration

	// IdleProbeBackoff is the sleep between prompt-idle preflight probes.
	IdleProbeBackoff time.Duration

	// FingerprintLength is how many printable payload characters the
	// verifier matches against the snapshot.
	FingerprintLength int

	// EchoPattern, when set, matches the runtime's own rendering of
	// accepted input and is tried before the literal fingerprint.
	EchoPattern *regexp.Regexp
}

var (
	// claude-code renders accepted input as a "> text" row.
	claudeEchoPattern = regexp.MustCompile(`(?m)^\s*>\s+\S`)

	// codex-cli prefixes the submitted prompt with a "▌user" banner.
	codexEchoPattern = regexp.MustCompile(`(?m)^\s*▌?\s*user\b`)
)

var profiles = map[v1.RuntimeType]Profile{
	v1.RuntimeClaudeCode: {
		Runtime:           v1.RuntimeClaudeCode,
		InterWriteDelay:   120 * time.Millisecond,
		IdleProbeBackoff:  500 * time.Millisecond,
		FingerprintLength: 24,
		EchoPattern:       claudeEchoPattern,
	},
	v1.RuntimeGeminiCLI: {
		Runtime:           v1.RuntimeGeminiCLI,
		InterWriteDelay:   120 * time.Millisecond,
		IdleProbeBackoff:  500 * time.Millisecond,
		FingerprintLength: 24,
	},
	v1.RuntimeCodexCLI: {
		Runtime:           v1.RuntimeCodexCLI,
		InterWriteDelay:   150 * time.Millisecond,
		IdleProbeBackoff:  750 * time.Millisecond,
		FingerprintLength: 24,
		EchoPattern:       codexEchoPattern,
	},
}

// ProfileFor returns the tuning profile for a runtime. Unknown runtimes get
// the default runtime's profile.
func ProfileFor(rt v1.RuntimeType) Profile {
	if p, ok := profiles[rt]; ok {
		return p
	}
	return profiles[v1.DefaultRuntime]
}
