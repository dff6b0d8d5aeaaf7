package delivery

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/stevehuang0115/agentmux-sub002/internal/session"
)

// csiPattern matches ANSI CSI sequences (colors, cursor movement). Dropping
// the ESC byte alone leaves their printable tail behind.
var csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Fingerprint returns the verification fingerprint for a payload: its first
// n printable characters with whitespace runs collapsed to single spaces.
// Terminals re-wrap long lines, so the snapshot is normalized the same way
// before matching.
func Fingerprint(payload string, n int) string {
	c := collapse(payload)
	if n <= 0 {
		return c
	}
	runes := []rune(c)
	if len(runes) <= n {
		return c
	}
	return string(runes[:n])
}

// accepted reports whether a pane snapshot shows the payload was taken by
// the runtime. The literal fingerprint is payload-specific and tried first;
// the runtime echo pattern catches runtimes that reformat accepted input.
func accepted(snapshot, fp string, profile session.Profile) bool {
	if fp != "" && strings.Contains(collapse(snapshot), fp) {
		return true
	}
	if profile.EchoPattern != nil && profile.EchoPattern.MatchString(snapshot) {
		return true
	}
	return false
}

// collapse strips ANSI sequences, drops non-printable runes and squeezes
// whitespace runs down to single spaces.
func collapse(s string) string {
	if strings.ContainsRune(s, '\x1b') {
		s = csiPattern.ReplaceAllString(s, "")
	}
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
