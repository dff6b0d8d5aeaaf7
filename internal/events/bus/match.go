package bus

import (
	"regexp"
	"strings"
)

// pattern matches subjects the way NATS does: tokens split on ".", "*"
// stands for exactly one token, ">" for everything that remains. Literal
// subjects skip the regexp entirely.
type pattern struct {
	exact string
	re    *regexp.Regexp
}

func compilePattern(subject string) pattern {
	if !strings.ContainsAny(subject, "*>") {
		return pattern{exact: subject}
	}

	// QuoteMeta escapes "*" but leaves ">" alone, so the replacements below
	// see `\*` and a bare `>`.
	expr := regexp.QuoteMeta(subject)
	expr = strings.ReplaceAll(expr, `\*`, `[^.]+`)
	expr = strings.ReplaceAll(expr, `>`, `.+`)

	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		// Unreachable for any input: the expression is built from quoted
		// text and two fixed token classes. Treat it as a literal.
		return pattern{exact: subject}
	}
	return pattern{re: re}
}

func (p pattern) match(subject string) bool {
	if p.re == nil {
		return subject == p.exact
	}
	return p.re.MatchString(subject)
}
