package taskdoc

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp is the canonical time format written into metadata blocks.
const Timestamp = time.RFC3339

// HasSection reports whether the document contains the reserved header as
// its own line. Used for crash reconciliation: a target copy counts as
// committed once its transition block is present.
func HasSection(md, header string) bool {
	for _, line := range strings.Split(md, "\n") {
		if strings.TrimSpace(line) == header {
			return true
		}
	}
	return false
}

// sectionBounds returns the [start, end) line indexes of the section,
// where end is the next "## " header or EOF. ok is false when absent.
func sectionBounds(lines []string, header string) (start, end int, ok bool) {
	start = -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 {
			if trimmed == header {
				start = i
			}
			continue
		}
		if strings.HasPrefix(trimmed, "## ") {
			return start, i, true
		}
	}
	if start == -1 {
		return 0, 0, false
	}
	return start, len(lines), true
}

// RemoveSection strips the section and its body. Removing an absent section
// returns the document unchanged.
func RemoveSection(md, header string) string {
	lines := strings.Split(md, "\n")
	start, end, ok := sectionBounds(lines, header)
	if !ok {
		return md
	}
	// Also drop blank separator lines immediately above the header.
	for start > 0 && strings.TrimSpace(lines[start-1]) == "" {
		start--
	}
	out := append([]string{}, lines[:start]...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n")
}

// StripAssignment removes the Assignment Information block. Abandonment
// recovery applies it before moving a task back to open.
func StripAssignment(md string) string {
	return RemoveSection(md, SectionAssignment)
}

// appendSection adds a section after the existing document body, separated
// by exactly one blank line and ending with a trailing newline.
func appendSection(md, section string) string {
	body := strings.TrimRight(md, "\n")
	if body == "" {
		return section + "\n"
	}
	return body + "\n\n" + section + "\n"
}

// AssignmentInfo is the payload of an Assignment Information block.
type AssignmentInfo struct {
	MemberName  string
	MemberRole  string
	SessionName string
	AssignedAt  time.Time
}

// AppendAssignment records who took the task and when.
func AppendAssignment(md string, info AssignmentInfo) string {
	var b strings.Builder
	b.WriteString(SectionAssignment + "\n")
	fmt.Fprintf(&b, "- **Assigned to**: %s (%s)\n", info.MemberName, info.MemberRole)
	fmt.Fprintf(&b, "- **Session**: %s\n", info.SessionName)
	fmt.Fprintf(&b, "- **Assigned at**: %s", info.AssignedAt.UTC().Format(Timestamp))
	return appendSection(md, b.String())
}

// CompletionInfo is the payload of a Completion Information block.
type CompletionInfo struct {
	SessionName string
	CompletedAt time.Time
	OutputFile  string // empty when the task carried no schema
}

// AppendCompletion records the terminal done transition.
func AppendCompletion(md string, info CompletionInfo) string {
	var b strings.Builder
	b.WriteString(SectionCompletion + "\n")
	fmt.Fprintf(&b, "- **Completed by**: %s\n", info.SessionName)
	fmt.Fprintf(&b, "- **Completed at**: %s", info.CompletedAt.UTC().Format(Timestamp))
	if info.OutputFile != "" {
		fmt.Fprintf(&b, "\n- **Output**: %s", info.OutputFile)
	}
	return appendSection(md, b.String())
}

// AppendBlock records a manual block with its reason.
func AppendBlock(md, reason string, at time.Time) string {
	var b strings.Builder
	b.WriteString(SectionBlock + "\n")
	fmt.Fprintf(&b, "- **Blocked at**: %s", at.UTC().Format(Timestamp))
	if reason != "" {
		fmt.Fprintf(&b, "\n- **Reason**: %s", sanitizeFieldValue(reason))
	}
	return appendSection(md, b.String())
}

// AppendUnblock records the blocked→open transition.
func AppendUnblock(md, note string, at time.Time) string {
	var b strings.Builder
	b.WriteString(SectionUnblock + "\n")
	fmt.Fprintf(&b, "- **Unblocked at**: %s", at.UTC().Format(Timestamp))
	if note != "" {
		fmt.Fprintf(&b, "\n- **Note**: %s", sanitizeFieldValue(note))
	}
	return appendSection(md, b.String())
}

// AppendValidationFailure records the retries-exhausted block transition.
func AppendValidationFailure(md string, retryCount, maxRetries int, lastErrors []string, at time.Time) string {
	var b strings.Builder
	b.WriteString(SectionValidationFailure + "\n")
	fmt.Fprintf(&b, "- **Failed at**: %s\n", at.UTC().Format(Timestamp))
	fmt.Fprintf(&b, "- **Attempts**: %d of %d", retryCount, maxRetries)
	for _, e := range lastErrors {
		fmt.Fprintf(&b, "\n- **Error**: %s", sanitizeFieldValue(e))
	}
	return appendSection(md, b.String())
}

// sanitizeFieldValue keeps free-form text from breaking the list structure.
// Newlines would let a reason smuggle in a reserved header.
func sanitizeFieldValue(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(v)
}
