// Package taskdoc parses and rewrites task markdown artifacts. The markdown
// file is the authoritative task record: its folder is the status, its
// reserved sections carry assignment history, the embedded Output Schema,
// and validation retry state. Everything here is stateless string work so
// the lifecycle engine can compose transitions from it.
package taskdoc

import (
	"strconv"
	"strings"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Reserved section headers. Their exact spelling is part of the on-disk
// contract; other components and humans grep for them.
const (
	SectionTaskInformation   = "## Task Information"
	SectionOutputSchema      = "## Output Schema"
	SectionRetryInfo         = "## Output Validation Retry Info"
	SectionAssignment        = "## Assignment Information"
	SectionCompletion        = "## Completion Information"
	SectionBlock             = "## Block Information"
	SectionUnblock           = "## Unblock Information"
	SectionValidationFailure = "## Output Validation Failure"
)

// Header is the parsed top matter of a task document.
type Header struct {
	Title                 string
	TargetRole            string
	EstimatedDelayMinutes int
}

// ParseHeader extracts the title and Task Information fields. Absent fields
// stay zero; a task file with no recognizable header is still a valid task.
func ParseHeader(md string) Header {
	var h Header
	inTaskInfo := false

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case h.Title == "" && strings.HasPrefix(trimmed, "# ") && !strings.HasPrefix(trimmed, "## "):
			h.Title = strings.TrimSpace(trimmed[2:])
		case trimmed == SectionTaskInformation:
			inTaskInfo = true
		case strings.HasPrefix(trimmed, "## "):
			inTaskInfo = false
		case inTaskInfo:
			if v, ok := fieldValue(trimmed, "Target Role"); ok {
				h.TargetRole = v
			}
			if v, ok := fieldValue(trimmed, "Estimated Delay"); ok {
				h.EstimatedDelayMinutes = parseMinutes(v)
			}
		}
	}
	return h
}

// Parse derives the full task view for a document at path. Status comes
// from the folder segment; parse errors on optional sections degrade to
// absent fields rather than failing the whole read.
func Parse(path, md string) v1.Task {
	header := ParseHeader(md)
	task := v1.Task{
		FilePath:              path,
		Title:                 header.Title,
		TargetRole:            header.TargetRole,
		EstimatedDelayMinutes: header.EstimatedDelayMinutes,
	}
	if status, err := StatusFromTaskPath(path); err == nil {
		task.Status = status
	}
	if schema, err := ExtractSchema(md); err == nil && schema != nil {
		task.HasOutputSchema = true
	}
	if retry, err := ExtractRetryInfo(md); err == nil {
		task.RetryInfo = retry
	}
	return task
}

// fieldValue matches a "- **Name**: value" list line.
func fieldValue(line, name string) (string, bool) {
	prefix := "- **" + name + "**:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// parseMinutes reads the leading integer of values like "30 minutes".
func parseMinutes(v string) int {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}
