package taskdoc

import (
	"encoding/json"
	"fmt"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ExtractRetryInfo returns the retry state embedded under the Output
// Validation Retry Info section, or nil when absent.
func ExtractRetryInfo(md string) (*v1.RetryInfo, error) {
	raw, err := extractSectionJSON(md, SectionRetryInfo)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var info v1.RetryInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%s: %w", SectionRetryInfo, err)
	}
	return &info, nil
}

// RenderRetrySection serializes retry state into its canonical section form.
func RenderRetrySection(info v1.RetryInfo) string {
	if info.LastErrors == nil {
		info.LastErrors = []string{}
	}
	data, _ := json.MarshalIndent(info, "", "  ")
	return SectionRetryInfo + "\n\n```json\n" + string(data) + "\n```"
}

// UpsertRetryInfo replaces (or appends) the retry section. Each failed
// validation rewrites the whole section rather than patching counts in
// place.
func UpsertRetryInfo(md string, info v1.RetryInfo) string {
	md = RemoveSection(md, SectionRetryInfo)
	return appendSection(md, RenderRetrySection(info))
}
