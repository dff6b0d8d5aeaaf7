package taskdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxOutputBytes caps the serialized size of a structured task output.
const MaxOutputBytes = 1 << 20

// ExtractSchema returns the JSON Schema embedded under the Output Schema
// section, or nil when the section is absent. A section with no json block,
// a malformed block, or more than one block is an error: a task that tried
// to declare a schema must not silently lose validation.
func ExtractSchema(md string) (json.RawMessage, error) {
	return extractSectionJSON(md, SectionOutputSchema)
}

// extractSectionJSON finds the single fenced json block inside a reserved
// section.
func extractSectionJSON(md, header string) (json.RawMessage, error) {
	lines := strings.Split(md, "\n")
	start, end, ok := sectionBounds(lines, header)
	if !ok {
		return nil, nil
	}

	var blocks []string
	var current []string
	inBlock := false
	for _, line := range lines[start:end] {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && (trimmed == "```json" || trimmed == "```"):
			if trimmed == "```json" {
				inBlock = true
				current = nil
			}
		case inBlock && trimmed == "```":
			inBlock = false
			blocks = append(blocks, strings.Join(current, "\n"))
		case inBlock:
			current = append(current, line)
		}
	}
	if inBlock {
		return nil, fmt.Errorf("%s: unterminated json block", header)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%s: no json block found", header)
	}
	if len(blocks) > 1 {
		return nil, fmt.Errorf("%s: expected one json block, found %d", header, len(blocks))
	}

	raw := json.RawMessage(strings.TrimSpace(blocks[0]))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s: malformed json block", header)
	}
	return raw, nil
}

// Result is the outcome of validating a value against a schema.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validate checks value against schemaJSON. The returned error marks an
// unusable schema; value violations come back inside the Result.
func Validate(value interface{}, schemaJSON []byte) (*Result, error) {
	schema, err := compileSchema(schemaJSON)
	if err != nil {
		return nil, err
	}

	normalized, _, err := normalizeJSON(value)
	if err != nil {
		return nil, fmt.Errorf("output is not JSON-serializable: %w", err)
	}

	if err := schema.Validate(normalized); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &Result{Valid: false, Errors: flattenCauses(ve)}, nil
		}
		return &Result{Valid: false, Errors: []string{err.Error()}}, nil
	}
	return &Result{Valid: true}, nil
}

func compileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("invalid output schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid output schema: %w", err)
	}
	return schema, nil
}

// flattenCauses collects leaf violation messages with their instance paths.
func flattenCauses(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "$"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}

// ValidateSize reports the serialized byte size of value and fails when it
// exceeds MaxOutputBytes.
func ValidateSize(value interface{}) (int, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("output is not JSON-serializable: %w", err)
	}
	if len(data) > MaxOutputBytes {
		return len(data), fmt.Errorf("output size %d bytes exceeds maximum %d bytes", len(data), MaxOutputBytes)
	}
	return len(data), nil
}

// normalizeJSON round-trips value through encoding/json so validation sees
// plain maps/slices/float64 regardless of the caller's concrete types.
func normalizeJSON(value interface{}) (interface{}, int, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, 0, err
	}
	var normalized interface{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, 0, err
	}
	return normalized, len(data), nil
}

// RenderSchemaSection serializes a schema into its canonical section form.
// Rendering the extraction of a rendered section is byte-identical.
func RenderSchemaSection(schemaJSON []byte) (string, error) {
	canonical, err := canonicalJSON(schemaJSON)
	if err != nil {
		return "", fmt.Errorf("invalid output schema: %w", err)
	}
	return SectionOutputSchema + "\n\n```json\n" + canonical + "\n```", nil
}

// canonicalJSON reformats raw JSON with two-space indentation.
func canonicalJSON(raw []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
