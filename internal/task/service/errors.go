package service

import (
	"errors"
	"fmt"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

var (
	// ErrTaskNotFound marks a task path with no file in any status folder.
	ErrTaskNotFound = errors.New("task file not found")

	// ErrProjectNotFound marks a task path outside every registered project.
	ErrProjectNotFound = errors.New("project not registered")

	// ErrMemberNotFound marks a session name with no registered team member.
	ErrMemberNotFound = errors.New("no team member registered for session")

	// ErrOutputMissing marks a completion of a schema-bearing task without
	// structured output.
	ErrOutputMissing = errors.New("task requires structured output but none was provided")

	// ErrOutputNotFound marks a read of an output sibling that was never
	// written, usually a task completed without a schema.
	ErrOutputNotFound = errors.New("task output file not found")
)

// ValidationError is a malformed-input error surfaced at the boundary and
// never retried by the engine.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictStateError reports a task sitting in the wrong folder for the
// requested transition, with enough context for the agent to self-correct.
type ConflictStateError struct {
	CurrentFolder v1.TaskStatus
	Wanted        v1.TaskStatus
	Remedy        string
}

func (e *ConflictStateError) Error() string {
	return fmt.Sprintf("task is in %q, expected %q: %s", e.CurrentFolder, e.Wanted, e.Remedy)
}

// IsConflictState extracts a ConflictStateError when err carries one.
func IsConflictState(err error) (*ConflictStateError, bool) {
	var conflict *ConflictStateError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// IsValidation extracts a ValidationError when err carries one.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
