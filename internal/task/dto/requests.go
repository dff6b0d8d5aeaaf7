// Package dto defines the wire shapes of the daemon API. Every response
// carries the success/error/suggestion envelope so an agent reading the
// reply as plain text still knows whether to retry, fix its input, or ask
// for help.
package dto

import (
	"encoding/json"
)

// AssignTaskRequest is the payload for task.assign.
type AssignTaskRequest struct {
	TaskPath    string `json:"taskPath"`
	SessionName string `json:"sessionName"`
}

// CompleteTaskRequest is the payload for task.complete. Output stays raw
// until the controller hands it to the engine; absent and null mean the
// same thing.
type CompleteTaskRequest struct {
	TaskPath    string          `json:"taskPath"`
	SessionName string          `json:"sessionName"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// BlockTaskRequest is the payload for task.block.
type BlockTaskRequest struct {
	TaskPath    string `json:"taskPath"`
	BlockReason string `json:"blockReason,omitempty"`
}

// UnblockTaskRequest is the payload for task.unblock.
type UnblockTaskRequest struct {
	TaskPath    string `json:"taskPath"`
	UnblockNote string `json:"unblockNote,omitempty"`
}

// TakeNextTaskRequest is the payload for task.next.
type TakeNextTaskRequest struct {
	ProjectPath string `json:"projectPath"`
	TaskGroup   string `json:"taskGroup,omitempty"`
}

// ListTasksRequest is the payload for task.list. Status filters by board
// folder when set.
type ListTasksRequest struct {
	ProjectPath string `json:"projectPath"`
	TaskGroup   string `json:"taskGroup,omitempty"`
	Status      string `json:"status,omitempty"`
}

// CreateTaskRequest is the payload for task.create.
type CreateTaskRequest struct {
	ProjectPath           string          `json:"projectPath"`
	Task                  string          `json:"task"`
	Description           string          `json:"description,omitempty"`
	TargetRole            string          `json:"targetRole,omitempty"`
	EstimatedDelayMinutes int             `json:"estimatedDelayMinutes,omitempty"`
	Priority              int             `json:"priority,omitempty"`
	SessionName           string          `json:"sessionName,omitempty"`
	Milestone             string          `json:"milestone,omitempty"`
	OutputSchema          json.RawMessage `json:"outputSchema,omitempty"`
}

// TaskOutputRequest is the payload for task.output.
type TaskOutputRequest struct {
	TaskPath string `json:"taskPath"`
}

// BoardStatusRequest is the payload for board.status.
type BoardStatusRequest struct {
	ProjectPath string `json:"projectPath"`
	TaskGroup   string `json:"taskGroup,omitempty"`
}

// TeamProgressRequest is the payload for board.progress.
type TeamProgressRequest struct {
	ProjectPath string `json:"projectPath"`
}

// HeartbeatRequest is the payload for member.heartbeat.
type HeartbeatRequest struct {
	SessionName string `json:"sessionName"`
}
