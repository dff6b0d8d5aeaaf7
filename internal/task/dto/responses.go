package dto

import (
	"github.com/stevehuang0115/agentmux-sub002/internal/task/service"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Envelope is embedded in every response. Suggestion tells the agent what
// to do next when Success is false but the request itself was well formed.
type Envelope struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// OK is the bare success envelope.
func OK() Envelope { return Envelope{Success: true} }

// AssignTaskResponse is the reply to task.assign.
type AssignTaskResponse struct {
	Envelope
	Task          *v1.Task      `json:"task,omitempty"`
	TrackingID    string        `json:"trackingId,omitempty"`
	CurrentFolder v1.TaskStatus `json:"currentFolder,omitempty"`
}

// CompleteTaskResponse is the reply to task.complete. Status reports where
// the attempt left the task; retry fields are present while the output is
// failing schema validation.
type CompleteTaskResponse struct {
	Envelope
	Status             v1.TaskStatus `json:"status,omitempty"`
	Task               *v1.Task      `json:"task,omitempty"`
	OutputFile         string        `json:"outputFile,omitempty"`
	RetryCount         int           `json:"retryCount,omitempty"`
	MaxRetries         int           `json:"maxRetries,omitempty"`
	ValidationErrors   []string      `json:"validationErrors,omitempty"`
	MaxRetriesExceeded bool          `json:"maxRetriesExceeded,omitempty"`
	CurrentFolder      v1.TaskStatus `json:"currentFolder,omitempty"`
}

// TaskResponse is the reply to task.block, task.unblock, task.create and
// task.next. Task is nil on task.next when the board has no open work.
type TaskResponse struct {
	Envelope
	Task          *v1.Task      `json:"task,omitempty"`
	CurrentFolder v1.TaskStatus `json:"currentFolder,omitempty"`
}

// ListTasksResponse is the reply to task.list.
type ListTasksResponse struct {
	Envelope
	Tasks []v1.Task `json:"tasks"`
	Total int       `json:"total"`
}

// TaskOutputResponse is the reply to task.output.
type TaskOutputResponse struct {
	Envelope
	Output *v1.TaskOutput `json:"output,omitempty"`
}

// BoardStatusResponse is the reply to board.status.
type BoardStatusResponse struct {
	Envelope
	Board *service.BoardStatus `json:"board,omitempty"`
}

// TeamProgressResponse is the reply to board.progress.
type TeamProgressResponse struct {
	Envelope
	Progress *service.TeamProgress `json:"progress,omitempty"`
}

// RecoveryResponse is the reply to recovery.run.
type RecoveryResponse struct {
	Envelope
	Recovered int      `json:"recovered"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// ProjectResponse is the reply to project.create, project.get and
// project.update.
type ProjectResponse struct {
	Envelope
	Project *v1.Project `json:"project,omitempty"`
}

// ProjectsResponse is the reply to project.list.
type ProjectsResponse struct {
	Envelope
	Projects []v1.Project `json:"projects"`
	Total    int          `json:"total"`
}

// TeamResponse is the reply to team.create, team.get and team.update.
type TeamResponse struct {
	Envelope
	Team *v1.Team `json:"team,omitempty"`
}

// TeamsResponse is the reply to team.list.
type TeamsResponse struct {
	Envelope
	Teams []v1.Team `json:"teams"`
	Total int       `json:"total"`
}
