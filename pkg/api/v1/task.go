package v1

import "time"

// TaskStatus is the folder segment a task file lives under. The folder is
// the authoritative state; there is no separate status field on disk.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// TaskStatuses lists every valid status folder in board order.
var TaskStatuses = []TaskStatus{TaskStatusOpen, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked}

// Valid reports whether s is one of the four status folders.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked:
		return true
	}
	return false
}

// Task is the parsed view of a task markdown artifact. The file itself is
// authoritative; this struct is derived on read and never persisted.
type Task struct {
	FilePath              string     `json:"filePath"`
	Status                TaskStatus `json:"status"`
	Title                 string     `json:"title"`
	TargetRole            string     `json:"targetRole,omitempty"`
	EstimatedDelayMinutes int        `json:"estimatedDelayMinutes,omitempty"`
	HasOutputSchema       bool       `json:"hasOutputSchema"`
	RetryInfo             *RetryInfo `json:"retryInfo,omitempty"`
}

// RetryInfo tracks output-validation attempts for a task that carries an
// output schema. Timestamps are kept as the literal strings written into
// the markdown so render/extract round-trips are bit-stable.
type RetryInfo struct {
	RetryCount    int      `json:"retryCount"`
	MaxRetries    int      `json:"maxRetries"`
	LastErrors    []string `json:"lastErrors"`
	LastAttemptAt string   `json:"lastAttemptAt"`
}

// TaskOutput is the sibling <task>.output.json written atomically when a
// schema-bearing task completes.
type TaskOutput struct {
	Output      interface{} `json:"output"`
	ProducedAt  string      `json:"producedAt"`
	SessionName string      `json:"sessionName"`
}

// InProgressTaskEntry is one record of the tracking index
// (in_progress_tasks.json). Created on assignment, deleted on a terminal
// transition or abandonment recovery.
type InProgressTaskEntry struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"projectId"`
	TeamID           string    `json:"teamId"`
	TaskFilePath     string    `json:"taskFilePath"`
	TaskTitle        string    `json:"taskTitle"`
	TargetRole       string    `json:"targetRole"`
	AssigneeMemberID string    `json:"assigneeMemberId"`
	SessionName      string    `json:"sessionName"`
	AssignedAt       time.Time `json:"assignedAt"`
	LastHeartbeatAt  time.Time `json:"lastHeartbeatAt"`
}

// TaskStatusCounts aggregates a milestone's board state.
type TaskStatusCounts struct {
	Open       int `json:"open"`
	InProgress int `json:"inProgress"`
	Done       int `json:"done"`
	Blocked    int `json:"blocked"`
	Total      int `json:"total"`
}

// Progress returns completion as a whole percentage of all tasks.
func (c TaskStatusCounts) Progress() int {
	if c.Total == 0 {
		return 0
	}
	return c.Done * 100 / c.Total
}
