package v1

import "time"

// RuntimeType identifies the interactive CLI flavor driving a session.
type RuntimeType string

const (
	RuntimeClaudeCode RuntimeType = "claude-code"
	RuntimeGeminiCLI  RuntimeType = "gemini-cli"
	RuntimeCodexCLI   RuntimeType = "codex-cli"
)

// DefaultRuntime is assumed when a member carries no explicit runtime.
const DefaultRuntime = RuntimeClaudeCode

// Valid reports whether r names a supported runtime.
func (r RuntimeType) Valid() bool {
	switch r {
	case RuntimeClaudeCode, RuntimeGeminiCLI, RuntimeCodexCLI:
		return true
	}
	return false
}

// Member roles. Every team must keep at least one orchestrator.
const (
	RoleOrchestrator = "orchestrator"
	RoleDeveloper    = "developer"
	RoleQA           = "qa"
)

// AgentStatus is the registration state of a member's session.
type AgentStatus string

const (
	AgentStatusInactive   AgentStatus = "inactive"
	AgentStatusActivating AgentStatus = "activating"
	AgentStatusActive     AgentStatus = "active"
)

// WorkingStatus is the coarse activity signal used by adaptive check-ins.
type WorkingStatus string

const (
	WorkingStatusIdle       WorkingStatus = "idle"
	WorkingStatusInProgress WorkingStatus = "in_progress"
)

// Project is a coordinated codebase. Path points at the directory that
// contains the .crewly marker.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	TeamIDs   []string  `json:"teamIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Project statuses.
const (
	ProjectStatusActive    = "active"
	ProjectStatusPaused    = "paused"
	ProjectStatusCompleted = "completed"
)

// TeamMember is one agent seat on a team, bound to a named session.
type TeamMember struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Role            string        `json:"role"`
	SessionName     string        `json:"sessionName"`
	RuntimeType     RuntimeType   `json:"runtimeType,omitempty"`
	AgentStatus     AgentStatus   `json:"agentStatus"`
	WorkingStatus   WorkingStatus `json:"workingStatus"`
	LastHeartbeatAt *time.Time    `json:"lastHeartbeatAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Team groups members working one project at a time.
type Team struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Members        []TeamMember `json:"members"`
	CurrentProject string       `json:"currentProject,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Assignment links a team to a project.
type Assignment struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	TeamID     string    `json:"teamId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Settings holds daemon-wide knobs persisted with the data document.
type Settings struct {
	OrchestratorSessionName string      `json:"orchestratorSessionName"`
	OrchestratorRuntime     RuntimeType `json:"orchestratorRuntime,omitempty"`
	DefaultMaxRetries       int         `json:"defaultMaxRetries,omitempty"`
}

// OrchestratorTarget is the reserved target name that resolves to the
// orchestrator session from Settings.
const OrchestratorTarget = "orchestrator"

// SessionDescriptor is the read-only view of a live session held by the
// core. The session backend owns the process resources.
type SessionDescriptor struct {
	SessionName     string      `json:"sessionName"`
	RuntimeType     RuntimeType `json:"runtimeType"`
	LastHeartbeatAt *time.Time  `json:"lastHeartbeatAt,omitempty"`
}
