package store

import (
	"fmt"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// validateData enforces the save-time invariants: every team keeps at least
// one orchestrator, every enum field holds a permitted variant, and every
// structural reference resolves. The first offending path aborts the save.
//
// Scheduled message project references are deliberately NOT enforced here:
// a message may outlive its project, and the scheduler resolves that as an
// orphan at fire time.
func validateData(d *v1.Data) error {
	projectIDs := make(map[string]bool, len(d.Projects))
	for i, p := range d.Projects {
		field := fmt.Sprintf("projects[%d]", i)
		if p.ID == "" {
			return &ValidationError{Field: field + ".id", Message: "must not be empty"}
		}
		if projectIDs[p.ID] {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate project id %q", p.ID)}
		}
		projectIDs[p.ID] = true
		switch p.Status {
		case v1.ProjectStatusActive, v1.ProjectStatusPaused, v1.ProjectStatusCompleted:
		default:
			return &ValidationError{Field: field + ".status", Message: fmt.Sprintf("unknown status %q", p.Status)}
		}
	}

	teamIDs := make(map[string]bool, len(d.Teams))
	for i, t := range d.Teams {
		field := fmt.Sprintf("teams[%d]", i)
		if t.ID == "" {
			return &ValidationError{Field: field + ".id", Message: "must not be empty"}
		}
		if teamIDs[t.ID] {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate team id %q", t.ID)}
		}
		teamIDs[t.ID] = true

		hasOrchestrator := false
		for j, m := range t.Members {
			mfield := fmt.Sprintf("%s.members[%d]", field, j)
			if m.ID == "" {
				return &ValidationError{Field: mfield + ".id", Message: "must not be empty"}
			}
			if m.Role == v1.RoleOrchestrator {
				hasOrchestrator = true
			}
			switch m.AgentStatus {
			case v1.AgentStatusInactive, v1.AgentStatusActivating, v1.AgentStatusActive:
			default:
				return &ValidationError{Field: mfield + ".agentStatus", Message: fmt.Sprintf("unknown status %q", m.AgentStatus)}
			}
			switch m.WorkingStatus {
			case v1.WorkingStatusIdle, v1.WorkingStatusInProgress:
			default:
				return &ValidationError{Field: mfield + ".workingStatus", Message: fmt.Sprintf("unknown status %q", m.WorkingStatus)}
			}
			if m.RuntimeType != "" && !m.RuntimeType.Valid() {
				return &ValidationError{Field: mfield + ".runtimeType", Message: fmt.Sprintf("unknown runtime %q", m.RuntimeType)}
			}
		}
		if !hasOrchestrator {
			return &ValidationError{Field: field + ".members", Message: "team must have at least one orchestrator"}
		}

		if t.CurrentProject != "" && !projectIDs[t.CurrentProject] {
			return &ValidationError{Field: field + ".currentProject", Message: fmt.Sprintf("unknown project id %q", t.CurrentProject)}
		}
	}

	for i, a := range d.Assignments {
		field := fmt.Sprintf("assignments[%d]", i)
		if !projectIDs[a.ProjectID] {
			return &ValidationError{Field: field + ".projectId", Message: fmt.Sprintf("unknown project id %q", a.ProjectID)}
		}
		if !teamIDs[a.TeamID] {
			return &ValidationError{Field: field + ".teamId", Message: fmt.Sprintf("unknown team id %q", a.TeamID)}
		}
	}

	messageIDs := make(map[string]bool, len(d.ScheduledMessages))
	for i, m := range d.ScheduledMessages {
		field := fmt.Sprintf("scheduledMessages[%d]", i)
		if m.ID == "" {
			return &ValidationError{Field: field + ".id", Message: "must not be empty"}
		}
		if messageIDs[m.ID] {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate message id %q", m.ID)}
		}
		messageIDs[m.ID] = true
		if !m.DelayUnit.Valid() {
			return &ValidationError{Field: field + ".delayUnit", Message: fmt.Sprintf("unknown unit %q", m.DelayUnit)}
		}
		if m.DelayAmount <= 0 {
			return &ValidationError{Field: field + ".delayAmount", Message: "must be positive"}
		}
		if m.TargetTeam == "" {
			return &ValidationError{Field: field + ".targetTeam", Message: "must not be empty"}
		}
	}

	if rt := d.Settings.OrchestratorRuntime; rt != "" && !rt.Valid() {
		return &ValidationError{Field: "settings.orchestratorRuntime", Message: fmt.Sprintf("unknown runtime %q", rt)}
	}

	return nil
}
