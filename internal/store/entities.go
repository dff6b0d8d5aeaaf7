package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// CreateProject persists a new project, assigning an id when absent.
func (s *Store) CreateProject(ctx context.Context, p v1.Project) (*v1.Project, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Status == "" {
		p.Status = v1.ProjectStatusActive
	}
	err := s.Update(ctx, func(d *v1.Data) error {
		d.Projects = append(d.Projects, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(ctx context.Context, id string) (*v1.Project, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range data.Projects {
		if data.Projects[i].ID == id {
			return &data.Projects[i], nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
}

// FindProjectByPath returns the project whose path matches exactly.
func (s *Store) FindProjectByPath(ctx context.Context, path string) (*v1.Project, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range data.Projects {
		if data.Projects[i].Path == path {
			return &data.Projects[i], nil
		}
	}
	return nil, fmt.Errorf("project at %s: %w", path, ErrNotFound)
}

// ListProjects returns all projects.
func (s *Store) ListProjects(ctx context.Context) ([]v1.Project, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return data.Projects, nil
}

// UpdateProject replaces the stored project with the same id.
func (s *Store) UpdateProject(ctx context.Context, p v1.Project) error {
	p.UpdatedAt = time.Now().UTC()
	return s.Update(ctx, func(d *v1.Data) error {
		for i := range d.Projects {
			if d.Projects[i].ID == p.ID {
				p.CreatedAt = d.Projects[i].CreatedAt
				d.Projects[i] = p
				return nil
			}
		}
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	})
}

// DeleteProject removes a project and its assignments. Scheduled messages
// that reference it are left in place; the scheduler deactivates them as
// orphans at fire time.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.Update(ctx, func(d *v1.Data) error {
		idx := -1
		for i := range d.Projects {
			if d.Projects[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		d.Projects = append(d.Projects[:idx], d.Projects[idx+1:]...)

		kept := d.Assignments[:0]
		for _, a := range d.Assignments {
			if a.ProjectID != id {
				kept = append(kept, a)
			}
		}
		d.Assignments = kept

		for i := range d.Teams {
			if d.Teams[i].CurrentProject == id {
				d.Teams[i].CurrentProject = ""
			}
		}
		return nil
	})
}

// CreateTeam persists a new team, assigning ids where absent.
func (s *Store) CreateTeam(ctx context.Context, t v1.Team) (*v1.Team, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	for i := range t.Members {
		if t.Members[i].ID == "" {
			t.Members[i].ID = uuid.New().String()
		}
		if t.Members[i].AgentStatus == "" {
			t.Members[i].AgentStatus = v1.AgentStatusInactive
		}
		if t.Members[i].WorkingStatus == "" {
			t.Members[i].WorkingStatus = v1.WorkingStatusIdle
		}
		t.Members[i].CreatedAt, t.Members[i].UpdatedAt = now, now
	}
	err := s.Update(ctx, func(d *v1.Data) error {
		d.Teams = append(d.Teams, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTeam returns the team with the given id.
func (s *Store) GetTeam(ctx context.Context, id string) (*v1.Team, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range data.Teams {
		if data.Teams[i].ID == id {
			return &data.Teams[i], nil
		}
	}
	return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
}

// ListTeams returns all teams.
func (s *Store) ListTeams(ctx context.Context) ([]v1.Team, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return data.Teams, nil
}

// UpdateTeam replaces the stored team with the same id.
func (s *Store) UpdateTeam(ctx context.Context, t v1.Team) error {
	t.UpdatedAt = time.Now().UTC()
	return s.Update(ctx, func(d *v1.Data) error {
		for i := range d.Teams {
			if d.Teams[i].ID == t.ID {
				t.CreatedAt = d.Teams[i].CreatedAt
				d.Teams[i] = t
				return nil
			}
		}
		return fmt.Errorf("team %s: %w", t.ID, ErrNotFound)
	})
}

// DeleteTeam removes a team and its assignments.
func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	return s.Update(ctx, func(d *v1.Data) error {
		idx := -1
		for i := range d.Teams {
			if d.Teams[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("team %s: %w", id, ErrNotFound)
		}
		d.Teams = append(d.Teams[:idx], d.Teams[idx+1:]...)

		kept := d.Assignments[:0]
		for _, a := range d.Assignments {
			if a.TeamID != id {
				kept = append(kept, a)
			}
		}
		d.Assignments = kept
		return nil
	})
}

// CreateAssignment links a team to a project.
func (s *Store) CreateAssignment(ctx context.Context, projectID, teamID string) (*v1.Assignment, error) {
	a := v1.Assignment{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		TeamID:     teamID,
		AssignedAt: time.Now().UTC(),
	}
	err := s.Update(ctx, func(d *v1.Data) error {
		d.Assignments = append(d.Assignments, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAssignment removes an assignment by id.
func (s *Store) DeleteAssignment(ctx context.Context, id string) error {
	return s.Update(ctx, func(d *v1.Data) error {
		for i := range d.Assignments {
			if d.Assignments[i].ID == id {
				d.Assignments = append(d.Assignments[:i], d.Assignments[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	})
}

// FindMemberBySessionName locates the team and member bound to a session.
func (s *Store) FindMemberBySessionName(ctx context.Context, sessionName string) (*v1.Team, *v1.TeamMember, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := range data.Teams {
		for j := range data.Teams[i].Members {
			if data.Teams[i].Members[j].SessionName == sessionName {
				return &data.Teams[i], &data.Teams[i].Members[j], nil
			}
		}
	}
	return nil, nil, fmt.Errorf("member with session %s: %w", sessionName, ErrNotFound)
}

// TouchMemberHeartbeat refreshes the member heartbeat bound to sessionName.
// Unknown sessions are ignored: tool calls may arrive from the orchestrator
// session, which is not a team member.
func (s *Store) TouchMemberHeartbeat(ctx context.Context, sessionName string, at time.Time) error {
	return s.Update(ctx, func(d *v1.Data) error {
		for i := range d.Teams {
			for j := range d.Teams[i].Members {
				if d.Teams[i].Members[j].SessionName == sessionName {
					t := at
					d.Teams[i].Members[j].LastHeartbeatAt = &t
					d.Teams[i].Members[j].UpdatedAt = at
					return nil
				}
			}
		}
		return nil
	})
}

// UpsertScheduledMessage inserts or replaces a scheduled message.
func (s *Store) UpsertScheduledMessage(ctx context.Context, m v1.ScheduledMessage) (*v1.ScheduledMessage, error) {
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.New().String()
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	err := s.Update(ctx, func(d *v1.Data) error {
		for i := range d.ScheduledMessages {
			if d.ScheduledMessages[i].ID == m.ID {
				if m.CreatedAt.IsZero() {
					m.CreatedAt = d.ScheduledMessages[i].CreatedAt
				}
				d.ScheduledMessages[i] = m
				return nil
			}
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		d.ScheduledMessages = append(d.ScheduledMessages, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetScheduledMessage returns the message with the given id.
func (s *Store) GetScheduledMessage(ctx context.Context, id string) (*v1.ScheduledMessage, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range data.ScheduledMessages {
		if data.ScheduledMessages[i].ID == id {
			return &data.ScheduledMessages[i], nil
		}
	}
	return nil, fmt.Errorf("scheduled message %s: %w", id, ErrNotFound)
}

// ListScheduledMessages returns all persisted messages, active or not.
func (s *Store) ListScheduledMessages(ctx context.Context) ([]v1.ScheduledMessage, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return data.ScheduledMessages, nil
}

// DeleteScheduledMessage removes a message record entirely.
func (s *Store) DeleteScheduledMessage(ctx context.Context, id string) error {
	return s.Update(ctx, func(d *v1.Data) error {
		for i := range d.ScheduledMessages {
			if d.ScheduledMessages[i].ID == id {
				d.ScheduledMessages = append(d.ScheduledMessages[:i], d.ScheduledMessages[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("scheduled message %s: %w", id, ErrNotFound)
	})
}

// GetSettings returns the settings document.
func (s *Store) GetSettings(ctx context.Context) (v1.Settings, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return v1.Settings{}, err
	}
	return data.Settings, nil
}

// UpdateSettings replaces the settings document.
func (s *Store) UpdateSettings(ctx context.Context, settings v1.Settings) error {
	return s.Update(ctx, func(d *v1.Data) error {
		d.Settings = settings
		return nil
	})
}
