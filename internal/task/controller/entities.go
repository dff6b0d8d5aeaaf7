package controller

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/dto"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// classifyStore maps raw store errors: save-time validation is bad input,
// a missing entity a 404.
func classifyStore(err error) (int, string) {
	var ve *store.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, upperFirst(ve.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, upperFirst(err.Error())
	}
	return http.StatusInternalServerError, upperFirst(err.Error())
}

// CreateProject registers a project directory. Name defaults to the last
// path element.
func (c *Controller) CreateProject(ctx context.Context, p v1.Project) (dto.ProjectResponse, int) {
	if p.Path == "" {
		return dto.ProjectResponse{Envelope: dto.Envelope{Error: "path is required"}}, http.StatusBadRequest
	}
	if p.Name == "" {
		p.Name = filepath.Base(p.Path)
	}
	created, err := c.store.CreateProject(ctx, p)
	if err != nil {
		status, errText := classifyStore(err)
		return dto.ProjectResponse{Envelope: dto.Envelope{Error: errText}}, status
	}
	c.publishEntity(ctx, events.ProjectUpdated, events.ProjectUpdated, map[string]interface{}{
		"projectId": created.ID,
		"action":    "created",
	})
	return dto.ProjectResponse{Envelope: dto.OK(), Project: created}, http.StatusOK
}

func (c *Controller) GetProject(ctx context.Context, id string) (dto.ProjectResponse, int) {
	project, err := c.store.GetProject(ctx, id)
	if err != nil {
		status, errText := classifyStore(err)
		return dto.ProjectResponse{Envelope: dto.Envelope{Error: errText}}, status
	}
	return dto.ProjectResponse{Envelope: dto.OK(), Project: project}, http.StatusOK
}

func (c *Controller) ListProjects(ctx context.Context) (dto.ProjectsResponse, int) {
	projects, err := c.store.ListProjects(ctx)
	if err != nil {
		status, errText := classifyStore(err)
		return dto.ProjectsResponse{Envelope: dto.Envelope{Error: errText}, Projects: []v1.Project{}}, status
	}
	if projects == nil {
		projects = []v1.Project{}
	}
	return dto.ProjectsResponse{Envelope: dto.OK(), Projects: projects, Total: len(projects)}, http.StatusOK
}

func (c *Controller) UpdateProject(ctx context.Context, p v1.Project) (dto.ProjectResponse, int) {
	if p.ID == "" {
		return dto.ProjectResponse{Envelope: dto.Envelope{Error: "id is required"}}, http.StatusBadRequest
	}
	if err := c.store.UpdateProject(ctx, p); err != nil {
		status, errText := classifyStore(err)
		return dto.ProjectResponse{Envelope: dto.Envelope{Error: errText}}, status
	}
	c.publishEntity(ctx, events.ProjectUpdated, events.ProjectUpdated, map[string]interface{}{
		"projectId": p.ID,
		"action":    "updated",
	})
	return c.GetProject(ctx, p.ID)
}

func (c *Controller) DeleteProject(ctx context.Context, id string) (dto.Envelope, int) {
	if id == "" {
		return dto.Envelope{Error: "id is required"}, http.StatusBadRequest
	}
	if err := c.store.DeleteProject(ctx, id); err != nil {
		status, errText := classifyStore(err)
		return dto.Envelope{Error: errText}, status
	}
	c.publishEntity(ctx, events.ProjectUpdated, events.ProjectUpdated, map[string]interface{}{
		"projectId": id,
		"action":    "deleted",
	})
	return dto.OK(), http.StatusOK
}

// CreateTeam registers a team. The store enforces the orchestrator seat
// and fills member defaults.
func (c *Controller) CreateTeam(ctx context.Context, t v1.Team) (dto.TeamResponse, int) {
	if t.Name == "" {
		return dto.TeamResponse{Envelope: dto.Envelope{Error: "name is required"}}, http.StatusBadRequest
	}
	created, err := c.store.CreateTeam(ctx, t)
	if err != nil {
		status, errText := classifyStore(err)
		return dto.TeamResponse{Envelope: dto.Envelope{Error: errText}}, status
	}
	c.publishEntity(ctx, events.TeamUpdated, events.TeamUpdated, map[string]interface{}{
		"teamId": created.ID,
		"action": "created",
	})
	for _, m := range created.Members {
		c.publishEntity(ctx, events.MemberRegistered,
			events.BuildSessionSubject(events.MemberRegistered, m.SessionName),
			map[string]interface{}{
				"session": m.SessionName,
				"teamId":  created.ID,
				"role":    m.Role,
			})
	}
	return dto.TeamResponse{Envelope: dto.OK(), Team: created}, http.StatusOK
}

func (c *Controller) GetTeam(ctx context.Context, id string) (dto.TeamResponse, int) {
	team, err := c.store.GetTeam(ctx, id)
	if err != nil {
		status, errText := classifyStore(err)
		return dto.TeamResponse{Envelope: dto.Envelope{Error: errText}}, status
	}
	return dto.TeamResponse{Envelope: dto.OK(), Team: team}, http.StatusOK
}

func (c *Controller) ListTeams(ctx context.Context) (dto.TeamsResponse, int) {
	teams, err := c.store.ListTeams(ctx)
	if err != nil {
		status, errText := classifyStore(err)
		return dto.TeamsResponse{Envelope: dto.Envelope{Error: errText}, Teams: []v1.Team{}}, status
	}
	if teams == nil {
		teams = []v1.Team{}
	}
	return dto.TeamsResponse{Envelope: dto.OK(), Teams: teams, Total: len(teams)}, http.StatusOK
}

func (c *Controller) UpdateTeam(ctx context.Context, t v1.Team) (dto.TeamResponse, int) {
	if t.ID == "" {
		return dto.TeamResponse{Envelope: dto.Envelope{Error: "id is required"}}, http.StatusBadRequest
	}
	if err := c.store.UpdateTeam(ctx, t); err != nil {
		status, errText := classifyStore(err)
		return dto.TeamResponse{Envelope: dto.Envelope{Error: errText}}, status
	}
	c.publishEntity(ctx, events.TeamUpdated, events.TeamUpdated, map[string]interface{}{
		"teamId": t.ID,
		"action": "updated",
	})
	return c.GetTeam(ctx, t.ID)
}

func (c *Controller) DeleteTeam(ctx context.Context, id string) (dto.Envelope, int) {
	if id == "" {
		return dto.Envelope{Error: "id is required"}, http.StatusBadRequest
	}
	if err := c.store.DeleteTeam(ctx, id); err != nil {
		status, errText := classifyStore(err)
		return dto.Envelope{Error: errText}, status
	}
	c.publishEntity(ctx, events.TeamUpdated, events.TeamUpdated, map[string]interface{}{
		"teamId": id,
		"action": "deleted",
	})
	return dto.OK(), http.StatusOK
}
