package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stevehuang0115/agentmux-sub002/internal/task/dto"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/service"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// AssignTask moves an open task to in_progress for the requesting session.
func (c *Controller) AssignTask(ctx context.Context, req dto.AssignTaskRequest) (dto.AssignTaskResponse, int) {
	res, err := c.engine.AssignTask(ctx, req.TaskPath, req.SessionName)
	if err != nil {
		status, env, folder := classify(err)
		return dto.AssignTaskResponse{Envelope: env, CurrentFolder: folder}, status
	}
	return dto.AssignTaskResponse{Envelope: dto.OK(), Task: &res.Task, TrackingID: res.TrackingID}, http.StatusOK
}

// CompleteTask attempts a done transition. A schema mismatch is not a
// transport failure: the reply reports where the task ended up and what to
// fix, and the call may simply be repeated.
func (c *Controller) CompleteTask(ctx context.Context, req dto.CompleteTaskRequest) (dto.CompleteTaskResponse, int) {
	var output interface{}
	if raw := bytes.TrimSpace(req.Output); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &output); err != nil {
			env := dto.Envelope{Error: "Output is not valid JSON: " + err.Error()}
			return dto.CompleteTaskResponse{Envelope: env}, http.StatusBadRequest
		}
	}

	res, err := c.engine.CompleteTask(ctx, req.TaskPath, req.SessionName, output)
	if err != nil {
		status, env, folder := classify(err)
		return dto.CompleteTaskResponse{Envelope: env, CurrentFolder: folder}, status
	}

	resp := dto.CompleteTaskResponse{
		Status:             res.Status,
		Task:               &res.Task,
		OutputFile:         res.OutputFile,
		RetryCount:         res.RetryCount,
		MaxRetries:         res.MaxRetries,
		ValidationErrors:   res.ValidationErrors,
		MaxRetriesExceeded: res.MaxRetriesExceeded,
	}
	switch res.Status {
	case v1.TaskStatusDone:
		resp.Envelope = dto.OK()
	case v1.TaskStatusBlocked:
		resp.Error = "Output failed schema validation and no retries remain"
		resp.Suggestion = "the task is blocked for review; take the next open task"
	default:
		resp.Error = "Output failed schema validation"
		resp.Suggestion = fmt.Sprintf("fix the reported fields and call completeTask again (attempt %d of %d)", res.RetryCount, res.MaxRetries)
	}
	return resp, http.StatusOK
}

// BlockTask moves a task to blocked with an optional reason.
func (c *Controller) BlockTask(ctx context.Context, req dto.BlockTaskRequest) (dto.TaskResponse, int) {
	task, err := c.engine.BlockTask(ctx, req.TaskPath, req.BlockReason)
	if err != nil {
		status, env, folder := classify(err)
		return dto.TaskResponse{Envelope: env, CurrentFolder: folder}, status
	}
	return dto.TaskResponse{Envelope: dto.OK(), Task: task}, http.StatusOK
}

// UnblockTask moves a blocked task back to open.
func (c *Controller) UnblockTask(ctx context.Context, req dto.UnblockTaskRequest) (dto.TaskResponse, int) {
	task, err := c.engine.UnblockTask(ctx, req.TaskPath, req.UnblockNote)
	if err != nil {
		status, env, folder := classify(err)
		return dto.TaskResponse{Envelope: env, CurrentFolder: folder}, status
	}
	return dto.TaskResponse{Envelope: dto.OK(), Task: task}, http.StatusOK
}

// TakeNextTask returns the first open task of the project. An empty board
// is a success with no task.
func (c *Controller) TakeNextTask(ctx context.Context, req dto.TakeNextTaskRequest) (dto.TaskResponse, int) {
	task, err := c.engine.TakeNextTask(ctx, req.ProjectPath, req.TaskGroup)
	if err != nil {
		status, env, folder := classify(err)
		return dto.TaskResponse{Envelope: env, CurrentFolder: folder}, status
	}
	return dto.TaskResponse{Envelope: dto.OK(), Task: task}, http.StatusOK
}

// ListTasks lists board files, optionally narrowed by group and folder.
func (c *Controller) ListTasks(ctx context.Context, req dto.ListTasksRequest) (dto.ListTasksResponse, int) {
	tasks, err := c.engine.ListTasks(ctx, req.ProjectPath, req.TaskGroup, v1.TaskStatus(req.Status))
	if err != nil {
		status, env, _ := classify(err)
		return dto.ListTasksResponse{Envelope: env, Tasks: []v1.Task{}}, status
	}
	if tasks == nil {
		tasks = []v1.Task{}
	}
	return dto.ListTasksResponse{Envelope: dto.OK(), Tasks: tasks, Total: len(tasks)}, http.StatusOK
}

// CreateTask writes a new task markdown into the open folder.
func (c *Controller) CreateTask(ctx context.Context, req dto.CreateTaskRequest) (dto.TaskResponse, int) {
	task, err := c.engine.CreateTask(ctx, service.CreateTaskRequest{
		ProjectPath:           req.ProjectPath,
		Task:                  req.Task,
		Description:           req.Description,
		TargetRole:            req.TargetRole,
		EstimatedDelayMinutes: req.EstimatedDelayMinutes,
		Priority:              req.Priority,
		SessionName:           req.SessionName,
		Milestone:             req.Milestone,
		OutputSchema:          req.OutputSchema,
	})
	if err != nil {
		status, env, folder := classify(err)
		return dto.TaskResponse{Envelope: env, CurrentFolder: folder}, status
	}
	return dto.TaskResponse{Envelope: dto.OK(), Task: task}, http.StatusOK
}

// GetTaskOutput returns the structured output recorded for a completed
// task.
func (c *Controller) GetTaskOutput(ctx context.Context, req dto.TaskOutputRequest) (dto.TaskOutputResponse, int) {
	out, err := c.engine.GetTaskOutput(ctx, req.TaskPath)
	if err != nil {
		status, env, _ := classify(err)
		return dto.TaskOutputResponse{Envelope: env}, status
	}
	return dto.TaskOutputResponse{Envelope: dto.OK(), Output: out}, http.StatusOK
}

// SyncTaskStatus counts board folders for one project or task group.
func (c *Controller) SyncTaskStatus(ctx context.Context, req dto.BoardStatusRequest) (dto.BoardStatusResponse, int) {
	board, err := c.engine.SyncTaskStatus(ctx, req.ProjectPath, req.TaskGroup)
	if err != nil {
		status, env, _ := classify(err)
		return dto.BoardStatusResponse{Envelope: env}, status
	}
	return dto.BoardStatusResponse{Envelope: dto.OK(), Board: board}, http.StatusOK
}

// GetTeamProgress aggregates board state across every task group.
func (c *Controller) GetTeamProgress(ctx context.Context, req dto.TeamProgressRequest) (dto.TeamProgressResponse, int) {
	progress, err := c.engine.GetTeamProgress(ctx, req.ProjectPath)
	if err != nil {
		status, env, _ := classify(err)
		return dto.TeamProgressResponse{Envelope: env}, status
	}
	return dto.TeamProgressResponse{Envelope: dto.OK(), Progress: progress}, http.StatusOK
}

// RecoverAbandonedTasks runs one abandonment sweep over the tracking
// index.
func (c *Controller) RecoverAbandonedTasks(ctx context.Context) (dto.RecoveryResponse, int) {
	report, err := c.engine.RecoverAbandonedTasks(ctx, c.teamStatusFunc())
	if err != nil {
		status, env, _ := classify(err)
		return dto.RecoveryResponse{Envelope: env, Errors: []string{}}, status
	}
	return dto.RecoveryResponse{
		Envelope:  dto.OK(),
		Recovered: report.Recovered,
		Skipped:   report.Skipped,
		Errors:    report.Errors,
	}, http.StatusOK
}

// Heartbeat refreshes the liveness stamps for a session.
func (c *Controller) Heartbeat(ctx context.Context, req dto.HeartbeatRequest) (dto.Envelope, int) {
	if req.SessionName == "" {
		return dto.Envelope{Error: "sessionName is required"}, http.StatusBadRequest
	}
	c.engine.Heartbeat(ctx, req.SessionName)
	return dto.OK(), http.StatusOK
}
