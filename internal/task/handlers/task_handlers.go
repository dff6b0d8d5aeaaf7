package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stevehuang0115/agentmux-sub002/internal/task/dto"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

// HTTP handlers

func (h *Handlers) httpAssignTask(c *gin.Context) {
	var req dto.AssignTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.AssignTask(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpCompleteTask(c *gin.Context) {
	var req dto.CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.CompleteTask(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpBlockTask(c *gin.Context) {
	var req dto.BlockTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.BlockTask(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpUnblockTask(c *gin.Context) {
	var req dto.UnblockTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.UnblockTask(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpTakeNextTask(c *gin.Context) {
	var req dto.TakeNextTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.TakeNextTask(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpCreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.CreateTask(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpListTasks(c *gin.Context) {
	req := dto.ListTasksRequest{
		ProjectPath: c.Query("projectPath"),
		TaskGroup:   c.Query("taskGroup"),
		Status:      c.Query("status"),
	}
	resp, status := h.controller.ListTasks(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpGetTaskOutput(c *gin.Context) {
	req := dto.TaskOutputRequest{TaskPath: c.Query("taskPath")}
	resp, status := h.controller.GetTaskOutput(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpBoardStatus(c *gin.Context) {
	req := dto.BoardStatusRequest{
		ProjectPath: c.Query("projectPath"),
		TaskGroup:   c.Query("taskGroup"),
	}
	resp, status := h.controller.SyncTaskStatus(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpTeamProgress(c *gin.Context) {
	req := dto.TeamProgressRequest{ProjectPath: c.Query("projectPath")}
	resp, status := h.controller.GetTeamProgress(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpRecoverAbandoned(c *gin.Context) {
	resp, status := h.controller.RecoverAbandonedTasks(c.Request.Context())
	c.JSON(status, resp)
}

func (h *Handlers) httpHeartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.Heartbeat(c.Request.Context(), req)
	c.JSON(status, resp)
}

// WS handlers

func (h *Handlers) wsAssignTask(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.AssignTaskRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.AssignTask(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCompleteTask(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.CompleteTaskRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CompleteTask(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsBlockTask(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.BlockTaskRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.BlockTask(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsUnblockTask(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.UnblockTaskRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.UnblockTask(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsTakeNextTask(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.TakeNextTaskRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.TakeNextTask(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCreateTask(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.CreateTaskRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CreateTask(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListTasks(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.ListTasksRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ListTasks(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsGetTaskOutput(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.TaskOutputRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.GetTaskOutput(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsBoardStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.BoardStatusRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.SyncTaskStatus(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsTeamProgress(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.TeamProgressRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.GetTeamProgress(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsRecoverAbandoned(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.RecoverAbandonedTasks(ctx)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsHeartbeat(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.HeartbeatRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.Heartbeat(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}
