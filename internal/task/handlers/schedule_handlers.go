package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	scheddto "github.com/stevehuang0115/agentmux-sub002/internal/scheduler/dto"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

// HTTP handlers

func (h *Handlers) httpScheduleMessage(c *gin.Context) {
	var req scheddto.ScheduleMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.ScheduleMessage(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpListMessages(c *gin.Context) {
	resp, status := h.controller.ListMessages(c.Request.Context())
	c.JSON(status, resp)
}

func (h *Handlers) httpGetMessage(c *gin.Context) {
	resp, status := h.controller.GetMessage(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

func (h *Handlers) httpDeleteMessage(c *gin.Context) {
	resp, status := h.controller.DeleteMessage(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

func (h *Handlers) httpCancelMessage(c *gin.Context) {
	resp, status := h.controller.CancelMessage(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

func (h *Handlers) httpRescheduleAll(c *gin.Context) {
	resp, status := h.controller.RescheduleAll(c.Request.Context())
	c.JSON(status, resp)
}

func (h *Handlers) httpCleanupOrphaned(c *gin.Context) {
	resp, status := h.controller.CleanupOrphanedMessages(c.Request.Context())
	c.JSON(status, resp)
}

func (h *Handlers) httpSchedulerStats(c *gin.Context) {
	resp, status := h.controller.SchedulerStats()
	c.JSON(status, resp)
}

// WS handlers

func (h *Handlers) wsScheduleMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req scheddto.ScheduleMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ScheduleMessage(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.ListMessages(ctx)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsGetMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req scheddto.CancelMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.GetMessage(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCancelMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req scheddto.CancelMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CancelMessage(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsDeleteMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req scheddto.CancelMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.DeleteMessage(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsRescheduleAll(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.RescheduleAll(ctx)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCleanupOrphaned(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.CleanupOrphanedMessages(ctx)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsSchedulerStats(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.SchedulerStats()
	return ws.NewResponse(msg.ID, msg.Action, resp)
}
