package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	checkdto "github.com/stevehuang0115/agentmux-sub002/internal/checks/dto"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

// HTTP handlers

func (h *Handlers) httpScheduleCheck(c *gin.Context) {
	var req checkdto.ScheduleCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.ScheduleCheck(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpListChecks(c *gin.Context) {
	req := checkdto.ListChecksRequest{SessionName: c.Query("sessionName")}
	resp, status := h.controller.ListChecks(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpDefaultCheckins(c *gin.Context) {
	var req checkdto.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.ScheduleDefaultCheckins(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpContinuationCheck(c *gin.Context) {
	var req checkdto.ContinuationCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.ScheduleContinuationCheck(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpAdaptiveCheckin(c *gin.Context) {
	var req checkdto.AdaptiveCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.ScheduleAdaptiveCheckin(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpCancelCheck(c *gin.Context) {
	resp, status := h.controller.CancelCheck(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

func (h *Handlers) httpCancelSessionChecks(c *gin.Context) {
	var req checkdto.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.CancelSessionChecks(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handlers) httpCheckStats(c *gin.Context) {
	resp, status := h.controller.CheckStats()
	c.JSON(status, resp)
}

// WS handlers

func (h *Handlers) wsScheduleCheck(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.ScheduleCheckRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ScheduleCheck(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsDefaultCheckins(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.SessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ScheduleDefaultCheckins(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsContinuationCheck(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.ContinuationCheckRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ScheduleContinuationCheck(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsAdaptiveCheckin(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.AdaptiveCheckRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ScheduleAdaptiveCheckin(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCancelCheck(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.CancelCheckRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CancelCheck(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCancelSessionChecks(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.SessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CancelSessionChecks(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListChecks(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req checkdto.ListChecksRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.ListChecks(ctx, req)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCheckStats(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.CheckStats()
	return ws.NewResponse(msg.ID, msg.Action, resp)
}
