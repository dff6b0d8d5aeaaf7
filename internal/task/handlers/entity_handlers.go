package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

// Projects

func (h *Handlers) httpCreateProject(c *gin.Context) {
	var p v1.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.CreateProject(c.Request.Context(), p)
	c.JSON(status, resp)
}

func (h *Handlers) httpListProjects(c *gin.Context) {
	resp, status := h.controller.ListProjects(c.Request.Context())
	c.JSON(status, resp)
}

func (h *Handlers) httpGetProject(c *gin.Context) {
	resp, status := h.controller.GetProject(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

func (h *Handlers) httpUpdateProject(c *gin.Context) {
	var p v1.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p.ID = c.Param("id")
	resp, status := h.controller.UpdateProject(c.Request.Context(), p)
	c.JSON(status, resp)
}

func (h *Handlers) httpDeleteProject(c *gin.Context) {
	resp, status := h.controller.DeleteProject(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

// Teams

func (h *Handlers) httpCreateTeam(c *gin.Context) {
	var t v1.Team
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, status := h.controller.CreateTeam(c.Request.Context(), t)
	c.JSON(status, resp)
}

func (h *Handlers) httpListTeams(c *gin.Context) {
	resp, status := h.controller.ListTeams(c.Request.Context())
	c.JSON(status, resp)
}

func (h *Handlers) httpGetTeam(c *gin.Context) {
	resp, status := h.controller.GetTeam(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

func (h *Handlers) httpUpdateTeam(c *gin.Context) {
	var t v1.Team
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	t.ID = c.Param("id")
	resp, status := h.controller.UpdateTeam(c.Request.Context(), t)
	c.JSON(status, resp)
}

func (h *Handlers) httpDeleteTeam(c *gin.Context) {
	resp, status := h.controller.DeleteTeam(c.Request.Context(), c.Param("id"))
	c.JSON(status, resp)
}

// WS handlers

type wsIDRequest struct {
	ID string `json:"id"`
}

func (h *Handlers) wsCreateProject(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p v1.Project
	if err := msg.ParsePayload(&p); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CreateProject(ctx, p)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListProjects(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.ListProjects(ctx)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsGetProject(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.GetProject(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsUpdateProject(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p v1.Project
	if err := msg.ParsePayload(&p); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.UpdateProject(ctx, p)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsDeleteProject(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.DeleteProject(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsCreateTeam(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var t v1.Team
	if err := msg.ParsePayload(&t); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.CreateTeam(ctx, t)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListTeams(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, _ := h.controller.ListTeams(ctx)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsGetTeam(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.GetTeam(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsUpdateTeam(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var t v1.Team
	if err := msg.ParsePayload(&t); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.UpdateTeam(ctx, t)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsDeleteTeam(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return wsBadPayload(msg, err)
	}
	resp, _ := h.controller.DeleteTeam(ctx, req.ID)
	return ws.NewResponse(msg.ID, msg.Action, resp)
}
