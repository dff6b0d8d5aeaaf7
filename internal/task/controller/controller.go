// Package controller is the transport-neutral boundary of the daemon API.
// Handlers bind payloads and hand them here; the controller validates,
// delegates to the engine and the schedulers, and classifies failures into
// the response envelope. Malformed input is a 400 and a missing entity a
// 404, but a board that merely disagrees with the request (wrong folder,
// failing output schema) is a 200 with success=false and a suggestion, so
// an agent reading the reply can correct itself and retry safely.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/checks"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	"github.com/stevehuang0115/agentmux-sub002/internal/scheduler"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/dto"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/service"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Controller carries the engine and scheduler handles every operation
// needs. One value serves both transports.
type Controller struct {
	engine    *service.Service
	store     *store.Store
	scheduler *scheduler.Service
	checks    *checks.Service
	eventBus  bus.EventBus
	logger    *logger.Logger

	mu         sync.RWMutex
	teamStatus service.TeamStatusFunc
}

// New builds a controller around the task engine, the message scheduler
// and the check scheduler. eventBus may be nil in tests.
func New(engine *service.Service, st *store.Store, sched *scheduler.Service, chk *checks.Service, eventBus bus.EventBus, log *logger.Logger) *Controller {
	return &Controller{
		engine:    engine,
		store:     st,
		scheduler: sched,
		checks:    chk,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "api")),
	}
}

// publishEntity emits a team or project change event. Publish failures are
// logged, never surfaced.
func (c *Controller) publishEntity(ctx context.Context, eventType, subject string, data map[string]interface{}) {
	if c.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "api", data)
	if err := c.eventBus.Publish(ctx, subject, evt); err != nil {
		c.logger.Debug("entity event publish failed",
			zap.String("type", eventType), zap.Error(err))
	}
}

// SetTeamStatus installs the live-session probe used by recovery runs. May
// stay nil; recovery then falls back to heartbeat age alone.
func (c *Controller) SetTeamStatus(fn service.TeamStatusFunc) {
	c.mu.Lock()
	c.teamStatus = fn
	c.mu.Unlock()
}

func (c *Controller) teamStatusFunc() service.TeamStatusFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.teamStatus
}

// classify maps an engine error onto the envelope policy. The returned
// folder is set when the error was a wrong-folder conflict.
func classify(err error) (status int, env dto.Envelope, folder v1.TaskStatus) {
	if err == nil {
		return http.StatusOK, dto.OK(), ""
	}
	if ve, ok := service.IsValidation(err); ok {
		return http.StatusBadRequest, dto.Envelope{Error: validationText(ve)}, ""
	}
	if cs, ok := service.IsConflictState(err); ok {
		env = dto.Envelope{
			Error:      fmt.Sprintf("Task is in %s, not %s", cs.CurrentFolder, cs.Wanted),
			Suggestion: cs.Remedy,
		}
		return http.StatusOK, env, cs.CurrentFolder
	}
	switch {
	case errors.Is(err, service.ErrOutputMissing):
		env = dto.Envelope{
			Error:      "Task requires structured output but none was provided",
			Suggestion: "call completeTask again with an output object that matches the task's Output Schema",
		}
		return http.StatusOK, env, ""
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrMemberNotFound),
		errors.Is(err, service.ErrOutputNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, dto.Envelope{Error: upperFirst(err.Error())}, ""
	default:
		return http.StatusInternalServerError, dto.Envelope{Error: upperFirst(err.Error())}, ""
	}
}

// classifySchedule is classify for the message and check schedulers, which
// only distinguish bad input from internal failure.
func classifySchedule(err error) (status int, errText string) {
	if err == nil {
		return http.StatusOK, ""
	}
	if ve, ok := scheduler.IsValidation(err); ok {
		return http.StatusBadRequest, upperFirst(ve.Message)
	}
	if ve, ok := checks.IsValidation(err); ok {
		return http.StatusBadRequest, upperFirst(ve.Message)
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, upperFirst(err.Error())
	}
	return http.StatusInternalServerError, upperFirst(err.Error())
}

// validationText renders a field error as a sentence the agent can act on.
func validationText(ve *service.ValidationError) string {
	if ve.Message == "required" {
		return ve.Field + " is required"
	}
	return upperFirst(ve.Message)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
