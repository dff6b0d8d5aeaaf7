// Package handlers exposes the controller over HTTP and WebSocket. Both
// transports bind into the same controller methods and return the same
// response envelope; the WebSocket side reserves protocol error frames for
// payloads it cannot parse, so a degraded outcome (success=false with a
// suggestion) looks identical no matter how the agent connected.
package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/controller"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

type Handlers struct {
	controller *controller.Controller
	logger     *logger.Logger
}

func New(ctrl *controller.Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "api-handlers")),
	}
}

// Register wires every route and dispatcher action.
func Register(router *gin.Engine, dispatcher *ws.Dispatcher, ctrl *controller.Controller, log *logger.Logger) *Handlers {
	h := New(ctrl, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
	return h
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")

	api.POST("/tasks/assign", h.httpAssignTask)
	api.POST("/tasks/complete", h.httpCompleteTask)
	api.POST("/tasks/block", h.httpBlockTask)
	api.POST("/tasks/unblock", h.httpUnblockTask)
	api.POST("/tasks/next", h.httpTakeNextTask)
	api.POST("/tasks", h.httpCreateTask)
	api.GET("/tasks", h.httpListTasks)
	api.GET("/tasks/output", h.httpGetTaskOutput)

	api.GET("/board/status", h.httpBoardStatus)
	api.GET("/board/progress", h.httpTeamProgress)

	api.POST("/recovery/run", h.httpRecoverAbandoned)
	api.POST("/members/heartbeat", h.httpHeartbeat)

	api.POST("/schedule/messages", h.httpScheduleMessage)
	api.GET("/schedule/messages", h.httpListMessages)
	api.GET("/schedule/messages/:id", h.httpGetMessage)
	api.DELETE("/schedule/messages/:id", h.httpDeleteMessage)
	api.POST("/schedule/messages/:id/cancel", h.httpCancelMessage)
	api.POST("/schedule/reschedule-all", h.httpRescheduleAll)
	api.POST("/schedule/cleanup-orphaned", h.httpCleanupOrphaned)
	api.GET("/schedule/stats", h.httpSchedulerStats)

	api.POST("/checks", h.httpScheduleCheck)
	api.GET("/checks", h.httpListChecks)
	api.POST("/checks/defaults", h.httpDefaultCheckins)
	api.POST("/checks/continuation", h.httpContinuationCheck)
	api.POST("/checks/adaptive", h.httpAdaptiveCheckin)
	api.DELETE("/checks/:id", h.httpCancelCheck)
	api.POST("/checks/cancel-session", h.httpCancelSessionChecks)
	api.GET("/checks/stats", h.httpCheckStats)

	api.POST("/projects", h.httpCreateProject)
	api.GET("/projects", h.httpListProjects)
	api.GET("/projects/:id", h.httpGetProject)
	api.PATCH("/projects/:id", h.httpUpdateProject)
	api.DELETE("/projects/:id", h.httpDeleteProject)

	api.POST("/teams", h.httpCreateTeam)
	api.GET("/teams", h.httpListTeams)
	api.GET("/teams/:id", h.httpGetTeam)
	api.PATCH("/teams/:id", h.httpUpdateTeam)
	api.DELETE("/teams/:id", h.httpDeleteTeam)
}

func (h *Handlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionTaskAssign, h.wsAssignTask)
	dispatcher.RegisterFunc(ws.ActionTaskComplete, h.wsCompleteTask)
	dispatcher.RegisterFunc(ws.ActionTaskBlock, h.wsBlockTask)
	dispatcher.RegisterFunc(ws.ActionTaskUnblock, h.wsUnblockTask)
	dispatcher.RegisterFunc(ws.ActionTaskNext, h.wsTakeNextTask)
	dispatcher.RegisterFunc(ws.ActionTaskCreate, h.wsCreateTask)
	dispatcher.RegisterFunc(ws.ActionTaskList, h.wsListTasks)
	dispatcher.RegisterFunc(ws.ActionTaskOutput, h.wsGetTaskOutput)

	dispatcher.RegisterFunc(ws.ActionBoardStatus, h.wsBoardStatus)
	dispatcher.RegisterFunc(ws.ActionBoardProgress, h.wsTeamProgress)

	dispatcher.RegisterFunc(ws.ActionRecoveryRun, h.wsRecoverAbandoned)
	dispatcher.RegisterFunc(ws.ActionMemberHeartbeat, h.wsHeartbeat)

	dispatcher.RegisterFunc(ws.ActionMessageSchedule, h.wsScheduleMessage)
	dispatcher.RegisterFunc(ws.ActionMessageList, h.wsListMessages)
	dispatcher.RegisterFunc(ws.ActionMessageGet, h.wsGetMessage)
	dispatcher.RegisterFunc(ws.ActionMessageCancel, h.wsCancelMessage)
	dispatcher.RegisterFunc(ws.ActionMessageDelete, h.wsDeleteMessage)
	dispatcher.RegisterFunc(ws.ActionMessageRescheduleAll, h.wsRescheduleAll)
	dispatcher.RegisterFunc(ws.ActionMessageCleanupOrphaned, h.wsCleanupOrphaned)
	dispatcher.RegisterFunc(ws.ActionMessageStats, h.wsSchedulerStats)

	dispatcher.RegisterFunc(ws.ActionCheckSchedule, h.wsScheduleCheck)
	dispatcher.RegisterFunc(ws.ActionCheckDefaults, h.wsDefaultCheckins)
	dispatcher.RegisterFunc(ws.ActionCheckContinuation, h.wsContinuationCheck)
	dispatcher.RegisterFunc(ws.ActionCheckAdaptive, h.wsAdaptiveCheckin)
	dispatcher.RegisterFunc(ws.ActionCheckCancel, h.wsCancelCheck)
	dispatcher.RegisterFunc(ws.ActionCheckCancelSession, h.wsCancelSessionChecks)
	dispatcher.RegisterFunc(ws.ActionCheckList, h.wsListChecks)
	dispatcher.RegisterFunc(ws.ActionCheckStats, h.wsCheckStats)

	dispatcher.RegisterFunc(ws.ActionProjectCreate, h.wsCreateProject)
	dispatcher.RegisterFunc(ws.ActionProjectList, h.wsListProjects)
	dispatcher.RegisterFunc(ws.ActionProjectGet, h.wsGetProject)
	dispatcher.RegisterFunc(ws.ActionProjectUpdate, h.wsUpdateProject)
	dispatcher.RegisterFunc(ws.ActionProjectDelete, h.wsDeleteProject)

	dispatcher.RegisterFunc(ws.ActionTeamCreate, h.wsCreateTeam)
	dispatcher.RegisterFunc(ws.ActionTeamList, h.wsListTeams)
	dispatcher.RegisterFunc(ws.ActionTeamGet, h.wsGetTeam)
	dispatcher.RegisterFunc(ws.ActionTeamUpdate, h.wsUpdateTeam)
	dispatcher.RegisterFunc(ws.ActionTeamDelete, h.wsDeleteTeam)
}

// wsBadPayload is the one protocol-level failure: a frame whose payload
// does not decode into the expected request.
func wsBadPayload(msg *ws.Message, err error) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
}
