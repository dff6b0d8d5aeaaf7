package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Task lifecycle actions
	ActionTaskAssign   = "task.assign"
	ActionTaskComplete = "task.complete"
	ActionTaskBlock    = "task.block"
	ActionTaskUnblock  = "task.unblock"
	ActionTaskNext     = "task.next"
	ActionTaskCreate   = "task.create"
	ActionTaskList     = "task.list"
	ActionTaskOutput   = "task.output"

	// Board actions
	ActionBoardStatus   = "board.status"
	ActionBoardProgress = "board.progress"

	// Recovery and liveness
	ActionRecoveryRun     = "recovery.run"
	ActionMemberHeartbeat = "member.heartbeat"

	// Scheduled message actions
	ActionMessageSchedule        = "message.schedule"
	ActionMessageList            = "message.list"
	ActionMessageGet             = "message.get"
	ActionMessageCancel          = "message.cancel"
	ActionMessageDelete          = "message.delete"
	ActionMessageRescheduleAll   = "message.reschedule_all"
	ActionMessageCleanupOrphaned = "message.cleanup_orphaned"
	ActionMessageStats           = "message.stats"

	// Check actions
	ActionCheckSchedule      = "check.schedule"
	ActionCheckDefaults      = "check.defaults"
	ActionCheckContinuation  = "check.continuation"
	ActionCheckAdaptive      = "check.adaptive"
	ActionCheckCancel        = "check.cancel"
	ActionCheckCancelSession = "check.cancel_session"
	ActionCheckList          = "check.list"
	ActionCheckStats         = "check.stats"

	// Project actions
	ActionProjectCreate = "project.create"
	ActionProjectList   = "project.list"
	ActionProjectGet    = "project.get"
	ActionProjectUpdate = "project.update"
	ActionProjectDelete = "project.delete"

	// Team actions
	ActionTeamCreate = "team.create"
	ActionTeamList   = "team.list"
	ActionTeamGet    = "team.get"
	ActionTeamUpdate = "team.update"
	ActionTeamDelete = "team.delete"

	// Notification actions (server -> client)
	ActionTaskUpdated      = "task.updated"
	ActionMessageDelivered = "message.delivered"
	ActionCheckExecuted    = "check.executed"
	ActionAgentUpdated     = "agent.updated"
	ActionTeamUpdated      = "team.updated"
	ActionProjectUpdated   = "project.updated"

	// Client-level subscription actions, handled by the connection
	// itself rather than the dispatcher.
	ActionSessionSubscribe   = "session.subscribe"
	ActionSessionUnsubscribe = "session.unsubscribe"
)

// Error codes carried in ErrorPayload.Code.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
