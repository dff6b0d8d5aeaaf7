// Package events provides event types and utilities for the Crewly event system.
package events

// Event types for task lifecycle transitions
const (
	TaskCreated      = "task.created"
	TaskAssigned     = "task.assigned"
	TaskCompleted    = "task.completed"
	TaskBlocked      = "task.blocked"
	TaskUnblocked    = "task.unblocked"
	TaskRecovered    = "task.recovered"
	TaskRetryFailed  = "task.retry_failed"
	TaskBoardChanged = "task.board_changed"
)

// Event types for scheduled messages
const (
	MessageScheduled = "message.scheduled"
	MessageExecuted  = "message.executed"
	MessageCancelled = "message.cancelled"
	MessageOrphaned  = "message.orphaned"
)

// Event types for programmatic checks
const (
	CheckScheduled = "check.scheduled"
	CheckExecuted  = "check.executed"
	CheckCancelled = "check.cancelled"
)

// Event types for delivery outcomes
const (
	DeliverySucceeded = "delivery.succeeded"
	DeliveryFailed    = "delivery.failed"
	DeliveryRecovered = "delivery.recovered" // stuck scanner re-attempt succeeded
)

// Event types for teams and projects
const (
	TeamUpdated      = "team.updated"
	ProjectUpdated   = "project.updated"
	MemberHeartbeat  = "member.heartbeat"
	MemberRegistered = "member.registered"
)

// BuildTaskSubject creates a task event subject scoped to a project id.
func BuildTaskSubject(eventType, projectID string) string {
	return eventType + "." + projectID
}

// BuildTaskWildcardSubject creates a wildcard subscription for one task
// event type across all projects.
func BuildTaskWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildMessageSubject creates a scheduled-message event subject scoped to a
// message id.
func BuildMessageSubject(eventType, messageID string) string {
	return eventType + "." + messageID
}

// BuildMessageWildcardSubject creates a wildcard subscription for one
// scheduled-message event type across all message ids.
func BuildMessageWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// BuildSessionSubject creates a delivery or check subject scoped to a
// session name.
func BuildSessionSubject(eventType, sessionName string) string {
	return eventType + "." + sessionName
}

// BuildSessionWildcardSubject creates a wildcard subscription for one event
// type across all sessions.
func BuildSessionWildcardSubject(eventType string) string {
	return eventType + ".*"
}

// AllSubjects is the firehose subscription used by the websocket gateway.
const AllSubjects = ">"
