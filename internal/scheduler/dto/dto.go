// Package dto provides request and response shapes for the scheduler API.
package dto

import (
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ScheduleMessageRequest is the payload for message.schedule.
type ScheduleMessageRequest struct {
	ID            string `json:"id,omitempty"` // set to update an existing message
	Name          string `json:"name"`
	TargetTeam    string `json:"targetTeam"`
	TargetProject string `json:"targetProject,omitempty"`
	Message       string `json:"message"`
	DelayAmount   int    `json:"delayAmount"`
	DelayUnit     string `json:"delayUnit"`
	IsRecurring   bool   `json:"isRecurring"`
	IsActive      *bool  `json:"isActive,omitempty"` // omitted means active
}

// ToMessage converts the request into the storage shape. The delay unit
// passes through untranslated; the scheduler rejects unknown units.
func (r *ScheduleMessageRequest) ToMessage() v1.ScheduledMessage {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return v1.ScheduledMessage{
		ID:            r.ID,
		Name:          r.Name,
		TargetTeam:    r.TargetTeam,
		TargetProject: r.TargetProject,
		Message:       r.Message,
		DelayAmount:   r.DelayAmount,
		DelayUnit:     v1.DelayUnit(r.DelayUnit),
		IsRecurring:   r.IsRecurring,
		IsActive:      active,
	}
}

// MessageResponse is the response for message.schedule and message.get.
type MessageResponse struct {
	Success bool                 `json:"success"`
	Message *v1.ScheduledMessage `json:"message,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// ListMessagesResponse is the response for message.list.
type ListMessagesResponse struct {
	Success  bool                  `json:"success"`
	Messages []v1.ScheduledMessage `json:"messages"`
	Total    int                   `json:"total"`
	Error    string                `json:"error,omitempty"`
}

// CancelMessageRequest is the payload for message.cancel.
type CancelMessageRequest struct {
	ID string `json:"id"`
}

// CancelMessageResponse is the response for message.cancel. Found reports
// whether a timer or queued instance existed.
type CancelMessageResponse struct {
	Success bool   `json:"success"`
	Found   bool   `json:"found"`
	Error   string `json:"error,omitempty"`
}

// RescheduleAllResponse is the response for message.reschedule_all.
type RescheduleAllResponse struct {
	Success     bool   `json:"success"`
	Rescheduled int    `json:"rescheduled"`
	Error       string `json:"error,omitempty"`
}

// CleanupOrphanedResponse is the response for message.cleanup_orphaned.
type CleanupOrphanedResponse struct {
	Success     bool     `json:"success"`
	Found       int      `json:"found"`
	Deactivated int      `json:"deactivated"`
	Errors      []string `json:"errors"`
	Error       string   `json:"error,omitempty"`
}

// StatsResponse is the response for message.stats.
type StatsResponse struct {
	Success        bool  `json:"success"`
	ActiveTimers   int   `json:"activeTimers"`
	QueuedMessages int   `json:"queuedMessages"`
	TotalDelivered int64 `json:"totalDelivered"`
	TotalFailed    int64 `json:"totalFailed"`
}
