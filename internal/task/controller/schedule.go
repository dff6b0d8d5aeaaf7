package controller

import (
	"context"
	"net/http"

	scheddto "github.com/stevehuang0115/agentmux-sub002/internal/scheduler/dto"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ScheduleMessage creates or updates a scheduled message and arms its
// timer.
func (c *Controller) ScheduleMessage(ctx context.Context, req scheddto.ScheduleMessageRequest) (scheddto.MessageResponse, int) {
	m, err := c.scheduler.ScheduleMessage(ctx, req.ToMessage())
	if err != nil {
		status, errText := classifySchedule(err)
		return scheddto.MessageResponse{Error: errText}, status
	}
	return scheddto.MessageResponse{Success: true, Message: m}, http.StatusOK
}

// GetMessage returns one scheduled message by id.
func (c *Controller) GetMessage(ctx context.Context, id string) (scheddto.MessageResponse, int) {
	if id == "" {
		return scheddto.MessageResponse{Error: "id is required"}, http.StatusBadRequest
	}
	m, err := c.scheduler.GetMessage(ctx, id)
	if err != nil {
		status, errText := classifySchedule(err)
		return scheddto.MessageResponse{Error: errText}, status
	}
	return scheddto.MessageResponse{Success: true, Message: m}, http.StatusOK
}

// ListMessages returns every persisted scheduled message.
func (c *Controller) ListMessages(ctx context.Context) (scheddto.ListMessagesResponse, int) {
	msgs, err := c.scheduler.ListMessages(ctx)
	if err != nil {
		status, errText := classifySchedule(err)
		return scheddto.ListMessagesResponse{Messages: []v1.ScheduledMessage{}, Error: errText}, status
	}
	if msgs == nil {
		msgs = []v1.ScheduledMessage{}
	}
	return scheddto.ListMessagesResponse{Success: true, Messages: msgs, Total: len(msgs)}, http.StatusOK
}

// CancelMessage disarms a message's timer and drops any queued instance.
// The persisted message stays, deactivated.
func (c *Controller) CancelMessage(ctx context.Context, id string) (scheddto.CancelMessageResponse, int) {
	if id == "" {
		return scheddto.CancelMessageResponse{Error: "id is required"}, http.StatusBadRequest
	}
	found := c.scheduler.CancelMessage(ctx, id)
	return scheddto.CancelMessageResponse{Success: true, Found: found}, http.StatusOK
}

// DeleteMessage cancels and removes a scheduled message entirely.
func (c *Controller) DeleteMessage(ctx context.Context, id string) (scheddto.CancelMessageResponse, int) {
	if id == "" {
		return scheddto.CancelMessageResponse{Error: "id is required"}, http.StatusBadRequest
	}
	if err := c.scheduler.DeleteMessage(ctx, id); err != nil {
		status, errText := classifySchedule(err)
		return scheddto.CancelMessageResponse{Error: errText}, status
	}
	return scheddto.CancelMessageResponse{Success: true, Found: true}, http.StatusOK
}

// RescheduleAll re-arms every active message at now plus its configured
// delay.
func (c *Controller) RescheduleAll(ctx context.Context) (scheddto.RescheduleAllResponse, int) {
	n, err := c.scheduler.RescheduleAll(ctx)
	if err != nil {
		status, errText := classifySchedule(err)
		return scheddto.RescheduleAllResponse{Error: errText}, status
	}
	return scheddto.RescheduleAllResponse{Success: true, Rescheduled: n}, http.StatusOK
}

// CleanupOrphanedMessages deactivates messages whose target project no
// longer exists.
func (c *Controller) CleanupOrphanedMessages(ctx context.Context) (scheddto.CleanupOrphanedResponse, int) {
	report, err := c.scheduler.CleanupOrphanedMessages(ctx)
	if err != nil {
		status, errText := classifySchedule(err)
		return scheddto.CleanupOrphanedResponse{Error: errText, Errors: []string{}}, status
	}
	return scheddto.CleanupOrphanedResponse{
		Success:     true,
		Found:       report.Found,
		Deactivated: report.Deactivated,
		Errors:      report.Errors,
	}, http.StatusOK
}

// SchedulerStats reports message scheduler gauges.
func (c *Controller) SchedulerStats() (scheddto.StatsResponse, int) {
	st := c.scheduler.Stats()
	return scheddto.StatsResponse{
		Success:        true,
		ActiveTimers:   st.ActiveTimers,
		QueuedMessages: st.QueuedMessages,
		TotalDelivered: st.TotalDelivered,
		TotalFailed:    st.TotalFailed,
	}, http.StatusOK
}
