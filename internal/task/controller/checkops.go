package controller

import (
	"context"
	"net/http"

	"github.com/stevehuang0115/agentmux-sub002/internal/checks"
	checkdto "github.com/stevehuang0115/agentmux-sub002/internal/checks/dto"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ScheduleCheck arms a one-shot or recurring check for a session. An empty
// type means a plain check-in.
func (c *Controller) ScheduleCheck(ctx context.Context, req checkdto.ScheduleCheckRequest) (checkdto.CheckResponse, int) {
	checkType := v1.CheckType(req.Type)
	if checkType == "" {
		checkType = v1.CheckTypeCheckin
	}

	var (
		check *v1.ScheduledCheck
		err   error
	)
	if req.IsRecurring {
		check, err = c.checks.ScheduleRecurringCheck(ctx, req.SessionName, req.Minutes, req.Message, checkType, req.MaxOccurrences)
	} else {
		check, err = c.checks.ScheduleCheck(ctx, req.SessionName, req.Minutes, req.Message, checkType)
	}
	if err != nil {
		status, errText := classifySchedule(err)
		return checkdto.CheckResponse{Error: errText}, status
	}
	return checkdto.CheckResponse{Success: true, Check: check}, http.StatusOK
}

// ScheduleDefaultCheckins arms the standard trio for a freshly started
// session.
func (c *Controller) ScheduleDefaultCheckins(ctx context.Context, req checkdto.SessionRequest) (checkdto.CheckIDsResponse, int) {
	ids, err := c.checks.ScheduleDefaultCheckins(ctx, req.SessionName)
	if err != nil {
		status, errText := classifySchedule(err)
		return checkdto.CheckIDsResponse{Error: errText}, status
	}
	return checkdto.CheckIDsResponse{Success: true, CheckIDs: ids}, http.StatusOK
}

// ScheduleContinuationCheck arms a continuation nudge after an explicit
// request from the session.
func (c *Controller) ScheduleContinuationCheck(ctx context.Context, req checkdto.ContinuationCheckRequest) (checkdto.CheckResponse, int) {
	check, err := c.checks.ScheduleContinuationCheck(ctx, checks.ContinuationRequest{
		SessionName:  req.SessionName,
		DelayMinutes: req.DelayMinutes,
		AgentID:      req.AgentID,
		ProjectPath:  req.ProjectPath,
	})
	if err != nil {
		status, errText := classifySchedule(err)
		return checkdto.CheckResponse{Error: errText}, status
	}
	return checkdto.CheckResponse{Success: true, Check: check}, http.StatusOK
}

// ScheduleAdaptiveCheckin arms a check-in whose interval bends to the
// session's observed activity.
func (c *Controller) ScheduleAdaptiveCheckin(ctx context.Context, req checkdto.AdaptiveCheckRequest) (checkdto.CheckResponse, int) {
	check, err := c.checks.ScheduleAdaptiveCheckin(ctx, req.SessionName, &checks.AdaptiveOptions{
		BaseMinutes: req.BaseMinutes,
		Factor:      req.Factor,
		MinMinutes:  req.MinMinutes,
		MaxMinutes:  req.MaxMinutes,
	})
	if err != nil {
		status, errText := classifySchedule(err)
		return checkdto.CheckResponse{Error: errText}, status
	}
	return checkdto.CheckResponse{Success: true, Check: check}, http.StatusOK
}

// CancelCheck disarms one check. Found reports whether it was still live.
func (c *Controller) CancelCheck(ctx context.Context, id string) (checkdto.CancelCheckResponse, int) {
	if id == "" {
		return checkdto.CancelCheckResponse{Error: "id is required"}, http.StatusBadRequest
	}
	found := c.checks.CancelCheck(ctx, id)
	return checkdto.CancelCheckResponse{Success: true, Found: found}, http.StatusOK
}

// CancelSessionChecks disarms every check aimed at one session.
func (c *Controller) CancelSessionChecks(ctx context.Context, req checkdto.SessionRequest) (checkdto.CancelCheckResponse, int) {
	if req.SessionName == "" {
		return checkdto.CancelCheckResponse{Error: "sessionName is required"}, http.StatusBadRequest
	}
	n := c.checks.CancelAllChecksForSession(ctx, req.SessionName)
	return checkdto.CancelCheckResponse{Success: true, Cancelled: n}, http.StatusOK
}

// ListChecks returns live checks, narrowed to one session when requested.
func (c *Controller) ListChecks(_ context.Context, req checkdto.ListChecksRequest) (checkdto.ListChecksResponse, int) {
	var list []v1.ScheduledCheck
	if req.SessionName != "" {
		list = c.checks.GetChecksForSession(req.SessionName)
	} else {
		list = c.checks.ListScheduledChecks()
	}
	if list == nil {
		list = []v1.ScheduledCheck{}
	}
	return checkdto.ListChecksResponse{Success: true, Checks: list, Total: len(list)}, http.StatusOK
}

// CheckStats reports check scheduler gauges.
func (c *Controller) CheckStats() (checkdto.StatsResponse, int) {
	st := c.checks.GetStats()
	return checkdto.StatsResponse{
		Success:       true,
		ActiveChecks:  st.ActiveChecks,
		ActiveTimers:  st.ActiveTimers,
		ByType:        st.ByType,
		TotalExecuted: st.TotalExecuted,
		TotalFailed:   st.TotalFailed,
	}, http.StatusOK
}
