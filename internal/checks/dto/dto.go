// Package dto provides request and response shapes for the check API.
package dto

import (
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// ScheduleCheckRequest is the payload for check.schedule. IsRecurring
// selects a repeating check; MaxOccurrences only applies then, zero
// meaning unbounded.
type ScheduleCheckRequest struct {
	SessionName    string `json:"sessionName"`
	Minutes        int    `json:"minutes"`
	Message        string `json:"message,omitempty"`
	Type           string `json:"type,omitempty"`
	IsRecurring    bool   `json:"isRecurring,omitempty"`
	MaxOccurrences int    `json:"maxOccurrences,omitempty"`
}

// ContinuationCheckRequest is the payload for check.continuation.
type ContinuationCheckRequest struct {
	SessionName  string `json:"sessionName"`
	DelayMinutes int    `json:"delayMinutes"`
	AgentID      string `json:"agentId,omitempty"`
	ProjectPath  string `json:"projectPath,omitempty"`
}

// AdaptiveCheckRequest is the payload for check.adaptive. Zero fields fall
// back to the scheduler's configuration.
type AdaptiveCheckRequest struct {
	SessionName string  `json:"sessionName"`
	BaseMinutes int     `json:"baseMinutes,omitempty"`
	Factor      float64 `json:"factor,omitempty"`
	MinMinutes  int     `json:"minMinutes,omitempty"`
	MaxMinutes  int     `json:"maxMinutes,omitempty"`
}

// SessionRequest is the payload for check.defaults and check.cancel_session.
type SessionRequest struct {
	SessionName string `json:"sessionName"`
}

// CancelCheckRequest is the payload for check.cancel.
type CancelCheckRequest struct {
	ID string `json:"id"`
}

// ListChecksRequest is the payload for check.list. SessionName narrows the
// listing when set.
type ListChecksRequest struct {
	SessionName string `json:"sessionName,omitempty"`
}

// CheckResponse is the reply carrying a single scheduled check.
type CheckResponse struct {
	Success bool               `json:"success"`
	Check   *v1.ScheduledCheck `json:"check,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// CheckIDsResponse is the reply to check.defaults.
type CheckIDsResponse struct {
	Success  bool     `json:"success"`
	CheckIDs []string `json:"checkIds,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ListChecksResponse is the reply to check.list.
type ListChecksResponse struct {
	Success bool                `json:"success"`
	Checks  []v1.ScheduledCheck `json:"checks"`
	Total   int                 `json:"total"`
	Error   string              `json:"error,omitempty"`
}

// CancelCheckResponse is the reply to check.cancel and
// check.cancel_session. Found reports whether check.cancel hit a live
// check; Cancelled counts session-wide cancellations.
type CancelCheckResponse struct {
	Success   bool   `json:"success"`
	Found     bool   `json:"found,omitempty"`
	Cancelled int    `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatsResponse is the reply to check.stats.
type StatsResponse struct {
	Success       bool           `json:"success"`
	ActiveChecks  int            `json:"activeChecks"`
	ActiveTimers  int            `json:"activeTimers"`
	ByType        map[string]int `json:"byType"`
	TotalExecuted int64          `json:"totalExecuted"`
	TotalFailed   int64          `json:"totalFailed"`
}
