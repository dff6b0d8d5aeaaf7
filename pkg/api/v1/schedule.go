package v1

import (
	"fmt"
	"time"
)

// DelayUnit is the unit of a scheduled message's delay.
type DelayUnit string

const (
	DelayUnitSeconds DelayUnit = "seconds"
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
)

// Valid reports whether u is a supported unit. Anything else (including
// "days") is rejected at the boundary.
func (u DelayUnit) Valid() bool {
	switch u {
	case DelayUnitSeconds, DelayUnitMinutes, DelayUnitHours:
		return true
	}
	return false
}

// Duration converts amount expressed in u into a time.Duration.
func (u DelayUnit) Duration(amount int) (time.Duration, error) {
	switch u {
	case DelayUnitSeconds:
		return time.Duration(amount) * time.Second, nil
	case DelayUnitMinutes:
		return time.Duration(amount) * time.Minute, nil
	case DelayUnitHours:
		return time.Duration(amount) * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported delay unit %q", string(u))
}

// ScheduledMessage is a user-managed one-shot or recurring message aimed at
// a team session or the orchestrator. Inactive messages persist but are
// never timer-armed.
type ScheduledMessage struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	TargetTeam    string     `json:"targetTeam"`
	TargetProject string     `json:"targetProject,omitempty"`
	Message       string     `json:"message"`
	DelayAmount   int        `json:"delayAmount"`
	DelayUnit     DelayUnit  `json:"delayUnit"`
	IsRecurring   bool       `json:"isRecurring"`
	IsActive      bool       `json:"isActive"`
	LastRun       *time.Time `json:"lastRun,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Delay returns the configured firing delay.
func (m *ScheduledMessage) Delay() (time.Duration, error) {
	return m.DelayUnit.Duration(m.DelayAmount)
}

// DeliveryErrorOrphaned is the DeliveryLog error recorded when a scheduled
// message fired after its target project vanished. The stuck scanner never
// re-attempts these.
const DeliveryErrorOrphaned = "orphaned"

// DeliveryLog records one delivery attempt outcome. Immutable once written.
type DeliveryLog struct {
	ID                 string    `json:"id"`
	ScheduledMessageID string    `json:"scheduledMessageId"`
	MessageName        string    `json:"messageName"`
	TargetTeam         string    `json:"targetTeam"`
	TargetProject      string    `json:"targetProject,omitempty"`
	Message            string    `json:"message"`
	SentAt             time.Time `json:"sentAt"`
	Success            bool      `json:"success"`
	Error              string    `json:"error,omitempty"`
}

// CheckType classifies a programmatic check.
type CheckType string

const (
	CheckTypeCheckin        CheckType = "check-in"
	CheckTypeProgress       CheckType = "progress-check"
	CheckTypeCommitReminder CheckType = "commit-reminder"
	CheckTypeContinuation   CheckType = "continuation"
	CheckTypeAdaptive       CheckType = "adaptive"
)

// RecurringSpec carries recurrence bookkeeping for a scheduled check.
type RecurringSpec struct {
	IntervalMinutes   int `json:"intervalMinutes"`
	CurrentOccurrence int `json:"currentOccurrence"`
	MaxOccurrences    int `json:"maxOccurrences,omitempty"`
}

// ScheduledCheck is a programmatic one-shot or recurring check aimed at a
// session. Persisted so checks survive a daemon restart.
type ScheduledCheck struct {
	ID              string         `json:"id"`
	TargetSession   string         `json:"targetSession"`
	Message         string         `json:"message"`
	ScheduledFor    time.Time      `json:"scheduledFor"`
	IntervalMinutes int            `json:"intervalMinutes,omitempty"`
	IsRecurring     bool           `json:"isRecurring"`
	Type            CheckType      `json:"type"`
	Recurring       *RecurringSpec `json:"recurring,omitempty"`

	// AgentID and ProjectPath feed the synthetic event a continuation
	// check hands to its collaborator. Empty for other check types.
	AgentID     string `json:"agentId,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Activity entry kinds.
const (
	ActivityKindDelivery = "delivery"
	ActivityKindTask     = "task"
	ActivityKindCheck    = "check"
	ActivityKindSystem   = "system"
)

// ActivityEntry is one record of activity.json. Delivery outcomes embed the
// full log; other kinds carry free-form detail.
type ActivityEntry struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	At          time.Time              `json:"at"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	DeliveryLog *DeliveryLog           `json:"deliveryLog,omitempty"`
}
