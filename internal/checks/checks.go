// Package checks runs programmatic check-ins against agent sessions: the
// initial nudge after an assignment, recurring progress and commit
// reminders, continuation pokes and adaptive check-ins whose interval bends
// to session activity. Checks persist in the store and are restored on
// startup: recurring checks re-arm at now + interval, one-shots keep their
// remaining time and are discarded once stale.
package checks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

var (
	// ErrChecksAlreadyRunning is returned when Start is called twice.
	ErrChecksAlreadyRunning = errors.New("check scheduler already running")

	// ErrChecksNotRunning is returned when Stop is called before Start.
	ErrChecksNotRunning = errors.New("check scheduler not running")
)

// ValidationError marks malformed check input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation unwraps err as a ValidationError.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Config tunes check intervals. All interval values are minutes.
type Config struct {
	InitialCheckinMinutes int
	ProgressCheckMinutes  int
	CommitReminderMinutes int
	AdaptiveBaseMinutes   int
	AdaptiveFactor        float64
	AdaptiveMinMinutes    int
	AdaptiveMaxMinutes    int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		InitialCheckinMinutes: 5,
		ProgressCheckMinutes:  30,
		CommitReminderMinutes: 25,
		AdaptiveBaseMinutes:   15,
		AdaptiveFactor:        2.0,
		AdaptiveMinMinutes:    5,
		AdaptiveMaxMinutes:    60,
	}
}

// checkStore is the store subset the check scheduler reads and writes.
type checkStore interface {
	LoadRecurringChecks(ctx context.Context) ([]v1.ScheduledCheck, error)
	LoadOneTimeChecks(ctx context.Context) ([]v1.ScheduledCheck, error)
	SaveOneTimeChecks(ctx context.Context, checks []v1.ScheduledCheck) error
	UpsertCheck(ctx context.Context, check v1.ScheduledCheck) error
	DeleteCheck(ctx context.Context, id string) error
	AppendDeliveryLog(log v1.DeliveryLog)
}

// runtimeSource reports which agent runtime owns a session.
type runtimeSource interface {
	RuntimeFor(ctx context.Context, sessionName string) v1.RuntimeType
}

// checkDeliverer is the delivery pipeline surface check firings drive.
type checkDeliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
}

// ContinuationEvent is the synthetic event a continuation check hands to
// its collaborator in place of a plain message delivery.
type ContinuationEvent struct {
	Trigger     string    `json:"trigger"`
	SessionName string    `json:"sessionName"`
	AgentID     string    `json:"agentId,omitempty"`
	ProjectPath string    `json:"projectPath,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ContinuationTriggerExplicit marks events raised by a fired continuation
// check rather than by the agent's own output going quiet.
const ContinuationTriggerExplicit = "explicit_request"

// Continuation is the external collaborator continuation checks prefer over
// a plain delivery.
type Continuation interface {
	Continue(ctx context.Context, evt ContinuationEvent) error
}

// SessionActivity is an activity monitor's verdict on a session.
type SessionActivity string

// Activity verdicts.
const (
	ActivityIdle       SessionActivity = "idle"
	ActivityInProgress SessionActivity = "in_progress"
)

// ActivityMonitor classifies a session as idle or busy. Adaptive check-ins
// consult it once, at scheduling time.
type ActivityMonitor interface {
	SessionActivity(ctx context.Context, sessionName string) (SessionActivity, error)
}

// AdaptiveOptions overrides the configured adaptive tuning per call. Zero
// fields keep the configured values.
type AdaptiveOptions struct {
	BaseMinutes int
	Factor      float64
	MinMinutes  int
	MaxMinutes  int
}

// ContinuationRequest describes a continuation check to install.
type ContinuationRequest struct {
	SessionName  string `json:"sessionName"`
	DelayMinutes int    `json:"delayMinutes"`
	AgentID      string `json:"agentId,omitempty"`
	ProjectPath  string `json:"projectPath,omitempty"`
}

// Stats reports check scheduler gauge and counter values.
type Stats struct {
	ActiveChecks  int            `json:"activeChecks"`
	ActiveTimers  int            `json:"activeTimers"`
	ByType        map[string]int `json:"byType"`
	TotalExecuted int64          `json:"totalExecuted"`
	TotalFailed   int64          `json:"totalFailed"`
}

// fireBuffer bounds how many fired-but-unexecuted check ids can pile up
// while a slow delivery holds the worker.
const fireBuffer = 64

// Service owns check timers, their in-memory registry and the single
// execution worker that serializes check deliveries.
type Service struct {
	cfg       Config
	store     checkStore
	deliverer checkDeliverer
	runtimes  runtimeSource
	eventBus  bus.EventBus
	logger    *logger.Logger

	collabMu     sync.Mutex
	continuation Continuation
	activity     ActivityMonitor

	checksMu sync.Mutex
	checks   map[string]v1.ScheduledCheck
	timers   map[string]*time.Timer

	fires chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	totalExecuted int64
	totalFailed   int64
}

// NewService builds the check scheduler. eventBus may be nil when check
// outcomes need no fan-out.
func NewService(cfg Config, st checkStore, d checkDeliverer, r runtimeSource, eventBus bus.EventBus, log *logger.Logger) *Service {
	def := DefaultConfig()
	if cfg.InitialCheckinMinutes <= 0 {
		cfg.InitialCheckinMinutes = def.InitialCheckinMinutes
	}
	if cfg.ProgressCheckMinutes <= 0 {
		cfg.ProgressCheckMinutes = def.ProgressCheckMinutes
	}
	if cfg.CommitReminderMinutes <= 0 {
		cfg.CommitReminderMinutes = def.CommitReminderMinutes
	}
	if cfg.AdaptiveBaseMinutes <= 0 {
		cfg.AdaptiveBaseMinutes = def.AdaptiveBaseMinutes
	}
	if cfg.AdaptiveFactor <= 0 {
		cfg.AdaptiveFactor = def.AdaptiveFactor
	}
	if cfg.AdaptiveMinMinutes <= 0 {
		cfg.AdaptiveMinMinutes = def.AdaptiveMinMinutes
	}
	if cfg.AdaptiveMaxMinutes <= 0 {
		cfg.AdaptiveMaxMinutes = def.AdaptiveMaxMinutes
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		deliverer: d,
		runtimes:  r,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "check-scheduler")),
		checks:    make(map[string]v1.ScheduledCheck),
		timers:    make(map[string]*time.Timer),
		fires:     make(chan string, fireBuffer),
		// Non-nil from construction so a timer firing before Start never
		// selects on a nil channel.
		stopCh: make(chan struct{}),
	}
}

// SetContinuation installs the collaborator continuation checks call.
// Without one they fall back to a regular check message.
func (s *Service) SetContinuation(c Continuation) {
	s.collabMu.Lock()
	s.continuation = c
	s.collabMu.Unlock()
}

// SetActivityMonitor installs the monitor adaptive check-ins consult.
// Without one they use the base interval.
func (s *Service) SetActivityMonitor(m ActivityMonitor) {
	s.collabMu.Lock()
	s.activity = m
	s.collabMu.Unlock()
}

func (s *Service) continuationPort() Continuation {
	s.collabMu.Lock()
	defer s.collabMu.Unlock()
	return s.continuation
}

func (s *Service) activityPort() ActivityMonitor {
	s.collabMu.Lock()
	defer s.collabMu.Unlock()
	return s.activity
}

// Start restores persisted checks and launches the execution worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrChecksAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	restored, discarded, err := s.restore(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.wg.Add(1)
	go s.worker(ctx, stopCh)

	s.logger.Info("check scheduler started",
		zap.Int("restored", restored),
		zap.Int("discarded_stale", discarded))
	return nil
}

// Stop halts the worker and wipes all in-memory state. Persisted checks
// stay on disk for the next Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrChecksNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	dropped := s.Cleanup()

	s.logger.Info("check scheduler stopped", zap.Int("dropped", dropped))
	return nil
}

// Cleanup cancels every timer and forgets all in-memory checks without
// touching their persisted records. Returns how many checks were dropped.
func (s *Service) Cleanup() int {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	dropped := len(s.checks)
	s.checks = make(map[string]v1.ScheduledCheck)
	return dropped
}

// restore reloads persisted checks. Recurring checks re-arm at
// now + interval with no catch-up; one-shots keep their remaining time, and
// those already past due are discarded as stale and pruned from disk.
func (s *Service) restore(ctx context.Context) (restored, discarded int, err error) {
	now := time.Now().UTC()

	recurring, err := s.store.LoadRecurringChecks(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load recurring checks: %w", err)
	}
	for i := range recurring {
		check := recurring[i]
		interval := checkInterval(check)
		if interval <= 0 {
			discarded++
			continue
		}
		check.ScheduledFor = now.Add(interval)
		s.track(check)
		s.armTimer(check.ID, interval)
		restored++
	}

	oneShots, err := s.store.LoadOneTimeChecks(ctx)
	if err != nil {
		return restored, discarded, fmt.Errorf("load one-time checks: %w", err)
	}
	kept := oneShots[:0]
	for i := range oneShots {
		check := oneShots[i]
		remaining := check.ScheduledFor.Sub(now)
		if remaining <= 0 {
			discarded++
			continue
		}
		kept = append(kept, check)
		s.track(check)
		s.armTimer(check.ID, remaining)
		restored++
	}
	if len(kept) != len(oneShots) {
		if err := s.store.SaveOneTimeChecks(ctx, kept); err != nil {
			s.logger.Warn("failed to prune stale one-time checks", zap.Error(err))
		}
	}
	return restored, discarded, nil
}

// ScheduleCheck installs a one-shot check firing after minutes. An empty
// message takes the type's stock text.
func (s *Service) ScheduleCheck(ctx context.Context, sessionName string, minutes int, message string, checkType v1.CheckType) (*v1.ScheduledCheck, error) {
	if err := validateCheck(sessionName, minutes); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	check := v1.ScheduledCheck{
		ID:              ulid.Make().String(),
		TargetSession:   sessionName,
		Message:         message,
		ScheduledFor:    now.Add(time.Duration(minutes) * time.Minute),
		IntervalMinutes: minutes,
		Type:            checkType,
		CreatedAt:       now,
	}
	if check.Message == "" {
		check.Message = defaultMessageFor(checkType)
	}

	if err := s.register(ctx, check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ScheduleRecurringCheck installs a recurring check. The next occurrence is
// armed only after the previous delivery completes, so a slow delivery
// pushes the cadence back instead of overlapping it. maxOccurrences 0 means
// unbounded.
func (s *Service) ScheduleRecurringCheck(ctx context.Context, sessionName string, intervalMinutes int, message string, checkType v1.CheckType, maxOccurrences int) (*v1.ScheduledCheck, error) {
	if err := validateCheck(sessionName, intervalMinutes); err != nil {
		return nil, err
	}
	if maxOccurrences < 0 {
		return nil, &ValidationError{Field: "maxOccurrences", Message: "maxOccurrences must not be negative"}
	}

	now := time.Now().UTC()
	check := v1.ScheduledCheck{
		ID:              ulid.Make().String(),
		TargetSession:   sessionName,
		Message:         message,
		ScheduledFor:    now.Add(time.Duration(intervalMinutes) * time.Minute),
		IntervalMinutes: intervalMinutes,
		IsRecurring:     true,
		Type:            checkType,
		Recurring: &v1.RecurringSpec{
			IntervalMinutes: intervalMinutes,
			MaxOccurrences:  maxOccurrences,
		},
		CreatedAt: now,
	}
	if check.Message == "" {
		check.Message = defaultMessageFor(checkType)
	}

	if err := s.register(ctx, check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ScheduleDefaultCheckins installs the standard trio for a fresh agent
// session: a one-shot initial check-in, a recurring progress check and a
// recurring commit reminder. Returns the three check ids in that order.
func (s *Service) ScheduleDefaultCheckins(ctx context.Context, sessionName string) ([]string, error) {
	initial, err := s.ScheduleCheck(ctx, sessionName, s.cfg.InitialCheckinMinutes, "", v1.CheckTypeCheckin)
	if err != nil {
		return nil, err
	}
	progress, err := s.ScheduleRecurringCheck(ctx, sessionName, s.cfg.ProgressCheckMinutes, "", v1.CheckTypeProgress, 0)
	if err != nil {
		return nil, err
	}
	commit, err := s.ScheduleRecurringCheck(ctx, sessionName, s.cfg.CommitReminderMinutes, "", v1.CheckTypeCommitReminder, 0)
	if err != nil {
		return nil, err
	}
	return []string{initial.ID, progress.ID, commit.ID}, nil
}

// ScheduleContinuationCheck installs a one-shot check that, on fire, raises
// a synthetic continuation event instead of a plain message.
func (s *Service) ScheduleContinuationCheck(ctx context.Context, req ContinuationRequest) (*v1.ScheduledCheck, error) {
	if err := validateCheck(req.SessionName, req.DelayMinutes); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	check := v1.ScheduledCheck{
		ID:              ulid.Make().String(),
		TargetSession:   req.SessionName,
		Message:         defaultMessageFor(v1.CheckTypeContinuation),
		ScheduledFor:    now.Add(time.Duration(req.DelayMinutes) * time.Minute),
		IntervalMinutes: req.DelayMinutes,
		Type:            v1.CheckTypeContinuation,
		AgentID:         req.AgentID,
		ProjectPath:     req.ProjectPath,
		CreatedAt:       now,
	}

	if err := s.register(ctx, check); err != nil {
		return nil, err
	}
	return &check, nil
}

// ScheduleAdaptiveCheckin installs a one-shot check-in whose interval bends
// to session activity: a busy session is checked later, an idle one sooner.
// Activity is sampled once, now; the installed check does not re-evaluate.
func (s *Service) ScheduleAdaptiveCheckin(ctx context.Context, sessionName string, opts *AdaptiveOptions) (*v1.ScheduledCheck, error) {
	if sessionName == "" {
		return nil, &ValidationError{Field: "sessionName", Message: "session name is required"}
	}

	base := s.cfg.AdaptiveBaseMinutes
	factor := s.cfg.AdaptiveFactor
	lo := s.cfg.AdaptiveMinMinutes
	hi := s.cfg.AdaptiveMaxMinutes
	if opts != nil {
		if opts.BaseMinutes > 0 {
			base = opts.BaseMinutes
		}
		if opts.Factor > 0 {
			factor = opts.Factor
		}
		if opts.MinMinutes > 0 {
			lo = opts.MinMinutes
		}
		if opts.MaxMinutes > 0 {
			hi = opts.MaxMinutes
		}
	}

	minutes := float64(base)
	if mon := s.activityPort(); mon != nil {
		activity, err := mon.SessionActivity(ctx, sessionName)
		switch {
		case err != nil:
			s.logger.Debug("activity monitor unavailable, using base interval",
				zap.String("session", sessionName),
				zap.Error(err))
		case activity == ActivityInProgress:
			minutes = float64(base) * factor
		case activity == ActivityIdle:
			minutes = float64(base) / factor
		}
	}
	minutes = math.Min(math.Max(minutes, float64(lo)), float64(hi))

	return s.ScheduleCheck(ctx, sessionName, int(math.Round(minutes)), "", v1.CheckTypeAdaptive)
}

// CancelCheck stops the timer and forgets the check, in memory and on disk.
// Reports whether the check existed.
func (s *Service) CancelCheck(ctx context.Context, id string) bool {
	s.checksMu.Lock()
	check, ok := s.checks[id]
	delete(s.checks, id)
	if t, armed := s.timers[id]; armed {
		t.Stop()
		delete(s.timers, id)
	}
	s.checksMu.Unlock()
	if !ok {
		return false
	}

	if err := s.store.DeleteCheck(ctx, id); err != nil {
		s.logger.Warn("failed to delete cancelled check",
			zap.String("check_id", id),
			zap.Error(err))
	}

	s.publish(ctx, events.CheckCancelled, check.TargetSession, map[string]interface{}{
		"checkId": id,
		"session": check.TargetSession,
		"type":    string(check.Type),
	})
	s.logger.Info("check cancelled",
		zap.String("check_id", id),
		zap.String("session", check.TargetSession),
		zap.String("type", string(check.Type)))
	return true
}

// CancelAllChecksForSession cancels every check aimed at sessionName and
// returns how many were cancelled.
func (s *Service) CancelAllChecksForSession(ctx context.Context, sessionName string) int {
	s.checksMu.Lock()
	ids := make([]string, 0, len(s.checks))
	for id, c := range s.checks {
		if c.TargetSession == sessionName {
			ids = append(ids, id)
		}
	}
	s.checksMu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if s.CancelCheck(ctx, id) {
			cancelled++
		}
	}
	return cancelled
}

// ListScheduledChecks returns all in-memory checks ordered by next firing.
func (s *Service) ListScheduledChecks() []v1.ScheduledCheck {
	s.checksMu.Lock()
	out := make([]v1.ScheduledCheck, 0, len(s.checks))
	for _, c := range s.checks {
		out = append(out, c)
	}
	s.checksMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

// GetChecksForSession returns the checks aimed at sessionName, ordered by
// next firing.
func (s *Service) GetChecksForSession(sessionName string) []v1.ScheduledCheck {
	all := s.ListScheduledChecks()
	out := all[:0]
	for _, c := range all {
		if c.TargetSession == sessionName {
			out = append(out, c)
		}
	}
	return out
}

// GetStats returns current gauge and counter values.
func (s *Service) GetStats() Stats {
	s.checksMu.Lock()
	stats := Stats{
		ActiveChecks: len(s.checks),
		ActiveTimers: len(s.timers),
		ByType:       make(map[string]int),
	}
	for _, c := range s.checks {
		stats.ByType[string(c.Type)]++
	}
	s.checksMu.Unlock()

	stats.TotalExecuted = atomic.LoadInt64(&s.totalExecuted)
	stats.TotalFailed = atomic.LoadInt64(&s.totalFailed)
	return stats
}

// register persists the check, records it in memory and arms its timer.
func (s *Service) register(ctx context.Context, check v1.ScheduledCheck) error {
	if err := s.store.UpsertCheck(ctx, check); err != nil {
		return fmt.Errorf("persist check: %w", err)
	}

	s.track(check)
	s.armTimer(check.ID, time.Until(check.ScheduledFor))

	s.publish(ctx, events.CheckScheduled, check.TargetSession, map[string]interface{}{
		"checkId":   check.ID,
		"session":   check.TargetSession,
		"type":      string(check.Type),
		"minutes":   check.IntervalMinutes,
		"recurring": check.IsRecurring,
	})
	s.logger.Info("check scheduled",
		zap.String("check_id", check.ID),
		zap.String("session", check.TargetSession),
		zap.String("type", string(check.Type)),
		zap.Int("minutes", check.IntervalMinutes),
		zap.Bool("recurring", check.IsRecurring))
	return nil
}

func (s *Service) track(check v1.ScheduledCheck) {
	s.checksMu.Lock()
	s.checks[check.ID] = check
	s.checksMu.Unlock()
}

// armTimer installs the firing timer for id, replacing any existing one.
func (s *Service) armTimer(id string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	s.checksMu.Lock()
	defer s.checksMu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.onFire(id) })
}

// onFire hands a fired check id to the execution worker. Execution happens
// off the timer goroutine so deliveries serialize.
func (s *Service) onFire(id string) {
	select {
	case s.fires <- id:
	case <-s.stopChan():
	}
}

func (s *Service) stopChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh
}

func (s *Service) publish(ctx context.Context, eventType, sessionName string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "check-scheduler", data)
	if err := s.eventBus.Publish(ctx, events.BuildSessionSubject(eventType, sessionName), evt); err != nil {
		s.logger.Debug("event publish failed",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// checkInterval returns the recurrence interval, preferring the top-level
// minutes and falling back to the recurrence spec.
func checkInterval(check v1.ScheduledCheck) time.Duration {
	minutes := check.IntervalMinutes
	if minutes <= 0 && check.Recurring != nil {
		minutes = check.Recurring.IntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// defaultMessageFor returns the stock text for a check type.
func defaultMessageFor(t v1.CheckType) string {
	switch t {
	case v1.CheckTypeCheckin:
		return "Initial check-in: confirm you picked up your assignment and post a short plan."
	case v1.CheckTypeProgress:
		return "Progress check: summarize what you finished since the last update and what you are working on now."
	case v1.CheckTypeCommitReminder:
		return "Commit reminder: commit and push your work in progress if you have not done so recently."
	case v1.CheckTypeContinuation:
		return "Continue your current task. If it is complete, take the next open task from the board."
	case v1.CheckTypeAdaptive:
		return "Check-in: report your status and keep going."
	}
	return "Check-in: report your status."
}

func validateCheck(sessionName string, minutes int) error {
	if sessionName == "" {
		return &ValidationError{Field: "sessionName", Message: "session name is required"}
	}
	if minutes <= 0 {
		return &ValidationError{Field: "minutes", Message: "interval must be a positive number of minutes"}
	}
	return nil
}
