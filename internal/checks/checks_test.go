package checks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// fakeDeliverer records every delivery request.
type fakeDeliverer struct {
	mu    sync.Mutex
	calls []delivery.Request
	fail  bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.fail {
		return delivery.Result{Success: false, Attempts: 3, Error: "delivery not verified after attempt 3"}
	}
	return delivery.Result{Success: true, Attempts: 1}
}

func (f *fakeDeliverer) snapshot() []delivery.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivery.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeRuntimes struct{}

func (fakeRuntimes) RuntimeFor(ctx context.Context, sessionName string) v1.RuntimeType {
	return v1.RuntimeClaudeCode
}

// fakeContinuation records continuation events and can refuse them.
type fakeContinuation struct {
	mu     sync.Mutex
	events []ContinuationEvent
	fail   bool
}

func (f *fakeContinuation) Continue(ctx context.Context, evt ContinuationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("collaborator offline")
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeContinuation) snapshot() []ContinuationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContinuationEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeMonitor struct {
	activity SessionActivity
	err      error
}

func (f fakeMonitor) SessionActivity(ctx context.Context, sessionName string) (SessionActivity, error) {
	return f.activity, f.err
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func newTestChecks(t *testing.T) (*Service, *store.Store, *fakeDeliverer) {
	t.Helper()
	log := testLogger(t)
	st, err := store.New(store.DefaultConfig(t.TempDir()), log)
	require.NoError(t, err)

	fd := &fakeDeliverer{}
	svc := NewService(DefaultConfig(), st, fd, fakeRuntimes{}, nil, log)
	return svc, st, fd
}

func timerCount(svc *Service) int {
	svc.checksMu.Lock()
	defer svc.checksMu.Unlock()
	return len(svc.timers)
}

func TestScheduleCheckValidatesInput(t *testing.T) {
	svc, _, _ := newTestChecks(t)
	ctx := context.Background()

	_, err := svc.ScheduleCheck(ctx, "", 5, "hello", v1.CheckTypeCheckin)
	ve, ok := IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "sessionName", ve.Field)

	_, err = svc.ScheduleCheck(ctx, "crewly-dev-1", 0, "hello", v1.CheckTypeCheckin)
	ve, ok = IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "minutes", ve.Field)

	_, err = svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 10, "hello", v1.CheckTypeProgress, -1)
	ve, ok = IsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "maxOccurrences", ve.Field)

	assert.Zero(t, timerCount(svc))
}

func TestScheduleCheckPersistsAndArms(t *testing.T) {
	svc, st, _ := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleCheck(ctx, "crewly-dev-1", 5, "", v1.CheckTypeCheckin)
	require.NoError(t, err)
	require.NotEmpty(t, check.ID)
	assert.False(t, check.IsRecurring)
	assert.Equal(t, defaultMessageFor(v1.CheckTypeCheckin), check.Message,
		"empty message takes the stock text")
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), check.ScheduledFor, 5*time.Second)

	oneShots, err := st.LoadOneTimeChecks(ctx)
	require.NoError(t, err)
	require.Len(t, oneShots, 1)
	assert.Equal(t, check.ID, oneShots[0].ID)

	recurring, err := st.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, recurring)

	assert.Equal(t, 1, timerCount(svc))
	assert.Len(t, svc.GetChecksForSession("crewly-dev-1"), 1)
}

func TestScheduleRecurringCheckPersists(t *testing.T) {
	svc, st, _ := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 30, "status?", v1.CheckTypeProgress, 4)
	require.NoError(t, err)
	assert.True(t, check.IsRecurring)
	require.NotNil(t, check.Recurring)
	assert.Equal(t, 30, check.Recurring.IntervalMinutes)
	assert.Equal(t, 4, check.Recurring.MaxOccurrences)
	assert.Zero(t, check.Recurring.CurrentOccurrence)

	recurring, err := st.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	require.Len(t, recurring, 1)
	assert.Equal(t, "status?", recurring[0].Message)

	oneShots, err := st.LoadOneTimeChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, oneShots)
}

func TestScheduleDefaultCheckins(t *testing.T) {
	svc, _, _ := newTestChecks(t)
	ctx := context.Background()

	ids, err := svc.ScheduleDefaultCheckins(ctx, "crewly-dev-1")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	checks := svc.GetChecksForSession("crewly-dev-1")
	require.Len(t, checks, 3)

	byType := make(map[v1.CheckType]v1.ScheduledCheck, 3)
	for _, c := range checks {
		byType[c.Type] = c
	}

	initial := byType[v1.CheckTypeCheckin]
	assert.Equal(t, ids[0], initial.ID)
	assert.False(t, initial.IsRecurring)
	assert.Equal(t, 5, initial.IntervalMinutes)

	progress := byType[v1.CheckTypeProgress]
	assert.Equal(t, ids[1], progress.ID)
	assert.True(t, progress.IsRecurring)
	assert.Equal(t, 30, progress.IntervalMinutes)

	commit := byType[v1.CheckTypeCommitReminder]
	assert.Equal(t, ids[2], commit.ID)
	assert.True(t, commit.IsRecurring)
	assert.Equal(t, 25, commit.IntervalMinutes)

	stats := svc.GetStats()
	assert.Equal(t, 3, stats.ActiveChecks)
	assert.Equal(t, 3, stats.ActiveTimers)
	assert.Equal(t, 1, stats.ByType[string(v1.CheckTypeProgress)])
}

func TestExecuteOneShotDeliversAndDeletes(t *testing.T) {
	svc, st, fd := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleCheck(ctx, "crewly-dev-1", 5, "confirm your assignment", v1.CheckTypeCheckin)
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)

	calls := fd.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "crewly-dev-1", calls[0].SessionName)
	assert.Equal(t, "confirm your assignment", calls[0].Payload)
	assert.Equal(t, v1.RuntimeClaudeCode, calls[0].Runtime)

	assert.Empty(t, svc.ListScheduledChecks(), "a finished one-shot leaves memory")
	oneShots, err := st.LoadOneTimeChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, oneShots, "a finished one-shot leaves disk")

	logs := st.RecentDeliveryLogs(0)
	require.Len(t, logs, 1)
	assert.Equal(t, "check:check-in", logs[0].MessageName)
	assert.True(t, logs[0].Success)

	stats := svc.GetStats()
	assert.EqualValues(t, 1, stats.TotalExecuted)
	assert.Zero(t, stats.TotalFailed)
	assert.Zero(t, stats.ActiveTimers)
}

func TestExecuteRecurringReArmsAfterDelivery(t *testing.T) {
	svc, st, fd := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 30, "", v1.CheckTypeProgress, 0)
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)

	require.Len(t, fd.snapshot(), 1)

	live := svc.GetChecksForSession("crewly-dev-1")
	require.Len(t, live, 1, "an unbounded recurring check stays live")
	require.NotNil(t, live[0].Recurring)
	assert.Equal(t, 1, live[0].Recurring.CurrentOccurrence)
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Minute), live[0].ScheduledFor, 5*time.Second,
		"next occurrence is armed from completion time")
	assert.Equal(t, 1, timerCount(svc))

	recurring, err := st.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	require.Len(t, recurring, 1)
	assert.Equal(t, 1, recurring[0].Recurring.CurrentOccurrence)
}

func TestRecurringCheckStopsAtMaxOccurrences(t *testing.T) {
	svc, st, fd := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 10, "", v1.CheckTypeProgress, 2)
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)
	require.Len(t, svc.ListScheduledChecks(), 1, "first occurrence re-arms")

	svc.executeCheck(ctx, check.ID)
	assert.Len(t, fd.snapshot(), 2)
	assert.Empty(t, svc.ListScheduledChecks(), "second occurrence hits the cap")
	assert.Zero(t, timerCount(svc))

	recurring, err := st.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, recurring, "a capped check leaves disk")
}

func TestContinuationCheckPrefersCollaborator(t *testing.T) {
	svc, _, fd := newTestChecks(t)
	ctx := context.Background()

	fc := &fakeContinuation{}
	svc.SetContinuation(fc)

	check, err := svc.ScheduleContinuationCheck(ctx, ContinuationRequest{
		SessionName:  "crewly-dev-1",
		DelayMinutes: 3,
		AgentID:      "agent-7",
		ProjectPath:  "/work/gas-vibe-coder",
	})
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)

	events := fc.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, ContinuationTriggerExplicit, events[0].Trigger)
	assert.Equal(t, "crewly-dev-1", events[0].SessionName)
	assert.Equal(t, "agent-7", events[0].AgentID)
	assert.Equal(t, "/work/gas-vibe-coder", events[0].ProjectPath)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Empty(t, fd.snapshot(), "collaborator handled it, no message sent")
}

func TestContinuationFallsBackWhenCollaboratorFails(t *testing.T) {
	svc, _, fd := newTestChecks(t)
	ctx := context.Background()

	svc.SetContinuation(&fakeContinuation{fail: true})

	check, err := svc.ScheduleContinuationCheck(ctx, ContinuationRequest{
		SessionName:  "crewly-dev-1",
		DelayMinutes: 3,
	})
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)

	calls := fd.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, defaultMessageFor(v1.CheckTypeContinuation), calls[0].Payload)
}

func TestContinuationWithoutCollaboratorDelivers(t *testing.T) {
	svc, _, fd := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleContinuationCheck(ctx, ContinuationRequest{
		SessionName:  "crewly-dev-1",
		DelayMinutes: 3,
	})
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)

	require.Len(t, fd.snapshot(), 1)
}

func TestAdaptiveIntervalBendsToActivity(t *testing.T) {
	ctx := context.Background()
	opts := &AdaptiveOptions{BaseMinutes: 20, Factor: 2.0, MinMinutes: 5, MaxMinutes: 30}

	cases := []struct {
		name    string
		monitor ActivityMonitor
		want    int
	}{
		{"busy doubles", fakeMonitor{activity: ActivityInProgress}, 30}, // 40 clamped to max
		{"idle halves", fakeMonitor{activity: ActivityIdle}, 10},
		{"monitor error uses base", fakeMonitor{err: errors.New("no signal")}, 20},
		{"no monitor uses base", nil, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestChecks(t)
			if tc.monitor != nil {
				svc.SetActivityMonitor(tc.monitor)
			}

			check, err := svc.ScheduleAdaptiveCheckin(ctx, "crewly-dev-1", opts)
			require.NoError(t, err)
			assert.Equal(t, v1.CheckTypeAdaptive, check.Type)
			assert.Equal(t, tc.want, check.IntervalMinutes)
			assert.False(t, check.IsRecurring)
		})
	}
}

func TestCancelCheckRemovesEverywhere(t *testing.T) {
	svc, st, _ := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 30, "", v1.CheckTypeProgress, 0)
	require.NoError(t, err)

	assert.True(t, svc.CancelCheck(ctx, check.ID))
	assert.Empty(t, svc.ListScheduledChecks())
	assert.Zero(t, timerCount(svc))

	recurring, err := st.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, recurring)

	assert.False(t, svc.CancelCheck(ctx, check.ID), "second cancel finds nothing")
	assert.False(t, svc.CancelCheck(ctx, "no-such-check"))
}

func TestCancelAllChecksForSession(t *testing.T) {
	svc, _, _ := newTestChecks(t)
	ctx := context.Background()

	_, err := svc.ScheduleCheck(ctx, "crewly-dev-1", 5, "", v1.CheckTypeCheckin)
	require.NoError(t, err)
	_, err = svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 30, "", v1.CheckTypeProgress, 0)
	require.NoError(t, err)
	_, err = svc.ScheduleCheck(ctx, "crewly-qa-1", 5, "", v1.CheckTypeCheckin)
	require.NoError(t, err)

	assert.Equal(t, 2, svc.CancelAllChecksForSession(ctx, "crewly-dev-1"))
	assert.Empty(t, svc.GetChecksForSession("crewly-dev-1"))
	assert.Len(t, svc.GetChecksForSession("crewly-qa-1"), 1)
}

func TestStartRestoresPersistedChecks(t *testing.T) {
	svc, st, _ := newTestChecks(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recurring := []v1.ScheduledCheck{
		{
			ID: ulid.Make().String(), TargetSession: "crewly-dev-1",
			Message: "status?", ScheduledFor: now.Add(-3 * time.Hour),
			IntervalMinutes: 10, IsRecurring: true, Type: v1.CheckTypeProgress,
			Recurring: &v1.RecurringSpec{IntervalMinutes: 10},
			CreatedAt: now.Add(-4 * time.Hour),
		},
		{
			ID: ulid.Make().String(), TargetSession: "crewly-dev-1",
			Message: "commit?", ScheduledFor: now.Add(-3 * time.Hour),
			IntervalMinutes: 5, IsRecurring: true, Type: v1.CheckTypeCommitReminder,
			Recurring: &v1.RecurringSpec{IntervalMinutes: 5},
			CreatedAt: now.Add(-4 * time.Hour),
		},
	}
	require.NoError(t, st.SaveRecurringChecks(ctx, recurring))

	freshID := ulid.Make().String()
	oneShots := []v1.ScheduledCheck{
		{
			ID: freshID, TargetSession: "crewly-dev-1",
			Message: "ping", ScheduledFor: now.Add(2 * time.Minute),
			IntervalMinutes: 2, Type: v1.CheckTypeCheckin, CreatedAt: now,
		},
		{
			ID: ulid.Make().String(), TargetSession: "crewly-dev-1",
			Message: "stale", ScheduledFor: now.Add(-10 * time.Minute),
			IntervalMinutes: 2, Type: v1.CheckTypeCheckin, CreatedAt: now.Add(-time.Hour),
		},
	}
	require.NoError(t, st.SaveOneTimeChecks(ctx, oneShots))

	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })

	live := svc.ListScheduledChecks()
	require.Len(t, live, 3, "two recurring plus the fresh one-shot")
	assert.Equal(t, 3, timerCount(svc))

	byID := make(map[string]v1.ScheduledCheck, len(live))
	for _, c := range live {
		byID[c.ID] = c
	}

	assert.WithinDuration(t, now.Add(10*time.Minute), byID[recurring[0].ID].ScheduledFor, 5*time.Second,
		"recurring restores at now plus interval, no catch-up")
	assert.WithinDuration(t, now.Add(5*time.Minute), byID[recurring[1].ID].ScheduledFor, 5*time.Second)
	assert.WithinDuration(t, oneShots[0].ScheduledFor, byID[freshID].ScheduledFor, time.Second,
		"a fresh one-shot keeps its original firing time")

	remaining, err := st.LoadOneTimeChecks(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1, "the stale one-shot is pruned from disk")
	assert.Equal(t, freshID, remaining[0].ID)

	require.NoError(t, svc.Stop())
	assert.Empty(t, svc.ListScheduledChecks(), "stop wipes in-memory state")
	assert.Zero(t, timerCount(svc))

	persisted, err := st.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 2, "stop keeps persisted checks for the next start")
}

func TestLifecycleErrors(t *testing.T) {
	svc, _, _ := newTestChecks(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Stop(), ErrChecksNotRunning)
	require.NoError(t, svc.Start(ctx))
	require.ErrorIs(t, svc.Start(ctx), ErrChecksAlreadyRunning)
	require.NoError(t, svc.Stop())
}

func TestWorkerExecutesFiredChecks(t *testing.T) {
	svc, _, fd := newTestChecks(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })

	check, err := svc.ScheduleCheck(ctx, "crewly-dev-1", 30, "ping", v1.CheckTypeCheckin)
	require.NoError(t, err)

	svc.onFire(check.ID)

	require.Eventually(t, func() bool {
		return len(fd.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ping", fd.snapshot()[0].Payload)
	assert.Empty(t, svc.ListScheduledChecks())
}

func TestFireBeforeStartDrainsAfterStart(t *testing.T) {
	svc, _, fd := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleCheck(ctx, "crewly-dev-1", 5, "ping", v1.CheckTypeCheckin)
	require.NoError(t, err)

	// A timer firing before Start parks the id in the buffer; the worker
	// picks it up once the scheduler is running.
	svc.onFire(check.ID)

	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })

	require.Eventually(t, func() bool {
		return len(fd.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ping", fd.snapshot()[0].Payload)
}

func TestFailedDeliveryCountsAsFailed(t *testing.T) {
	svc, st, fd := newTestChecks(t)
	ctx := context.Background()
	fd.fail = true

	check, err := svc.ScheduleCheck(ctx, "crewly-dev-1", 5, "", v1.CheckTypeCheckin)
	require.NoError(t, err)

	svc.executeCheck(ctx, check.ID)

	stats := svc.GetStats()
	assert.Zero(t, stats.TotalExecuted)
	assert.EqualValues(t, 1, stats.TotalFailed)

	logs := st.RecentDeliveryLogs(0)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "delivery not verified after attempt 3", logs[0].Error)

	assert.Empty(t, svc.ListScheduledChecks(), "a failed one-shot is still consumed")
}

func TestCancelBeforeExecutionSkipsDelivery(t *testing.T) {
	svc, _, fd := newTestChecks(t)
	ctx := context.Background()

	check, err := svc.ScheduleRecurringCheck(ctx, "crewly-dev-1", 30, "", v1.CheckTypeProgress, 0)
	require.NoError(t, err)

	// A cancel landing between the timer firing and the worker picking the
	// check up wins: nothing is delivered, nothing re-arms.
	require.True(t, svc.CancelCheck(ctx, check.ID))
	svc.executeCheck(ctx, check.ID)

	assert.Empty(t, fd.snapshot())
	assert.Empty(t, svc.ListScheduledChecks())
	assert.Zero(t, timerCount(svc))
}
