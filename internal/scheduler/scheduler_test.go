package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

type deliveryCall struct {
	session string
	payload string
	enter   time.Time
	exit    time.Time
}

// fakeDeliverer records every call and can simulate slow or failing
// deliveries. overlap flips if two calls ever run concurrently.
type fakeDeliverer struct {
	mu       sync.Mutex
	calls    []deliveryCall
	inFlight int32
	overlap  bool
	work     time.Duration
	fail     bool
}

func (f *fakeDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.mu.Lock()
		f.overlap = true
		f.mu.Unlock()
	}
	enter := time.Now()
	if f.work > 0 {
		time.Sleep(f.work)
	}
	exit := time.Now()
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deliveryCall{
		session: req.SessionName,
		payload: req.Payload,
		enter:   enter,
		exit:    exit,
	})
	if f.fail {
		return delivery.Result{Success: false, Attempts: 3, Error: "delivery not verified after attempt 3"}
	}
	return delivery.Result{Success: true, Attempts: 1}
}

func (f *fakeDeliverer) snapshot() []deliveryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]deliveryCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeDeliverer) overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

type fakeResolver struct{}

func (fakeResolver) ResolveTarget(ctx context.Context, target string) string {
	if target == v1.OrchestratorTarget {
		return v1.DefaultOrchestratorSession
	}
	return target
}

func (fakeResolver) RuntimeFor(ctx context.Context, sessionName string) v1.RuntimeType {
	return v1.RuntimeClaudeCode
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

func newTestScheduler(t *testing.T, quantum time.Duration) (*Service, *store.Store, *fakeDeliverer) {
	t.Helper()
	log := testLogger(t)
	st, err := store.New(store.DefaultConfig(t.TempDir()), log)
	require.NoError(t, err)

	fd := &fakeDeliverer{}
	svc := NewService(Config{Quantum: quantum}, st, fd, fakeResolver{}, nil, log)
	return svc, st, fd
}

func oneHourMessage(name, target string) v1.ScheduledMessage {
	return v1.ScheduledMessage{
		Name:        name,
		TargetTeam:  target,
		Message:     "check in from " + name,
		DelayAmount: 1,
		DelayUnit:   v1.DelayUnitHours,
		IsActive:    true,
	}
}

func TestScheduleMessageValidatesInput(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	cases := []struct {
		name  string
		mut   func(*v1.ScheduledMessage)
		field string
	}{
		{"missing name", func(m *v1.ScheduledMessage) { m.Name = "" }, "name"},
		{"missing target", func(m *v1.ScheduledMessage) { m.TargetTeam = "" }, "targetTeam"},
		{"missing text", func(m *v1.ScheduledMessage) { m.Message = "" }, "message"},
		{"zero delay", func(m *v1.ScheduledMessage) { m.DelayAmount = 0 }, "delayAmount"},
		{"days unit", func(m *v1.ScheduledMessage) { m.DelayUnit = "days" }, "delayUnit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := oneHourMessage("standup", "crewly-beta-dev")
			tc.mut(&m)

			_, err := svc.ScheduleMessage(ctx, m)
			require.Error(t, err)
			ve, ok := IsValidation(err)
			require.True(t, ok)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	msgs, err := st.ListScheduledMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected messages must not persist")
	assert.Equal(t, 0, svc.Stats().ActiveTimers)
}

func TestScheduleMessagePersistsAndArms(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	saved, err := svc.ScheduleMessage(ctx, oneHourMessage("standup", "crewly-beta-dev"))
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Equal(t, 1, svc.Stats().ActiveTimers)

	stored, err := st.GetScheduledMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "standup", stored.Name)
	assert.True(t, stored.IsActive)

	// Re-scheduling the same id replaces the timer instead of stacking one.
	saved.DelayAmount = 2
	_, err = svc.ScheduleMessage(ctx, *saved)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Stats().ActiveTimers)
}

func TestScheduleInactiveMessagePersistsWithoutTimer(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	m := oneHourMessage("paused reminder", "crewly-beta-dev")
	m.IsActive = false
	saved, err := svc.ScheduleMessage(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, 0, svc.Stats().ActiveTimers)
	stored, err := st.GetScheduledMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestCancelMessageKeepsPersistedRecord(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	saved, err := svc.ScheduleMessage(ctx, oneHourMessage("standup", "crewly-beta-dev"))
	require.NoError(t, err)
	require.Equal(t, 1, svc.Stats().ActiveTimers)

	assert.True(t, svc.CancelMessage(ctx, saved.ID))
	assert.Equal(t, 0, svc.Stats().ActiveTimers)

	stored, err := st.GetScheduledMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive, "cancel only clears the timer")

	assert.False(t, svc.CancelMessage(ctx, saved.ID))
}

func TestDeleteMessageRemovesRecordAndTimer(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	saved, err := svc.ScheduleMessage(ctx, oneHourMessage("standup", "crewly-beta-dev"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMessage(ctx, saved.ID))
	assert.Equal(t, 0, svc.Stats().ActiveTimers)

	_, err = st.GetScheduledMessage(ctx, saved.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestExecuteMessageDeliversWrappedPayload(t *testing.T) {
	svc, st, fd := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	saved, err := svc.ScheduleMessage(ctx, oneHourMessage("standup", "crewly-beta-dev"))
	require.NoError(t, err)

	svc.executeMessage(ctx, *saved)

	calls := fd.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "crewly-beta-dev", calls[0].session)
	assert.Contains(t, calls[0].payload, "check in from standup")
	assert.True(t, strings.HasPrefix(calls[0].payload, continuationPrologue))
	assert.True(t, strings.HasSuffix(calls[0].payload, continuationEpilogue))

	stored, err := st.GetScheduledMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "one-shot deactivates after execution")
	require.NotNil(t, stored.LastRun)

	logs := st.RecentDeliveryLogs(0)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, saved.ID, logs[0].ScheduledMessageID)
	assert.Equal(t, "check in from standup", logs[0].Message, "log keeps the unwrapped text")

	assert.Equal(t, int64(1), svc.Stats().TotalDelivered)
}

func TestExecuteMessageRecurringStaysActive(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	m := oneHourMessage("progress ping", "crewly-beta-dev")
	m.IsRecurring = true
	saved, err := svc.ScheduleMessage(ctx, m)
	require.NoError(t, err)

	svc.executeMessage(ctx, *saved)

	stored, err := st.GetScheduledMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	require.NotNil(t, stored.LastRun)
}

func TestExecuteMessageFailureIsLoggedAndCounted(t *testing.T) {
	svc, st, fd := newTestScheduler(t, time.Millisecond)
	fd.fail = true
	ctx := context.Background()

	saved, err := svc.ScheduleMessage(ctx, oneHourMessage("standup", "crewly-beta-dev"))
	require.NoError(t, err)

	svc.executeMessage(ctx, *saved)

	logs := st.RecentDeliveryLogs(0)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Contains(t, logs[0].Error, "not verified")

	stored, err := st.GetScheduledMessage(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "a failed one-shot is still consumed")
	assert.Equal(t, int64(1), svc.Stats().TotalFailed)
}

func TestOrphanedMessageSkipsDelivery(t *testing.T) {
	svc, st, fd := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	m := oneHourMessage("standup", "crewly-beta-dev")
	m.TargetProject = "ghost-proj"
	m.IsRecurring = true
	saved, err := svc.ScheduleMessage(ctx, m)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })

	// The project was deleted between scheduling and firing; here it never
	// existed at all, which the store reports the same way.
	svc.onFire(saved.ID)

	require.Eventually(t, func() bool {
		stored, err := st.GetScheduledMessage(ctx, saved.ID)
		return err == nil && !stored.IsActive
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, fd.snapshot(), "orphaned messages are never delivered")
	assert.Equal(t, 0, svc.Stats().ActiveTimers, "orphaning cancels the re-armed timer")

	logs := st.RecentDeliveryLogs(0)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, v1.DeliveryErrorOrphaned, logs[0].Error)
	assert.Equal(t, saved.ID, logs[0].ScheduledMessageID)
}

func TestSequentialExecutionKeepsQuantum(t *testing.T) {
	const quantum = 30 * time.Millisecond
	svc, _, fd := newTestScheduler(t, quantum)
	fd.work = 5 * time.Millisecond
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		m := oneHourMessage(name, "crewly-beta-dev")
		m.IsRecurring = true
		saved, err := svc.ScheduleMessage(ctx, m)
		require.NoError(t, err)
		ids = append(ids, saved.ID)
	}

	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })

	for _, id := range ids {
		svc.onFire(id)
	}

	require.Eventually(t, func() bool {
		return len(fd.snapshot()) == 3
	}, 3*time.Second, 10*time.Millisecond)

	calls := fd.snapshot()
	assert.False(t, fd.overlapped(), "executions must not run concurrently")
	assert.Contains(t, calls[0].payload, "check in from first")
	assert.Contains(t, calls[1].payload, "check in from second")
	assert.Contains(t, calls[2].payload, "check in from third")

	for i := 1; i < len(calls); i++ {
		gap := calls[i].enter.Sub(calls[i-1].exit)
		assert.GreaterOrEqual(t, gap, time.Duration(quantum),
			"deliveries %d and %d ran closer than the quantum", i-1, i)
	}
}

func TestStartRestoresActiveTimersOnly(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	for _, m := range []v1.ScheduledMessage{
		oneHourMessage("alpha", "crewly-alpha-dev"),
		oneHourMessage("beta", "crewly-beta-dev"),
	} {
		_, err := st.UpsertScheduledMessage(ctx, m)
		require.NoError(t, err)
	}
	inactive := oneHourMessage("dormant", "crewly-gamma-dev")
	inactive.IsActive = false
	_, err := st.UpsertScheduledMessage(ctx, inactive)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, 2, svc.Stats().ActiveTimers)
	assert.ErrorIs(t, svc.Start(ctx), ErrSchedulerAlreadyRunning)

	require.NoError(t, svc.Stop())
	assert.Equal(t, 0, svc.Stats().ActiveTimers)
	assert.Equal(t, 0, svc.Stats().QueuedMessages)
	assert.ErrorIs(t, svc.Stop(), ErrSchedulerNotRunning)

	// Restart re-arms from the store again.
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, 2, svc.Stats().ActiveTimers)
	require.NoError(t, svc.Stop())
}

func TestRescheduleAllReArmsActiveMessages(t *testing.T) {
	svc, _, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	first, err := svc.ScheduleMessage(ctx, oneHourMessage("alpha", "crewly-alpha-dev"))
	require.NoError(t, err)
	_, err = svc.ScheduleMessage(ctx, oneHourMessage("beta", "crewly-beta-dev"))
	require.NoError(t, err)

	count, err := svc.RescheduleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, svc.Stats().ActiveTimers)

	// Deactivating one shrinks the next reschedule pass.
	first.IsActive = false
	_, err = svc.ScheduleMessage(ctx, *first)
	require.NoError(t, err)

	count, err = svc.RescheduleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, svc.Stats().ActiveTimers)
}

func TestCleanupOrphanedMessages(t *testing.T) {
	svc, st, _ := newTestScheduler(t, time.Millisecond)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := st.CreateProject(ctx, v1.Project{
		ID:        "p1",
		Name:      "gas-vibe-coder",
		Path:      t.TempDir(),
		Status:    v1.ProjectStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	alive := oneHourMessage("alive", "crewly-alpha-dev")
	alive.TargetProject = "p1"
	savedAlive, err := svc.ScheduleMessage(ctx, alive)
	require.NoError(t, err)

	ghost := oneHourMessage("ghost", "crewly-beta-dev")
	ghost.TargetProject = "p-deleted"
	savedGhost, err := svc.ScheduleMessage(ctx, ghost)
	require.NoError(t, err)

	_, err = svc.ScheduleMessage(ctx, oneHourMessage("team only", "crewly-gamma-dev"))
	require.NoError(t, err)

	report, err := svc.CleanupOrphanedMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Deactivated)
	assert.Empty(t, report.Errors)

	stored, err := st.GetScheduledMessage(ctx, savedGhost.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	stored, err = st.GetScheduledMessage(ctx, savedAlive.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	assert.Equal(t, 2, svc.Stats().ActiveTimers)
}

func TestSchedulerPublishesLifecycleEvents(t *testing.T) {
	log := testLogger(t)
	st, err := store.New(store.DefaultConfig(t.TempDir()), log)
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	fd := &fakeDeliverer{}
	svc := NewService(Config{Quantum: time.Millisecond}, st, fd, fakeResolver{}, eventBus, log)

	var mu sync.Mutex
	var seen []string
	_, err = eventBus.Subscribe(events.AllSubjects, func(ctx context.Context, e *bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	saved, err := svc.ScheduleMessage(ctx, oneHourMessage("standup", "crewly-beta-dev"))
	require.NoError(t, err)
	svc.executeMessage(ctx, *saved)
	assert.True(t, svc.CancelMessage(ctx, saved.ID), "the armed timer is still there to cancel")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.MessageScheduled, events.MessageExecuted, events.MessageCancelled}, seen)
}
