// Package scheduler arms timers for user-managed scheduled messages and
// drains their firings through a single delivery worker, one message at a
// time. Timers live only in memory; the messages themselves persist in the
// store, so a restart re-arms every active message at now + delay and never
// replays firings missed while the daemon was down.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

var (
	// ErrSchedulerAlreadyRunning is returned when Start is called twice.
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

	// ErrSchedulerNotRunning is returned when Stop is called before Start.
	ErrSchedulerNotRunning = errors.New("scheduler not running")
)

// ValidationError marks malformed scheduling input.
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

// onFireTimeout bounds the store re-read a firing timer performs.
const onFireTimeout = 10 * time.Second

// Config tunes the message scheduler.
type Config struct {
	// Quantum is the pause between two consecutive queue executions, so
	// burst firings do not interleave writes into the same session.
	Quantum time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Quantum: time.Second}
}

// messageStore is the store subset the scheduler reads and writes.
type messageStore interface {
	ListScheduledMessages(ctx context.Context) ([]v1.ScheduledMessage, error)
	GetScheduledMessage(ctx context.Context, id string) (*v1.ScheduledMessage, error)
	UpsertScheduledMessage(ctx context.Context, m v1.ScheduledMessage) (*v1.ScheduledMessage, error)
	DeleteScheduledMessage(ctx context.Context, id string) error
	GetProject(ctx context.Context, id string) (*v1.Project, error)
	AppendDeliveryLog(log v1.DeliveryLog)
}

// targetResolver maps delivery targets to sessions and runtimes.
type targetResolver interface {
	ResolveTarget(ctx context.Context, target string) string
	RuntimeFor(ctx context.Context, sessionName string) v1.RuntimeType
}

// messageDeliverer is the delivery pipeline surface the worker drives.
type messageDeliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Result
}

// Stats reports scheduler gauge values.
type Stats struct {
	ActiveTimers   int   `json:"activeTimers"`
	QueuedMessages int   `json:"queuedMessages"`
	TotalDelivered int64 `json:"totalDelivered"`
	TotalFailed    int64 `json:"totalFailed"`
}

// Service owns message timers and the sequential delivery worker.
type Service struct {
	cfg       Config
	store     messageStore
	deliverer messageDeliverer
	resolver  targetResolver
	eventBus  bus.EventBus
	logger    *logger.Logger

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	queue *messageQueue

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	totalDelivered int64
	totalFailed    int64
}

// NewService builds the scheduler. eventBus may be nil when execution
// outcomes need no fan-out.
func NewService(cfg Config, st messageStore, d messageDeliverer, r targetResolver, eventBus bus.EventBus, log *logger.Logger) *Service {
	if cfg.Quantum <= 0 {
		cfg.Quantum = DefaultConfig().Quantum
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		deliverer: d,
		resolver:  r,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "message-scheduler")),
		timers:    make(map[string]*time.Timer),
		queue:     newMessageQueue(),
	}
}

// Start re-arms every active persisted message and launches the delivery
// worker. Restored messages fire at now + delay; there is no catch-up for
// firings missed while the daemon was down.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.queue = newMessageQueue()
	q, stopCh := s.queue, s.stopCh
	s.mu.Unlock()

	restored, err := s.restore(ctx)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.wg.Add(2)
	go s.worker(ctx, q, stopCh)
	go func() {
		// A cancelled root context must wake the worker out of Dequeue.
		defer s.wg.Done()
		select {
		case <-ctx.Done():
			q.Close()
		case <-stopCh:
		}
	}()

	s.logger.Info("message scheduler started",
		zap.Int("restored", restored),
		zap.Duration("quantum", s.cfg.Quantum))
	return nil
}

// Stop cancels every timer, discards queued messages and waits for the
// delivery worker to exit.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	close(s.stopCh)
	q := s.queue
	s.mu.Unlock()

	s.timersMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()

	dropped := q.Drain()
	q.Close()
	s.wg.Wait()

	s.logger.Info("message scheduler stopped", zap.Int("dropped", dropped))
	return nil
}

// restore arms a timer for every active persisted message.
func (s *Service) restore(ctx context.Context) (int, error) {
	msgs, err := s.store.ListScheduledMessages(ctx)
	if err != nil {
		return 0, fmt.Errorf("load scheduled messages: %w", err)
	}

	restored := 0
	for i := range msgs {
		if !msgs[i].IsActive {
			continue
		}
		if err := s.armTimer(msgs[i]); err != nil {
			s.logger.Warn("skipping message with unusable delay",
				zap.String("message_id", msgs[i].ID),
				zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

// ScheduleMessage validates, persists and arms m. An existing timer for the
// same id is cancelled first, so updates re-arm from now. Inactive messages
// persist without a timer.
func (s *Service) ScheduleMessage(ctx context.Context, m v1.ScheduledMessage) (*v1.ScheduledMessage, error) {
	if err := validateMessage(&m); err != nil {
		return nil, err
	}

	saved, err := s.store.UpsertScheduledMessage(ctx, m)
	if err != nil {
		return nil, err
	}

	s.cancelTimer(saved.ID)
	if saved.IsActive {
		if err := s.armTimer(*saved); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, events.MessageScheduled, saved.ID, map[string]interface{}{
		"messageId":   saved.ID,
		"name":        saved.Name,
		"targetTeam":  saved.TargetTeam,
		"isRecurring": saved.IsRecurring,
		"isActive":    saved.IsActive,
	})
	s.logger.Info("message scheduled",
		zap.String("message_id", saved.ID),
		zap.String("name", saved.Name),
		zap.String("target", saved.TargetTeam),
		zap.Int("delay_amount", saved.DelayAmount),
		zap.String("delay_unit", string(saved.DelayUnit)),
		zap.Bool("recurring", saved.IsRecurring))
	return saved, nil
}

// CancelMessage clears the timer and removes any queued instance. The
// persisted record is untouched; callers deactivate through ScheduleMessage
// when they mean to.
func (s *Service) CancelMessage(ctx context.Context, id string) bool {
	hadTimer := s.cancelTimer(id)
	hadQueued := s.q().Remove(id)
	if !hadTimer && !hadQueued {
		return false
	}

	s.publish(ctx, events.MessageCancelled, id, map[string]interface{}{
		"messageId": id,
	})
	s.logger.Info("message cancelled",
		zap.String("message_id", id),
		zap.Bool("had_timer", hadTimer),
		zap.Bool("was_queued", hadQueued))
	return true
}

// DeleteMessage cancels any timer or queued instance and removes the
// persisted record.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	s.cancelTimer(id)
	s.q().Remove(id)
	return s.store.DeleteScheduledMessage(ctx, id)
}

// RescheduleAll cancels every timer and re-arms all active persisted
// messages at now + delay.
func (s *Service) RescheduleAll(ctx context.Context) (int, error) {
	s.timersMu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.timersMu.Unlock()

	restored, err := s.restore(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("rescheduled active messages", zap.Int("count", restored))
	return restored, nil
}

// ListMessages returns all persisted messages, active or not.
func (s *Service) ListMessages(ctx context.Context) ([]v1.ScheduledMessage, error) {
	return s.store.ListScheduledMessages(ctx)
}

// GetMessage returns one persisted message.
func (s *Service) GetMessage(ctx context.Context, id string) (*v1.ScheduledMessage, error) {
	return s.store.GetScheduledMessage(ctx, id)
}

// Stats returns current gauge values.
func (s *Service) Stats() Stats {
	s.timersMu.Lock()
	timers := len(s.timers)
	s.timersMu.Unlock()

	return Stats{
		ActiveTimers:   timers,
		QueuedMessages: s.q().Len(),
		TotalDelivered: atomic.LoadInt64(&s.totalDelivered),
		TotalFailed:    atomic.LoadInt64(&s.totalFailed),
	}
}

// q returns the live queue instance; Start swaps in a fresh one.
func (s *Service) q() *messageQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// armTimer installs the firing timer for m, replacing any existing one.
func (s *Service) armTimer(m v1.ScheduledMessage) error {
	delay, err := m.Delay()
	if err != nil {
		return &ValidationError{Field: "delayUnit", Message: err.Error()}
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if t, ok := s.timers[m.ID]; ok {
		t.Stop()
	}
	id := m.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.onFire(id) })
	return nil
}

func (s *Service) cancelTimer(id string) bool {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// onFire hands a fired message to the execution queue. The message is
// re-read from the store because its record may have changed (or vanished)
// since the timer was armed.
func (s *Service) onFire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), onFireTimeout)
	defer cancel()

	m, err := s.store.GetScheduledMessage(ctx, id)
	if err != nil {
		s.cancelTimer(id)
		s.logger.Debug("fired message no longer exists", zap.String("message_id", id))
		return
	}
	if !m.IsActive {
		s.cancelTimer(id)
		return
	}

	// Re-arm before enqueueing: the worker may deactivate the message (for
	// example as orphaned) and cancel its timer as soon as it dequeues.
	if m.IsRecurring {
		if err := s.armTimer(*m); err != nil {
			s.logger.Error("failed to re-arm recurring message",
				zap.String("message_id", id),
				zap.Error(err))
		}
	} else {
		s.cancelTimer(id)
	}

	if err := s.q().Enqueue(*m); err != nil {
		s.logger.Debug("fired message not enqueued",
			zap.String("message_id", id),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, eventType, messageID string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	evt := bus.NewEvent(eventType, "message-scheduler", data)
	if err := s.eventBus.Publish(ctx, events.BuildMessageSubject(eventType, messageID), evt); err != nil {
		s.logger.Debug("event publish failed",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func validateMessage(m *v1.ScheduledMessage) error {
	if m.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if m.TargetTeam == "" {
		return &ValidationError{Field: "targetTeam", Message: "target team or session is required"}
	}
	if m.Message == "" {
		return &ValidationError{Field: "message", Message: "message text is required"}
	}
	if m.DelayAmount <= 0 {
		return &ValidationError{Field: "delayAmount", Message: "delay amount must be positive"}
	}
	if !m.DelayUnit.Valid() {
		return &ValidationError{
			Field:   "delayUnit",
			Message: fmt.Sprintf("unsupported delay unit %q (use seconds, minutes or hours)", string(m.DelayUnit)),
		}
	}
	return nil
}
