package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/tracing"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Continuation framing around every scheduled message. Agents receiving a
// check-in mid-task tend to treat the text as a fresh assignment and drop
// what they were doing; the epilogue steers them back.
const (
	continuationPrologue = "[Scheduled check-in] Acknowledge this message, then keep working.\n\n"

	continuationEpilogue = "\n\nResume the task you were working on before this check-in. " +
		"If it is finished, take the next open task from the board. " +
		"If you are blocked, reply with what you need to proceed."
)

// wrapContinuation frames a scheduled message so the receiving agent treats
// it as a check-in rather than a new assignment.
func wrapContinuation(message string) string {
	return continuationPrologue + message + continuationEpilogue
}

// worker drains the queue one message at a time with a fixed pause between
// executions. Two messages firing together never interleave their writes
// into a session.
func (s *Service) worker(ctx context.Context, q *messageQueue, stopCh chan struct{}) {
	defer s.wg.Done()

	for {
		m, ok := q.Dequeue()
		if !ok {
			return
		}
		s.executeMessage(ctx, m)
		pause(ctx, stopCh, s.cfg.Quantum)
	}
}

// pause sleeps for the inter-execution quantum, cut short by shutdown.
func pause(ctx context.Context, stopCh chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-stopCh:
	case <-t.C:
	}
}

// executeMessage runs the delivery pipeline for one dequeued message. The
// project is re-checked against the store first: a message whose target
// project vanished after firing is marked orphaned, never delivered.
func (s *Service) executeMessage(ctx context.Context, m v1.ScheduledMessage) {
	ctx, span := tracing.Tracer("scheduler").Start(ctx, "scheduler.execute_message",
		trace.WithAttributes(
			attribute.String("message_id", m.ID),
			attribute.String("message_name", m.Name),
			attribute.String("target", m.TargetTeam),
		))
	defer span.End()

	if m.TargetProject != "" {
		_, err := s.store.GetProject(ctx, m.TargetProject)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			s.markOrphaned(ctx, m)
			span.SetAttributes(attribute.Bool("orphaned", true))
			return
		default:
			// Probe failures are advisory; deliver anyway rather than
			// lose a one-shot firing to a transient store error.
			s.logger.Warn("project probe failed before delivery",
				zap.String("message_id", m.ID),
				zap.Error(err))
		}
	}

	sessionName := s.resolver.ResolveTarget(ctx, m.TargetTeam)
	runtime := s.resolver.RuntimeFor(ctx, sessionName)

	res := s.deliverer.Deliver(ctx, delivery.Request{
		SessionName: sessionName,
		Payload:     wrapContinuation(m.Message),
		Runtime:     runtime,
	})
	span.SetAttributes(attribute.Bool("success", res.Success))

	s.store.AppendDeliveryLog(v1.DeliveryLog{
		ScheduledMessageID: m.ID,
		MessageName:        m.Name,
		TargetTeam:         m.TargetTeam,
		TargetProject:      m.TargetProject,
		Message:            m.Message,
		Success:            res.Success,
		Error:              res.Error,
	})

	now := time.Now().UTC()
	m.LastRun = &now
	if !m.IsRecurring {
		m.IsActive = false
	}
	if _, err := s.store.UpsertScheduledMessage(ctx, m); err != nil {
		s.logger.Error("failed to persist message after execution",
			zap.String("message_id", m.ID),
			zap.Error(err))
	}

	if res.Success {
		atomic.AddInt64(&s.totalDelivered, 1)
	} else {
		atomic.AddInt64(&s.totalFailed, 1)
	}

	s.publish(ctx, events.MessageExecuted, m.ID, map[string]interface{}{
		"messageId": m.ID,
		"name":      m.Name,
		"session":   sessionName,
		"success":   res.Success,
		"attempts":  res.Attempts,
		"error":     res.Error,
	})

	s.logger.Info("scheduled message executed",
		zap.String("message_id", m.ID),
		zap.String("name", m.Name),
		zap.String("session", sessionName),
		zap.Bool("success", res.Success),
		zap.Int("attempts", res.Attempts))
}

// markOrphaned deactivates a message whose target project disappeared
// between scheduling and firing. The delivery log records the outcome so
// the stuck scanner knows not to re-attempt it.
func (s *Service) markOrphaned(ctx context.Context, m v1.ScheduledMessage) {
	s.cancelTimer(m.ID)

	m.IsActive = false
	if _, err := s.store.UpsertScheduledMessage(ctx, m); err != nil {
		s.logger.Error("failed to deactivate orphaned message",
			zap.String("message_id", m.ID),
			zap.Error(err))
	}

	s.store.AppendDeliveryLog(v1.DeliveryLog{
		ScheduledMessageID: m.ID,
		MessageName:        m.Name,
		TargetTeam:         m.TargetTeam,
		TargetProject:      m.TargetProject,
		Message:            m.Message,
		Success:            false,
		Error:              v1.DeliveryErrorOrphaned,
	})
	atomic.AddInt64(&s.totalFailed, 1)

	s.publish(ctx, events.MessageOrphaned, m.ID, map[string]interface{}{
		"messageId":     m.ID,
		"name":          m.Name,
		"targetProject": m.TargetProject,
	})

	s.logger.Warn("scheduled message orphaned",
		zap.String("message_id", m.ID),
		zap.String("name", m.Name),
		zap.String("target_project", m.TargetProject))
}

// OrphanReport summarizes one orphan-cleanup sweep.
type OrphanReport struct {
	Found       int      `json:"found"`
	Deactivated int      `json:"deactivated"`
	Errors      []string `json:"errors"`
}

// CleanupOrphanedMessages deactivates active project-targeted messages
// whose project no longer exists and cancels their timers. Messages without
// a target project are never orphaned.
func (s *Service) CleanupOrphanedMessages(ctx context.Context) (*OrphanReport, error) {
	msgs, err := s.store.ListScheduledMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scheduled messages: %w", err)
	}

	report := &OrphanReport{Errors: []string{}}
	for i := range msgs {
		m := msgs[i]
		if !m.IsActive || m.TargetProject == "" {
			continue
		}

		_, err := s.store.GetProject(ctx, m.TargetProject)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", m.ID, err))
			continue
		}
		report.Found++

		s.cancelTimer(m.ID)
		s.q().Remove(m.ID)
		m.IsActive = false
		if _, err := s.store.UpsertScheduledMessage(ctx, m); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", m.ID, err))
			continue
		}
		report.Deactivated++

		s.publish(ctx, events.MessageOrphaned, m.ID, map[string]interface{}{
			"messageId":     m.ID,
			"name":          m.Name,
			"targetProject": m.TargetProject,
		})
	}

	if report.Found > 0 || len(report.Errors) > 0 {
		s.logger.Info("orphaned message sweep finished",
			zap.Int("found", report.Found),
			zap.Int("deactivated", report.Deactivated),
			zap.Int("errors", len(report.Errors)))
	}
	return report, nil
}
