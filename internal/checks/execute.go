package checks

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/tracing"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// worker executes fired checks one at a time off a single goroutine, so two
// checks never write into sessions concurrently.
func (s *Service) worker(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-s.fires:
			s.executeCheck(ctx, id)
		}
	}
}

// executeCheck runs one fired check and, for recurring checks, arms the
// next occurrence only after the delivery finished. A slow delivery pushes
// the cadence back instead of overlapping it.
func (s *Service) executeCheck(ctx context.Context, id string) {
	s.checksMu.Lock()
	check, ok := s.checks[id]
	delete(s.timers, id)
	s.checksMu.Unlock()
	if !ok {
		// Cancelled between firing and execution.
		return
	}

	ctx, span := tracing.Tracer("checks").Start(ctx, "checks.execute",
		trace.WithAttributes(
			attribute.String("check_id", id),
			attribute.String("session", check.TargetSession),
			attribute.String("type", string(check.Type)),
		))
	defer span.End()

	success, via := s.dispatch(ctx, check)
	span.SetAttributes(attribute.Bool("success", success), attribute.String("via", via))
	if success {
		atomic.AddInt64(&s.totalExecuted, 1)
	} else {
		atomic.AddInt64(&s.totalFailed, 1)
	}

	s.checksMu.Lock()
	_, still := s.checks[id]
	s.checksMu.Unlock()
	if !still {
		// Cancelled while the delivery was in flight; do not re-arm.
		return
	}

	occurrence := 1
	finished := !check.IsRecurring
	if check.IsRecurring {
		if check.Recurring == nil {
			check.Recurring = &v1.RecurringSpec{IntervalMinutes: check.IntervalMinutes}
		}
		check.Recurring.CurrentOccurrence++
		occurrence = check.Recurring.CurrentOccurrence
		if check.Recurring.MaxOccurrences > 0 && check.Recurring.CurrentOccurrence >= check.Recurring.MaxOccurrences {
			finished = true
		}
	}

	if finished {
		s.checksMu.Lock()
		delete(s.checks, id)
		s.checksMu.Unlock()
		if err := s.store.DeleteCheck(ctx, id); err != nil {
			s.logger.Warn("failed to delete finished check",
				zap.String("check_id", id),
				zap.Error(err))
		}
	} else {
		interval := checkInterval(check)
		check.ScheduledFor = time.Now().UTC().Add(interval)
		s.track(check)
		if err := s.store.UpsertCheck(ctx, check); err != nil {
			s.logger.Warn("failed to persist check after execution",
				zap.String("check_id", id),
				zap.Error(err))
		}
		s.armTimer(id, interval)
	}

	s.publish(ctx, events.CheckExecuted, check.TargetSession, map[string]interface{}{
		"checkId":    id,
		"session":    check.TargetSession,
		"type":       string(check.Type),
		"success":    success,
		"via":        via,
		"occurrence": occurrence,
		"finished":   finished,
	})
	s.logger.Info("check executed",
		zap.String("check_id", id),
		zap.String("session", check.TargetSession),
		zap.String("type", string(check.Type)),
		zap.Bool("success", success),
		zap.String("via", via),
		zap.Int("occurrence", occurrence),
		zap.Bool("finished", finished))
}

// dispatch runs the check's action. Continuation checks go to the
// collaborator when one is set; everything else, and any collaborator
// failure, is a reliable delivery of the check message.
func (s *Service) dispatch(ctx context.Context, check v1.ScheduledCheck) (success bool, via string) {
	if check.Type == v1.CheckTypeContinuation {
		if cont := s.continuationPort(); cont != nil {
			evt := ContinuationEvent{
				Trigger:     ContinuationTriggerExplicit,
				SessionName: check.TargetSession,
				AgentID:     check.AgentID,
				ProjectPath: check.ProjectPath,
				Timestamp:   time.Now().UTC(),
			}
			err := cont.Continue(ctx, evt)
			if err == nil {
				return true, "continuation"
			}
			s.logger.Warn("continuation collaborator failed, sending check message instead",
				zap.String("check_id", check.ID),
				zap.String("session", check.TargetSession),
				zap.Error(err))
		}
	}

	runtime := s.runtimes.RuntimeFor(ctx, check.TargetSession)
	res := s.deliverer.Deliver(ctx, delivery.Request{
		SessionName: check.TargetSession,
		Payload:     check.Message,
		Runtime:     runtime,
	})

	s.store.AppendDeliveryLog(v1.DeliveryLog{
		ScheduledMessageID: "scheduler-" + check.ID,
		MessageName:        "check:" + string(check.Type),
		TargetTeam:         check.TargetSession,
		Message:            check.Message,
		Success:            res.Success,
		Error:              res.Error,
	})

	if !res.Success {
		s.logger.Warn("check delivery failed",
			zap.String("check_id", check.ID),
			zap.String("session", check.TargetSession),
			zap.Int("attempts", res.Attempts),
			zap.String("error", res.Error))
	}
	return res.Success, "delivery"
}
