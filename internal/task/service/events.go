package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// record publishes a lifecycle event on the bus and mirrors it to the
// activity log. Publish failures are logged, never surfaced: transitions
// must not fail because an observer is down.
func (s *Service) record(ctx context.Context, eventType, projectID string, data map[string]interface{}) {
	s.store.AppendActivity(v1.ActivityEntry{
		Kind:   v1.ActivityKindTask,
		At:     time.Now().UTC(),
		Detail: withEventType(eventType, data),
	})

	if s.eventBus == nil {
		return
	}
	subject := eventType
	if projectID != "" {
		subject = events.BuildTaskSubject(eventType, projectID)
	}
	event := bus.NewEvent(eventType, "task-engine", data)
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		s.logger.Error("failed to publish task event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func withEventType(eventType string, data map[string]interface{}) map[string]interface{} {
	detail := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		detail[k] = v
	}
	detail["event"] = eventType
	return detail
}
