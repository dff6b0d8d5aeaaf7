package websocket

import (
	"context"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
	"go.uber.org/zap"
)

// EventBroadcaster forwards control-plane bus events to connected WebSocket
// clients. Board-level events go to every client; per-session telemetry goes
// to clients subscribed to that agent session.
type EventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterEventNotifications subscribes the hub to the event subjects worth
// pushing to clients and returns the broadcaster. Subscriptions are released
// when ctx is cancelled.
func RegisterEventNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-event-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	// Task lifecycle: one wildcard per event type across all projects, all
	// collapsed into task.updated for clients.
	for _, t := range []string{
		events.TaskCreated,
		events.TaskAssigned,
		events.TaskCompleted,
		events.TaskBlocked,
		events.TaskUnblocked,
		events.TaskRecovered,
		events.TaskRetryFailed,
		events.TaskBoardChanged,
	} {
		b.subscribe(eventBus, events.BuildTaskWildcardSubject(t), ws.ActionTaskUpdated, false)
	}

	b.subscribe(eventBus, events.BuildSessionWildcardSubject(events.CheckExecuted), ws.ActionCheckExecuted, false)
	b.subscribe(eventBus, events.BuildMessageWildcardSubject(events.MessageExecuted), ws.ActionMessageDelivered, true)
	b.subscribe(eventBus, events.BuildSessionWildcardSubject(events.MemberHeartbeat), ws.ActionAgentUpdated, true)
	b.subscribe(eventBus, events.BuildSessionWildcardSubject(events.MemberRegistered), ws.ActionAgentUpdated, false)
	b.subscribe(eventBus, events.TeamUpdated, ws.ActionTeamUpdated, false)
	b.subscribe(eventBus, events.ProjectUpdated, ws.ActionProjectUpdated, false)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close releases all bus subscriptions.
func (b *EventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// subscribe forwards one subject pattern as one client action. With
// sessionScoped set, events carrying a session name reach only the clients
// subscribed to that session.
func (b *EventBroadcaster) subscribe(eventBus bus.EventBus, subject, action string, sessionScoped bool) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(action, notificationPayload(event))
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("action", action), zap.Error(err))
			return nil
		}
		if sessionScoped {
			if session, _ := event.Data["session"].(string); session != "" {
				b.hub.BroadcastToSession(session, msg)
				return nil
			}
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events",
			zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

// notificationPayload copies the event data and stamps the originating
// event type, since several bus subjects collapse into one client action.
func notificationPayload(event *bus.Event) map[string]interface{} {
	payload := make(map[string]interface{}, len(event.Data)+1)
	for k, v := range event.Data {
		payload[k] = v
	}
	payload["event"] = event.Type
	return payload
}
