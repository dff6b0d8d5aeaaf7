package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

func TestNotificationPayloadStampsEventType(t *testing.T) {
	data := map[string]interface{}{"session": "crewly-alpha-dev"}
	evt := bus.NewEvent(events.CheckExecuted, "check-scheduler", data)

	payload := notificationPayload(evt)
	if payload["event"] != events.CheckExecuted {
		t.Errorf("expected event %q, got %v", events.CheckExecuted, payload["event"])
	}
	if payload["session"] != "crewly-alpha-dev" {
		t.Errorf("expected session carried over, got %v", payload["session"])
	}
	if _, ok := data["event"]; ok {
		t.Error("original event data must not be mutated")
	}

	empty := notificationPayload(bus.NewEvent(events.TaskCreated, "task-engine", nil))
	if empty["event"] != events.TaskCreated {
		t.Errorf("nil data: expected event %q, got %v", events.TaskCreated, empty["event"])
	}
}

func TestBroadcasterScopesMessageDelivery(t *testing.T) {
	log := testLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ws.NewDispatcher(), log)
	watcher := NewClient("watcher", nil, hub, log)
	bystander := NewClient("bystander", nil, hub, log)
	hub.mu.Lock()
	hub.clients[watcher] = struct{}{}
	hub.clients[bystander] = struct{}{}
	hub.mu.Unlock()
	hub.SubscribeToSession(watcher, "crewly-alpha-dev")

	memBus := bus.NewMemoryEventBus(log)
	RegisterEventNotifications(ctx, memBus, hub, log)

	evt := bus.NewEvent(events.MessageExecuted, "message-scheduler", map[string]interface{}{
		"messageId": "m1",
		"name":      "standup reminder",
		"session":   "crewly-alpha-dev",
		"success":   true,
	})
	if err := memBus.Publish(ctx, events.BuildMessageSubject(events.MessageExecuted, "m1"), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-watcher.send:
		msg := decodeFrame(t, data)
		if msg.Type != ws.MessageTypeNotification {
			t.Errorf("expected notification frame, got %s", msg.Type)
		}
		if msg.Action != ws.ActionMessageDelivered {
			t.Errorf("expected action %s, got %s", ws.ActionMessageDelivered, msg.Action)
		}
		var payload map[string]interface{}
		if err := msg.ParsePayload(&payload); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if payload["event"] != events.MessageExecuted {
			t.Errorf("expected event type stamped, got %v", payload["event"])
		}
		if payload["session"] != "crewly-alpha-dev" {
			t.Errorf("expected session in payload, got %v", payload["session"])
		}
	default:
		t.Fatal("subscribed client received nothing")
	}

	if len(bystander.send) != 0 {
		t.Error("unsubscribed client must not receive session-scoped telemetry")
	}
}

func TestBroadcasterForwardsTaskEventsHubWide(t *testing.T) {
	log := testLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ws.NewDispatcher(), log)
	go hub.Run(ctx)

	first := NewClient("first", nil, hub, log)
	second := NewClient("second", nil, hub, log)
	hub.Register(first)
	hub.Register(second)

	memBus := bus.NewMemoryEventBus(log)
	RegisterEventNotifications(ctx, memBus, hub, log)

	evt := bus.NewEvent(events.TaskAssigned, "task-engine", map[string]interface{}{
		"taskPath": "/srv/projects/alpha/.crewly/tasks/m1/in_progress/01_plan.md",
		"session":  "crewly-alpha-dev",
	})
	if err := memBus.Publish(ctx, events.BuildTaskSubject(events.TaskAssigned, "p1"), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, c := range []*Client{first, second} {
		select {
		case data := <-c.send:
			msg := decodeFrame(t, data)
			if msg.Action != ws.ActionTaskUpdated {
				t.Errorf("client %s: expected %s, got %s", c.ID, ws.ActionTaskUpdated, msg.Action)
			}
			var payload map[string]interface{}
			if err := msg.ParsePayload(&payload); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if payload["event"] != events.TaskAssigned {
				t.Errorf("client %s: expected event type stamped, got %v", c.ID, payload["event"])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("client %s never received the task notification", c.ID)
		}
	}
}

func TestBroadcasterFallsBackHubWideWithoutSession(t *testing.T) {
	log := testLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ws.NewDispatcher(), log)
	go hub.Run(ctx)

	client := NewClient("c1", nil, hub, log)
	hub.Register(client)

	memBus := bus.NewMemoryEventBus(log)
	RegisterEventNotifications(ctx, memBus, hub, log)

	evt := bus.NewEvent(events.MemberHeartbeat, "task-engine", map[string]interface{}{})
	if err := memBus.Publish(ctx, events.BuildSessionSubject(events.MemberHeartbeat, "ghost"), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case data := <-client.send:
		msg := decodeFrame(t, data)
		if msg.Action != ws.ActionAgentUpdated {
			t.Errorf("expected action %s, got %s", ws.ActionAgentUpdated, msg.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected hub-wide fallback delivery")
	}
}

func TestBroadcasterCloseReleasesSubscriptions(t *testing.T) {
	log := testLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ws.NewDispatcher(), log)
	memBus := bus.NewMemoryEventBus(log)
	b := RegisterEventNotifications(ctx, memBus, hub, log)

	if len(b.subscriptions) == 0 {
		t.Fatal("expected live subscriptions")
	}

	b.Close()

	if b.subscriptions != nil {
		t.Error("expected subscriptions cleared after Close")
	}
}
