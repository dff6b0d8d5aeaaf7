// Package bus is the event fan-out port of the daemon. Components publish
// lifecycle events to dotted subjects (task.assigned.<project>,
// check.executed.<session>, ...) and consumers subscribe with NATS-style
// wildcards. One process uses the in-memory bus; setting nats.url swaps in
// the NATS-backed implementation with the same semantics.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried on every subject. The JSON shape is part of
// the wire contract: NATS consumers and websocket clients both decode it.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an envelope with a fresh id and the current time. Source
// names the publishing component.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one event. Returning an error only logs it; the bus
// never redelivers.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live subject registration.
type Subscription interface {
	// Unsubscribe detaches the handler. Safe to call more than once.
	Unsubscribe() error

	// IsValid reports whether the handler can still receive events.
	IsValid() bool
}

// EventBus is what every publisher and subscriber in the daemon holds.
type EventBus interface {
	// Publish delivers the event to every subscription matching subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern ("*" matches one
	// token, ">" the rest of the subject).
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe registers a handler inside a named group; each event
	// reaches exactly one member of the group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Close detaches all subscriptions and rejects further publishes.
	Close()

	// IsConnected reports whether publishes can currently be delivered.
	IsConnected() bool
}
