package bus

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

// MemoryEventBus delivers events inside one process. Dispatch is synchronous
// in the publisher's goroutine, so subscribers observe events in publish
// order; the delivery log pipeline and the websocket gateway rely on that.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub
	rings  map[string]*queueRing
	closed bool
	logger *logger.Logger
}

// memSub is one registered handler.
type memSub struct {
	bus     *MemoryEventBus
	subject string
	pat     pattern
	handler EventHandler
	queue   string

	mu     sync.Mutex
	active bool
}

// queueRing rotates deliveries across the members of one queue group.
type queueRing struct {
	mu      sync.Mutex
	members []*memSub
	next    int
}

// NewMemoryEventBus returns an empty in-process bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subs:   make(map[string][]*memSub),
		rings:  make(map[string]*queueRing),
		logger: log,
	}
}

// Publish runs every matching handler before returning. Targets are
// collected under the read lock and invoked after it is released, so a
// handler may publish again without deadlocking.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := b.collectTargets(subject)
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("subject", subject),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	}
	return nil
}

// collectTargets resolves the handlers a subject reaches. Queue groups
// contribute at most one member each. Caller holds the read lock.
func (b *MemoryEventBus) collectTargets(subject string) []*memSub {
	var targets []*memSub
	seenRings := make(map[string]bool)

	for registered, subs := range b.subs {
		for _, sub := range subs {
			if !sub.IsValid() || !sub.pat.match(subject) {
				continue
			}
			if sub.queue == "" {
				targets = append(targets, sub)
				continue
			}
			key := ringKey(sub.queue, registered)
			if seenRings[key] {
				continue
			}
			seenRings[key] = true
			if member := b.rings[key].take(); member != nil {
				targets = append(targets, member)
			}
		}
	}
	return targets
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.add(subject, "", handler)
}

// QueueSubscribe registers a handler inside a queue group; every matching
// event reaches exactly one group member, round-robin.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.add(subject, queue, handler)
}

func (b *MemoryEventBus) add(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memSub{
		bus:     b,
		subject: subject,
		pat:     compilePattern(subject),
		handler: handler,
		queue:   queue,
		active:  true,
	}
	b.subs[subject] = append(b.subs[subject], sub)

	if queue != "" {
		key := ringKey(queue, subject)
		ring := b.rings[key]
		if ring == nil {
			ring = &queueRing{}
			b.rings[key] = ring
		}
		ring.mu.Lock()
		ring.members = append(ring.members, sub)
		ring.mu.Unlock()
	}

	b.logger.Debug("subscribed",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Close detaches every subscription. Publish and Subscribe fail afterwards.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.deactivate()
		}
	}
	b.subs = make(map[string][]*memSub)
	b.rings = make(map[string]*queueRing)
}

// IsConnected reports whether the bus still accepts publishes.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func ringKey(queue, subject string) string {
	return queue + ":" + subject
}

// Unsubscribe detaches the handler from the bus and its queue ring.
func (s *memSub) Unsubscribe() error {
	s.deactivate()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if s.queue != "" {
		if ring := s.bus.rings[ringKey(s.queue, s.subject)]; ring != nil {
			ring.drop(s)
		}
	}
	return nil
}

// IsValid reports whether the handler can still receive events.
func (s *memSub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memSub) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// take returns the next active member, advancing the rotation. Nil when the
// ring has no active member left.
func (r *queueRing) take() *memSub {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.members)
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		if member := r.members[idx]; member.IsValid() {
			r.next = (idx + 1) % n
			return member
		}
	}
	return nil
}

func (r *queueRing) drop(s *memSub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, member := range r.members {
		if member == s {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
}
