package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func mustSubscribe(t *testing.T, b *MemoryEventBus, subject string, handler EventHandler) Subscription {
	t.Helper()
	sub, err := b.Subscribe(subject, handler)
	if err != nil {
		t.Fatalf("subscribe %q: %v", subject, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return sub
}

func TestMemoryBusDeliversToSubscriber(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	if !b.IsConnected() {
		t.Fatal("new bus must report connected")
	}

	received := make(chan *Event, 1)
	mustSubscribe(t, b, "task.assigned", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})

	evt := NewEvent("task.assigned", "task-engine", map[string]interface{}{
		"taskPath": "/p/.crewly/tasks/m0/open/01.md",
	})
	if err := b.Publish(context.Background(), "task.assigned", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != evt.ID {
			t.Errorf("event id: got %s, want %s", got.ID, evt.ID)
		}
		if got.Type != evt.Type {
			t.Errorf("event type: got %s, want %s", got.Type, evt.Type)
		}
	default:
		t.Fatal("dispatch is synchronous, event must have arrived")
	}
}

func TestMemoryBusFansOutToAllSubscribers(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var calls int32
	for i := 0; i < 3; i++ {
		mustSubscribe(t, b, "check.executed", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	evt := NewEvent("check.executed", "check-scheduler", nil)
	if err := b.Publish(context.Background(), "check.executed", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected all 3 subscribers called, got %d", n)
	}
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var calls int32
	sub, err := b.Subscribe("message.executed", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !sub.IsValid() {
		t.Fatal("fresh subscription must be valid")
	}

	evt := NewEvent("message.executed", "message-scheduler", nil)
	if err := b.Publish(context.Background(), "message.executed", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.IsValid() {
		t.Error("subscription must be invalid after unsubscribe")
	}

	if err := b.Publish(context.Background(), "message.executed", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly 1 delivery, got %d", n)
	}
}

// Wildcard resolution end to end; token semantics live in the matcher
// table test.
func TestMemoryBusWildcardDelivery(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	ctx := context.Background()
	var perProject, recoveries int32

	mustSubscribe(t, b, "task.assigned.*", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&perProject, 1)
		return nil
	})
	mustSubscribe(t, b, "task.*.recovered", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&recoveries, 1)
		return nil
	})

	for _, subject := range []string{
		"task.assigned.proj-1", // perProject
		"task.assigned.proj-2", // perProject
		"task.assigned",        // neither: * needs a token
		"task.m4.recovered",    // recoveries
		"task.recovered",       // neither: middle token missing
	} {
		if err := b.Publish(ctx, subject, NewEvent(subject, "task-engine", nil)); err != nil {
			t.Fatalf("publish %q: %v", subject, err)
		}
	}

	if n := atomic.LoadInt32(&perProject); n != 2 {
		t.Errorf("task.assigned.*: expected 2 deliveries, got %d", n)
	}
	if n := atomic.LoadInt32(&recoveries); n != 1 {
		t.Errorf("task.*.recovered: expected 1 delivery, got %d", n)
	}
}

func TestMemoryBusFirehoseSeesEverything(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var calls int32
	mustSubscribe(t, b, ">", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx := context.Background()
	for _, subject := range []string{"task.assigned", "message.executed.m-1", "check.executed.crewly-dev-1"} {
		if err := b.Publish(ctx, subject, NewEvent(subject, "test", nil)); err != nil {
			t.Fatalf("publish %q: %v", subject, err)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("firehose: expected 3 deliveries, got %d", n)
	}
}

func TestMemoryBusQueueGroupRoundRobin(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	const members = 3
	perMember := make([]int32, members)
	for i := 0; i < members; i++ {
		i := i
		sub, err := b.QueueSubscribe("delivery.succeeded", "loggers", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&perMember[i], 1)
			return nil
		})
		if err != nil {
			t.Fatalf("queue subscribe %d: %v", i, err)
		}
		defer sub.Unsubscribe()
	}

	ctx := context.Background()
	for i := 0; i < members*2; i++ {
		evt := NewEvent("delivery.succeeded", "delivery", nil)
		if err := b.Publish(ctx, "delivery.succeeded", evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i := 0; i < members; i++ {
		if n := atomic.LoadInt32(&perMember[i]); n != 2 {
			t.Errorf("queue member %d: expected 2 deliveries, got %d", i, n)
		}
	}
}

func TestMemoryBusConcurrentPublish(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var received, failed int32
	mustSubscribe(t, b, "member.heartbeat", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	const goroutines, perGoroutine = 10, 100
	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				evt := NewEvent("member.heartbeat", "httpmw", nil)
				if err := b.Publish(ctx, "member.heartbeat", evt); err != nil {
					atomic.AddInt32(&failed, 1)
				}
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&failed); n != 0 {
		t.Errorf("publish failures: %d", n)
	}
	if n := atomic.LoadInt32(&received); n != goroutines*perGoroutine {
		t.Errorf("expected %d deliveries, got %d", goroutines*perGoroutine, n)
	}
}

func TestMemoryBusCloseRejectsUse(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))

	b.Close()

	if b.IsConnected() {
		t.Error("closed bus must not report connected")
	}

	evt := NewEvent("task.created", "test", nil)
	if err := b.Publish(context.Background(), "task.created", evt); !errors.Is(err, ErrBusClosed) {
		t.Errorf("publish after close: got %v, want ErrBusClosed", err)
	}
	if _, err := b.Subscribe("task.created", func(ctx context.Context, event *Event) error {
		return nil
	}); !errors.Is(err, ErrBusClosed) {
		t.Errorf("subscribe after close: got %v, want ErrBusClosed", err)
	}
}

func TestNewEventStampsFields(t *testing.T) {
	before := time.Now().UTC()
	evt := NewEvent("task.assigned", "task-engine", map[string]interface{}{
		"sessionName": "crewly-dev-1",
	})
	after := time.Now().UTC()

	if evt.ID == "" {
		t.Error("expected a generated event id")
	}
	if evt.Type != "task.assigned" {
		t.Errorf("type: got %s", evt.Type)
	}
	if evt.Source != "task-engine" {
		t.Errorf("source: got %s", evt.Source)
	}
	if evt.Data["sessionName"] != "crewly-dev-1" {
		t.Error("expected data carried through")
	}
	if evt.Timestamp.Before(before) || evt.Timestamp.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", evt.Timestamp, before, after)
	}
}

// Publish dispatches synchronously, so subscribers observe events in
// publish order. The scanner and broadcaster lean on this.
func TestMemoryBusPreservesPublishOrder(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	const numEvents = 100
	var mu sync.Mutex
	var got []int

	mustSubscribe(t, b, "delivery.succeeded", func(ctx context.Context, event *Event) error {
		mu.Lock()
		got = append(got, event.Data["seq"].(int))
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for i := 0; i < numEvents; i++ {
		evt := NewEvent("delivery.succeeded", "delivery", map[string]interface{}{"seq": i})
		if err := b.Publish(ctx, "delivery.succeeded", evt); err != nil {
			t.Fatalf("publish seq %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != numEvents {
		t.Fatalf("expected %d deliveries, got %d", numEvents, len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Fatalf("order violated at %d: got seq %d", i, seq)
		}
	}
}

func TestMemoryBusOrderSurvivesSlowHandlers(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	const numEvents = 50
	var mu sync.Mutex
	var got []int

	mustSubscribe(t, b, "message.executed", func(ctx context.Context, event *Event) error {
		seq := event.Data["seq"].(int)
		// earlier events run longest; async dispatch would finish them
		// out of order
		time.Sleep(time.Duration(numEvents-seq) * 100 * time.Microsecond)
		mu.Lock()
		got = append(got, seq)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for i := 0; i < numEvents; i++ {
		evt := NewEvent("message.executed", "message-scheduler", map[string]interface{}{"seq": i})
		if err := b.Publish(ctx, "message.executed", evt); err != nil {
			t.Fatalf("publish seq %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != numEvents {
		t.Fatalf("expected %d deliveries, got %d", numEvents, len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Errorf("order violated at %d: got seq %d", i, seq)
		}
	}
}
