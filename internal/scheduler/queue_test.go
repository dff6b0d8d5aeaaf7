package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

func queuedMessage(id string) v1.ScheduledMessage {
	return v1.ScheduledMessage{ID: id, Name: "msg-" + id, TargetTeam: "crewly-beta-dev"}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newMessageQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(queuedMessage(id)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		m, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, m.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueDedupesWaitingIDs(t *testing.T) {
	q := newMessageQueue()
	require.NoError(t, q.Enqueue(queuedMessage("a")))
	assert.ErrorIs(t, q.Enqueue(queuedMessage("a")), ErrAlreadyQueued)
	assert.Equal(t, 1, q.Len())

	// Once dequeued, the id may queue again.
	_, ok := q.Dequeue()
	require.True(t, ok)
	assert.NoError(t, q.Enqueue(queuedMessage("a")))
}

func TestQueueRemove(t *testing.T) {
	q := newMessageQueue()
	require.NoError(t, q.Enqueue(queuedMessage("a")))
	require.NoError(t, q.Enqueue(queuedMessage("b")))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("nope"))

	m, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "b", m.ID)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := newMessageQueue()
	got := make(chan v1.ScheduledMessage, 1)

	go func() {
		m, ok := q.Dequeue()
		if ok {
			got <- m
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was queued")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(queuedMessage("a")))
	select {
	case m := <-got:
		assert.Equal(t, "a", m.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	q := newMessageQueue()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke up after close")
	}

	assert.ErrorIs(t, q.Enqueue(queuedMessage("a")), ErrQueueClosed)
}

func TestQueueCloseDrainsRemainingFirst(t *testing.T) {
	q := newMessageQueue()
	require.NoError(t, q.Enqueue(queuedMessage("a")))
	q.Close()

	m, ok := q.Dequeue()
	require.True(t, ok, "items queued before close still execute")
	assert.Equal(t, "a", m.ID)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestQueueDrain(t *testing.T) {
	q := newMessageQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(queuedMessage(id)))
	}

	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, 0, q.Len())

	// Drained ids are free again.
	assert.NoError(t, q.Enqueue(queuedMessage("a")))
}

func TestQueueListCopies(t *testing.T) {
	q := newMessageQueue()
	require.NoError(t, q.Enqueue(queuedMessage("a")))
	require.NoError(t, q.Enqueue(queuedMessage("b")))

	list := q.List()
	require.Len(t, list, 2)
	list[0].ID = "mutated"

	m, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "a", m.ID)
}
