package handoff

import (
	"testing"

	"github.com/alloybilling/ingestion-gateway/event"
	"github.com/stretchr/testify/assert"
)

func TestTryEnqueueDequeue(t *testing.T) {
	q := New(1)
	e := event.NewUsageEvent("c1", "api_call", 1, "k1")

	assert.True(t, q.TryEnqueue(e))
	got := <-q.Dequeue()
	assert.Equal(t, e.EventID, got.EventID)
}

func TestTryEnqueueFullQueueRejects(t *testing.T) {
	q := New(1)
	e := event.NewUsageEvent("c1", "api_call", 1, "k1")

	assert.True(t, q.TryEnqueue(e))
	assert.False(t, q.TryEnqueue(e))
}

func TestCloseIdempotent(t *testing.T) {
	q := New(1)
	assert.NotPanics(t, func() {
		q.Close()
		q.Close()
	})
}

func TestLenAndCap(t *testing.T) {
	q := New(5)
	assert.Equal(t, 5, q.Cap())
	assert.Equal(t, 0, q.Len())
	q.TryEnqueue(event.NewUsageEvent("c1", "api_call", 1, "k1"))
	assert.Equal(t, 1, q.Len())
}
