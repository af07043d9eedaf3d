package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencechain/orchestrator/internal/testutil"
	"github.com/evidencechain/orchestrator/pkg/domain"
)

func TestEventQueueDeliversInOrder(t *testing.T) {
	sink := &testutil.CaptureSink{}
	q := NewEventQueue(sink, 8)
	q.Start()

	for _, msg := range []string{"one", "two", "three"} {
		q.Emit(domain.Event{Type: domain.EventStatusUpdate, PlanID: "plan-1", Message: msg})
	}
	q.Stop()

	events := sink.All()
	require.Len(t, events, 3)
	assert.Equal(t, "one", events[0].Message)
	assert.Equal(t, "two", events[1].Message)
	assert.Equal(t, "three", events[2].Message)
	assert.EqualValues(t, 0, q.Dropped())
}

func TestEventQueueDropsOldestOnOverflow(t *testing.T) {
	sink := &testutil.CaptureSink{}
	q := NewEventQueue(sink, 3)

	// The drain goroutine is not running yet, so the buffer fills up and
	// overflow discards from the front.
	for i := 1; i <= 5; i++ {
		q.Emit(domain.Event{Type: domain.EventStatusUpdate, Message: fmt.Sprintf("event %d", i)})
	}
	assert.EqualValues(t, 2, q.Dropped())

	q.Start()
	q.Stop()

	events := sink.All()
	require.Len(t, events, 3)
	assert.Equal(t, "event 3", events[0].Message)
	assert.Equal(t, "event 5", events[2].Message)
}

func TestEventQueueStampsTimestamps(t *testing.T) {
	sink := &testutil.CaptureSink{}
	q := NewEventQueue(sink, 4)
	q.Start()

	stamp := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	q.Emit(domain.Event{Type: domain.EventStatusUpdate, Message: "unstamped"})
	q.Emit(domain.Event{Type: domain.EventStatusUpdate, Message: "stamped", Timestamp: stamp})
	q.Stop()

	events := sink.All()
	require.Len(t, events, 2)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, stamp, events[1].Timestamp)
}

func TestEventQueueNilSink(t *testing.T) {
	q := NewEventQueue(nil, 2)
	q.Start()
	q.Emit(domain.Event{Type: domain.EventAlert, Message: "dropped on the floor"})
	q.Stop()

	assert.EqualValues(t, 0, q.Dropped())
}

func TestLoggingSinkEmit(t *testing.T) {
	sink := NewLoggingSink()
	assert.NotPanics(t, func() {
		sink.Emit(domain.Event{
			Type:      domain.EventAgentActivity,
			PlanID:    "plan-1",
			SubtaskID: "st-1",
			AgentID:   "research-1",
			Message:   "subtask completed",
			Fields:    map[string]interface{}{"elapsed_ms": 42},
		})
	})
}
