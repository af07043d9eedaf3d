package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// EventQueue buffers events between the orchestrator and a sink. Emit never
// blocks: when the buffer is full the oldest event is dropped. A background
// goroutine drains the buffer to the sink.
type EventQueue struct {
	mu       sync.Mutex
	buf      []domain.Event
	capacity int
	dropped  atomic.Int64

	sink   domain.EventSink
	logger *observability.StructuredLogger
	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewEventQueue creates a queue draining into sink. A nil sink discards
// everything after buffering.
func NewEventQueue(sink domain.EventSink, capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventQueue{
		capacity: capacity,
		sink:     sink,
		logger:   observability.NewStructuredLogger("event_queue"),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the drain goroutine
func (q *EventQueue) Start() {
	go q.run()
}

// Stop drains remaining events and stops the goroutine
func (q *EventQueue) Stop() {
	close(q.stop)
	<-q.done
}

// Emit enqueues an event, dropping the oldest buffered event on overflow
func (q *EventQueue) Emit(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	q.mu.Lock()
	if len(q.buf) >= q.capacity {
		q.buf = q.buf[1:]
		q.dropped.Add(1)
	}
	q.buf = append(q.buf, event)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded on overflow
func (q *EventQueue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *EventQueue) run() {
	defer close(q.done)

	for {
		select {
		case <-q.notify:
			q.drain()
		case <-q.stop:
			q.drain()
			return
		}
	}
}

func (q *EventQueue) drain() {
	q.mu.Lock()
	batch := q.buf
	q.buf = nil
	q.mu.Unlock()

	if q.sink == nil {
		return
	}
	for _, event := range batch {
		q.sink.Emit(event)
	}
}

// LoggingSink writes events to the structured logger. Useful as the default
// sink in the CLI.
type LoggingSink struct {
	logger *observability.StructuredLogger
}

// NewLoggingSink creates a sink logging every event at info level
func NewLoggingSink() *LoggingSink {
	return &LoggingSink{logger: observability.NewStructuredLogger("events")}
}

func (s *LoggingSink) Emit(event domain.Event) {
	fields := map[string]interface{}{
		"event_type": string(event.Type),
	}
	if event.PlanID != "" {
		fields["plan_id"] = event.PlanID
	}
	if event.SubtaskID != "" {
		fields["subtask_id"] = event.SubtaskID
	}
	if event.AgentID != "" {
		fields["agent_id"] = event.AgentID
	}
	for k, v := range event.Fields {
		fields[k] = v
	}
	s.logger.Info(context.Background(), event.Message, fields)
}
