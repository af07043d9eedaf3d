package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// Status is the lifecycle state of an agent
type Status string

const (
	// StatusIdle means the agent holds no assignments
	StatusIdle Status = "idle"
	// StatusWaiting means the agent holds assignments none of which has
	// started executing yet
	StatusWaiting Status = "waiting"
	// StatusWorking means the agent is executing at least one task
	StatusWorking Status = "working"
	// StatusError means the agent's breaker is open and it receives no work
	StatusError Status = "error"
)

// Outcome classifies how an assignment ended
type Outcome int

const (
	// OutcomeSuccess counts toward completed tasks and the success rate
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts toward failed tasks and the success rate
	OutcomeFailure
	// OutcomeCancelled frees the agent without touching its stats
	OutcomeCancelled
)

// ExecutionOutput is what one execution attempt produced
type ExecutionOutput struct {
	Drafts   []domain.EvidenceDraft
	Insights []string
	Summary  string
}

// Stats is a snapshot of an agent's performance counters
type Stats struct {
	TasksCompleted        int64         `json:"tasks_completed"`
	TasksFailed           int64         `json:"tasks_failed"`
	SuccessRate           float64       `json:"success_rate"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
}

// Agent executes up to maxConcurrent tasks at a time (one by default).
// Assignment and release are the only transitions; the orchestrator drives
// both.
type Agent struct {
	id         string
	capability domain.Capability
	executor   Executor
	logger     *observability.StructuredLogger
	telemetry  *observability.Telemetry
	breaker    *CircuitBreaker

	mu            sync.RWMutex
	maxConcurrent int
	tasks         map[string]struct{}
	executing     int

	tasksCompleted int64
	tasksFailed    int64
	totalTime      time.Duration
}

// New creates an idle agent with the given executor
func New(id string, capability domain.Capability, executor Executor, telemetry *observability.Telemetry) *Agent {
	return NewWithBreaker(id, capability, executor, telemetry, NewCircuitBreaker(3, 30*time.Second))
}

// NewWithBreaker creates an idle agent with a custom circuit breaker
func NewWithBreaker(id string, capability domain.Capability, executor Executor, telemetry *observability.Telemetry, breaker *CircuitBreaker) *Agent {
	return &Agent{
		id:            id,
		capability:    capability,
		executor:      executor,
		telemetry:     telemetry,
		logger:        observability.NewStructuredLogger(fmt.Sprintf("agent_%s", id)),
		breaker:       breaker,
		maxConcurrent: 1,
		tasks:         make(map[string]struct{}),
	}
}

// ID returns the agent id
func (a *Agent) ID() string {
	return a.id
}

// Capability returns the kind of work this agent executes
func (a *Agent) Capability() domain.Capability {
	return a.capability
}

// Status returns the agent's current state. An agent without assignments
// whose breaker is open reports error.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch {
	case len(a.tasks) == 0:
		if a.breaker.State() == BreakerOpen && !a.breaker.Allow() {
			return StatusError
		}
		return StatusIdle
	case a.executing > 0:
		return StatusWorking
	default:
		return StatusWaiting
	}
}

// TaskIDs returns the ids of the agent's current assignments
func (a *Agent) TaskIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.tasks))
	for id := range a.tasks {
		ids = append(ids, id)
	}
	return ids
}

// CurrentTasks returns how many assignments the agent currently holds
func (a *Agent) CurrentTasks() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tasks)
}

// MaxConcurrentTasks returns the agent's assignment cap
func (a *Agent) MaxConcurrentTasks() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxConcurrent
}

// SetMaxConcurrentTasks changes how many simultaneous assignments the agent
// accepts. Values below one collapse to one.
func (a *Agent) SetMaxConcurrentTasks(n int) {
	if n < 1 {
		n = 1
	}
	a.mu.Lock()
	a.maxConcurrent = n
	a.mu.Unlock()
}

// HasCapacity reports whether the agent can accept another assignment
func (a *Agent) HasCapacity() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tasks) < a.maxConcurrent
}

// Assign binds a task to the agent. It fails with a CapacityError when the
// agent is at its concurrent-task cap or its breaker rejects work.
func (a *Agent) Assign(task *domain.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.tasks) >= a.maxConcurrent {
		return &domain.CapacityError{Resource: fmt.Sprintf("agent %s", a.id), Limit: a.maxConcurrent}
	}
	if !a.breaker.Allow() {
		return &domain.CapacityError{Resource: fmt.Sprintf("agent %s (error state)", a.id), Limit: a.maxConcurrent}
	}

	a.tasks[task.ID] = struct{}{}
	return nil
}

// Release frees one assignment after it ends. Success and failure update the
// agent's counters and breaker; cancellation only frees the slot.
func (a *Agent) Release(taskID string, outcome Outcome, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.tasks, taskID)

	switch outcome {
	case OutcomeSuccess:
		a.tasksCompleted++
		a.totalTime += elapsed
		a.breaker.RecordSuccess()
	case OutcomeFailure:
		a.tasksFailed++
		a.totalTime += elapsed
		if err := a.breaker.RecordFailure(); err != nil {
			a.logger.Warn(context.Background(), "Agent entering error state",
				map[string]interface{}{
					"agent_id": a.id,
					"error":    err.Error(),
				})
		}
	}
}

// Execute runs the agent's executor against a subtask. Panics inside the
// executor are recovered and surfaced as errors.
func (a *Agent) Execute(ctx context.Context, subtask *domain.Subtask) (output *ExecutionOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent %s panic: %v", a.id, r)
			a.logger.Error(ctx, "Agent panic recovered", err,
				map[string]interface{}{
					"agent_id":   a.id,
					"subtask_id": subtask.ID,
					"stack":      string(debug.Stack()),
				})
			output = nil
		}
	}()

	a.mu.Lock()
	a.executing++
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.executing--
		a.mu.Unlock()
	}()

	start := time.Now()
	a.logger.Debug(ctx, "Starting subtask execution",
		map[string]interface{}{
			"agent_id":   a.id,
			"subtask_id": subtask.ID,
			"capability": string(a.capability),
		})

	if a.telemetry != nil {
		err = a.telemetry.InstrumentAgentExecution(ctx, a.id, string(a.capability), func(ctx context.Context) error {
			var execErr error
			output, execErr = a.executor.Execute(ctx, subtask)
			return execErr
		})
	} else {
		output, err = a.executor.Execute(ctx, subtask)
	}

	duration := time.Since(start)
	if err != nil {
		a.logger.Error(ctx, "Subtask execution failed", err,
			map[string]interface{}{
				"agent_id":   a.id,
				"subtask_id": subtask.ID,
				"duration":   duration.String(),
			})
		return nil, err
	}

	a.logger.Info(ctx, "Subtask execution completed",
		map[string]interface{}{
			"agent_id":   a.id,
			"subtask_id": subtask.ID,
			"duration":   duration.String(),
			"drafts":     len(output.Drafts),
			"insights":   len(output.Insights),
		})
	return output, nil
}

// GetStats returns a snapshot of the agent's counters. The success rate is 1
// for an agent that has finished no work yet.
func (a *Agent) GetStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := a.tasksCompleted + a.tasksFailed
	rate := 1.0
	avg := time.Duration(0)
	if total > 0 {
		rate = float64(a.tasksCompleted) / float64(total)
		avg = a.totalTime / time.Duration(total)
	}
	return Stats{
		TasksCompleted:        a.tasksCompleted,
		TasksFailed:           a.tasksFailed,
		SuccessRate:           rate,
		AverageProcessingTime: avg,
	}
}

// BreakerState exposes the agent's breaker state for monitoring
func (a *Agent) BreakerState() BreakerState {
	return a.breaker.State()
}
