// Package orchestrator schedules plan subtasks onto the agent pool and
// drives each plan to a terminal state. All plan, task and agent mutations
// funnel through one command goroutine; callers enqueue commands and read
// snapshots.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/evidencechain/orchestrator/pkg/agent"
	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/evidence"
	"github.com/evidencechain/orchestrator/pkg/notebook"
	"github.com/evidencechain/orchestrator/pkg/observability"
	"github.com/evidencechain/orchestrator/pkg/synthesis"
)

// Config controls scheduling, retries, timeouts and backpressure
type Config struct {
	Strategy            Strategy      `json:"strategy"`
	MaxConcurrentAgents int           `json:"max_concurrent_agents"`
	AdaptiveWindow      int           `json:"adaptive_window"`
	TaskTimeout         time.Duration `json:"task_timeout"`
	MaxRetries          int           `json:"max_retries"`
	RetryInitialDelay   time.Duration `json:"retry_initial_delay"`
	CancelGrace         time.Duration `json:"cancel_grace"`
	MaxQueueDepth       int           `json:"max_queue_depth"`
	// PendingTimeout is how long a subtask may sit pending before the
	// watchdog fails it. Zero means 10x the task timeout.
	PendingTimeout   time.Duration `json:"pending_timeout"`
	WatchdogInterval time.Duration `json:"watchdog_interval"`
	EventBuffer      int           `json:"event_buffer"`
	CommandBuffer    int           `json:"command_buffer"`
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyParallel,
		MaxConcurrentAgents: 3,
		AdaptiveWindow:      3,
		TaskTimeout:         120 * time.Second,
		MaxRetries:          2,
		RetryInitialDelay:   500 * time.Millisecond,
		CancelGrace:         5 * time.Second,
		MaxQueueDepth:       100,
		WatchdogInterval:    10 * time.Second,
		EventBuffer:         256,
		CommandBuffer:       128,
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if !ValidStrategy(c.Strategy) {
		c.Strategy = defaults.Strategy
	}
	if c.MaxConcurrentAgents <= 0 {
		c.MaxConcurrentAgents = defaults.MaxConcurrentAgents
	}
	if c.AdaptiveWindow <= 0 {
		c.AdaptiveWindow = defaults.AdaptiveWindow
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaults.TaskTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = defaults.RetryInitialDelay
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = defaults.CancelGrace
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaults.MaxQueueDepth
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 10 * c.TaskTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaults.WatchdogInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaults.EventBuffer
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = defaults.CommandBuffer
	}
}

// planEntry is the orchestrator's per-plan runtime bookkeeping
type planEntry struct {
	notebook  *notebook.Notebook
	finishing bool
	report    *domain.FinishReport
	waiters   []chan *domain.FinishReport
	// retrySchedules keeps one backoff schedule per subtask across attempts
	retrySchedules map[string]*backoff.ExponentialBackOff
}

// activeTask is one in-flight subtask execution
type activeTask struct {
	task    *domain.Task
	agent   *agent.Agent
	planID  string
	cancel  context.CancelFunc
	started time.Time
}

// Deps are the collaborators an orchestrator is built from
type Deps struct {
	Pool       *agent.Pool
	Planner    domain.PlannerService
	Completion domain.CompletionService
	Gateway    domain.PersistenceGateway
	Sink       domain.EventSink
	Generator  *synthesis.Generator
	Telemetry  *observability.Telemetry
	Metrics    *observability.Metrics
	ChainCfg   evidence.ChainConfig
}

// Orchestrator is the serialized mutation point for plans, tasks and agents
type Orchestrator struct {
	config Config
	deps   Deps
	logger *observability.StructuredLogger

	commands chan func()
	plans    map[string]*planEntry
	active   map[string]*activeTask
	archived map[string]*domain.Task

	controller *concurrencyController
	events     *EventQueue

	running atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates an orchestrator. Call Start before any command.
func New(config Config, deps Deps) *Orchestrator {
	config.applyDefaults()

	return &Orchestrator{
		config:     config,
		deps:       deps,
		logger:     observability.NewStructuredLogger("orchestrator"),
		commands:   make(chan func(), config.CommandBuffer),
		plans:      make(map[string]*planEntry),
		active:     make(map[string]*activeTask),
		archived:   make(map[string]*domain.Task),
		controller: newConcurrencyController(config.Strategy, config.MaxConcurrentAgents, config.AdaptiveWindow),
		events:     NewEventQueue(deps.Sink, config.EventBuffer),
		stopped:    make(chan struct{}),
	}
}

// Start launches the command loop, event drain and watchdog
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator already running")
	}

	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.events.Start()

	go o.run()
	o.wg.Add(1)
	go o.watchdog()

	o.logger.Info(ctx, "Orchestrator started",
		map[string]interface{}{
			"strategy":   string(o.config.Strategy),
			"max_agents": o.config.MaxConcurrentAgents,
			"agents":     o.deps.Pool.Size(),
		})
	return nil
}

// Stop cancels in-flight work and shuts the loop down
func (o *Orchestrator) Stop() {
	if !o.running.CompareAndSwap(true, false) {
		return
	}

	o.cancel()
	close(o.stopped)
	o.wg.Wait()
	o.events.Stop()
	o.logger.Info(context.Background(), "Orchestrator stopped", nil)
}

func (o *Orchestrator) run() {
	for {
		select {
		case cmd := <-o.commands:
			cmd()
		case <-o.stopped:
			// Drain whatever was already enqueued.
			for {
				select {
				case cmd := <-o.commands:
					cmd()
				default:
					return
				}
			}
		}
	}
}

// post enqueues a command for the loop goroutine. It returns false once the
// orchestrator stopped.
func (o *Orchestrator) post(cmd func()) bool {
	if !o.running.Load() {
		return false
	}
	select {
	case o.commands <- cmd:
		return true
	case <-o.stopped:
		return false
	}
}

// call posts cmd and blocks until the loop executed it
func (o *Orchestrator) call(cmd func()) error {
	done := make(chan struct{})
	if !o.post(func() {
		cmd()
		close(done)
	}) {
		return fmt.Errorf("orchestrator not running")
	}
	<-done
	return nil
}

// CreatePlan drafts a plan for the query and starts scheduling it. It fails
// with a CapacityError when the pending backlog exceeds the queue depth.
func (o *Orchestrator) CreatePlan(ctx context.Context, query, researchDomain string, maxSteps int) (string, error) {
	var capErr error
	if err := o.call(func() {
		if depth := o.pendingDepth(); depth >= o.config.MaxQueueDepth {
			capErr = &domain.CapacityError{Resource: "pending subtask queue", Limit: o.config.MaxQueueDepth}
		}
	}); err != nil {
		return "", err
	}
	if capErr != nil {
		return "", capErr
	}

	// Planning awaits external I/O, so it runs outside the loop.
	nb, err := notebook.Create(ctx, o.deps.Planner, o.deps.Completion, query, researchDomain, maxSteps, o.deps.ChainCfg)
	if err != nil {
		return "", err
	}

	planID := nb.PlanID()
	if err := o.call(func() {
		o.plans[planID] = &planEntry{
			notebook:       nb,
			retrySchedules: make(map[string]*backoff.ExponentialBackOff),
		}
		o.emitStatus(planID, "", "plan created")
		if o.deps.Metrics != nil {
			o.deps.Metrics.RecordPlanCreated(o.runCtx)
		}
		o.schedule()
	}); err != nil {
		return "", err
	}

	if o.deps.Gateway != nil {
		plan := nb.Snapshot()
		if err := o.deps.Gateway.SavePlan(ctx, &plan); err != nil {
			o.logger.Warn(ctx, "Plan save failed",
				map[string]interface{}{"plan_id": planID, "error": err.Error()})
		}
	}
	return planID, nil
}

// pendingDepth counts pending subtasks across all unfinished plans.
// Loop-goroutine only.
func (o *Orchestrator) pendingDepth() int {
	depth := 0
	for _, entry := range o.plans {
		if entry.report != nil {
			continue
		}
		depth += len(entry.notebook.PendingSubtasks())
	}
	return depth
}

// CancelTask requests cooperative cancellation of a running task. If the
// agent does not stop within the grace period the task is force-cancelled.
func (o *Orchestrator) CancelTask(taskID string) error {
	var opErr error
	err := o.call(func() {
		at, ok := o.active[taskID]
		if !ok {
			opErr = fmt.Errorf("no active task %s", taskID)
			return
		}
		if at.task.Status != domain.TaskStatusRunning {
			opErr = &domain.InvalidTransitionError{
				Entity: "task", ID: taskID,
				From: string(at.task.Status), To: string(domain.TaskStatusCancelling),
			}
			return
		}

		at.task.Status = domain.TaskStatusCancelling
		at.cancel()
		o.emitStatus(at.planID, at.task.SubtaskID, "task cancelling")

		grace := o.config.CancelGrace
		time.AfterFunc(grace, func() {
			o.post(func() { o.forceCancel(taskID) })
		})
	})
	if err != nil {
		return err
	}
	return opErr
}

// forceCancel finalizes a cancellation the agent never acknowledged.
// Loop-goroutine only.
func (o *Orchestrator) forceCancel(taskID string) {
	at, ok := o.active[taskID]
	if !ok {
		return
	}

	o.logger.Warn(o.runCtx, "Force-cancelling task",
		map[string]interface{}{"task_id": taskID, "subtask_id": at.task.SubtaskID})
	o.finalizeCancel(at)
}

// finalizeCancel marks the task cancelled, frees the agent without touching
// its stats, and cancels the subtask. Loop-goroutine only.
func (o *Orchestrator) finalizeCancel(at *activeTask) {
	at.task.Status = domain.TaskStatusCancelled
	at.agent.Release(at.task.ID, agent.OutcomeCancelled, 0)
	o.archiveTask(at)

	entry := o.plans[at.planID]
	if entry != nil {
		if err := entry.notebook.CancelStep(at.task.SubtaskID); err != nil {
			o.logger.Warn(o.runCtx, "Cancel transition rejected",
				map[string]interface{}{"subtask_id": at.task.SubtaskID, "error": err.Error()})
		}
	}

	o.emitStatus(at.planID, at.task.SubtaskID, "task cancelled")
	o.maybeFinish(at.planID)
	o.schedule()
}

// archiveTask moves a terminal task out of the active set. Loop-goroutine
// only.
func (o *Orchestrator) archiveTask(at *activeTask) {
	delete(o.active, at.task.ID)
	o.archived[at.task.ID] = at.task
}

// Task returns a copy of an active or archived task
func (o *Orchestrator) Task(taskID string) (domain.Task, bool) {
	var task domain.Task
	var ok bool
	_ = o.call(func() {
		if at, found := o.active[taskID]; found {
			task, ok = *at.task, true
			return
		}
		if archived, found := o.archived[taskID]; found {
			task, ok = *archived, true
		}
	})
	return task, ok
}

// ActiveTasks returns copies of all in-flight tasks for a plan
func (o *Orchestrator) ActiveTasks(planID string) []domain.Task {
	var tasks []domain.Task
	_ = o.call(func() {
		for _, at := range o.active {
			if at.planID == planID {
				tasks = append(tasks, *at.task)
			}
		}
	})
	return tasks
}

// Progress returns plan completion counters
func (o *Orchestrator) Progress(planID string) (domain.Progress, error) {
	entry, err := o.planEntry(planID)
	if err != nil {
		return domain.Progress{}, err
	}
	return entry.notebook.Progress(), nil
}

// Snapshot returns a deep copy of the plan
func (o *Orchestrator) Snapshot(planID string) (domain.Plan, error) {
	entry, err := o.planEntry(planID)
	if err != nil {
		return domain.Plan{}, err
	}
	return entry.notebook.Snapshot(), nil
}

// EvidenceChain returns copies of the plan's evidence items and surviving
// relationships.
func (o *Orchestrator) EvidenceChain(planID string) ([]domain.EvidenceItem, []domain.EvidenceRelationship, error) {
	entry, err := o.planEntry(planID)
	if err != nil {
		return nil, nil, err
	}
	items, rels := entry.notebook.Chain().Snapshot()
	return items, rels, nil
}

// AnalyzeEvidenceChain forces a relationship inference pass and returns the
// resulting graph.
func (o *Orchestrator) AnalyzeEvidenceChain(ctx context.Context, planID string) ([]domain.EvidenceItem, []domain.EvidenceRelationship, error) {
	entry, err := o.planEntry(planID)
	if err != nil {
		return nil, nil, err
	}

	added, err := entry.notebook.Chain().InferRelationships(ctx)
	if err != nil {
		return nil, nil, err
	}
	if added > 0 && o.deps.Metrics != nil {
		o.deps.Metrics.RecordRelationshipsInferred(ctx, added)
	}
	items, rels := entry.notebook.Chain().Snapshot()
	return items, rels, nil
}

// Export renders a plan (and its synthesis, if finished) as exchange JSON
func (o *Orchestrator) Export(planID string) ([]byte, error) {
	entry, err := o.planEntry(planID)
	if err != nil {
		return nil, err
	}

	var syn *domain.Synthesis
	_ = o.call(func() {
		if entry.report != nil && entry.report.Synthesis != nil {
			syn = entry.report.Synthesis
		}
	})
	return entry.notebook.Export(syn)
}

// AwaitPlan blocks until the plan reaches a terminal state and its finish
// flow (synthesis included) completed, or ctx expires.
func (o *Orchestrator) AwaitPlan(ctx context.Context, planID string) (*domain.FinishReport, error) {
	ch := make(chan *domain.FinishReport, 1)
	var opErr error
	if err := o.call(func() {
		entry, ok := o.plans[planID]
		if !ok {
			opErr = fmt.Errorf("unknown plan %s", planID)
			return
		}
		if entry.report != nil {
			ch <- entry.report
			return
		}
		entry.waiters = append(entry.waiters, ch)
	}); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}

	select {
	case report := <-ch:
		return report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) planEntry(planID string) (*planEntry, error) {
	var entry *planEntry
	if err := o.call(func() { entry = o.plans[planID] }); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("unknown plan %s", planID)
	}
	return entry, nil
}

func (o *Orchestrator) emitStatus(planID, subtaskID, message string) {
	o.events.Emit(domain.Event{
		Type:      domain.EventStatusUpdate,
		PlanID:    planID,
		SubtaskID: subtaskID,
		Message:   message,
	})
}

func (o *Orchestrator) emitAgent(planID, subtaskID, agentID, message string) {
	o.events.Emit(domain.Event{
		Type:      domain.EventAgentActivity,
		PlanID:    planID,
		SubtaskID: subtaskID,
		AgentID:   agentID,
		Message:   message,
	})
}
