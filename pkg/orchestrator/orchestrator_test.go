package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencechain/orchestrator/internal/testutil"
	"github.com/evidencechain/orchestrator/pkg/agent"
	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/evidence"
	"github.com/evidencechain/orchestrator/pkg/synthesis"
)

// stubExecutor counts calls and delegates to fn; without fn every execution
// succeeds with one draft and one insight derived from the subtask title.
type stubExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error)
}

func (e *stubExecutor) Execute(ctx context.Context, subtask *domain.Subtask) (*agent.ExecutionOutput, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	fn := e.fn
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, subtask, call)
	}
	return &agent.ExecutionOutput{
		Drafts:   []domain.EvidenceDraft{testutil.NewTestDraft(fmt.Sprintf("finding for %s", subtask.Title), 0.8, 0.8)},
		Insights: []string{fmt.Sprintf("insight for %s", subtask.Title)},
	}, nil
}

func (e *stubExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testConfig() Config {
	return Config{
		Strategy:            StrategyParallel,
		MaxConcurrentAgents: 3,
		TaskTimeout:         2 * time.Second,
		MaxRetries:          2,
		RetryInitialDelay:   time.Millisecond,
		CancelGrace:         40 * time.Millisecond,
		MaxQueueDepth:       100,
		PendingTimeout:      time.Hour,
		WatchdogInterval:    time.Hour,
	}
}

func newResearchAgents(n int, executor agent.Executor) []*agent.Agent {
	agents := make([]*agent.Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, agent.NewWithBreaker(
			fmt.Sprintf("research-%d", i+1),
			domain.CapabilityResearch,
			executor,
			nil,
			agent.NewCircuitBreaker(100, time.Minute),
		))
	}
	return agents
}

type testHarness struct {
	orch       *Orchestrator
	completion *testutil.MockCompletion
	gateway    *testutil.MockGateway
	sink       *testutil.CaptureSink
}

func newTestOrchestrator(t *testing.T, config Config, planner *testutil.MockPlanner, agents ...*agent.Agent) *testHarness {
	t.Helper()

	completion := &testutil.MockCompletion{}
	gateway := testutil.NewMockGateway()
	sink := &testutil.CaptureSink{}

	orch := New(config, Deps{
		Pool:       agent.NewPool(agents...),
		Planner:    planner,
		Completion: completion,
		Gateway:    gateway,
		Sink:       sink,
		Generator:  synthesis.NewGenerator(completion, nil, synthesis.Config{}),
		ChainCfg:   evidence.ChainConfig{},
	})
	require.NoError(t, orch.Start(context.Background()))
	t.Cleanup(orch.Stop)

	return &testHarness{orch: orch, completion: completion, gateway: gateway, sink: sink}
}

func TestPlanLifecycleCompletes(t *testing.T) {
	exec := &stubExecutor{}
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(3), newResearchAgents(2, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "impact of rail subsidies", "transport", 10)
	require.NoError(t, err)
	require.NotEmpty(t, planID)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompleted, report.Status)
	assert.Empty(t, report.Failures)
	assert.Contains(t, report.Summary, "3 of 3")

	require.NotNil(t, report.Synthesis)
	assert.Equal(t, "syn_"+planID, report.Synthesis.ID)

	progress, err := h.orch.Progress(planID)
	require.NoError(t, err)
	assert.Equal(t, domain.Progress{Completed: 3, Total: 3, Percentage: 100}, progress)

	items, _, err := h.orch.EvidenceChain(planID)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	// Everything was persisted during the finish flow.
	assert.Equal(t, 2, h.gateway.PlanSaves)
	saved, err := h.gateway.LoadPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompleted, saved.Status)
	assert.Len(t, h.gateway.Evidence[planID], 3)
	require.NotNil(t, h.gateway.Syntheses[planID])

	// A second await resolves immediately from the cached report.
	again, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Same(t, report, again)

	raw, err := h.orch.Export(planID)
	require.NoError(t, err)
	var export domain.PlanExport
	require.NoError(t, json.Unmarshal(raw, &export))
	assert.Equal(t, planID, export.ID)
	assert.Equal(t, planID, export.EvidenceChainID)
	assert.Equal(t, domain.PlanStatusCompleted, export.Status)
	assert.Equal(t, 3, export.CompletedSteps)
	require.NotNil(t, export.Synthesis)

	testutil.WaitFor(t, time.Second, func() bool {
		for _, event := range h.sink.ByType(domain.EventStatusUpdate) {
			if event.Message == "plan finished: completed" {
				return true
			}
		}
		return false
	}, "finish event delivered to sink")
}

func TestCreatePlanPlannerError(t *testing.T) {
	planner := &testutil.MockPlanner{Err: errors.New("model unavailable")}
	h := newTestOrchestrator(t, testConfig(), planner)
	ctx := testutil.NewTestContext(t)

	_, err := h.orch.CreatePlan(ctx, "doomed query", "", 5)
	require.Error(t, err)
	assert.Equal(t, 0, h.gateway.PlanSaves)
}

func TestCreatePlanBackpressure(t *testing.T) {
	config := testConfig()
	config.MaxQueueDepth = 2

	// A synthesis-only pool leaves research subtasks pending forever.
	idle := agent.NewWithBreaker("synthesis-1", domain.CapabilitySynthesis, &stubExecutor{}, nil, agent.NewCircuitBreaker(100, time.Minute))
	h := newTestOrchestrator(t, config, testutil.NewMockPlanner(3), idle)
	ctx := testutil.NewTestContext(t)

	_, err := h.orch.CreatePlan(ctx, "first", "", 10)
	require.NoError(t, err)

	_, err = h.orch.CreatePlan(ctx, "second", "", 10)
	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "pending subtask queue", capErr.Resource)
	assert.Equal(t, 2, capErr.Limit)
}

func TestTransientFailureIsRetried(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		if call == 1 {
			return nil, domain.Transient(errors.New("upstream hiccup"))
		}
		return &agent.ExecutionOutput{
			Drafts: []domain.EvidenceDraft{testutil.NewTestDraft("recovered finding", 0.7, 0.7)},
		}, nil
	}}
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1), newResearchAgents(1, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "flaky upstream", "", 5)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompleted, report.Status)
	assert.Equal(t, 2, exec.Calls())

	plan, err := h.orch.Snapshot(planID)
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, 1, plan.Subtasks[0].RetryCount)
}

func TestRetriesExhaustedFailPlan(t *testing.T) {
	config := testConfig()
	config.MaxRetries = 1

	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		return nil, domain.Transient(errors.New("upstream down"))
	}}
	h := newTestOrchestrator(t, config, testutil.NewMockPlanner(1), newResearchAgents(1, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "dead upstream", "", 5)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompletedWithErrors, report.Status)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "upstream down")
	assert.Equal(t, 2, exec.Calls(), "initial attempt plus one retry")
}

func TestFatalFailureIsNotRetried(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		return nil, domain.Fatal(errors.New("malformed request"))
	}}
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1), newResearchAgents(1, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "bad request", "", 5)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompletedWithErrors, report.Status)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "malformed request")
	assert.Equal(t, 1, exec.Calls())
}

func TestSequentialStrategyRunsOneAtATime(t *testing.T) {
	config := testConfig()
	config.Strategy = StrategySequential

	var running, maxRunning atomic.Int32
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		current := running.Add(1)
		defer running.Add(-1)
		for {
			peak := maxRunning.Load()
			if current <= peak || maxRunning.CompareAndSwap(peak, current) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		return &agent.ExecutionOutput{
			Drafts: []domain.EvidenceDraft{testutil.NewTestDraft("finding for "+subtask.Title, 0.8, 0.8)},
		}, nil
	}}
	h := newTestOrchestrator(t, config, testutil.NewMockPlanner(4), newResearchAgents(2, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "one at a time", "", 10)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompleted, report.Status)
	assert.EqualValues(t, 1, maxRunning.Load())
	assert.Equal(t, 4, exec.Calls())
}

func TestParallelStrategySaturatesAgents(t *testing.T) {
	// Every execution blocks until all three run at once, so the plan can
	// only finish if the scheduler actually saturates the pool.
	var entered atomic.Int32
	barrier := make(chan struct{})
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		if entered.Add(1) == 3 {
			close(barrier)
		}
		select {
		case <-barrier:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &agent.ExecutionOutput{
			Drafts: []domain.EvidenceDraft{testutil.NewTestDraft("finding for "+subtask.Title, 0.8, 0.8)},
		}, nil
	}}
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(3), newResearchAgents(3, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "all at once", "", 10)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompleted, report.Status)
}

func TestCancelTaskCooperative(t *testing.T) {
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	agents := newResearchAgents(1, exec)
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1), agents...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "cancellable", "", 5)
	require.NoError(t, err)

	var taskID string
	testutil.WaitFor(t, time.Second, func() bool {
		tasks := h.orch.ActiveTasks(planID)
		if len(tasks) != 1 {
			return false
		}
		taskID = tasks[0].ID
		return true
	}, "task assigned")

	require.NoError(t, h.orch.CancelTask(taskID))

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompletedWithErrors, report.Status)

	task, ok := h.orch.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)

	plan, err := h.orch.Snapshot(planID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubtaskStatusCancelled, plan.Subtasks[0].Status)
	assert.Equal(t, agent.StatusIdle, agents[0].Status())

	err = h.orch.CancelTask(taskID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active task")
}

func TestCancelTaskForcedAfterGrace(t *testing.T) {
	var finished atomic.Bool
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		// Ignores cancellation entirely.
		time.Sleep(150 * time.Millisecond)
		finished.Store(true)
		return &agent.ExecutionOutput{
			Drafts: []domain.EvidenceDraft{testutil.NewTestDraft("late finding", 0.9, 0.9)},
		}, nil
	}}
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1), newResearchAgents(1, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "stubborn agent", "", 5)
	require.NoError(t, err)

	var taskID string
	testutil.WaitFor(t, time.Second, func() bool {
		tasks := h.orch.ActiveTasks(planID)
		if len(tasks) != 1 {
			return false
		}
		taskID = tasks[0].ID
		return true
	}, "task assigned")

	require.NoError(t, h.orch.CancelTask(taskID))

	// The task is already cancelling, so a second request is rejected.
	var transErr *domain.InvalidTransitionError
	require.ErrorAs(t, h.orch.CancelTask(taskID), &transErr)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompletedWithErrors, report.Status)

	task, ok := h.orch.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)

	// The late result from the ignored execution is discarded.
	testutil.WaitFor(t, time.Second, func() bool { return finished.Load() }, "executor returned")
	time.Sleep(50 * time.Millisecond)
	items, _, err := h.orch.EvidenceChain(planID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCancelUnknownTask(t *testing.T) {
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1))

	err := h.orch.CancelTask("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active task")
}

func TestWatchdogFailsStuckSubtasks(t *testing.T) {
	config := testConfig()
	config.PendingTimeout = 30 * time.Millisecond
	config.WatchdogInterval = 10 * time.Millisecond

	// No research-capable agent ever frees up, so the subtasks can only
	// leave pending through the watchdog.
	idle := agent.NewWithBreaker("synthesis-1", domain.CapabilitySynthesis, &stubExecutor{}, nil, agent.NewCircuitBreaker(100, time.Minute))
	h := newTestOrchestrator(t, config, testutil.NewMockPlanner(2), idle)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "nobody home", "", 5)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompletedWithErrors, report.Status)
	require.Len(t, report.Failures, 2)
	for _, failure := range report.Failures {
		assert.Contains(t, failure.Reason, "no capable agent")
	}

	testutil.WaitFor(t, time.Second, func() bool {
		return len(h.sink.ByType(domain.EventAlert)) >= 2
	}, "alert events delivered")
}

func TestWatchdogForceFailsUnresponsiveExecutor(t *testing.T) {
	config := testConfig()
	config.TaskTimeout = 30 * time.Millisecond
	config.CancelGrace = 10 * time.Millisecond
	config.WatchdogInterval = 10 * time.Millisecond
	config.MaxRetries = 0

	var finished atomic.Bool
	exec := &stubExecutor{fn: func(ctx context.Context, subtask *domain.Subtask, call int) (*agent.ExecutionOutput, error) {
		// Ignores both the deadline and cancellation.
		time.Sleep(500 * time.Millisecond)
		finished.Store(true)
		return &agent.ExecutionOutput{}, nil
	}}
	h := newTestOrchestrator(t, config, testutil.NewMockPlanner(1), newResearchAgents(1, exec)...)
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "wedged executor", "", 5)
	require.NoError(t, err)

	report, err := h.orch.AwaitPlan(ctx, planID)
	require.NoError(t, err)
	assert.False(t, finished.Load(), "plan must finish before the executor returns")
	assert.Equal(t, domain.PlanStatusCompletedWithErrors, report.Status)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "timed out")
}

func TestFinishFlowAfterStop(t *testing.T) {
	// No research agent, so the subtask stays pending and no finish flow
	// starts on its own.
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1))
	ctx := testutil.NewTestContext(t)

	planID, err := h.orch.CreatePlan(ctx, "stopped mid-flight", "", 5)
	require.NoError(t, err)

	entry, err := h.orch.planEntry(planID)
	require.NoError(t, err)

	h.orch.Stop()
	assert.NotPanics(t, func() { h.orch.finishPlan(planID, entry) })
}

func TestAwaitUnknownPlan(t *testing.T) {
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1))
	ctx := testutil.NewTestContext(t)

	_, err := h.orch.AwaitPlan(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown plan")

	_, err = h.orch.Progress("missing")
	require.Error(t, err)
}

func TestStartAndStopLifecycle(t *testing.T) {
	h := newTestOrchestrator(t, testConfig(), testutil.NewMockPlanner(1))

	err := h.orch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	h.orch.Stop()
	assert.NotPanics(t, h.orch.Stop)

	_, err = h.orch.CreatePlan(context.Background(), "after stop", "", 5)
	require.Error(t, err)
}
