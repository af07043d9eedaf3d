package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/evidencechain/orchestrator/pkg/agent"
	"github.com/evidencechain/orchestrator/pkg/domain"
)

// schedule runs one assignment pass: pending subtasks ordered by priority
// then age, matched against idle agents, bounded by the strategy cap. It is
// re-entered on every scheduling trigger (plan created, agent freed, task
// terminal, cancel requested), never on a timer. Loop-goroutine only.
func (o *Orchestrator) schedule() {
	if o.deps.Metrics != nil {
		defer func() {
			o.deps.Metrics.SetWorkingAgents(int64(o.deps.Pool.CountWorking()))
			o.deps.Metrics.SetPendingSubtasks(int64(o.pendingDepth()))
		}()
	}

	for planID, entry := range o.plans {
		if entry.report != nil || entry.finishing {
			continue
		}

		for _, subtask := range entry.notebook.PendingSubtasks() {
			if o.deps.Pool.CountAssigned() >= o.controller.Cap() {
				return
			}

			worker, ok := o.deps.Pool.FindAvailable(subtask.RequiredCapability)
			if !ok {
				// No capable idle agent. The subtask stays pending; the
				// watchdog fails it if that lasts past the pending timeout.
				o.logger.Debug(o.runCtx, "No idle agent for subtask",
					map[string]interface{}{
						"subtask_id": subtask.ID,
						"capability": string(subtask.RequiredCapability),
					})
				continue
			}

			o.assign(planID, entry, subtask.ID, worker)
		}
	}
}

// assign binds one pending subtask to one idle agent and launches the
// execution goroutine. Loop-goroutine only.
func (o *Orchestrator) assign(planID string, entry *planEntry, subtaskID string, worker *agent.Agent) {
	task := &domain.Task{
		ID:              uuid.NewString(),
		SubtaskID:       subtaskID,
		PlanID:          planID,
		AgentID:         worker.ID(),
		Status:          domain.TaskStatusRunning,
		StartedAt:       time.Now(),
		TimeoutDeadline: time.Now().Add(o.config.TaskTimeout),
	}

	if err := worker.Assign(task); err != nil {
		o.logger.Warn(o.runCtx, "Assignment rejected",
			map[string]interface{}{"agent_id": worker.ID(), "error": err.Error()})
		return
	}
	if err := entry.notebook.StartStep(subtaskID); err != nil {
		worker.Release(task.ID, agent.OutcomeCancelled, 0)
		o.logger.Warn(o.runCtx, "Start transition rejected",
			map[string]interface{}{"subtask_id": subtaskID, "error": err.Error()})
		return
	}

	execCtx, cancel := context.WithTimeout(o.runCtx, o.config.TaskTimeout)
	at := &activeTask{
		task:    task,
		agent:   worker,
		planID:  planID,
		cancel:  cancel,
		started: time.Now(),
	}
	o.active[task.ID] = at

	subtaskCopy, _ := entry.notebook.Subtask(subtaskID)
	st := *subtaskCopy

	o.emitAgent(planID, subtaskID, worker.ID(), "task assigned")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		output, err := worker.Execute(execCtx, &st)
		elapsed := time.Since(at.started)

		if !o.post(func() { o.handleResult(at, output, err, elapsed) }) {
			// Orchestrator stopped mid-flight; free the agent directly.
			worker.Release(task.ID, agent.OutcomeCancelled, 0)
		}
	}()
}

// handleResult finalizes one execution attempt. Loop-goroutine only.
func (o *Orchestrator) handleResult(at *activeTask, output *agent.ExecutionOutput, err error, elapsed time.Duration) {
	if _, stillActive := o.active[at.task.ID]; !stillActive {
		// Force-cancelled while the agent was still running; its late
		// result is discarded.
		return
	}

	entry := o.plans[at.planID]
	if entry == nil {
		o.archiveTask(at)
		return
	}

	if at.task.Status == domain.TaskStatusCancelling {
		// Cooperative cancellation acknowledged before the grace expired.
		o.finalizeCancel(at)
		return
	}

	if err != nil {
		o.handleFailure(at, entry, err, elapsed)
		return
	}

	at.task.Status = domain.TaskStatusSucceeded
	at.agent.Release(at.task.ID, agent.OutcomeSuccess, elapsed)
	o.archiveTask(at)
	o.controller.RecordSuccess()

	result, cErr := entry.notebook.CompleteStep(at.task.SubtaskID, at.agent.ID(), output.Drafts, output.Insights)
	if cErr != nil {
		o.logger.Error(o.runCtx, "Complete transition rejected", cErr,
			map[string]interface{}{"subtask_id": at.task.SubtaskID})
	} else if o.deps.Metrics != nil {
		o.deps.Metrics.RecordSubtaskFinished(o.runCtx, string(domain.SubtaskStatusCompleted), elapsed)
		o.deps.Metrics.RecordEvidenceAdded(o.runCtx, len(result.EvidenceIDs))
	}

	o.emitAgent(at.planID, at.task.SubtaskID, at.agent.ID(), "subtask completed")

	if entry.notebook.Chain().NeedsInference() {
		o.inferAsync(at.planID, entry)
	}

	o.maybeFinish(at.planID)
	o.schedule()
}

// handleFailure resolves a failed attempt: fail the step, then either
// requeue it after backoff (transient, retries left) or leave it terminal.
// Loop-goroutine only.
func (o *Orchestrator) handleFailure(at *activeTask, entry *planEntry, execErr error, elapsed time.Duration) {
	at.task.Status = domain.TaskStatusFailed
	at.agent.Release(at.task.ID, agent.OutcomeFailure, elapsed)
	o.archiveTask(at)
	o.controller.RecordFailure()

	reason := execErr.Error()
	if errors.Is(execErr, context.DeadlineExceeded) {
		reason = fmt.Sprintf("timed out after %s", o.config.TaskTimeout)
	}
	if err := entry.notebook.FailStep(at.task.SubtaskID, reason); err != nil {
		o.logger.Error(o.runCtx, "Fail transition rejected", err,
			map[string]interface{}{"subtask_id": at.task.SubtaskID})
		o.schedule()
		return
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordSubtaskFinished(o.runCtx, string(domain.SubtaskStatusFailed), elapsed)
	}

	subtask, _ := entry.notebook.Subtask(at.task.SubtaskID)
	retryable := domain.IsTransient(execErr) && subtask != nil && subtask.RetryCount <= o.config.MaxRetries

	o.emitStatus(at.planID, at.task.SubtaskID, fmt.Sprintf("subtask failed: %s", reason))

	if !retryable {
		o.maybeFinish(at.planID)
		o.schedule()
		return
	}

	delay := o.retryDelay(entry, at.task.SubtaskID)
	o.logger.Info(o.runCtx, "Retrying subtask",
		map[string]interface{}{
			"subtask_id": at.task.SubtaskID,
			"attempt":    subtask.RetryCount,
			"delay":      delay.String(),
		})

	planID, subtaskID := at.planID, at.task.SubtaskID
	time.AfterFunc(delay, func() {
		o.post(func() {
			e := o.plans[planID]
			if e == nil || e.report != nil || e.finishing {
				return
			}
			if err := e.notebook.Requeue(subtaskID); err != nil {
				o.logger.Warn(o.runCtx, "Requeue rejected",
					map[string]interface{}{"subtask_id": subtaskID, "error": err.Error()})
				return
			}
			o.schedule()
		})
	})
	o.schedule()
}

// retryDelay advances the subtask's exponential backoff schedule.
// Loop-goroutine only.
func (o *Orchestrator) retryDelay(entry *planEntry, subtaskID string) time.Duration {
	sched, ok := entry.retrySchedules[subtaskID]
	if !ok {
		sched = backoff.NewExponentialBackOff()
		sched.InitialInterval = o.config.RetryInitialDelay
		sched.MaxInterval = o.config.TaskTimeout
		sched.MaxElapsedTime = 0
		sched.Reset()
		entry.retrySchedules[subtaskID] = sched
	}
	return sched.NextBackOff()
}

// inferAsync runs a relationship inference batch off the loop goroutine
func (o *Orchestrator) inferAsync(planID string, entry *planEntry) {
	chain := entry.notebook.Chain()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		added, err := chain.InferRelationships(o.runCtx)
		if err != nil {
			o.logger.Warn(o.runCtx, "Relationship inference failed",
				map[string]interface{}{"plan_id": planID, "error": err.Error()})
			return
		}
		if added > 0 && o.deps.Metrics != nil {
			o.deps.Metrics.RecordRelationshipsInferred(o.runCtx, added)
		}
	}()
}

// maybeFinish starts the finish flow once every subtask is terminal.
// Loop-goroutine only.
func (o *Orchestrator) maybeFinish(planID string) {
	entry := o.plans[planID]
	if entry == nil || entry.finishing || entry.report != nil {
		return
	}
	if !entry.notebook.AllTerminal() {
		return
	}

	entry.finishing = true
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.finishPlan(planID, entry)
	}()
}

// finishPlan runs the terminal pipeline: final inference, plan close,
// synthesis, persistence, waiter resolution. Only the plan close and waiter
// resolution touch orchestrator state, and both go through the loop.
func (o *Orchestrator) finishPlan(planID string, entry *planEntry) {
	ctx := o.runCtx
	chain := entry.notebook.Chain()

	if added, err := chain.InferRelationships(ctx); err != nil {
		o.logger.Warn(ctx, "Final relationship inference failed",
			map[string]interface{}{"plan_id": planID, "error": err.Error()})
	} else if added > 0 && o.deps.Metrics != nil {
		o.deps.Metrics.RecordRelationshipsInferred(ctx, added)
	}

	progress := entry.notebook.Progress()
	summary := fmt.Sprintf("Completed %d of %d research steps.", progress.Completed, progress.Total)

	var report *domain.FinishReport
	var finishErr error
	if err := o.call(func() {
		report, finishErr = entry.notebook.FinishPlan(summary, nil)
	}); err != nil {
		// Loop stopped before the plan could close. AwaitPlan callers
		// unblock through their own contexts.
		return
	}
	if finishErr != nil {
		o.logger.Error(ctx, "Finish rejected", finishErr,
			map[string]interface{}{"plan_id": planID})
		_ = o.call(func() { entry.finishing = false })
		return
	}

	plan := entry.notebook.Snapshot()
	items, rels := chain.Snapshot()

	var syn *domain.Synthesis
	if o.deps.Generator != nil {
		var err error
		syn, err = o.deps.Generator.Generate(ctx, plan, items, rels)
		if err != nil {
			o.logger.Error(ctx, "Synthesis failed", err,
				map[string]interface{}{"plan_id": planID})
		} else {
			report.Synthesis = syn
			if o.deps.Metrics != nil {
				o.deps.Metrics.RecordSynthesis(ctx, syn.LowConfidence)
			}
		}
	}

	if o.deps.Gateway != nil {
		if err := o.deps.Gateway.SavePlan(ctx, &plan); err != nil {
			o.logger.Warn(ctx, "Plan save failed",
				map[string]interface{}{"plan_id": planID, "error": err.Error()})
		}
		if err := o.deps.Gateway.SaveEvidence(ctx, planID, items, rels); err != nil {
			o.logger.Warn(ctx, "Evidence save failed",
				map[string]interface{}{"plan_id": planID, "error": err.Error()})
		}
		if syn != nil {
			if err := o.deps.Gateway.SaveSynthesis(ctx, syn); err != nil {
				o.logger.Warn(ctx, "Synthesis save failed",
					map[string]interface{}{"plan_id": planID, "error": err.Error()})
			}
		}
	}

	if err := o.call(func() {
		entry.report = report
		entry.finishing = false
		for _, waiter := range entry.waiters {
			waiter <- report
		}
		entry.waiters = nil
	}); err != nil {
		return
	}

	o.emitStatus(planID, "", fmt.Sprintf("plan finished: %s", report.Status))
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordPlanFinished(ctx, string(report.Status))
	}
}
