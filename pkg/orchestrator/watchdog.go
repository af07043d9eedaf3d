package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/evidencechain/orchestrator/pkg/agent"
	"github.com/evidencechain/orchestrator/pkg/domain"
)

// watchdog periodically sweeps for subtasks stuck pending past the plan
// level scheduling timeout. Unlike scheduling it is timer driven: a subtask
// nobody can run never produces a scheduling trigger on its own.
func (o *Orchestrator) watchdog() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.post(func() { o.sweep() })
		case <-o.stopped:
			return
		}
	}
}

// sweep force-fails running tasks whose executor outlived its deadline plus
// the cancel grace, then fails pending subtasks whose wait exceeded the
// pending timeout and re-checks plan completion. Loop-goroutine only.
func (o *Orchestrator) sweep() {
	now := time.Now()

	// Collect first: handleFailure mutates o.active.
	var expired []*activeTask
	for _, at := range o.active {
		if at.task.Status != domain.TaskStatusRunning {
			continue
		}
		if now.Before(at.task.TimeoutDeadline.Add(o.config.CancelGrace)) {
			continue
		}
		expired = append(expired, at)
	}
	for _, at := range expired {
		o.logger.Warn(o.runCtx, "Executor unresponsive past deadline",
			map[string]interface{}{
				"task_id":    at.task.ID,
				"subtask_id": at.task.SubtaskID,
				"agent_id":   at.agent.ID(),
			})
		at.cancel()
		entry := o.plans[at.planID]
		if entry == nil {
			at.task.Status = domain.TaskStatusFailed
			at.agent.Release(at.task.ID, agent.OutcomeFailure, time.Since(at.started))
			o.archiveTask(at)
			continue
		}
		o.handleFailure(at, entry,
			fmt.Errorf("executor unresponsive: %w", context.DeadlineExceeded),
			time.Since(at.started))
	}

	for planID, entry := range o.plans {
		if entry.report != nil || entry.finishing {
			continue
		}

		swept := false
		for _, subtask := range entry.notebook.PendingSubtasks() {
			if now.Sub(subtask.CreatedAt) < o.config.PendingTimeout {
				continue
			}

			reason := fmt.Sprintf("no capable agent within %s", o.config.PendingTimeout)
			if err := entry.notebook.FailStep(subtask.ID, reason); err != nil {
				continue
			}
			swept = true
			o.emitStatus(planID, subtask.ID, "subtask failed: scheduling timeout")
			o.events.Emit(domain.Event{
				Type:      domain.EventAlert,
				PlanID:    planID,
				SubtaskID: subtask.ID,
				Message:   reason,
			})
		}

		if swept {
			o.maybeFinish(planID)
		}
	}
}
