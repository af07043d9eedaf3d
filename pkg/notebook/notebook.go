// Package notebook owns a plan and its ordered subtasks. All mutations go
// through notebook operations; readers get deep-copied snapshots.
package notebook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/evidence"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// insightCap bounds plan insights; the oldest insight is dropped at the cap.
const insightCap = 50

// StepResult records what completing a subtask produced. It is retained so a
// repeated complete call returns the original outcome instead of mutating
// anything twice.
type StepResult struct {
	SubtaskID   string  `json:"subtask_id"`
	EvidenceIDs []int64 `json:"evidence_ids"`
	Insights    int     `json:"insights"`
}

// Notebook pairs one plan with its evidence chain
type Notebook struct {
	mu      sync.RWMutex
	plan    *domain.Plan
	byID    map[string]*domain.Subtask
	results map[string]*StepResult
	chain   *evidence.Chain
	logger  *observability.StructuredLogger
}

// Create drafts a plan for the query through the planner. It fails with a
// PlanningError when the query is empty or the planner drafts no subtasks.
// The planner's output is truncated to maxSteps.
func Create(ctx context.Context, planner domain.PlannerService, completion domain.CompletionService, query, researchDomain string, maxSteps int, chainCfg evidence.ChainConfig) (*Notebook, error) {
	if query == "" {
		return nil, &domain.PlanningError{Reason: "empty research query"}
	}
	if maxSteps <= 0 {
		maxSteps = 5
	}

	subtasks, err := planner.GenerateSubtasks(ctx, query, researchDomain, maxSteps)
	if err != nil {
		return nil, &domain.PlanningError{Reason: fmt.Sprintf("planner: %v", err)}
	}
	if len(subtasks) == 0 {
		return nil, &domain.PlanningError{Reason: "planner drafted no subtasks"}
	}
	if len(subtasks) > maxSteps {
		subtasks = subtasks[:maxSteps]
	}

	planID := uuid.NewString()
	now := time.Now()
	for _, st := range subtasks {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		st.PlanID = planID
		st.Status = domain.SubtaskStatusPending
		if st.RequiredCapability == "" {
			st.RequiredCapability = domain.CapabilityResearch
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
	}

	plan := &domain.Plan{
		ID:            planID,
		Title:         query,
		ResearchQuery: query,
		Domain:        researchDomain,
		MaxSteps:      maxSteps,
		Status:        domain.PlanStatusCreated,
		Subtasks:      subtasks,
		CreatedAt:     now,
	}

	nb := &Notebook{
		plan:    plan,
		byID:    make(map[string]*domain.Subtask, len(subtasks)),
		results: make(map[string]*StepResult),
		chain:   evidence.NewChain(planID, completion, chainCfg),
		logger:  observability.NewStructuredLogger("notebook"),
	}
	for _, st := range subtasks {
		nb.byID[st.ID] = st
	}

	nb.logger.Info(ctx, "Plan created",
		map[string]interface{}{
			"plan_id":  planID,
			"subtasks": len(subtasks),
			"domain":   researchDomain,
		})
	return nb, nil
}

// PlanID returns the plan id
func (n *Notebook) PlanID() string {
	return n.plan.ID
}

// Chain returns the plan's evidence chain
func (n *Notebook) Chain() *evidence.Chain {
	return n.chain
}

// Subtask returns the live subtask with the given id. Callers outside the
// orchestrator should use Snapshot instead.
func (n *Notebook) Subtask(id string) (*domain.Subtask, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	st, ok := n.byID[id]
	return st, ok
}

// StartStep moves a pending subtask to in_progress and stamps its start time
func (n *Notebook) StartStep(subtaskID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.byID[subtaskID]
	if !ok {
		return fmt.Errorf("unknown subtask %s", subtaskID)
	}
	if st.Status != domain.SubtaskStatusPending {
		return &domain.InvalidTransitionError{
			Entity: "subtask", ID: subtaskID,
			From: string(st.Status), To: string(domain.SubtaskStatusInProgress),
		}
	}

	now := time.Now()
	st.Status = domain.SubtaskStatusInProgress
	st.StartTime = &now
	if n.plan.Status == domain.PlanStatusCreated {
		n.plan.Status = domain.PlanStatusInProgress
	}
	return nil
}

// CompleteStep resolves a subtask: evidence drafts go into the chain,
// insights onto the plan, and the subtask becomes completed. Completing an
// already-completed subtask is a no-op returning the prior result.
func (n *Notebook) CompleteStep(subtaskID, collectedBy string, drafts []domain.EvidenceDraft, insights []string) (*StepResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.byID[subtaskID]
	if !ok {
		return nil, fmt.Errorf("unknown subtask %s", subtaskID)
	}
	if st.Status == domain.SubtaskStatusCompleted {
		return n.results[subtaskID], nil
	}
	if st.Status != domain.SubtaskStatusInProgress {
		return nil, &domain.InvalidTransitionError{
			Entity: "subtask", ID: subtaskID,
			From: string(st.Status), To: string(domain.SubtaskStatusCompleted),
		}
	}

	result := &StepResult{SubtaskID: subtaskID}
	for _, draft := range drafts {
		item, err := n.chain.Add(subtaskID, collectedBy, draft)
		if err != nil {
			n.logger.Warn(context.Background(), "Evidence draft rejected",
				map[string]interface{}{
					"subtask_id": subtaskID,
					"error":      err.Error(),
				})
			continue
		}
		result.EvidenceIDs = append(result.EvidenceIDs, item.ID)
	}

	for _, insight := range insights {
		if insight == "" {
			continue
		}
		n.plan.Insights = append(n.plan.Insights, insight)
		result.Insights++
	}
	if excess := len(n.plan.Insights) - insightCap; excess > 0 {
		n.plan.Insights = append([]string(nil), n.plan.Insights[excess:]...)
	}

	now := time.Now()
	st.Status = domain.SubtaskStatusCompleted
	st.EndTime = &now
	n.results[subtaskID] = result
	return result, nil
}

// FailStep marks a subtask failed and counts the attempt. Whether the
// subtask is requeued is the caller's retry decision.
func (n *Notebook) FailStep(subtaskID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.byID[subtaskID]
	if !ok {
		return fmt.Errorf("unknown subtask %s", subtaskID)
	}
	if st.Status != domain.SubtaskStatusPending && st.Status != domain.SubtaskStatusInProgress {
		return &domain.InvalidTransitionError{
			Entity: "subtask", ID: subtaskID,
			From: string(st.Status), To: string(domain.SubtaskStatusFailed),
		}
	}

	now := time.Now()
	st.Status = domain.SubtaskStatusFailed
	st.EndTime = &now
	st.RetryCount++
	st.FailureReason = reason
	n.logger.Warn(context.Background(), "Subtask failed",
		map[string]interface{}{
			"plan_id":     n.plan.ID,
			"subtask_id":  subtaskID,
			"reason":      reason,
			"retry_count": st.RetryCount,
		})
	return nil
}

// Requeue moves a failed subtask back to pending for another attempt
func (n *Notebook) Requeue(subtaskID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.byID[subtaskID]
	if !ok {
		return fmt.Errorf("unknown subtask %s", subtaskID)
	}
	if st.Status != domain.SubtaskStatusFailed {
		return &domain.InvalidTransitionError{
			Entity: "subtask", ID: subtaskID,
			From: string(st.Status), To: string(domain.SubtaskStatusPending),
		}
	}

	st.Status = domain.SubtaskStatusPending
	st.StartTime = nil
	st.EndTime = nil
	st.FailureReason = ""
	return nil
}

// CancelStep moves a pending or in_progress subtask to cancelled
func (n *Notebook) CancelStep(subtaskID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	st, ok := n.byID[subtaskID]
	if !ok {
		return fmt.Errorf("unknown subtask %s", subtaskID)
	}
	if st.Status.Terminal() {
		return &domain.InvalidTransitionError{
			Entity: "subtask", ID: subtaskID,
			From: string(st.Status), To: string(domain.SubtaskStatusCancelled),
		}
	}

	now := time.Now()
	st.Status = domain.SubtaskStatusCancelled
	st.EndTime = &now
	return nil
}

// Progress returns completed/total with a rounded percentage
func (n *Notebook) Progress() domain.Progress {
	n.mu.RLock()
	defer n.mu.RUnlock()

	completed := 0
	for _, st := range n.plan.Subtasks {
		if st.Status == domain.SubtaskStatusCompleted {
			completed++
		}
	}

	total := len(n.plan.Subtasks)
	pct := 0
	if total > 0 {
		pct = int(float64(100*completed)/float64(total) + 0.5)
	}
	return domain.Progress{Completed: completed, Total: total, Percentage: pct}
}

// StatusCounts returns how many subtasks sit in each status
func (n *Notebook) StatusCounts() map[domain.SubtaskStatus]int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	counts := make(map[domain.SubtaskStatus]int)
	for _, st := range n.plan.Subtasks {
		counts[st.Status]++
	}
	return counts
}

// AllTerminal reports whether every subtask reached a terminal status
func (n *Notebook) AllTerminal() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, st := range n.plan.Subtasks {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// PendingSubtasks returns copies of pending subtasks ordered by priority
// descending, then creation time ascending.
func (n *Notebook) PendingSubtasks() []domain.Subtask {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var pending []domain.Subtask
	for _, st := range n.plan.Subtasks {
		if st.Status == domain.SubtaskStatusPending {
			pending = append(pending, *st)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// FinishPlan closes the plan once every subtask is terminal. The terminal
// plan status is completed when everything completed, failed when a critical
// subtask did not complete, completed_with_errors otherwise.
func (n *Notebook) FinishPlan(summary string, finalInsights []string) (*domain.FinishReport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, st := range n.plan.Subtasks {
		if !st.Status.Terminal() {
			return nil, &domain.InvalidTransitionError{
				Entity: "plan", ID: n.plan.ID,
				From: string(n.plan.Status), To: string(domain.PlanStatusCompleted),
			}
		}
	}

	var failures []domain.StepFailure
	allCompleted := true
	criticalFailed := false
	for _, st := range n.plan.Subtasks {
		if st.Status == domain.SubtaskStatusCompleted {
			continue
		}
		allCompleted = false
		if st.Critical {
			criticalFailed = true
		}
		reason := st.FailureReason
		if reason == "" {
			reason = fmt.Sprintf("subtask %s", st.Status)
		}
		failures = append(failures, domain.StepFailure{
			SubtaskID: st.ID,
			Reason:    reason,
		})
	}

	switch {
	case allCompleted:
		n.plan.Status = domain.PlanStatusCompleted
	case criticalFailed:
		n.plan.Status = domain.PlanStatusFailed
	default:
		n.plan.Status = domain.PlanStatusCompletedWithErrors
	}

	for _, insight := range finalInsights {
		if insight != "" {
			n.plan.Insights = append(n.plan.Insights, insight)
		}
	}
	if excess := len(n.plan.Insights) - insightCap; excess > 0 {
		n.plan.Insights = append([]string(nil), n.plan.Insights[excess:]...)
	}

	n.plan.Summary = summary
	now := time.Now()
	n.plan.CompletedAt = &now

	return &domain.FinishReport{
		PlanID:   n.plan.ID,
		Status:   n.plan.Status,
		Summary:  summary,
		Failures: failures,
	}, nil
}

// Snapshot returns a deep copy of the plan for external readers
func (n *Notebook) Snapshot() domain.Plan {
	n.mu.RLock()
	defer n.mu.RUnlock()

	plan := *n.plan
	plan.Subtasks = make([]*domain.Subtask, len(n.plan.Subtasks))
	for i, st := range n.plan.Subtasks {
		stCopy := *st
		plan.Subtasks[i] = &stCopy
	}
	plan.Insights = append([]string(nil), n.plan.Insights...)
	return plan
}

// Export renders the plan as the exchange JSON shape
func (n *Notebook) Export(synthesis *domain.Synthesis) ([]byte, error) {
	plan := n.Snapshot()
	return domain.ExportPlan(&plan, synthesis).MarshalExport()
}
