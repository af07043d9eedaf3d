package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlanExport is the JSON shape consumed by the surrounding UI/API layer.
type PlanExport struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Status          PlanStatus      `json:"status"`
	TotalSteps      int             `json:"total_steps"`
	CompletedSteps  int             `json:"completed_steps"`
	Subtasks        []SubtaskExport `json:"subtasks"`
	EvidenceChainID string          `json:"evidence_chain_id"`
	Synthesis       *Synthesis      `json:"synthesis,omitempty"`
}

// SubtaskExport is the per-subtask slice of a plan export.
type SubtaskExport struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    SubtaskStatus `json:"status"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
}

// ExportPlan builds the export view of a plan. The evidence chain id is the
// plan id: chains are plan-scoped.
func ExportPlan(plan *Plan, synthesis *Synthesis) *PlanExport {
	export := &PlanExport{
		ID:              plan.ID,
		Title:           plan.Title,
		Status:          plan.Status,
		TotalSteps:      len(plan.Subtasks),
		Subtasks:        make([]SubtaskExport, 0, len(plan.Subtasks)),
		EvidenceChainID: plan.ID,
		Synthesis:       synthesis,
	}

	for _, st := range plan.Subtasks {
		if st.Status == SubtaskStatusCompleted {
			export.CompletedSteps++
		}
		export.Subtasks = append(export.Subtasks, SubtaskExport{
			ID:        st.ID,
			Title:     st.Title,
			Status:    st.Status,
			StartTime: st.StartTime,
			EndTime:   st.EndTime,
		})
	}

	return export
}

// ImportPlan reconstructs a plan skeleton from its export form. Subtask
// ordering and statuses round-trip exactly; fields the export does not carry
// (descriptions, scores, timestamps beyond start/end) do not.
func ImportPlan(data []byte) (*Plan, error) {
	var export PlanExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to parse plan export: %w", err)
	}
	if export.ID == "" {
		return nil, fmt.Errorf("plan export missing id")
	}

	plan := &Plan{
		ID:       export.ID,
		Title:    export.Title,
		Status:   export.Status,
		MaxSteps: export.TotalSteps,
		Subtasks: make([]*Subtask, 0, len(export.Subtasks)),
	}

	for _, se := range export.Subtasks {
		plan.Subtasks = append(plan.Subtasks, &Subtask{
			ID:        se.ID,
			PlanID:    export.ID,
			Title:     se.Title,
			Status:    se.Status,
			StartTime: se.StartTime,
			EndTime:   se.EndTime,
		})
	}

	return plan, nil
}

// MarshalExport renders the export as JSON.
func (e *PlanExport) MarshalExport() ([]byte, error) {
	return json.Marshal(e)
}
