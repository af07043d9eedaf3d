// Package store ships the PersistenceGateway implementations: an in-memory
// gateway for tests and single-run usage, and a JSON file gateway.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// MemoryGateway keeps saved plans, evidence and syntheses in maps. Saves
// store deep copies so later plan mutations never leak in.
type MemoryGateway struct {
	mu        sync.RWMutex
	plans     map[string]*domain.Plan
	evidence  map[string]evidenceRecord
	syntheses map[string]*domain.Synthesis
}

type evidenceRecord struct {
	items         []domain.EvidenceItem
	relationships []domain.EvidenceRelationship
}

// NewMemoryGateway creates an empty in-memory gateway
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		plans:     make(map[string]*domain.Plan),
		evidence:  make(map[string]evidenceRecord),
		syntheses: make(map[string]*domain.Synthesis),
	}
}

var _ domain.PersistenceGateway = (*MemoryGateway)(nil)

// SavePlan stores a deep copy of the plan
func (g *MemoryGateway) SavePlan(ctx context.Context, plan *domain.Plan) error {
	if plan.ID == "" {
		return fmt.Errorf("plan id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.plans[plan.ID] = copyPlan(plan)
	return nil
}

// LoadPlan returns a deep copy of a saved plan
func (g *MemoryGateway) LoadPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	plan, ok := g.plans[planID]
	if !ok {
		return nil, fmt.Errorf("no saved plan %s", planID)
	}
	return copyPlan(plan), nil
}

// SaveEvidence stores the plan's evidence items and relationships
func (g *MemoryGateway) SaveEvidence(ctx context.Context, planID string, items []domain.EvidenceItem, relationships []domain.EvidenceRelationship) error {
	if planID == "" {
		return fmt.Errorf("plan id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.evidence[planID] = evidenceRecord{
		items:         append([]domain.EvidenceItem(nil), items...),
		relationships: append([]domain.EvidenceRelationship(nil), relationships...),
	}
	return nil
}

// SaveSynthesis stores the synthesis, overwriting any prior one for the
// same plan id.
func (g *MemoryGateway) SaveSynthesis(ctx context.Context, synthesis *domain.Synthesis) error {
	if synthesis.PlanID == "" {
		return fmt.Errorf("synthesis plan id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	synCopy := *synthesis
	g.syntheses[synthesis.PlanID] = &synCopy
	return nil
}

// LoadEvidence returns copies of stored evidence for a plan
func (g *MemoryGateway) LoadEvidence(ctx context.Context, planID string) ([]domain.EvidenceItem, []domain.EvidenceRelationship, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	record, ok := g.evidence[planID]
	if !ok {
		return nil, nil, fmt.Errorf("no saved evidence for plan %s", planID)
	}
	return append([]domain.EvidenceItem(nil), record.items...),
		append([]domain.EvidenceRelationship(nil), record.relationships...), nil
}

// LoadSynthesis returns a copy of the stored synthesis for a plan
func (g *MemoryGateway) LoadSynthesis(ctx context.Context, planID string) (*domain.Synthesis, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	syn, ok := g.syntheses[planID]
	if !ok {
		return nil, fmt.Errorf("no saved synthesis for plan %s", planID)
	}
	synCopy := *syn
	return &synCopy, nil
}

func copyPlan(plan *domain.Plan) *domain.Plan {
	planCopy := *plan
	planCopy.Subtasks = make([]*domain.Subtask, len(plan.Subtasks))
	for i, st := range plan.Subtasks {
		stCopy := *st
		planCopy.Subtasks[i] = &stCopy
	}
	planCopy.Insights = append([]string(nil), plan.Insights...)
	return &planCopy
}
