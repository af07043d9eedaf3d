package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// FileGateway writes plans, evidence and syntheses as JSON documents under
// a base directory, one subdirectory per plan.
type FileGateway struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileGateway creates the gateway and its base directory
func NewFileGateway(baseDir string) (*FileGateway, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileGateway{baseDir: baseDir}, nil
}

var _ domain.PersistenceGateway = (*FileGateway)(nil)

type evidenceDocument struct {
	PlanID        string                        `json:"plan_id"`
	Items         []domain.EvidenceItem         `json:"items"`
	Relationships []domain.EvidenceRelationship `json:"relationships"`
}

// SavePlan writes the plan document
func (g *FileGateway) SavePlan(ctx context.Context, plan *domain.Plan) error {
	if plan.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	return g.writeDocument(plan.ID, "plan.json", plan)
}

// LoadPlan reads a plan document back
func (g *FileGateway) LoadPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(g.path(planID, "plan.json"))
	if err != nil {
		return nil, fmt.Errorf("no saved plan %s: %w", planID, err)
	}

	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", planID, err)
	}
	return &plan, nil
}

// SaveEvidence writes the evidence document
func (g *FileGateway) SaveEvidence(ctx context.Context, planID string, items []domain.EvidenceItem, relationships []domain.EvidenceRelationship) error {
	if planID == "" {
		return fmt.Errorf("plan id is required")
	}
	return g.writeDocument(planID, "evidence.json", evidenceDocument{
		PlanID:        planID,
		Items:         items,
		Relationships: relationships,
	})
}

// SaveSynthesis writes the synthesis document, overwriting any prior one
func (g *FileGateway) SaveSynthesis(ctx context.Context, synthesis *domain.Synthesis) error {
	if synthesis.PlanID == "" {
		return fmt.Errorf("synthesis plan id is required")
	}
	return g.writeDocument(synthesis.PlanID, "synthesis.json", synthesis)
}

// LoadEvidence reads the evidence document back
func (g *FileGateway) LoadEvidence(ctx context.Context, planID string) ([]domain.EvidenceItem, []domain.EvidenceRelationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(g.path(planID, "evidence.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("no saved evidence for plan %s: %w", planID, err)
	}

	var doc evidenceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode evidence for plan %s: %w", planID, err)
	}
	return doc.Items, doc.Relationships, nil
}

func (g *FileGateway) path(planID, name string) string {
	return filepath.Join(g.baseDir, planID, name)
}

// writeDocument marshals v and writes it via a temp-file rename so readers
// never see a partial document.
func (g *FileGateway) writeDocument(planID, name string, v interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dir := filepath.Join(g.baseDir, planID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return nil
}
