package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

func samplePlan(id string) *domain.Plan {
	return &domain.Plan{
		ID:            id,
		Title:         "sample plan",
		ResearchQuery: "sample query",
		MaxSteps:      2,
		Status:        domain.PlanStatusInProgress,
		Subtasks: []*domain.Subtask{
			{ID: "st-1", PlanID: id, Title: "first step", Status: domain.SubtaskStatusCompleted},
			{ID: "st-2", PlanID: id, Title: "second step", Status: domain.SubtaskStatusPending},
		},
		Insights:  []string{"an insight"},
		CreatedAt: time.Now().UTC(),
	}
}

func sampleEvidence() ([]domain.EvidenceItem, []domain.EvidenceRelationship) {
	items := []domain.EvidenceItem{
		{ID: 1, SubtaskID: "st-1", Content: "first finding", QualityScore: 0.8, Tier: domain.TierHigh},
		{ID: 2, SubtaskID: "st-1", Content: "second finding", QualityScore: 0.6, Tier: domain.TierMedium},
	}
	rels := []domain.EvidenceRelationship{
		{Evidence1ID: 1, Evidence2ID: 2, Type: domain.RelationSupports, Confidence: 0.7},
	}
	return items, rels
}

func gateways(t *testing.T) map[string]domain.PersistenceGateway {
	t.Helper()
	fileGw, err := NewFileGateway(t.TempDir())
	require.NoError(t, err)
	return map[string]domain.PersistenceGateway{
		"memory": NewMemoryGateway(),
		"file":   fileGw,
	}
}

func TestGatewayPlanRoundTrip(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			plan := samplePlan("plan-1")
			require.NoError(t, gw.SavePlan(ctx, plan))

			loaded, err := gw.LoadPlan(ctx, "plan-1")
			require.NoError(t, err)
			assert.Equal(t, plan.ID, loaded.ID)
			assert.Equal(t, plan.Status, loaded.Status)
			require.Len(t, loaded.Subtasks, 2)
			assert.Equal(t, "first step", loaded.Subtasks[0].Title)
			assert.Equal(t, []string{"an insight"}, loaded.Insights)

			_, err = gw.LoadPlan(ctx, "missing")
			assert.Error(t, err)
		})
	}
}

func TestGatewayRejectsEmptyIDs(t *testing.T) {
	for name, gw := range gateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.Error(t, gw.SavePlan(ctx, &domain.Plan{}))
			assert.Error(t, gw.SaveEvidence(ctx, "", nil, nil))
			assert.Error(t, gw.SaveSynthesis(ctx, &domain.Synthesis{}))
		})
	}
}

func TestMemoryGatewaySaveIsolation(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	plan := samplePlan("plan-1")
	require.NoError(t, gw.SavePlan(ctx, plan))

	// Later mutations of the caller's plan must not leak into the store.
	plan.Status = domain.PlanStatusFailed
	plan.Subtasks[0].Status = domain.SubtaskStatusCancelled

	loaded, err := gw.LoadPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusInProgress, loaded.Status)
	assert.Equal(t, domain.SubtaskStatusCompleted, loaded.Subtasks[0].Status)
}

func TestMemoryGatewayEvidenceRoundTrip(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	items, rels := sampleEvidence()
	require.NoError(t, gw.SaveEvidence(ctx, "plan-1", items, rels))

	gotItems, gotRels, err := gw.LoadEvidence(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, items, gotItems)
	assert.Equal(t, rels, gotRels)
}

func TestMemoryGatewaySynthesisRoundTrip(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	syn := &domain.Synthesis{ID: "syn_plan-1", PlanID: "plan-1", QualityScore: 0.8}
	require.NoError(t, gw.SaveSynthesis(ctx, syn))

	loaded, err := gw.LoadSynthesis(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "syn_plan-1", loaded.ID)

	// Regeneration overwrites.
	require.NoError(t, gw.SaveSynthesis(ctx, &domain.Synthesis{ID: "syn_plan-1", PlanID: "plan-1", QualityScore: 0.9}))
	loaded, err = gw.LoadSynthesis(ctx, "plan-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, loaded.QualityScore, 1e-9)
}

func TestFileGatewayEvidenceRoundTrip(t *testing.T) {
	gw, err := NewFileGateway(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	items, rels := sampleEvidence()
	require.NoError(t, gw.SaveEvidence(ctx, "plan-1", items, rels))

	gotItems, gotRels, err := gw.LoadEvidence(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, items, gotItems)
	assert.Equal(t, rels, gotRels)
}

func TestFileGatewayLayout(t *testing.T) {
	dir := t.TempDir()
	gw, err := NewFileGateway(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, gw.SavePlan(ctx, samplePlan("plan-1")))
	items, rels := sampleEvidence()
	require.NoError(t, gw.SaveEvidence(ctx, "plan-1", items, rels))
	require.NoError(t, gw.SaveSynthesis(ctx, &domain.Synthesis{ID: "syn_plan-1", PlanID: "plan-1"}))

	for _, name := range []string{"plan.json", "evidence.json", "synthesis.json"} {
		_, err := os.Stat(filepath.Join(dir, "plan-1", name))
		assert.NoError(t, err, name)
	}

	// No stray temp files after a successful write.
	entries, err := os.ReadDir(filepath.Join(dir, "plan-1"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
}
