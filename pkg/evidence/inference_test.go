package evidence

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencechain/orchestrator/internal/testutil"
	"github.com/evidencechain/orchestrator/pkg/domain"
)

func TestParseRelationship(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		wantType       domain.RelationshipType
		wantConfidence float64
		wantErr        bool
	}{
		{"plain answer", "supports 0.8", domain.RelationSupports, 0.8, false},
		{"capitalized with punctuation", "Contradicts 0.9.", domain.RelationContradicts, 0.9, false},
		{"prose around answer", "The relationship is: extends 0.65 based on the dates.", domain.RelationExtends, 0.65, false},
		{"missing confidence defaults", "depends_on", domain.RelationDependsOn, 0.5, false},
		{"confidence out of range defaults", "clarifies 1.7", domain.RelationClarifies, 0.5, false},
		{"unrelated yields no edge", "unrelated 0.9", "", 1, false},
		{"none yields no edge", "None.", "", 1, false},
		{"multiline picks first match", "Let me think.\nsupports 0.7\nextends 0.2", domain.RelationSupports, 0.7, false},
		{"garbage", "I cannot determine this.", "", 0, true},
		{"empty", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relType, confidence, err := parseRelationship(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, relType)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
		})
	}
}

func TestInferRelationshipsAddsEdges(t *testing.T) {
	completion := &testutil.MockCompletion{Response: "supports 0.8"}
	chain := NewChain("plan-1", nil, DefaultChainConfig())
	chain.completion = completion

	_, err := chain.Add("st-1", "research-1", testutil.NewTestDraft("Rooftop solar installations rose sharply this year.", 0.8, 0.8))
	require.NoError(t, err)
	_, err = chain.Add("st-1", "research-1", testutil.NewTestDraft("Residential panel shipments hit a record high.", 0.8, 0.8))
	require.NoError(t, err)

	added, err := chain.InferRelationships(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	rels := chain.Relationships()
	require.Len(t, rels, 1)
	assert.Equal(t, domain.RelationSupports, rels[0].Type)
	assert.InDelta(t, 0.8, rels[0].Confidence, 1e-9)
	assert.Less(t, rels[0].Evidence1ID, rels[0].Evidence2ID)
	assert.False(t, chain.NeedsInference(), "inference mark should advance")
}

func TestInferRelationshipsDiscardsWeakAndUnrelated(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"below confidence floor", "extends 0.1"},
		{"unrelated", "unrelated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewChain("plan-1", nil, DefaultChainConfig())
			chain.completion = &testutil.MockCompletion{Response: tt.response}

			_, err := chain.Add("st-1", "research-1", testutil.NewTestDraft("First standalone observation about tariffs.", 0.8, 0.8))
			require.NoError(t, err)
			_, err = chain.Add("st-1", "research-1", testutil.NewTestDraft("Second standalone observation about shipping.", 0.8, 0.8))
			require.NoError(t, err)

			added, err := chain.InferRelationships(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, added)
			assert.Empty(t, chain.Relationships())
		})
	}
}

func TestInferRelationshipsSkipsFailedPairs(t *testing.T) {
	completion := &testutil.MockCompletion{Err: fmt.Errorf("model unavailable")}
	chain := NewChain("plan-1", nil, DefaultChainConfig())
	chain.completion = completion

	_, err := chain.Add("st-1", "research-1", testutil.NewTestDraft("An observation about supply chains.", 0.8, 0.8))
	require.NoError(t, err)
	_, err = chain.Add("st-1", "research-1", testutil.NewTestDraft("A different observation about labor costs.", 0.8, 0.8))
	require.NoError(t, err)

	added, err := chain.InferRelationships(context.Background())
	require.NoError(t, err, "classification failures are best-effort, not pass failures")
	assert.Equal(t, 0, added)
}

func TestInferRelationshipsNoCompletion(t *testing.T) {
	chain := NewChain("plan-1", nil, DefaultChainConfig())

	_, err := chain.Add("st-1", "research-1", testutil.NewTestDraft("Lone observation.", 0.8, 0.8))
	require.NoError(t, err)

	added, err := chain.InferRelationships(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestInferRelationshipsSerializesPasses(t *testing.T) {
	release := make(chan struct{})
	completion := &testutil.MockCompletion{
		CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			<-release
			return "supports 0.8", nil
		},
	}
	chain := NewChain("plan-1", nil, DefaultChainConfig())
	chain.completion = completion

	_, err := chain.Add("st-1", "research-1", testutil.NewTestDraft("Grid storage capacity doubled within a year.", 0.8, 0.8))
	require.NoError(t, err)
	_, err = chain.Add("st-1", "research-1", testutil.NewTestDraft("Battery prices fell below the projected floor.", 0.8, 0.8))
	require.NoError(t, err)

	results := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, inferErr := chain.InferRelationships(context.Background())
			assert.NoError(t, inferErr)
			results <- added
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	total := 0
	for added := range results {
		total += added
	}
	assert.Equal(t, 1, total, "the pair must be classified exactly once")
	assert.Len(t, chain.Relationships(), 1)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdef", 4))

	got := truncate(strings.Repeat("é", 10), 5)
	assert.Equal(t, "éé...", got)
	assert.True(t, utf8.ValidString(got))
}

func TestCandidatePairsCapAndDeterminism(t *testing.T) {
	cfg := DefaultChainConfig()
	cfg.PairwiseCap = 10
	chain := NewChain("plan-deterministic", nil, cfg)

	var fresh []*domain.EvidenceItem
	for i := int64(1); i <= 20; i++ {
		fresh = append(fresh, &domain.EvidenceItem{ID: i})
	}

	first := chain.candidatePairs(fresh, nil)
	second := chain.candidatePairs(fresh, nil)

	assert.Len(t, first, 10)
	assert.Equal(t, first, second, "same plan id must sample the same pairs")

	for _, pair := range first {
		assert.Less(t, pair.a, pair.b)
	}

	other := NewChain("plan-other", nil, cfg)
	third := other.candidatePairs(fresh, nil)
	assert.NotEqual(t, first, third, "different plan ids should sample differently")
}
