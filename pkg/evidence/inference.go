package evidence

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

const relationshipPromptTemplate = `You are analyzing relationships between two pieces of research evidence.

Evidence A: %s

Evidence B: %s

Classify the relationship between A and B as exactly one of:
supports, contradicts, extends, clarifies, depends_on, unrelated.

Respond with a single line containing the relationship type and a confidence
between 0.0 and 1.0, separated by a space. Example: "supports 0.8"`

// candidatePair references two chain items by id, first id always lower
type candidatePair struct {
	a, b int64
}

// InferRelationships classifies relationships between items added since the
// last pass and the rest of the chain. Classification is best-effort: a
// failed or unparseable completion skips the pair rather than failing the
// pass. Edges below MinEdgeConfidence and edges classified unrelated are
// discarded.
func (c *Chain) InferRelationships(ctx context.Context) (int, error) {
	if c.completion == nil {
		return 0, nil
	}

	// One pass at a time. A pass that starts after another finished sees the
	// advanced mark and only considers items the earlier pass never saw.
	c.inferring.Lock()
	defer c.inferring.Unlock()

	fresh, existing, mark := c.pendingSince()
	if len(fresh) == 0 {
		c.advanceInferenceMark(mark)
		return 0, nil
	}

	pairs := c.candidatePairs(fresh, existing)
	added := 0
	for _, pair := range pairs {
		select {
		case <-ctx.Done():
			return added, ctx.Err()
		default:
		}

		a, okA := c.Get(pair.a)
		b, okB := c.Get(pair.b)
		if !okA || !okB {
			continue
		}

		relType, confidence, err := c.classifyPair(ctx, a, b)
		if err != nil {
			c.logger.Warn(ctx, "relationship classification failed", map[string]interface{}{
				"evidence_1": pair.a,
				"evidence_2": pair.b,
				"error":      err.Error(),
			})
			continue
		}
		if relType == "" || confidence < c.config.MinEdgeConfidence {
			continue
		}

		c.mu.Lock()
		c.edges = append(c.edges, domain.EvidenceRelationship{
			Evidence1ID: pair.a,
			Evidence2ID: pair.b,
			Type:        relType,
			Confidence:  confidence,
		})
		c.mu.Unlock()
		added++
	}

	c.advanceInferenceMark(mark)
	return added, nil
}

func (c *Chain) advanceInferenceMark(mark int64) {
	c.mu.Lock()
	if mark > c.lastInferred {
		c.lastInferred = mark
	}
	c.mu.Unlock()
}

// candidatePairs enumerates fresh-vs-all pairs, reservoir-sampled down to
// PairwiseCap. The sample is seeded from the plan id so repeated runs over
// the same chain pick the same pairs.
func (c *Chain) candidatePairs(fresh, existing []*domain.EvidenceItem) []candidatePair {
	var pairs []candidatePair
	for i, item := range fresh {
		for _, other := range existing {
			pairs = append(pairs, orderedPair(item.ID, other.ID))
		}
		for _, other := range fresh[i+1:] {
			pairs = append(pairs, orderedPair(item.ID, other.ID))
		}
	}

	if len(pairs) <= c.config.PairwiseCap {
		return pairs
	}

	seed := fnv.New64a()
	seed.Write([]byte(c.planID))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	sample := make([]candidatePair, c.config.PairwiseCap)
	copy(sample, pairs[:c.config.PairwiseCap])
	for i := c.config.PairwiseCap; i < len(pairs); i++ {
		j := rng.Intn(i + 1)
		if j < c.config.PairwiseCap {
			sample[j] = pairs[i]
		}
	}
	return sample
}

func orderedPair(a, b int64) candidatePair {
	if a > b {
		a, b = b, a
	}
	return candidatePair{a: a, b: b}
}

func (c *Chain) classifyPair(ctx context.Context, a, b *domain.EvidenceItem) (domain.RelationshipType, float64, error) {
	prompt := fmt.Sprintf(relationshipPromptTemplate, truncate(a.Content, 800), truncate(b.Content, 800))

	response, err := c.completion.Complete(ctx, prompt)
	if err != nil {
		return "", 0, err
	}

	return parseRelationship(response)
}

// parseRelationship extracts "type confidence" from a completion. Parsing is
// lenient: the first recognized relationship word on any line wins, and a
// missing or malformed confidence defaults to 0.5. An explicit "unrelated" or
// "none" answer yields an empty type, meaning no edge.
func parseRelationship(response string) (domain.RelationshipType, float64, error) {
	for _, line := range strings.Split(response, "\n") {
		fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
		for i, field := range fields {
			word := strings.Trim(field, ".,:;\"'")
			if word == "unrelated" || word == "none" {
				return "", 1, nil
			}
			relType := domain.RelationshipType(word)
			if !domain.ValidRelationshipType(relType) {
				continue
			}

			confidence := 0.5
			if i+1 < len(fields) {
				raw := strings.Trim(fields[i+1], ".,:;\"'()")
				if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= 0 && parsed <= 1 {
					confidence = parsed
				}
			}
			return relType, confidence, nil
		}
	}
	return "", 0, fmt.Errorf("no relationship type in response: %q", truncate(response, 120))
}

// truncate shortens s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
