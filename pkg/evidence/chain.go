package evidence

import (
	"math"
	"sync"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// ChainConfig holds the evidence chain policy knobs
type ChainConfig struct {
	// DedupeThreshold is the normalized-content similarity at or above which
	// a new draft is merged into an existing item instead of inserted.
	DedupeThreshold float64 `json:"dedupe_threshold"`
	// InferenceBatchSize is how many new items accumulate before a
	// relationship inference pass runs.
	InferenceBatchSize int `json:"inference_batch_size"`
	// PairwiseCap bounds how many existing items each new item is compared
	// against; beyond it a deterministic reservoir sample is used.
	PairwiseCap int `json:"pairwise_cap"`
	// MinEdgeConfidence is the confidence below which classified edges are
	// discarded rather than stored.
	MinEdgeConfidence float64 `json:"min_edge_confidence"`
}

// DefaultChainConfig returns the default chain policy
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		DedupeThreshold:    0.95,
		InferenceBatchSize: 5,
		PairwiseCap:        200,
		MinEdgeConfidence:  0.3,
	}
}

// Chain owns the evidence items and relationships collected for one plan.
// Items are append-only with chain-scoped monotonically increasing ids;
// relationships reference items by id only.
type Chain struct {
	mu         sync.RWMutex
	planID     string
	nextID     int64
	items      []*domain.EvidenceItem
	index      map[int64]*domain.EvidenceItem
	normalized map[int64]string
	edges      []domain.EvidenceRelationship

	// lastInferred is the highest item id already considered by a
	// relationship inference pass.
	lastInferred int64

	// inferring serializes inference passes so two overlapping calls
	// never classify the same pair twice.
	inferring sync.Mutex

	config     ChainConfig
	completion domain.CompletionService
	logger     *observability.StructuredLogger
}

// NewChain creates the evidence chain for a plan
func NewChain(planID string, completion domain.CompletionService, config ChainConfig) *Chain {
	if config.DedupeThreshold <= 0 {
		config.DedupeThreshold = 0.95
	}
	if config.InferenceBatchSize <= 0 {
		config.InferenceBatchSize = 5
	}
	if config.PairwiseCap <= 0 {
		config.PairwiseCap = 200
	}
	if config.MinEdgeConfidence <= 0 {
		config.MinEdgeConfidence = 0.3
	}

	return &Chain{
		planID:     planID,
		index:      make(map[int64]*domain.EvidenceItem),
		normalized: make(map[int64]string),
		config:     config,
		completion: completion,
		logger:     observability.NewStructuredLogger("evidence_chain"),
	}
}

// PlanID returns the owning plan id
func (c *Chain) PlanID() string {
	return c.planID
}

// Add validates and stores a draft, returning the resulting item. A draft
// whose normalized content is at least DedupeThreshold similar to an existing
// item is merged into that item (scores raised to the max of the two) and no
// new id is created.
func (c *Chain) Add(subtaskID, collectedBy string, draft domain.EvidenceDraft) (*domain.EvidenceItem, error) {
	confidence, relevance, verified, err := resolveScores(draft)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	normalized := normalizeContent(draft.Content)
	for _, existing := range c.items {
		if similarity(normalized, c.normalized[existing.ID]) < c.config.DedupeThreshold {
			continue
		}
		// Near-duplicate: keep the stronger scores on the existing item.
		existing.ConfidenceScore = math.Max(existing.ConfidenceScore, confidence)
		existing.RelevanceScore = math.Max(existing.RelevanceScore, relevance)
		existing.QualityScore = qualityScore(existing.ConfidenceScore, existing.RelevanceScore)
		if verified && existing.Tier == domain.TierUnverified {
			existing.Tier = tierFor(existing.QualityScore)
		} else if existing.Tier != domain.TierUnverified {
			existing.Tier = tierFor(existing.QualityScore)
		}
		existing.Tags = mergeTags(existing.Tags, draft.Tags)
		return existing, nil
	}

	c.nextID++
	item := &domain.EvidenceItem{
		ID:              c.nextID,
		SubtaskID:       subtaskID,
		SourceType:      draft.SourceType,
		Content:         draft.Content,
		Source:          draft.Source,
		ConfidenceScore: confidence,
		RelevanceScore:  relevance,
		QualityScore:    qualityScore(confidence, relevance),
		CollectedBy:     collectedBy,
		CollectionDate:  time.Now(),
		Tags:            append([]string(nil), draft.Tags...),
	}
	if verified {
		item.Tier = tierFor(item.QualityScore)
	} else {
		item.Tier = domain.TierUnverified
	}

	c.items = append(c.items, item)
	c.index[item.ID] = item
	c.normalized[item.ID] = normalized
	return item, nil
}

// resolveScores validates draft scores and fills neutral defaults. The item
// counts as unverified when the draft supplied neither score.
func resolveScores(draft domain.EvidenceDraft) (confidence, relevance float64, verified bool, err error) {
	confidence, relevance = 0.5, 0.5

	if draft.Confidence != nil {
		if *draft.Confidence < 0 || *draft.Confidence > 1 {
			return 0, 0, false, &domain.EvidenceValidationError{Field: "confidence_score", Value: *draft.Confidence}
		}
		confidence = *draft.Confidence
		verified = true
	}
	if draft.Relevance != nil {
		if *draft.Relevance < 0 || *draft.Relevance > 1 {
			return 0, 0, false, &domain.EvidenceValidationError{Field: "relevance_score", Value: *draft.Relevance}
		}
		relevance = *draft.Relevance
		verified = true
	}

	return confidence, relevance, verified, nil
}

func qualityScore(confidence, relevance float64) float64 {
	return 0.5*confidence + 0.5*relevance
}

func tierFor(quality float64) domain.QualityTier {
	switch {
	case quality >= 0.75:
		return domain.TierHigh
	case quality >= 0.5:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func mergeTags(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, tag := range existing {
		seen[tag] = struct{}{}
	}
	for _, tag := range extra {
		if _, ok := seen[tag]; !ok {
			existing = append(existing, tag)
			seen[tag] = struct{}{}
		}
	}
	return existing
}

// Items returns a copy of all items in insertion order
func (c *Chain) Items() []*domain.EvidenceItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]*domain.EvidenceItem, len(c.items))
	copy(items, c.items)
	return items
}

// Get returns the item with the given id
func (c *Chain) Get(id int64) (*domain.EvidenceItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.index[id]
	return item, ok
}

// BySubtask returns the items collected for one subtask, preserving
// insertion order.
func (c *Chain) BySubtask(subtaskID string) []*domain.EvidenceItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.EvidenceItem
	for _, item := range c.items {
		if item.SubtaskID == subtaskID {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of items in the chain
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MarkUsed flags items as cited in a response. This is the only mutation
// allowed on an item after creation besides tags.
func (c *Chain) MarkUsed(ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if item, ok := c.index[id]; ok {
			item.UsedInResponse = true
		}
	}
}

// Relationships returns the stored edges whose endpoints still exist.
// Dangling edges stay in storage; this is the lazy read-time prune.
func (c *Chain) Relationships() []domain.EvidenceRelationship {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.EvidenceRelationship, 0, len(c.edges))
	for _, edge := range c.edges {
		if _, ok := c.index[edge.Evidence1ID]; !ok {
			continue
		}
		if _, ok := c.index[edge.Evidence2ID]; !ok {
			continue
		}
		out = append(out, edge)
	}
	return out
}

// NeedsInference reports whether enough new items accumulated since the last
// inference pass to warrant another one.
func (c *Chain) NeedsInference() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextID-c.lastInferred >= int64(c.config.InferenceBatchSize)
}

// Snapshot returns deep copies of items and pruned relationships for
// external readers.
func (c *Chain) Snapshot() ([]domain.EvidenceItem, []domain.EvidenceRelationship) {
	relationships := c.Relationships()

	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]domain.EvidenceItem, 0, len(c.items))
	for _, item := range c.items {
		itemCopy := *item
		itemCopy.Tags = append([]string(nil), item.Tags...)
		items = append(items, itemCopy)
	}
	return items, relationships
}

// pendingSince returns items not yet covered by inference plus the
// candidates they should be compared with. Callers hold no lock.
func (c *Chain) pendingSince() (fresh []*domain.EvidenceItem, existing []*domain.EvidenceItem, mark int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, item := range c.items {
		if item.ID > c.lastInferred {
			fresh = append(fresh, item)
		} else {
			existing = append(existing, item)
		}
	}
	return fresh, existing, c.nextID
}
