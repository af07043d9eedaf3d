// Package synthesis turns a finished plan's evidence chain into structured
// insights, recommendations and conclusions.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// Config holds the synthesis thresholds
type Config struct {
	// MinEvidenceThreshold is the evidence count below which the synthesis
	// is flagged low confidence instead of failing.
	MinEvidenceThreshold int `json:"min_evidence_threshold"`
	// TopThemes caps how many themes produce conclusions.
	TopThemes int `json:"top_themes"`
	// HighImpactFrequency is the theme frequency at which insights are
	// considered high impact.
	HighImpactFrequency int `json:"high_impact_frequency"`
}

// DefaultConfig returns the default synthesis thresholds
func DefaultConfig() Config {
	return Config{
		MinEvidenceThreshold: 3,
		TopThemes:            3,
		HighImpactFrequency:  5,
	}
}

// ThemeClassifier buckets evidence items into themes. The classifier is
// injected; synthesis only consumes the labels.
type ThemeClassifier interface {
	Classify(item domain.EvidenceItem) string
}

// insightTypes cycle through theme ranks: the dominant theme yields the
// strategic insight, the next the operational one, and so on.
var insightTypes = []string{"strategic", "operational", "predictive"}

// Generator builds one Synthesis per finished plan. Regeneration overwrites
// because the synthesis id is derived from the plan id.
type Generator struct {
	completion domain.CompletionService
	classifier ThemeClassifier
	config     Config
	logger     *observability.StructuredLogger
}

// NewGenerator creates a generator. A nil classifier falls back to the
// keyword classifier; a nil completion service disables generated prose and
// uses the deterministic fallback text.
func NewGenerator(completion domain.CompletionService, classifier ThemeClassifier, config Config) *Generator {
	if classifier == nil {
		classifier = NewKeywordClassifier(nil)
	}
	if config.MinEvidenceThreshold <= 0 {
		config.MinEvidenceThreshold = 3
	}
	if config.TopThemes <= 0 {
		config.TopThemes = 3
	}
	if config.HighImpactFrequency <= 0 {
		config.HighImpactFrequency = 5
	}
	return &Generator{
		completion: completion,
		classifier: classifier,
		config:     config,
		logger:     observability.NewStructuredLogger("synthesis"),
	}
}

// theme is the per-cluster aggregate working state
type theme struct {
	name          string
	items         []domain.EvidenceItem
	avgQuality    float64
	avgConfidence float64
}

func (t *theme) frequency() int { return len(t.items) }

func (t *theme) strength() string {
	switch {
	case t.avgQuality >= 0.75:
		return "high"
	case t.avgQuality >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func (t *theme) ids() []int64 {
	ids := make([]int64, len(t.items))
	for i, item := range t.items {
		ids[i] = item.ID
	}
	return ids
}

// Generate produces the synthesis for a finished plan. It never fails on
// thin evidence; below the threshold the result carries low_confidence.
func (g *Generator) Generate(ctx context.Context, plan domain.Plan, items []domain.EvidenceItem, relationships []domain.EvidenceRelationship) (*domain.Synthesis, error) {
	if plan.ID == "" {
		return nil, &domain.SynthesisError{Reason: "plan has no id"}
	}

	themes := g.clusterThemes(items)

	syn := &domain.Synthesis{
		ID:            fmt.Sprintf("syn_%s", plan.ID),
		PlanID:        plan.ID,
		LowConfidence: len(items) < g.config.MinEvidenceThreshold,
		GeneratedAt:   time.Now(),
	}

	for rank, th := range themes {
		syn.KeyInsights = append(syn.KeyInsights, g.buildInsight(ctx, plan, th, rank))
	}
	for _, insight := range syn.KeyInsights {
		syn.Recommendations = append(syn.Recommendations, g.buildRecommendation(insight, themes))
	}

	topN := g.config.TopThemes
	if topN > len(themes) {
		topN = len(themes)
	}
	for _, th := range themes[:topN] {
		if conclusion, ok := g.buildConclusion(ctx, plan, th); ok {
			syn.Conclusions = append(syn.Conclusions, conclusion)
		}
	}

	syn.QualityScore, syn.CoverageScore, syn.ReliabilityScore = g.scores(plan, items)

	g.logger.Info(ctx, "Synthesis generated",
		map[string]interface{}{
			"plan_id":        plan.ID,
			"themes":         len(themes),
			"insights":       len(syn.KeyInsights),
			"conclusions":    len(syn.Conclusions),
			"low_confidence": syn.LowConfidence,
		})
	return syn, nil
}

// clusterThemes groups items by classifier label, ordered by frequency
// descending then name ascending for determinism.
func (g *Generator) clusterThemes(items []domain.EvidenceItem) []*theme {
	byName := make(map[string]*theme)
	for _, item := range items {
		name := g.classifier.Classify(item)
		th, ok := byName[name]
		if !ok {
			th = &theme{name: name}
			byName[name] = th
		}
		th.items = append(th.items, item)
	}

	themes := make([]*theme, 0, len(byName))
	for _, th := range byName {
		var quality, confidence float64
		for _, item := range th.items {
			quality += item.QualityScore
			confidence += item.ConfidenceScore
		}
		th.avgQuality = quality / float64(len(th.items))
		th.avgConfidence = confidence / float64(len(th.items))
		themes = append(themes, th)
	}

	sort.Slice(themes, func(i, j int) bool {
		if themes[i].frequency() != themes[j].frequency() {
			return themes[i].frequency() > themes[j].frequency()
		}
		return themes[i].name < themes[j].name
	})
	return themes
}

func (g *Generator) impactFor(frequency int) string {
	switch {
	case frequency >= g.config.HighImpactFrequency:
		return "high"
	case frequency >= 2:
		return "medium"
	default:
		return "low"
	}
}

func (g *Generator) buildInsight(ctx context.Context, plan domain.Plan, th *theme, rank int) domain.KeyInsight {
	insightType := insightTypes[rank%len(insightTypes)]

	description := g.generateText(ctx, fmt.Sprintf(
		"Research query: %s\nTheme: %s (%d evidence items, %s strength)\nWrite one sentence describing the %s insight this theme supports.",
		plan.ResearchQuery, th.name, th.frequency(), th.strength(), insightType))
	if description == "" {
		description = fmt.Sprintf("Theme %q appears in %d evidence items with %s average quality.",
			th.name, th.frequency(), th.strength())
	}

	return domain.KeyInsight{
		Type:        insightType,
		Title:       fmt.Sprintf("%s: %s", capitalize(insightType), th.name),
		Description: description,
		Confidence:  th.avgQuality,
		Impact:      g.impactFor(th.frequency()),
		EvidenceIDs: th.ids(),
	}
}

// buildRecommendation derives one recommendation per insight. Priority comes
// from the impact+effort matrix; effort is estimated from evidence strength
// (strong evidence means the path forward is clearer, so less effort).
func (g *Generator) buildRecommendation(insight domain.KeyInsight, themes []*theme) domain.Recommendation {
	var th *theme
	for _, candidate := range themes {
		if strings.HasSuffix(insight.Title, candidate.name) {
			th = candidate
			break
		}
	}

	effort := "high"
	support := insight.Confidence
	if th != nil {
		support = th.avgConfidence
		switch th.strength() {
		case "high":
			effort = "low"
		case "medium":
			effort = "medium"
		}
	}

	return domain.Recommendation{
		Title:           fmt.Sprintf("Act on %s", insight.Title),
		Priority:        priorityFor(insight.Impact, effort),
		Impact:          insight.Impact,
		Effort:          effort,
		EvidenceSupport: support,
		ActionSteps: []string{
			fmt.Sprintf("Review the %d supporting evidence items", len(insight.EvidenceIDs)),
			"Validate the insight against primary sources",
		},
	}
}

// priorityFor maps the impact/effort pair to a priority bucket
func priorityFor(impact, effort string) string {
	switch {
	case impact == "high" && effort == "low":
		return "critical"
	case impact == "high":
		return "high"
	case impact == "medium" && effort != "high":
		return "medium"
	default:
		return "low"
	}
}

// buildConclusion emits a conclusion only when the theme has supporting
// evidence; confidence is the quality-weighted mean of the cited items.
func (g *Generator) buildConclusion(ctx context.Context, plan domain.Plan, th *theme) (domain.Conclusion, bool) {
	if th.frequency() == 0 {
		return domain.Conclusion{}, false
	}

	var weighted, weights float64
	for _, item := range th.items {
		weighted += item.QualityScore * item.QualityScore
		weights += item.QualityScore
	}
	confidence := 0.0
	if weights > 0 {
		confidence = weighted / weights
	}

	statement := g.generateText(ctx, fmt.Sprintf(
		"Research query: %s\nTheme: %s, supported by %d evidence items.\nState the conclusion this evidence supports in one sentence.",
		plan.ResearchQuery, th.name, th.frequency()))
	if statement == "" {
		statement = fmt.Sprintf("The evidence consistently supports the %s theme across %d items.",
			th.name, th.frequency())
	}

	return domain.Conclusion{
		Statement:          statement,
		Confidence:         confidence,
		SupportingEvidence: th.ids(),
	}, true
}

// scores computes the synthesis-level aggregates: average evidence quality,
// fraction of subtasks with at least one evidence item, average confidence.
func (g *Generator) scores(plan domain.Plan, items []domain.EvidenceItem) (quality, coverage, reliability float64) {
	if len(items) > 0 {
		covered := make(map[string]struct{})
		for _, item := range items {
			quality += item.QualityScore
			reliability += item.ConfidenceScore
			covered[item.SubtaskID] = struct{}{}
		}
		quality /= float64(len(items))
		reliability /= float64(len(items))

		if len(plan.Subtasks) > 0 {
			hits := 0
			for _, st := range plan.Subtasks {
				if _, ok := covered[st.ID]; ok {
					hits++
				}
			}
			coverage = float64(hits) / float64(len(plan.Subtasks))
		}
	}
	return quality, coverage, reliability
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// generateText asks the completion service for prose, returning "" on any
// failure so callers fall back to deterministic text.
func (g *Generator) generateText(ctx context.Context, prompt string) string {
	if g.completion == nil {
		return ""
	}
	response, err := g.completion.Complete(ctx, prompt)
	if err != nil {
		g.logger.Warn(ctx, "Synthesis text generation failed",
			map[string]interface{}{"error": err.Error()})
		return ""
	}
	return strings.TrimSpace(response)
}
