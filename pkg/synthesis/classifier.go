package synthesis

import (
	"sort"
	"strings"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// KeywordClassifier is the default theme classifier: the first matching tag
// wins, otherwise the most frequent known keyword in the content, otherwise
// "general".
type KeywordClassifier struct {
	keywords []string
}

// defaultKeywords cover the research domains the engine is typically run
// against. Callers with a narrower domain pass their own list.
var defaultKeywords = []string{
	"market", "competition", "pricing", "technology", "regulation",
	"customer", "growth", "risk", "cost", "performance",
}

// NewKeywordClassifier creates a classifier over the given keywords. A nil
// or empty list falls back to the default set.
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	return &KeywordClassifier{keywords: keywords}
}

func (c *KeywordClassifier) Classify(item domain.EvidenceItem) string {
	if len(item.Tags) > 0 {
		tags := append([]string(nil), item.Tags...)
		sort.Strings(tags)
		return strings.ToLower(tags[0])
	}

	content := strings.ToLower(item.Content)
	best := ""
	bestCount := 0
	for _, keyword := range c.keywords {
		if count := strings.Count(content, keyword); count > bestCount {
			best = keyword
			bestCount = count
		}
	}
	if best == "" {
		return "general"
	}
	return best
}
