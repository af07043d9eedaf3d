package evidence

import (
	"strings"
	"unicode"
)

// normalizeContent lowercases, strips punctuation and collapses whitespace so
// that trivially reformatted copies of the same text compare as equal.
func normalizeContent(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// wordBigrams returns the set of adjacent word pairs in normalized text.
func wordBigrams(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	if len(words) < 2 {
		return nil
	}

	bigrams := make(map[string]struct{}, len(words)-1)
	for i := 0; i < len(words)-1; i++ {
		bigrams[words[i]+" "+words[i+1]] = struct{}{}
	}
	return bigrams
}

// similarity computes the Dice coefficient over word bigrams of two
// normalized strings. Texts too short to form bigrams fall back to exact
// comparison.
func similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}

	bigramsA := wordBigrams(a)
	bigramsB := wordBigrams(b)
	if len(bigramsA) == 0 || len(bigramsB) == 0 {
		return 0
	}

	shared := 0
	for bg := range bigramsA {
		if _, ok := bigramsB[bg]; ok {
			shared++
		}
	}

	return 2 * float64(shared) / float64(len(bigramsA)+len(bigramsB))
}
