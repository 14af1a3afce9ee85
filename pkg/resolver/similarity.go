package resolver

import (
	"regexp"
	"strings"
	"sync"
)

// Similarity scores how likely two entity names refer to the same concept,
// in [0,1]. Implementations must be safe for concurrent use.
type Similarity interface {
	Score(a, b string) float64
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	fuzzyCharsRe = regexp.MustCompile(`[^a-z0-9' ]`)
)

// NormalizeName lowercases a name and collapses whitespace so equal names map
// to the same key.
func NormalizeName(name string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(name), " "))
}

// normalizeFuzzy keeps only alphanumerics, apostrophes and spaces, for
// shingle comparison.
func normalizeFuzzy(name string) string {
	normalized := fuzzyCharsRe.ReplaceAllString(NormalizeName(name), " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(normalized, " "))
}

// TrigramSimilarity is the default scorer: Jaccard similarity over character
// 3-gram shingles of the normalized names. Shingle sets are cached per name.
type TrigramSimilarity struct {
	cache sync.Map
}

// NewTrigramSimilarity creates the default scorer.
func NewTrigramSimilarity() *TrigramSimilarity {
	return &TrigramSimilarity{}
}

// Score implements Similarity.
func (s *TrigramSimilarity) Score(a, b string) float64 {
	return jaccard(s.shingles(normalizeFuzzy(a)), s.shingles(normalizeFuzzy(b)))
}

func (s *TrigramSimilarity) shingles(normalized string) []string {
	if cached, ok := s.cache.Load(normalized); ok {
		return cached.([]string)
	}

	cleaned := strings.ReplaceAll(normalized, " ", "")
	var out []string
	switch {
	case cleaned == "":
		out = nil
	case len(cleaned) < 3:
		out = []string{cleaned}
	default:
		out = make([]string, 0, len(cleaned)-2)
		for i := 0; i+3 <= len(cleaned); i++ {
			out = append(out, cleaned[i:i+3])
		}
	}

	s.cache.Store(normalized, out)
	return out
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[s] = true
	}

	intersection := 0
	for s := range setA {
		if setB[s] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
