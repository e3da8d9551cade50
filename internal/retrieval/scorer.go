// Package retrieval ranks memories with a hybrid score and maintains the
// waypoint association graph that feeds its graph term.
package retrieval

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Weights control the hybrid score's fixed linear combination. They are set
// once at construction, not per query.
type Weights struct {
	Similarity   float64
	TokenOverlap float64
	Waypoint     float64
	Recency      float64
	Keyword      float64
	TagMatch     float64
	Salience     float64
}

func DefaultWeights() Weights {
	return Weights{
		Similarity:   0.36,
		TokenOverlap: 0.12,
		Waypoint:     0.14,
		Recency:      0.10,
		Keyword:      0.08,
		TagMatch:     0.08,
		Salience:     0.12,
	}
}

// recencyHalfLifeDays controls how fast the recency term fades: a memory
// last seen this many days ago scores 0.5.
const recencyHalfLifeDays = 7.0

type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer { return &Scorer{w: w} }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score combines the clamped inputs into a single [0,1] relevance value.
func (s *Scorer) Score(similarity, tokenOverlap, waypoint, recency, keyword, tagMatch, salience float64) float64 {
	total := s.w.Similarity*clamp01(similarity) +
		s.w.TokenOverlap*clamp01(tokenOverlap) +
		s.w.Waypoint*clamp01(waypoint) +
		s.w.Recency*clamp01(recency) +
		s.w.Keyword*clamp01(keyword) +
		s.w.TagMatch*clamp01(tagMatch) +
		s.w.Salience*clamp01(salience)
	return clamp01(total)
}

// Tokenize lowercases and splits on non-alphanumeric runes, dropping empty
// tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenOverlap returns |query ∩ memory| / |query|. An empty query scores 0.
func TokenOverlap(queryTokens, memoryTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	memory := make(map[string]struct{}, len(memoryTokens))
	for _, tok := range memoryTokens {
		memory[tok] = struct{}{}
	}
	seen := make(map[string]struct{}, len(queryTokens))
	hits := 0
	for _, tok := range queryTokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := memory[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}

// TagMatchScore rewards exact query-token/tag matches at weight 2 and
// substring matches at weight 1, normalized by tag count so untagged
// memories never dominate.
func TagMatchScore(queryTokens []string, tags []string) float64 {
	if len(tags) == 0 || len(queryTokens) == 0 {
		return 0
	}
	var raw float64
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, tok := range queryTokens {
			if tok == lower {
				raw += 2
				break
			}
			if strings.Contains(lower, tok) || strings.Contains(tok, lower) {
				raw += 1
				break
			}
		}
	}
	// Normalizing by 2·len(tags) maps an all-exact match to 1.0.
	return clamp01(raw / (2 * float64(len(tags))))
}

// RecencyScore decays exponentially with days since the memory was last
// seen.
func RecencyScore(lastSeen, now time.Time) float64 {
	if lastSeen.IsZero() || !lastSeen.Before(now) {
		return 1
	}
	days := now.Sub(lastSeen).Hours() / 24
	return math.Exp(-math.Ln2 * days / recencyHalfLifeDays)
}
