// Package sectors classifies memory content into cognitive sectors and
// fuses per-sector embeddings into a single representation.
package sectors

import "strings"

// Sector names used across the engine.
const (
	Episodic   = "episodic"
	Semantic   = "semantic"
	Procedural = "procedural"
	Emotional  = "emotional"
	Reflective = "reflective"
)

// coldSuffix marks the compressed variant a sector vector moves to during
// consolidation.
const coldSuffix = "_cold"

// Definition configures one sector: its match patterns, its score weight
// during classification, and how fast its memories decay.
type Definition struct {
	Name      string
	Weight    float64
	DecayRate float64
	Patterns  []string
}

// Defaults returns the built-in sector table. Pattern order matters only
// for readability; every pattern contributes to the match count.
func Defaults() []Definition {
	return []Definition{
		{
			Name: Episodic, Weight: 1.2, DecayRate: 1.2,
			Patterns: []string{
				`\byesterday\b`, `\btoday\b`, `\blast (week|month|year|night)\b`,
				`\bI (went|met|saw|visited|attended)\b`, `\bwe (talked|met|discussed)\b`,
				`\bremember when\b`, `\bthis morning\b`, `\bon (monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`,
			},
		},
		{
			Name: Semantic, Weight: 1.0, DecayRate: 0.8,
			Patterns: []string{
				`\bis (a|an|the)\b`, `\bmeans\b`, `\bdefined as\b`, `\bdefinition\b`,
				`\bfact\b`, `\balways\b`, `\bnever\b`, `\bconsists of\b`,
			},
		},
		{
			Name: Procedural, Weight: 1.1, DecayRate: 0.6,
			Patterns: []string{
				`\bhow to\b`, `\bstep(s| \d)\b`, `\bfirst\b.*\bthen\b`, `\binstall\b`,
				`\bconfigure\b`, `\brun the\b`, `\bprocedure\b`, `\bin order to\b`,
			},
		},
		{
			Name: Emotional, Weight: 1.3, DecayRate: 1.0,
			Patterns: []string{
				`\bfeel(s|ing)?\b`, `\bhappy\b`, `\bsad\b`, `\bangry\b`, `\bfrustrat`,
				`\blove[ds]?\b`, `\bhate[ds]?\b`, `\bexcit(ed|ing)\b`, `\banxious\b`, `\bafraid\b`,
			},
		},
		{
			Name: Reflective, Weight: 0.9, DecayRate: 0.9,
			Patterns: []string{
				`\bI (think|realize[d]?|learned|noticed|wonder)\b`, `\binsight\b`,
				`\bin hindsight\b`, `\blooking back\b`, `\blesson\b`, `\bshould have\b`,
			},
		},
	}
}

// ColdVariant returns the cold-sector name for a hot sector.
func ColdVariant(sector string) string {
	if IsCold(sector) {
		return sector
	}
	return sector + coldSuffix
}

// HotVariant strips the cold suffix.
func HotVariant(sector string) string {
	return strings.TrimSuffix(sector, coldSuffix)
}

// IsCold reports whether the sector names a consolidated variant.
func IsCold(sector string) bool {
	return strings.HasSuffix(sector, coldSuffix)
}
