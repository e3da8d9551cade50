package sectors

import (
	"regexp"
	"sort"
	"strings"
)

// additionalRatio admits any sector scoring at least this share of the top
// score into the Additional set.
const additionalRatio = 0.3

// fallbackConfidence is used when no sector pattern matches at all.
const fallbackConfidence = 0.2

// Classification is the result of sector classification for one content
// string. Confidence is always in (0, 1]; an explicit metadata override
// yields exactly 1.0.
type Classification struct {
	Primary    string
	Additional []string
	Confidence float64
}

// Sectors returns primary plus additional as one slice.
func (c Classification) Sectors() []string {
	out := make([]string, 0, 1+len(c.Additional))
	out = append(out, c.Primary)
	out = append(out, c.Additional...)
	return out
}

// Classifier scores content against per-sector pattern lists.
type Classifier struct {
	defs     []Definition
	compiled map[string][]*regexp.Regexp
	weights  map[string]float64
	decay    map[string]float64
}

// NewClassifier compiles the sector table. Passing nil uses Defaults().
func NewClassifier(defs []Definition) *Classifier {
	if len(defs) == 0 {
		defs = Defaults()
	}
	c := &Classifier{
		defs:     defs,
		compiled: make(map[string][]*regexp.Regexp, len(defs)),
		weights:  make(map[string]float64, len(defs)),
		decay:    make(map[string]float64, len(defs)),
	}
	for _, d := range defs {
		for _, p := range d.Patterns {
			c.compiled[d.Name] = append(c.compiled[d.Name], regexp.MustCompile(`(?i)`+p))
		}
		c.weights[d.Name] = d.Weight
		c.decay[d.Name] = d.DecayRate
	}
	return c
}

// Known reports whether the sector name is configured.
func (c *Classifier) Known(name string) bool {
	_, ok := c.weights[HotVariant(name)]
	return ok
}

// Weight returns the configured score weight for a sector (1.0 when
// unknown, so fusion never zeroes an unexpected sector out).
func (c *Classifier) Weight(name string) float64 {
	if w, ok := c.weights[HotVariant(name)]; ok {
		return w
	}
	return 1.0
}

// DecayRate returns the per-sector decay multiplier.
func (c *Classifier) DecayRate(name string) float64 {
	if r, ok := c.decay[HotVariant(name)]; ok {
		return r
	}
	return 1.0
}

// Classify assigns sectors to content. An explicit recognized "sector" key
// in metadata always wins with confidence 1.0. Otherwise each sector's
// weighted pattern-match count forms its score; zero-score sectors are
// dropped, and content that matches nothing defaults to the semantic
// sector with low confidence so nothing is ever left unclassified.
func (c *Classifier) Classify(content string, metadata map[string]interface{}) Classification {
	if metadata != nil {
		if v, ok := metadata["sector"]; ok {
			if name, ok := v.(string); ok && c.Known(name) {
				return Classification{Primary: HotVariant(name), Confidence: 1.0}
			}
		}
	}

	type scored struct {
		name  string
		score float64
	}
	lower := strings.ToLower(content)
	var scores []scored
	for _, d := range c.defs {
		matches := 0
		for _, re := range c.compiled[d.Name] {
			matches += len(re.FindAllStringIndex(lower, -1))
		}
		if matches == 0 {
			continue
		}
		scores = append(scores, scored{name: d.Name, score: float64(matches) * d.Weight})
	}

	if len(scores) == 0 {
		return Classification{Primary: Semantic, Confidence: fallbackConfidence}
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].name < scores[j].name
	})

	top := scores[0].score
	second := 0.0
	if len(scores) > 1 {
		second = scores[1].score
	}
	out := Classification{
		Primary:    scores[0].name,
		Confidence: top / (top + second + 1),
	}
	for _, s := range scores[1:] {
		if s.score >= additionalRatio*top {
			out.Additional = append(out.Additional, s.name)
		}
	}
	return out
}
