package consolidation

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/engramdb/engram/internal/retrieval"
)

const (
	// truncateFactor and extractFactor pick the summary-recompression rung.
	truncateFactor = 0.8
	extractFactor  = 0.4

	truncateLen         = 200
	fingerprintKeywords = 3
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "i": {}, "we": {}, "you": {},
}

// targetDimension shrinks proportionally to the forgetting factor, bounded
// by [minDim, maxColdDim].
func targetDimension(f float64, origDim, minDim, maxColdDim int) int {
	target := int(f * float64(origDim))
	if target > maxColdDim {
		target = maxColdDim
	}
	if target < minDim {
		target = minDim
	}
	if target > origDim {
		target = origDim
	}
	return target
}

// resizeVector pools the source into target buckets by averaging, then
// re-normalizes. target must be <= len(vec).
func resizeVector(vec []float32, target int) []float32 {
	if target >= len(vec) || target <= 0 {
		return vec
	}
	out := make([]float32, target)
	counts := make([]int, target)
	for i, v := range vec {
		bucket := i * target / len(vec)
		out[bucket] += v
		counts[bucket]++
	}
	var norm float64
	for i := range out {
		if counts[i] > 0 {
			out[i] /= float32(counts[i])
		}
		norm += float64(out[i]) * float64(out[i])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= inv
		}
	}
	return out
}

// keywords returns the top-n non-stopword tokens by frequency, ties broken
// by first appearance.
func keywords(content string, n int) []string {
	tokens := retrieval.Tokenize(content)
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, tok := range tokens {
		if _, stop := stopwords[tok]; stop || len(tok) < 2 {
			continue
		}
		if _, seen := counts[tok]; !seen {
			first[tok] = i
		}
		counts[tok]++
	}
	uniq := make([]string, 0, len(counts))
	for tok := range counts {
		uniq = append(uniq, tok)
	}
	sort.Slice(uniq, func(i, j int) bool {
		if counts[uniq[i]] != counts[uniq[j]] {
			return counts[uniq[i]] > counts[uniq[j]]
		}
		return first[uniq[i]] < first[uniq[j]]
	})
	if len(uniq) > n {
		uniq = uniq[:n]
	}
	return uniq
}

// compressSummary picks the recompression rung for the forgetting factor:
// plain truncation while the memory is fresh enough, the best-matching
// sentence mid-band, a keyword join below that.
func compressSummary(content string, f float64) string {
	switch {
	case f > truncateFactor:
		return truncate(content, truncateLen)
	case f > extractFactor:
		return extractiveSummary(content)
	default:
		return strings.Join(keywords(content, fingerprintKeywords), " ")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// extractiveSummary returns the sentence sharing the most top keywords with
// the whole content, falling back to the first sentence.
func extractiveSummary(content string) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncate(content, truncateLen)
	}
	top := keywords(content, 5)
	best, bestScore := sentences[0], -1
	for _, sent := range sentences {
		toks := make(map[string]struct{})
		for _, t := range retrieval.Tokenize(sent) {
			toks[t] = struct{}{}
		}
		score := 0
		for _, kw := range top {
			if _, ok := toks[kw]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = sent, score
		}
	}
	return truncate(strings.TrimSpace(best), truncateLen)
}

func splitSentences(content string) []string {
	raw := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := raw[:0]
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// fingerprintVector derives a deterministic unit vector from the content's
// token set. Accumulation is additive per token, so token order never
// changes the result.
func fingerprintVector(content string, dim int) []float32 {
	out := make([]float32, dim)
	seen := make(map[string]struct{})
	for _, tok := range retrieval.Tokenize(content) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		seed := h.Sum64()
		idx := int(seed % uint64(dim))
		seed = seed*6364136223846793005 + 1442695040888963407
		out[idx] += float32(int64(seed)) / float32(math.MaxInt64)
	}
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		out[0] = 1
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= inv
	}
	return out
}
