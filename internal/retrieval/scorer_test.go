package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScore_ClampedToUnitInterval(t *testing.T) {
	s := NewScorer(DefaultWeights())

	assert.Equal(t, 0.0, s.Score(0, 0, 0, 0, 0, 0, 0))

	// Out-of-range inputs are clamped before weighting.
	top := s.Score(5, 5, 5, 5, 5, 5, 5)
	assert.LessOrEqual(t, top, 1.0)
	assert.Greater(t, top, 0.9)

	neg := s.Score(-1, -1, -1, -1, -1, -1, -1)
	assert.Equal(t, 0.0, neg)
}

func TestScore_SimilarityDominatesEqualInputs(t *testing.T) {
	s := NewScorer(DefaultWeights())
	simOnly := s.Score(1, 0, 0, 0, 0, 0, 0)
	tagOnly := s.Score(0, 0, 0, 0, 0, 1, 0)
	assert.Greater(t, simOnly, tagOnly)
}

func TestTokenOverlap(t *testing.T) {
	q := Tokenize("the docker build failed")
	m := Tokenize("Docker build failed with exit code 1")
	assert.InDelta(t, 0.75, TokenOverlap(q, m), 1e-9)

	assert.Zero(t, TokenOverlap(nil, m))
	assert.Zero(t, TokenOverlap(Tokenize(""), m))
	assert.InDelta(t, 1.0, TokenOverlap(q, q), 1e-9)
}

func TestTokenize_SplitsOnPunctuation(t *testing.T) {
	got := Tokenize("Hello, World! v2.0")
	assert.Equal(t, []string{"hello", "world", "v2", "0"}, got)
}

func TestTagMatchScore(t *testing.T) {
	q := Tokenize("docker deployment")

	// One exact and one substring match over two tags.
	score := TagMatchScore(q, []string{"docker", "deploy"})
	assert.InDelta(t, 0.75, score, 1e-9)

	assert.Zero(t, TagMatchScore(q, nil))
	assert.Zero(t, TagMatchScore(nil, []string{"docker"}))

	// All tags exact ⇒ 1.0.
	assert.InDelta(t, 1.0, TagMatchScore(q, []string{"docker", "deployment"}), 1e-9)
}

func TestRecencyScore(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 1.0, RecencyScore(now, now), 1e-9)
	assert.InDelta(t, 0.5, RecencyScore(now.Add(-7*24*time.Hour), now), 1e-6)
	assert.Less(t, RecencyScore(now.Add(-60*24*time.Hour), now), 0.01)
	assert.Equal(t, 1.0, RecencyScore(time.Time{}, now))
}
