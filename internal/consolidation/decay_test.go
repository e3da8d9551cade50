package consolidation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseFor_ThresholdLadder(t *testing.T) {
	assert.Equal(t, PhaseHot, PhaseFor(1.0))
	assert.Equal(t, PhaseHot, PhaseFor(0.7))
	assert.Equal(t, PhaseCompress, PhaseFor(0.69))
	assert.Equal(t, PhaseCompress, PhaseFor(0.4))
	assert.Equal(t, PhaseCompress, PhaseFor(0.25))
	assert.Equal(t, PhaseFingerprint, PhaseFor(0.24))
	assert.Equal(t, PhaseFingerprint, PhaseFor(0.0))
}

func TestDecayedSalience_MonotoneInDays(t *testing.T) {
	prev := DecayedSalience(0.8, 1.0, 0)
	assert.InDelta(t, 0.8, prev, 1e-9)
	for _, days := range []float64{1, 3, 7, 14, 30, 90, 365} {
		cur := DecayedSalience(0.8, 1.0, days)
		assert.Less(t, cur, prev, "salience must strictly decrease at %v days", days)
		assert.Greater(t, cur, 0.0)
		prev = cur
	}
}

func TestDecayedSalience_FasterDecayRateFadesSooner(t *testing.T) {
	slow := DecayedSalience(0.8, 0.6, 30)
	fast := DecayedSalience(0.8, 1.2, 30)
	assert.Less(t, fast, slow)
}

func TestForgettingFactor_Bounds(t *testing.T) {
	assert.InDelta(t, 1.0, ForgettingFactor(0.8, 0.8), 1e-4)
	assert.LessOrEqual(t, ForgettingFactor(2.0, 0.5), 1.0)
	assert.Greater(t, ForgettingFactor(0.0, 0.8), 0.0)
}

func TestTargetDimension_Bounds(t *testing.T) {
	assert.Equal(t, 64, targetDimension(0.9, 384, 16, 64))
	assert.Equal(t, 16, targetDimension(0.01, 384, 16, 64))
	assert.Equal(t, 32, targetDimension(0.5, 64, 16, 64))
	// Never grows past the source dimension.
	assert.Equal(t, 8, targetDimension(0.9, 8, 16, 64))
}

func TestResizeVector_PreservesUnitNorm(t *testing.T) {
	src := make([]float32, 128)
	for i := range src {
		src[i] = float32(i%7) - 3
	}
	out := resizeVector(src, 32)
	assert.Len(t, out, 32)
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestFingerprintVector_DeterministicAndOrderIndependent(t *testing.T) {
	a := fingerprintVector("alpha beta gamma", 16)
	b := fingerprintVector("gamma alpha beta", 16)
	assert.Equal(t, a, b)

	c := fingerprintVector("entirely different words", 16)
	assert.NotEqual(t, a, c)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestCompressSummary_Ladder(t *testing.T) {
	content := "Kubernetes ingress routes external traffic. The ingress controller watches resources. Gardening is unrelated."

	fresh := compressSummary(content, 0.9)
	assert.True(t, strings.HasPrefix(content, fresh))

	mid := compressSummary(content, 0.5)
	assert.NotEmpty(t, mid)
	assert.LessOrEqual(t, len(mid), truncateLen)

	cold := compressSummary(content, 0.1)
	words := strings.Fields(cold)
	assert.LessOrEqual(t, len(words), fingerprintKeywords)
	assert.NotEmpty(t, words)
}

func TestKeywords_IgnoresStopwords(t *testing.T) {
	got := keywords("the the the docker docker build is a tool", 3)
	assert.Contains(t, got, "docker")
	assert.NotContains(t, got, "the")
	assert.NotContains(t, got, "is")
	assert.Equal(t, "docker", got[0])
}
