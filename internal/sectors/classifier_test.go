package sectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_MetadataOverrideWins(t *testing.T) {
	c := NewClassifier(nil)
	got := c.Classify("yesterday I went to the conference", map[string]interface{}{"sector": Procedural})
	assert.Equal(t, Procedural, got.Primary)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Empty(t, got.Additional)
}

func TestClassify_UnrecognizedMetadataSectorIgnored(t *testing.T) {
	c := NewClassifier(nil)
	got := c.Classify("yesterday I went to the gym", map[string]interface{}{"sector": "astral"})
	assert.Equal(t, Episodic, got.Primary)
	assert.Less(t, got.Confidence, 1.0)
}

func TestClassify_FallbackToSemantic(t *testing.T) {
	c := NewClassifier(nil)
	got := c.Classify("qwzx brrp glorp", nil)
	assert.Equal(t, Semantic, got.Primary)
	assert.Equal(t, 0.2, got.Confidence)
}

func TestClassify_ConfidenceAlwaysInUnitInterval(t *testing.T) {
	c := NewClassifier(nil)
	for _, content := range []string{
		"", "yesterday", "how to install the tool, step 1 then step 2",
		"I feel happy and excited because I learned a lesson",
		"water is a liquid; this fact never changes",
	} {
		got := c.Classify(content, nil)
		require.NotEmpty(t, got.Primary, "content %q must classify", content)
		assert.Greater(t, got.Confidence, 0.0)
		assert.LessOrEqual(t, got.Confidence, 1.0)
	}
}

func TestClassify_AdditionalSectorsShareThreshold(t *testing.T) {
	c := NewClassifier(nil)
	// Mixes strong episodic signal with emotional terms.
	got := c.Classify("yesterday I went to the funeral and I feel sad and I feel lost", nil)
	require.NotEmpty(t, got.Primary)
	all := got.Sectors()
	assert.Contains(t, all, Emotional)
	assert.Contains(t, all, Episodic)
}

func TestClassify_SingleSectorConfidence(t *testing.T) {
	c := NewClassifier(nil)
	got := c.Classify("how to configure the server", nil)
	assert.Equal(t, Procedural, got.Primary)
	// score/(score+0+1) for a single matching sector.
	assert.Greater(t, got.Confidence, 0.5)
}
