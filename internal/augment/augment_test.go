package augment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

func TestSimilarity_ExactMatchIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Building 4", "Building 4"))
}

func TestSimilarity_TokenOverlapAboveThreshold(t *testing.T) {
	s := Similarity("Jane Doe, Lead Engineer", "Jane Doe Lead Engineer")
	assert.GreaterOrEqual(t, s, 0.8)
}

func TestSimilarity_UnrelatedStringsBelowThreshold(t *testing.T) {
	s := Similarity("Building 4", "Completely different text")
	assert.Less(t, s, 0.8)
}

const augmentHTML = `
<html><body>
<h1>Jane Doe</h1>
<p>Lead engineer on the platform team.</p>
</body></html>
`

func TestCrossValidate_AcceptsResolvableAnchorWithSimilarText(t *testing.T) {
	idx, err := anchor.Build(augmentHTML)
	assert.NoError(t, err)

	samples := idx.BuildSamples(5)
	assert.NotEmpty(t, samples)

	ok, reason := crossValidate(idx, []string{samples[0].AnchorID}, samples[0].Text, models.TypeString, nil)
	assert.True(t, ok, reason)
}

func TestCrossValidate_RejectsUnresolvableAnchor(t *testing.T) {
	idx, err := anchor.Build(augmentHTML)
	assert.NoError(t, err)

	ok, reason := crossValidate(idx, []string{"n_9999"}, "Jane Doe", models.TypeString, nil)
	assert.False(t, ok)
	assert.Equal(t, "anchor_unresolvable", reason)
}
