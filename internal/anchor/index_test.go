package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleHTML = `
<html><body>
<ul class="list">
  <li class="card"><h3>Alpha</h3><p>First one</p></li>
  <li class="card"><h3>Beta</h3><p>Second one</p></li>
  <li class="card"><h3>Gamma</h3><p>Third one</p></li>
</ul>
<a href="mailto:hi@example.com">Contact</a>
</body></html>
`

func TestBuild_AssignsStableOpaqueIDs(t *testing.T) {
	idx, err := Build(sampleHTML)
	assert.NoError(t, err)
	assert.Greater(t, idx.Size(), 0)
	for _, id := range idx.order {
		assert.True(t, idx.Lookup(id))
	}
}

func TestBuild_GroupsRepeatedSiblingsIntoBlocks(t *testing.T) {
	idx, err := Build(sampleHTML)
	assert.NoError(t, err)

	blocks := make(map[string]int)
	for _, id := range idx.order {
		if b, ok := idx.BlockOf(id); ok {
			blocks[b]++
		}
	}
	assert.NotEmpty(t, blocks, "expected the three <li class=card> siblings to form a block")
	for _, count := range blocks {
		assert.GreaterOrEqual(t, count, 2)
	}
}

func TestIndex_ReExtract_Email(t *testing.T) {
	idx, err := Build(sampleHTML)
	assert.NoError(t, err)

	var anchorID string
	for _, id := range idx.order {
		if idx.entries[id].tag == "a" {
			anchorID = id
			break
		}
	}
	assert.NotEmpty(t, anchorID)

	value, ok := idx.ReExtract(anchorID, "email")
	assert.True(t, ok)
	assert.Equal(t, "hi@example.com", value)
}

func TestIndex_BuildSamples_RespectsLimit(t *testing.T) {
	idx, err := Build(sampleHTML)
	assert.NoError(t, err)

	samples := idx.BuildSamples(2)
	assert.LessOrEqual(t, len(samples), 2)
}

func TestIndex_Lookup_UnknownIDFails(t *testing.T) {
	idx, err := Build(sampleHTML)
	assert.NoError(t, err)
	assert.False(t, idx.Lookup("n_does_not_exist"))
}
