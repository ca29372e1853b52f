package deterministic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

const listingHTML = `
<html><body>
<h1>Staff Directory</h1>
<ul>
  <li class="card"><h3>Jane Doe</h3><p>Lead engineer on the platform team.</p><a href="mailto:jane@example.com">Email</a><dt>Office:</dt><dd>Building 4</dd></li>
  <li class="card"><h3>John Roe</h3><p>Principal engineer on the data team.</p><a href="mailto:john@example.com">Email</a><dt>Office:</dt><dd>Building 2</dd></li>
  <li class="card"><h3>Amy Lane</h3><p>Staff engineer on the infra team.</p><a href="mailto:amy@example.com">Email</a><dt>Office:</dt><dd>Building 4</dd></li>
</ul>
</body></html>
`

func buildContract() models.SchemaContract {
	return models.SchemaContract{
		Fields: []models.FieldSpec{
			{Name: "title", Kind: models.KindRequired, Type: models.TypeString, Detectors: []string{"title", "heading"}},
			{Name: "email", Kind: models.KindExpected, Type: models.TypeEmail, Detectors: []string{"email"}},
			{Name: "missing_field", Kind: models.KindOptional, Type: models.TypeString, Detectors: []string{"does_not_exist"}},
		},
	}
}

func TestRun_PopulatesHitsAndSupport(t *testing.T) {
	idx, err := anchor.Build(listingHTML)
	assert.NoError(t, err)

	findings := Run(idx, buildContract())

	assert.NotEmpty(t, findings.Hits)
	// The page heading plus one card heading per card.
	assert.Equal(t, 4, findings.SupportMap["title"])
	assert.GreaterOrEqual(t, findings.SupportMap["email"], 1)
}

func TestRun_UnknownDetectorRecordsMiss(t *testing.T) {
	idx, err := anchor.Build(listingHTML)
	assert.NoError(t, err)

	findings := Run(idx, buildContract())

	found := false
	for _, m := range findings.Misses {
		if m.Field == "missing_field" {
			found = true
			assert.Equal(t, "no_valid_hit", m.Reason)
		}
	}
	assert.True(t, found)
}

func TestDiscoverPatterns_FindsRepeatedOfficeLabel(t *testing.T) {
	idx, err := anchor.Build(listingHTML)
	assert.NoError(t, err)

	findings := Run(idx, buildContract())

	var office *models.PatternCandidate
	for i := range findings.Candidates {
		if findings.Candidates[i].PatternLabel == "Office" {
			office = &findings.Candidates[i]
		}
	}
	assert.NotNil(t, office)
	if office != nil {
		assert.GreaterOrEqual(t, office.Instances, 2)
	}
}
