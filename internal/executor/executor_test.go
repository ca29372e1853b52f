package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/deterministic"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

const staffHTML = `
<html><body>
<ul>
  <li class="card"><h3>Jane Doe</h3><a href="mailto:jane@example.com">Email</a></li>
  <li class="card"><h3>John Roe</h3><a href="mailto:john@example.com">Email</a></li>
  <li class="card"><h3>Amy Lane</h3></li>
</ul>
</body></html>
`

func staffSchema() []models.FieldSpec {
	return []models.FieldSpec{
		{Name: "title", Kind: models.KindRequired, Type: models.TypeString, Detectors: []string{"title", "heading"}},
		{Name: "email", Kind: models.KindRequired, Type: models.TypeEmail, Detectors: []string{"email"}},
	}
}

func TestAssemble_StrictModeDropsEntitiesMissingRequiredField(t *testing.T) {
	idx, err := anchor.Build(staffHTML)
	assert.NoError(t, err)

	contract := models.SchemaContract{Fields: staffSchema()}
	findings := deterministic.Run(idx, contract)

	out, _, pipeErr := Assemble(idx, staffSchema(), findings, &models.AugmentationResult{}, models.ModeStrict, "executor", "corr-1")
	assert.Nil(t, pipeErr)
	// Amy Lane has no email, so only 2 of 3 entities survive strict mode.
	assert.Len(t, out, 2)
	for _, e := range out {
		assert.NotEmpty(t, e["title"])
		assert.NotEmpty(t, e["email"])
	}
}

func TestAssemble_SoftModeKeepsAllEntitiesAndNullsMissingField(t *testing.T) {
	idx, err := anchor.Build(staffHTML)
	assert.NoError(t, err)

	contract := models.SchemaContract{Fields: staffSchema()}
	findings := deterministic.Run(idx, contract)

	out, _, pipeErr := Assemble(idx, staffSchema(), findings, &models.AugmentationResult{}, models.ModeSoft, "executor", "corr-2")
	assert.Nil(t, pipeErr)
	assert.Len(t, out, 3)

	foundNullEmail := false
	for _, e := range out {
		if v, ok := e["email"]; !ok || v == nil {
			foundNullEmail = true
		}
	}
	assert.True(t, foundNullEmail)
}

func TestAssemble_StrictModeAllDroppedReturnsPipelineError(t *testing.T) {
	idx, err := anchor.Build(`<html><body><p>no matching content here</p></body></html>`)
	assert.NoError(t, err)

	schema := []models.FieldSpec{
		{Name: "title", Kind: models.KindRequired, Type: models.TypeString, Detectors: []string{"title", "heading"}},
	}
	contract := models.SchemaContract{Fields: schema}
	findings := deterministic.Run(idx, contract)
	// Force a block so the all-dropped path, not the zero-blocks path, is exercised.
	findings.BlockMap["synthetic"] = "block-1"

	out, _, pipeErr := Assemble(idx, schema, findings, &models.AugmentationResult{}, models.ModeStrict, "executor", "corr-3")
	assert.Nil(t, out)
	assert.NotNil(t, pipeErr)
	assert.Equal(t, models.ErrStrictModeDrop, pipeErr.Code)
}

func TestAssemble_OutputKeysAreSubsetOfSchema(t *testing.T) {
	idx, err := anchor.Build(staffHTML)
	assert.NoError(t, err)

	contract := models.SchemaContract{Fields: staffSchema()}
	findings := deterministic.Run(idx, contract)

	out, _, pipeErr := Assemble(idx, staffSchema(), findings, &models.AugmentationResult{}, models.ModeSoft, "executor", "corr-4")
	assert.Nil(t, pipeErr)
	allowed := map[string]bool{"title": true, "email": true}
	for _, e := range out {
		for k := range e {
			assert.True(t, allowed[k], "unexpected key %q in output", k)
		}
	}
}
