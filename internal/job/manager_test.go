package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/atlas-codex/atlas-codex/internal/models"
	"github.com/atlas-codex/atlas-codex/internal/storage"
)

func TestBuildJSONSchema_StrictAdditionalPropertiesFalse(t *testing.T) {
	fields := []models.FieldSpec{
		{Name: "name", Kind: models.KindRequired, Type: models.TypeString},
		{Name: "title", Kind: models.KindExpected, Type: models.TypeString},
	}
	schema := buildJSONSchema(fields, nil)

	assert.Equal(t, "array", schema["type"])
	assert.Equal(t, 1, schema["minItems"])

	item := schema["items"].(map[string]any)
	assert.Equal(t, false, item["additionalProperties"])
	assert.Equal(t, false, item["unevaluatedProperties"])

	required := item["required"].([]string)
	assert.Equal(t, []string{"name"}, required)

	props := item["properties"].(map[string]any)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "title")
}

func TestBuildJSONSchema_DemotedRequiredFieldOmittedFromRequired(t *testing.T) {
	fields := []models.FieldSpec{
		{Name: "name", Kind: models.KindRequired, Type: models.TypeString},
		{Name: "email", Kind: models.KindRequired, Type: models.TypeEmail},
	}
	schema := buildJSONSchema(fields, []string{"email"})

	item := schema["items"].(map[string]any)
	required := item["required"].([]string)
	assert.Equal(t, []string{"name"}, required)

	props := item["properties"].(map[string]any)
	assert.Contains(t, props, "email")
}

func TestJSONSchemaType_MapsFieldTypes(t *testing.T) {
	assert.Equal(t, "number", jsonSchemaType(models.TypeNumber))
	assert.Equal(t, "boolean", jsonSchemaType(models.TypeBoolean))
	assert.Equal(t, "array", jsonSchemaType(models.TypeArrayOfString))
	assert.Equal(t, "string", jsonSchemaType(models.TypeEmail))
}

func TestRedactionFor_MasksPIIUnlessAllowed(t *testing.T) {
	assert.Equal(t, models.RedactionEmail, redactionFor("email", map[string]bool{}))
	assert.Equal(t, models.RedactionNone, redactionFor("email", map[string]bool{"email": true}))
	assert.Equal(t, models.RedactionPhone, redactionFor("phone", map[string]bool{}))
	assert.Equal(t, models.RedactionNone, redactionFor("name", map[string]bool{}))
}

func TestPromotedFieldsOf_EmptyWhenNothingAdded(t *testing.T) {
	result := promotedFieldsOf(models.ExtractionResult{})
	assert.Nil(t, result)
}

func TestPromotedFieldsOf_ReportsAddedFieldsWithCoverage(t *testing.T) {
	extraction := models.ExtractionResult{
		PromotedFieldNames: []string{"location"},
		EvidenceSummary: models.EvidenceSummary{
			FieldCoverage: map[string]int{"location": 7},
		},
	}
	result := promotedFieldsOf(extraction)
	assert.Len(t, result, 1)
	assert.Equal(t, "location", result[0].Name)
	assert.Equal(t, 7, result[0].Entities)
	assert.True(t, result[0].Promoted)
}

func TestHashSeed_IsDeterministic(t *testing.T) {
	a := hashSeed("https://example.com|extract names")
	b := hashSeed("https://example.com|extract names")
	assert.Equal(t, a, b)
}

func TestHashSeed_DiffersOnInputChange(t *testing.T) {
	a := hashSeed("input-one")
	b := hashSeed("input-two")
	assert.NotEqual(t, a, b)
}

func TestHashString_IsStableSHA256Hex(t *testing.T) {
	a := hashString("extract the names")
	b := hashString("extract the names")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestPersistArtifact_RedactsPIIFieldsInStoredSnapshot(t *testing.T) {
	artifacts := storage.NewMemoryArtifactStore()
	m := &Manager{deps: Deps{Artifacts: artifacts}}
	j := models.NewJob("job-1", "corr-1", "", models.Input{})

	result := models.ExtractionResult{
		Data: []map[string]any{
			{"name": "Ada Lovelace", "email": "ada@example.com", "phone": "555-1234"},
		},
	}
	m.persistArtifact(context.Background(), j, result)

	require.Len(t, j.ArtifactRefs, 1)
	kind, raw, err := artifacts.GetArtifact(context.Background(), j.ArtifactRefs[0])
	require.NoError(t, err)
	assert.Equal(t, "extraction_result", kind)

	assert.Equal(t, "Ada Lovelace", gjson.GetBytes(raw, "0.name").String())
	assert.Equal(t, "[redacted:email]", gjson.GetBytes(raw, "0.email").String())
	assert.Equal(t, "[redacted:phone]", gjson.GetBytes(raw, "0.phone").String())
}

func TestPersistArtifact_NoOpWhenArtifactStoreUnset(t *testing.T) {
	m := &Manager{deps: Deps{}}
	j := models.NewJob("job-1", "corr-1", "", models.Input{})
	m.persistArtifact(context.Background(), j, models.ExtractionResult{})
	assert.Empty(t, j.ArtifactRefs)
}
