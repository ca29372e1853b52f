package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-codex/atlas-codex/internal/models"
)

func TestValidate_Email_RejectsWhitespaceAndMissingDot(t *testing.T) {
	assert.True(t, Validate(models.TypeEmail, "a@b.com", nil).Valid)
	assert.False(t, Validate(models.TypeEmail, "a @b.com", nil).Valid)
	assert.False(t, Validate(models.TypeEmail, "a@b", nil).Valid)
	assert.False(t, Validate(models.TypeEmail, "@b.com", nil).Valid)
}

func TestValidate_URL_RequiresAbsoluteHTTP(t *testing.T) {
	assert.True(t, Validate(models.TypeURL, "https://example.com/a", nil).Valid)
	assert.False(t, Validate(models.TypeURL, "/relative/path", nil).Valid)
	assert.False(t, Validate(models.TypeURL, "ftp://example.com", nil).Valid)
}

func TestValidate_Number_StripsCurrencyGlyphs(t *testing.T) {
	r := Validate(models.TypeNumber, "$1,234.56", nil)
	assert.True(t, r.Valid)
	assert.False(t, Validate(models.TypeNumber, "not a number", nil).Valid)
}

func TestValidate_Date_RejectsUndated(t *testing.T) {
	assert.True(t, Validate(models.TypeDate, "2024-01-15", nil).Valid)
	assert.False(t, Validate(models.TypeDate, "sometime soon", nil).Valid)
}

func TestValidate_Enum_IsCaseInsensitive(t *testing.T) {
	r := Validate(models.TypeEnum, "ACTIVE", []string{"active", "inactive"})
	assert.True(t, r.Valid)
	assert.False(t, Validate(models.TypeEnum, "deleted", []string{"active", "inactive"}).Valid)
}

func TestValidate_String_RejectsEmpty(t *testing.T) {
	assert.False(t, Validate(models.TypeString, "   ", nil).Valid)
	assert.True(t, Validate(models.TypeString, "hello", nil).Valid)
}
