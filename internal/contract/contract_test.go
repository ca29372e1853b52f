package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsExploratory_RecognizesListAndExtractVerbs(t *testing.T) {
	assert.True(t, isExploratory("extract all staff members"))
	assert.True(t, isExploratory("List every product on this page"))
	assert.False(t, isExploratory("get the CEO's name"))
}

func TestQueryNeedsIdentifier_AllowsUniversalIdentifiers(t *testing.T) {
	assert.True(t, queryNeedsIdentifier("find the author", "name"))
	assert.True(t, queryNeedsIdentifier("what is the article title", "title"))
	assert.False(t, queryNeedsIdentifier("find the author", "phone_number"))
}

func TestDefaultDetectorsFor_MapsEmailAndPrice(t *testing.T) {
	assert.Equal(t, []string{"email"}, defaultDetectorsFor("email", "contact_email"))
	assert.Equal(t, []string{"price"}, defaultDetectorsFor("number", "sale_price"))
}
