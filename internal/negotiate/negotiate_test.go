package negotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-codex/atlas-codex/internal/models"
)

func baseContract() models.SchemaContract {
	return models.SchemaContract{
		Fields: []models.FieldSpec{
			{Name: "name", Kind: models.KindRequired, Type: models.TypeString},
			{Name: "email", Kind: models.KindExpected, Type: models.TypeEmail},
			{Name: "bio", Kind: models.KindExpected, Type: models.TypeRichtext},
		},
		Governance: models.Governance{
			AllowNewFields:        true,
			MinSupportThreshold:   2,
			MinBlocksThreshold:    2,
			MaxDiscoverableFields: 1,
		},
	}
}

func TestNegotiate_RequiredFieldWithZeroSupportErrors(t *testing.T) {
	findings := models.NewDeterministicFindings()
	result := Negotiate(baseContract(), findings, &models.AugmentationResult{})
	assert.Equal(t, models.NegotiationError, result.Status)
	assert.Contains(t, result.Reason, "name")
}

func TestNegotiate_ExpectedFieldWithZeroSupportIsPruned(t *testing.T) {
	findings := models.NewDeterministicFindings()
	findings.SupportMap["name"] = 3
	result := Negotiate(baseContract(), findings, &models.AugmentationResult{})
	assert.Equal(t, models.NegotiationSuccess, result.Status)
	assert.Contains(t, result.Changes.Pruned, "email")
	assert.Contains(t, result.Changes.Pruned, "bio")
}

func TestNegotiate_LowSupportExpectedFieldIsDemoted(t *testing.T) {
	findings := models.NewDeterministicFindings()
	findings.SupportMap["name"] = 3
	findings.SupportMap["email"] = 10
	findings.SupportMap["bio"] = 1 // < 30% of leading (email=10)
	result := Negotiate(baseContract(), findings, &models.AugmentationResult{})
	assert.Equal(t, models.NegotiationSuccess, result.Status)
	assert.Contains(t, result.Changes.Demoted, "bio")
}

func TestNegotiate_DiscoverableFieldPromotesWhenQuorumMet(t *testing.T) {
	findings := models.NewDeterministicFindings()
	findings.SupportMap["name"] = 3
	findings.SupportMap["email"] = 3
	findings.SupportMap["bio"] = 3
	aug := &models.AugmentationResult{
		NewFieldProposals: []models.NewFieldProposal{
			{Name: "office", Type: models.TypeString, SupportCount: 4, BlockCount: 3},
			{Name: "twitter", Type: models.TypeString, SupportCount: 1, BlockCount: 1},
		},
	}
	result := Negotiate(baseContract(), findings, aug)
	assert.Equal(t, models.NegotiationSuccess, result.Status)
	assert.Equal(t, []string{"office"}, result.Changes.Added)
}

func TestNegotiate_IsIdempotent(t *testing.T) {
	findings := models.NewDeterministicFindings()
	findings.SupportMap["name"] = 3
	findings.SupportMap["email"] = 3
	aug := &models.AugmentationResult{}

	first := Negotiate(baseContract(), findings, aug)
	second := Negotiate(baseContract(), findings, aug)
	assert.Equal(t, first, second)
}
