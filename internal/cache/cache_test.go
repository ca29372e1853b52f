package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-codex/atlas-codex/internal/models"
)

func TestContentDigest_RoundTrip(t *testing.T) {
	c := New(time.Hour, time.Hour)
	c.PutContentDigest("hash1", "digest1")

	digest, ok := c.GetContentDigest("hash1")
	require.True(t, ok)
	assert.Equal(t, "digest1", digest)

	_, ok = c.GetContentDigest("missing")
	assert.False(t, ok)
}

func TestContract_PositiveEntryNeverExpires(t *testing.T) {
	c := New(1*time.Millisecond, time.Hour)
	contract := models.SchemaContract{ContractID: "abc"}
	c.PutContract("q", "h", contract)

	time.Sleep(5 * time.Millisecond)

	entry, ok := c.GetContract("q", "h")
	require.True(t, ok)
	require.NotNil(t, entry.Contract)
	assert.Equal(t, "abc", entry.Contract.ContractID)
}

func TestContract_AbstainEntryExpiresAfterNegativeTTL(t *testing.T) {
	c := New(5*time.Millisecond, time.Hour)
	c.PutAbstain("q", "h", "insufficient intent")

	entry, ok := c.GetContract("q", "h")
	require.True(t, ok)
	assert.NotNil(t, entry.Abstain)
	assert.Equal(t, "insufficient intent", entry.Abstain.Reason)

	time.Sleep(15 * time.Millisecond)
	_, ok = c.GetContract("q", "h")
	assert.False(t, ok)
}

func TestResult_CacheHitReturnsIdenticalData(t *testing.T) {
	c := New(time.Hour, time.Hour)
	result := models.ExtractionResult{
		ContractID: "abc",
		Data:       []map[string]any{{"name": "Ada"}},
	}
	c.PutResult("idem-key", result)

	got, ok := c.GetResult("idem-key")
	require.True(t, ok)
	assert.Equal(t, result.ContractID, got.ContractID)
	assert.Equal(t, result.Data, got.Data)
}

func TestResult_ImmutableOnceWritten(t *testing.T) {
	c := New(time.Hour, time.Hour)
	c.PutResult("k", models.ExtractionResult{ContractID: "first"})
	c.PutResult("k", models.ExtractionResult{ContractID: "second"})

	got, ok := c.GetResult("k")
	require.True(t, ok)
	assert.Equal(t, "first", got.ContractID)
}

func TestResult_MissingKeyReportsNoHit(t *testing.T) {
	c := New(time.Hour, time.Hour)
	_, ok := c.GetResult("nope")
	assert.False(t, ok)
}

func TestDeleteResult_RemovesEntry(t *testing.T) {
	c := New(time.Hour, time.Hour)
	c.PutResult("k", models.ExtractionResult{ContractID: "x"})
	c.DeleteResult("k")
	_, ok := c.GetResult("k")
	assert.False(t, ok)
}

func TestNew_ZeroNegativeTTLDefaultsToOneHour(t *testing.T) {
	c := New(0, time.Hour)
	assert.Equal(t, time.Hour, c.negativeTTL)
}
