package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeContractID_StableUnderFieldReordering(t *testing.T) {
	base := SchemaContract{
		ContractVersion: "1",
		Generator:       "g",
		Seed:            7,
		Mode:            ModeStrict,
		Fields: []FieldSpec{
			{Name: "b", Kind: KindRequired, Type: TypeString},
			{Name: "a", Kind: KindExpected, Type: TypeNumber},
		},
	}
	reordered := base
	reordered.Fields = []FieldSpec{base.Fields[1], base.Fields[0]}

	assert.Equal(t, ComputeContractID(base), ComputeContractID(reordered))
}

func TestComputeContractID_IgnoresTimestamp(t *testing.T) {
	a := SchemaContract{ContractVersion: "1", Generator: "g", Seed: 1, TimestampUnix: 1000}
	b := SchemaContract{ContractVersion: "1", Generator: "g", Seed: 1, TimestampUnix: 2000}
	assert.Equal(t, ComputeContractID(a), ComputeContractID(b))
}

func TestComputeContractID_DiffersOnSeedChange(t *testing.T) {
	a := SchemaContract{ContractVersion: "1", Generator: "g", Seed: 1}
	b := SchemaContract{ContractVersion: "1", Generator: "g", Seed: 2}
	assert.NotEqual(t, ComputeContractID(a), ComputeContractID(b))
}

func TestFieldByName_FindsAndMisses(t *testing.T) {
	c := SchemaContract{Fields: []FieldSpec{{Name: "title", Kind: KindRequired}}}
	f := c.FieldByName("title")
	assert.NotNil(t, f)
	assert.Equal(t, KindRequired, f.Kind)

	assert.Nil(t, c.FieldByName("missing"))
}

func TestFieldsByKind_PreservesDeclaredOrder(t *testing.T) {
	c := SchemaContract{Fields: []FieldSpec{
		{Name: "z", Kind: KindExpected},
		{Name: "a", Kind: KindRequired},
		{Name: "m", Kind: KindExpected},
	}}
	expected := c.FieldsByKind(KindExpected)
	assert.Len(t, expected, 2)
	assert.Equal(t, "z", expected[0].Name)
	assert.Equal(t, "m", expected[1].Name)
}

func TestDefaultGenericContract_IsDeterministicForEqualSeed(t *testing.T) {
	a := DefaultGenericContract(42, 1000)
	b := DefaultGenericContract(42, 2000)
	assert.Equal(t, a.ContractID, b.ContractID)
	assert.Equal(t, "default-generic-list", a.Generator)
	assert.Equal(t, ModeSoft, a.Mode)
}

func TestComputeIdempotencyKey_StableForEqualInputs(t *testing.T) {
	a := ComputeIdempotencyKey("https://x.example/", "extract names", "hash1", "contract1")
	b := ComputeIdempotencyKey("https://x.example/", "extract names", "hash1", "contract1")
	assert.Equal(t, a, b)
}

func TestComputeIdempotencyKey_DiffersOnAnyInputChange(t *testing.T) {
	base := ComputeIdempotencyKey("https://x.example/", "q", "hash1", "c1")
	assert.NotEqual(t, base, ComputeIdempotencyKey("https://y.example/", "q", "hash1", "c1"))
	assert.NotEqual(t, base, ComputeIdempotencyKey("https://x.example/", "q2", "hash1", "c1"))
	assert.NotEqual(t, base, ComputeIdempotencyKey("https://x.example/", "q", "hash2", "c1"))
	assert.NotEqual(t, base, ComputeIdempotencyKey("https://x.example/", "q", "hash1", "c2"))
}
