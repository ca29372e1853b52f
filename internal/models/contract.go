package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// FieldKind classifies a field's obligation within a contract (spec §3).
type FieldKind string

const (
	KindRequired    FieldKind = "required"
	KindExpected    FieldKind = "expected"
	KindDiscoverable FieldKind = "discoverable"
	KindOptional    FieldKind = "optional"
)

// FieldType is the declared value type of a FieldSpec (spec §4.2).
type FieldType string

const (
	TypeString        FieldType = "string"
	TypeEmail         FieldType = "email"
	TypeURL           FieldType = "url"
	TypeEnum          FieldType = "enum"
	TypeRichtext      FieldType = "richtext"
	TypeNumber        FieldType = "number"
	TypeBoolean       FieldType = "boolean"
	TypeDate          FieldType = "date"
	TypeArrayOfString FieldType = "array-of-string"
)

// FieldSpec is one field of a SchemaContract (spec §3). Detectors/Extractor/
// Validators name the C2 library entries this field should run through; they
// are plain string ids rather than function values so a FieldSpec stays
// serializable (content-addressed contracts must hash deterministically).
type FieldSpec struct {
	Name       string    `json:"name" jsonschema:"description=Output field name"`
	Kind       FieldKind `json:"kind" jsonschema:"enum=required,enum=expected,enum=discoverable,enum=optional"`
	Type       FieldType `json:"type" jsonschema:"enum=string,enum=email,enum=url,enum=enum,enum=richtext,enum=number,enum=boolean,enum=date,enum=array-of-string"`
	EnumValues []string  `json:"enum_values,omitempty" jsonschema:"description=Allowed values when type=enum"`
	Detectors  []string  `json:"detectors,omitempty"`
	Extractor  string    `json:"extractor,omitempty"`
	Validators []string  `json:"validators,omitempty"`
	MinSupport int       `json:"min_support,omitempty" jsonschema:"description=Minimum supporting entity count, 0 = no floor"`
}

// Governance carries the promotion-quorum and discoverable-field knobs a
// contract enforces during negotiation (spec §3, §4.7).
type Governance struct {
	AllowNewFields       bool `json:"allow_new_fields"`
	MinSupportThreshold  int  `json:"min_support_threshold"`  // K
	MinBlocksThreshold   int  `json:"min_blocks_threshold"`   // M
	MaxDiscoverableFields int `json:"max_discoverable_fields"`
}

// EvidencePolicy governs how many anchors must back a value before it is
// trusted (spec §3).
type EvidencePolicy struct {
	RequireAnchors     bool `json:"require_anchors"`
	MinAnchorsPerField int  `json:"min_anchors_per_field"`
}

// MissingPolicyRule selects what happens to an entity missing a field of a
// given kind (spec §3).
type MissingPolicyRule string

const (
	MissingDropEntity MissingPolicyRule = "drop-entity"
	MissingFailJob    MissingPolicyRule = "fail-job"
	MissingOmitField  MissingPolicyRule = "omit-field"
	MissingNullField  MissingPolicyRule = "null-field"
)

// MissingPolicy is the contract's declared behavior for absent fields
// (spec §3); Extraction Executor (C8) mode enforcement consults it.
type MissingPolicy struct {
	Required MissingPolicyRule `json:"required"`
	Expected MissingPolicyRule `json:"expected"`
}

// SchemaContract is the per-request, deterministic description of what
// fields may appear in the output and under what policy (spec §3, GLOSSARY).
type SchemaContract struct {
	ContractID      string         `json:"contract_id"`
	ContractVersion string         `json:"contract_version"`
	Generator       string         `json:"generator"`
	Seed            int64          `json:"seed"`
	TimestampUnix   int64          `json:"timestamp"`
	Mode            Mode           `json:"mode"`
	Fields          []FieldSpec    `json:"fields"`
	Governance      Governance     `json:"governance"`
	EvidencePolicy  EvidencePolicy `json:"evidence_policy"`
	MissingPolicy   MissingPolicy  `json:"missing_policy"`
}

// canonicalPayload is the subset of the contract hashed into ContractID: it
// excludes Timestamp (spec §4.6: "contract-id is deterministic over its
// canonical content", i.e. not over the generation timestamp) and ContractID
// itself.
type canonicalPayload struct {
	ContractVersion string         `json:"contract_version"`
	Generator       string         `json:"generator"`
	Seed            int64          `json:"seed"`
	Mode            Mode           `json:"mode"`
	Fields          []FieldSpec    `json:"fields"`
	Governance      Governance     `json:"governance"`
	EvidencePolicy  EvidencePolicy `json:"evidence_policy"`
	MissingPolicy   MissingPolicy  `json:"missing_policy"`
}

// ComputeContractID returns the deterministic sha-256 hex digest over the
// contract's canonical content (spec §3, §4.6, invariant I3). Fields are
// sorted by name first so field declaration order never affects the id.
func ComputeContractID(c SchemaContract) string {
	fields := append([]FieldSpec(nil), c.Fields...)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	payload := canonicalPayload{
		ContractVersion: c.ContractVersion,
		Generator:       c.Generator,
		Seed:            c.Seed,
		Mode:            c.Mode,
		Fields:          fields,
		Governance:      c.Governance,
		EvidencePolicy:  c.EvidencePolicy,
		MissingPolicy:   c.MissingPolicy,
	}
	// json.Marshal orders struct fields by declaration order, which is
	// fixed, giving a stable byte sequence to hash.
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FieldByName returns the field with the given name, or nil.
func (c SchemaContract) FieldByName(name string) *FieldSpec {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// FieldsByKind returns all fields of the given kind, preserving declared
// order (spec §5: "field processing order is the contract's declared
// order, stable, not arbitrary").
func (c SchemaContract) FieldsByKind(kind FieldKind) []FieldSpec {
	var out []FieldSpec
	for _, f := range c.Fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// DefaultGenericContract is the fallback contract used when the Contract
// Generator (C6) abstains (spec §4.6, §7: "pipeline proceeds with a
// deterministic-only path using a default contract for 'generic list of
// objects'").
func DefaultGenericContract(seed int64, timestampUnix int64) SchemaContract {
	c := SchemaContract{
		ContractVersion: "1",
		Generator:       "default-generic-list",
		Seed:            seed,
		TimestampUnix:   timestampUnix,
		Mode:            ModeSoft,
		Fields: []FieldSpec{
			{Name: "title", Kind: KindRequired, Type: TypeString, Detectors: []string{"title", "heading"}, Validators: []string{"string"}},
			{Name: "description", Kind: KindExpected, Type: TypeRichtext, Detectors: []string{"description"}, Validators: []string{"richtext"}},
			{Name: "url", Kind: KindExpected, Type: TypeURL, Detectors: []string{"link"}, Validators: []string{"url"}},
		},
		Governance: Governance{
			AllowNewFields:        true,
			MinSupportThreshold:   3,
			MinBlocksThreshold:    2,
			MaxDiscoverableFields: 5,
		},
		EvidencePolicy: EvidencePolicy{RequireAnchors: true, MinAnchorsPerField: 1},
		MissingPolicy:  MissingPolicy{Required: MissingDropEntity, Expected: MissingOmitField},
	}
	c.ContractID = ComputeContractID(c)
	return c
}
