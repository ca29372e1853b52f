// Package contract implements the Contract Generator (C6): from a user
// query and a normalized page sample, synthesize a SchemaContract with
// conservative required fields, generous expected fields, and an optional
// discoverable slot.
package contract

import (
	"context"
	"sort"
	"strings"

	"github.com/atlas-codex/atlas-codex/internal/modelclient"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

// exploratoryVerbs mark a query as exploratory rather than field-specific
// (spec §4.6: "extract...", "list...").
var exploratoryVerbs = []string{"extract", "list", "find all", "gather", "collect"}

// llmFieldSpec/llmContract are the model's raw proposal; jsonschema tags
// drive the structured-output schema the Model Client enforces.
type llmFieldSpec struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind" jsonschema:"enum=required,enum=expected,enum=discoverable,enum=optional"`
	Type       string   `json:"type" jsonschema:"enum=string,enum=email,enum=url,enum=enum,enum=richtext,enum=number,enum=boolean,enum=date,enum=array-of-string"`
	EnumValues []string `json:"enum_values,omitempty"`
}

type llmContract struct {
	EntityType     string         `json:"entity_type" jsonschema:"description=Inferred entity type, e.g. person, article, product"`
	Fields         []llmFieldSpec `json:"fields"`
	AllowDiscovery bool           `json:"allow_discovery"`
}

// Generate produces a SchemaContract for (query, sample). seed and
// timestampUnix are supplied by the caller (Job Manager) so the contract
// stays reproducible without the package reaching for wall-clock time or
// randomness itself.
func Generate(ctx context.Context, client *modelclient.Client, query, sample string, seed, timestampUnix int64) models.SchemaContract {
	prompt := buildPrompt(query, sample)
	result, err := modelclient.Invoke[llmContract](ctx, client, modelclient.StageContract, modelclient.TierFast, prompt, nil)
	if err != nil || result.Abstained || result.Output == nil || len(result.Output.Fields) == 0 {
		// Abstention: proceed with the deterministic-only default contract
		// for "generic list of objects" (spec §4.6).
		return models.DefaultGenericContract(seed, timestampUnix)
	}

	c := fromLLM(*result.Output, query, seed, timestampUnix)
	c.ContractID = models.ComputeContractID(c)
	return c
}

func fromLLM(llm llmContract, query string, seed, timestampUnix int64) models.SchemaContract {
	fields := make([]models.FieldSpec, 0, len(llm.Fields))
	for _, f := range llm.Fields {
		kind := models.FieldKind(f.Kind)
		// Conservative required fields: only identifiers the query
		// clearly needs survive as required; everything else the model
		// marked required is downgraded to expected (spec §4.6).
		if kind == models.KindRequired && !queryNeedsIdentifier(query, f.Name) {
			kind = models.KindExpected
		}
		fields = append(fields, models.FieldSpec{
			Name:       f.Name,
			Kind:       kind,
			Type:       models.FieldType(f.Type),
			EnumValues: f.EnumValues,
			Detectors:  defaultDetectorsFor(models.FieldType(f.Type), f.Name),
			Validators: []string{string(f.Type)},
		})
	}

	mode := models.ModeSoft
	if !isExploratory(query) {
		mode = models.ModeStrict
	}

	allowDiscovery := llm.AllowDiscovery && isExploratory(query)

	c := models.SchemaContract{
		ContractVersion: "1",
		Generator:       "llm-contract-generator",
		Seed:            seed,
		TimestampUnix:   timestampUnix,
		Mode:            mode,
		Fields:          fields,
		Governance: models.Governance{
			AllowNewFields:        allowDiscovery,
			MinSupportThreshold:   3,
			MinBlocksThreshold:    2,
			MaxDiscoverableFields: 5,
		},
		EvidencePolicy: models.EvidencePolicy{RequireAnchors: true, MinAnchorsPerField: 1},
		MissingPolicy:  models.MissingPolicy{Required: models.MissingDropEntity, Expected: models.MissingOmitField},
	}
	sort.Slice(c.Fields, func(i, j int) bool { return c.Fields[i].Name < c.Fields[j].Name })
	return c
}

// queryNeedsIdentifier is a conservative check: a field is allowed to stay
// required only if its name (or a close synonym) literally appears in the
// query text, or it is a universal identifier ("name", "title").
func queryNeedsIdentifier(query, fieldName string) bool {
	lower := strings.ToLower(query)
	name := strings.ToLower(fieldName)
	if name == "name" || name == "title" {
		return true
	}
	return strings.Contains(lower, name)
}

func isExploratory(query string) bool {
	lower := strings.ToLower(query)
	for _, v := range exploratoryVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// defaultDetectorsFor maps a declared type to the detect.Registry entries
// most likely to populate it, mirroring spec §4.2's minimum detector set.
func defaultDetectorsFor(t models.FieldType, name string) []string {
	lower := strings.ToLower(name)
	switch {
	case t == models.TypeEmail:
		return []string{"email"}
	case t == models.TypeURL:
		return []string{"link"}
	case t == models.TypeDate:
		return []string{"date"}
	case t == models.TypeNumber && strings.Contains(lower, "price"):
		return []string{"price"}
	case strings.Contains(lower, "title") || strings.Contains(lower, "name"):
		return []string{"title", "heading"}
	case strings.Contains(lower, "desc") || strings.Contains(lower, "bio") || strings.Contains(lower, "summary"):
		return []string{"description"}
	case strings.Contains(lower, "image") || strings.Contains(lower, "photo"):
		return []string{"image"}
	case strings.Contains(lower, "phone"):
		return []string{"phone"}
	default:
		return []string{"label_value"}
	}
}

// buildPrompt renders the query and a normalized content sample into an
// instruction prompt for the contract-generation call (spec §4.6).
func buildPrompt(query, sample string) string {
	var b strings.Builder
	b.WriteString("Design a data extraction schema for the following request.\n\n")
	b.WriteString("User query: " + query + "\n\n")
	b.WriteString("Page content sample:\n" + sample + "\n\n")
	b.WriteString("Infer the entity type being requested. List fields with a name, kind (required/expected/discoverable/optional), and type. Required fields must be identifiers the query clearly needs. Include common attributes for the entity type as expected fields. Set allow_discovery to true only if the query is exploratory (asks to list/extract/find all items) and the page has a repeating structure worth discovering new fields from.\n")
	return b.String()
}
