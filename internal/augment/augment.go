// Package augment implements the Augmentation Track (C5): it asks the
// Model Client to complete missing fields, propose new discoverable
// fields, and normalize field names, then cross-validates every claim
// against the live AnchorIndex before it may affect the schema.
package augment

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/detect"
	"github.com/atlas-codex/atlas-codex/internal/modelclient"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

// minJaccardSimilarity is spec §4.5's cross-validation threshold.
const minJaccardSimilarity = 0.8

// llmCompletion/llmNewField/llmNormalization are the model's raw, unvalidated
// claims (spec §4.5 points 1-3). jsonschema tags drive the structured-output
// schema the Model Client enforces.
type llmCompletion struct {
	Field     string   `json:"field" jsonschema:"description=Expected field name being completed"`
	Value     string   `json:"value"`
	AnchorIDs []string `json:"anchor_ids" jsonschema:"description=Anchor ids that justify this value"`
}

type llmNewField struct {
	Name         string   `json:"name"`
	Type         string   `json:"type" jsonschema:"enum=string,enum=email,enum=url,enum=enum,enum=richtext,enum=number,enum=boolean,enum=date,enum=array-of-string"`
	AnchorIDs    []string `json:"anchor_ids"`
	SampleValues []string `json:"sample_values"`
}

type llmNormalization struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// llmResponse is the schema-bearing type passed to modelclient.Invoke.
type llmResponse struct {
	Completions    []llmCompletion    `json:"completions"`
	NewFields      []llmNewField      `json:"new_fields"`
	Normalizations []llmNormalization `json:"normalizations"`
}

// AnchorMiss describes one claim that cross-validation discarded. Run
// returns them to its caller and emits no telemetry event for them; the
// Job Manager writes each one to the job log as "anchor_miss".
type AnchorMiss struct {
	Kind   string // "completion" | "new_field"
	Field  string
	Reason string
}

// Run executes one augmentation call and cross-validates its claims
// against idx. Grounded on the teacher's internal/llm/detective_flow.go
// orchestration (a sub-stage's failure degrades gracefully rather than
// failing the whole flow) — here, the model call abstaining yields an
// empty AugmentationResult, not an error.
func Run(ctx context.Context, client *modelclient.Client, idx *anchor.Index, contract models.SchemaContract, findings *models.DeterministicFindings) (*models.AugmentationResult, []AnchorMiss) {
	samples := idx.BuildSamples(5)
	prompt := buildPrompt(contract, findings, samples)

	result, err := modelclient.Invoke[llmResponse](ctx, client, modelclient.StageAugmentation, modelclient.TierSmart, prompt, nil)
	if err != nil || result.Abstained || result.Output == nil {
		return &models.AugmentationResult{}, nil
	}

	var misses []AnchorMiss
	out := &models.AugmentationResult{}

	expectedByName := make(map[string]models.FieldSpec)
	for _, f := range contract.FieldsByKind(models.KindExpected) {
		expectedByName[f.Name] = f
	}

	for _, c := range result.Output.Completions {
		field, isExpected := expectedByName[c.Field]
		if !isExpected {
			misses = append(misses, AnchorMiss{Kind: "completion", Field: c.Field, Reason: "not_an_expected_field"})
			continue
		}
		if ok, reason := crossValidate(idx, c.AnchorIDs, c.Value, field.Type, field.EnumValues); !ok {
			misses = append(misses, AnchorMiss{Kind: "completion", Field: c.Field, Reason: reason})
			continue
		}
		out.Completions = append(out.Completions, models.Completion{
			Field:     c.Field,
			Value:     c.Value,
			AnchorIDs: c.AnchorIDs,
		})
	}

	if contract.Governance.AllowNewFields {
		for _, nf := range result.Output.NewFields {
			ftype := models.FieldType(nf.Type)
			valid := true
			for _, v := range nf.SampleValues {
				if r := detect.Validate(ftype, v, nil); !r.Valid {
					valid = false
					break
				}
			}
			if !valid {
				misses = append(misses, AnchorMiss{Kind: "new_field", Field: nf.Name, Reason: "sample_value_invalid"})
				continue
			}
			resolved, blocks := resolveAnchors(idx, nf.AnchorIDs)
			if resolved == 0 {
				misses = append(misses, AnchorMiss{Kind: "new_field", Field: nf.Name, Reason: "no_resolvable_anchors"})
				continue
			}
			if resolved < len(nf.AnchorIDs) {
				misses = append(misses, AnchorMiss{Kind: "new_field", Field: nf.Name, Reason: "anchor_unresolvable"})
				continue
			}
			out.NewFieldProposals = append(out.NewFieldProposals, models.NewFieldProposal{
				Name:         nf.Name,
				Type:         ftype,
				AnchorIDs:    nf.AnchorIDs,
				SupportCount: resolved,
				BlockCount:   blocks,
				SampleValues: nf.SampleValues,
			})
		}
	}

	for _, n := range result.Output.Normalizations {
		if n.From == "" || n.To == "" {
			continue
		}
		out.Normalizations = append(out.Normalizations, models.Normalization{From: n.From, To: n.To, Reason: n.Reason})
	}

	return out, misses
}

// crossValidate implements spec §4.5's three-part check: every anchor id
// resolves, the re-extracted text is >= 0.8 token-Jaccard similar to the
// claim, and the value passes its declared type's validator.
func crossValidate(idx *anchor.Index, anchorIDs []string, value string, fieldType models.FieldType, enumValues []string) (bool, string) {
	if len(anchorIDs) == 0 {
		return false, "no_cited_anchors"
	}
	for _, id := range anchorIDs {
		if !idx.Lookup(id) {
			return false, "anchor_unresolvable"
		}
		reExtracted, ok := idx.ReExtract(id, string(fieldType))
		if !ok {
			return false, "anchor_unresolvable"
		}
		if Similarity(reExtracted, value) < minJaccardSimilarity {
			return false, "low_similarity"
		}
	}
	if r := detect.Validate(fieldType, value, enumValues); !r.Valid {
		return false, "validator_rejected"
	}
	return true, ""
}

func resolveAnchors(idx *anchor.Index, anchorIDs []string) (resolved int, blocks int) {
	seenBlocks := make(map[string]bool)
	for _, id := range anchorIDs {
		if !idx.Lookup(id) {
			continue
		}
		resolved++
		if blockID, ok := idx.BlockOf(id); ok {
			seenBlocks[blockID] = true
		}
	}
	return resolved, len(seenBlocks)
}

// Similarity computes token-level Jaccard similarity between two strings,
// used by cross-validation's "re-extracted text is >= 0.8 token Jaccard
// similar" check (spec §4.5). Grounded on the teacher's
// internal/utils/heuristics.go Similarity function's early-return
// structure, generalized from character-position comparison to token-set
// overlap since claims here are short phrases, not URL path segments.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	// Tokens are runs of letters and digits, so punctuation such as a
	// trailing comma does not make otherwise equal words differ.
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// buildPrompt renders the deterministic findings and anchor samples into
// an instruction prompt (spec §4.5). Anchor IDs and short text samples are
// the only page content the model ever sees (spec §2 data-flow invariant).
func buildPrompt(contract models.SchemaContract, findings *models.DeterministicFindings, samples []anchor.Sample) string {
	var b strings.Builder
	b.WriteString("You are completing a web content extraction schema. You only see anchor ids and short text samples, never page selectors.\n\n")

	b.WriteString("Expected fields still missing a value:\n")
	have := make(map[string]bool)
	for _, h := range findings.Hits {
		have[h.Field] = true
	}
	missing := 0
	for _, f := range contract.FieldsByKind(models.KindExpected) {
		if have[f.Name] {
			continue
		}
		b.WriteString("- " + f.Name + " (" + string(f.Type) + ")\n")
		missing++
	}
	if missing == 0 {
		b.WriteString("- (none)\n")
	}

	b.WriteString("\nRepeated label patterns discovered:\n")
	if len(findings.Candidates) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, c := range findings.Candidates {
		b.WriteString("- " + c.PatternLabel + " seen in " + strconv.Itoa(c.Instances) + " places\n")
	}

	b.WriteString("\nSample anchors (id: text):\n")
	sort.Slice(samples, func(i, j int) bool { return samples[i].AnchorID < samples[j].AnchorID })
	for _, s := range samples {
		b.WriteString("- " + s.AnchorID + ": " + s.Text + "\n")
	}

	b.WriteString("\nFor each missing expected field you can support, cite the anchor ids that justify the value. Propose new discoverable fields only for label patterns repeating across multiple blocks. Normalize any field name you think should map to a more canonical name.\n")
	return b.String()
}
