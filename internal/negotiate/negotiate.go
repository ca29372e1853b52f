// Package negotiate implements the Schema Negotiator (C7): it combines
// deterministic and augmented evidence against a contract's governance
// rules to produce the final schema and a change log.
package negotiate

import (
	"sort"
	"strings"

	"github.com/atlas-codex/atlas-codex/internal/detect"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

// Negotiate applies spec §4.7's procedure and is idempotent over
// (contract, findings, augmentation): equal inputs yield equal outputs,
// since every step below is a pure function of its arguments.
func Negotiate(contract models.SchemaContract, findings *models.DeterministicFindings, aug *models.AugmentationResult) models.NegotiationResult {
	completionsByField := make(map[string]models.Completion)
	for _, c := range aug.Completions {
		completionsByField[c.Field] = c
	}

	var changes models.NegotiationChanges
	var finalFields []models.FieldSpec
	coverage := make(map[string]int)

	leadingSupport := 0
	for _, f := range contract.FieldsByKind(models.KindExpected) {
		if s := findings.SupportMap[f.Name]; s > leadingSupport {
			leadingSupport = s
		}
	}

	for _, field := range contract.Fields {
		switch field.Kind {
		case models.KindRequired:
			support := findings.SupportMap[field.Name]
			_, hasCompletion := completionsByField[field.Name]
			if support == 0 && !hasCompletion {
				return models.NegotiationResult{
					Status: models.NegotiationError,
					Reason: requiredFieldErrorReason(field, findings),
				}
			}
			finalFields = append(finalFields, field)
			coverage[field.Name] = support

		case models.KindExpected:
			support := findings.SupportMap[field.Name]
			if support == 0 {
				if _, ok := completionsByField[field.Name]; !ok {
					changes.Pruned = append(changes.Pruned, field.Name)
					continue
				}
			}
			if leadingSupport > 0 && float64(support)/float64(leadingSupport) < 0.3 {
				demoted := field
				demoted.Kind = models.KindOptional
				finalFields = append(finalFields, demoted)
				changes.Demoted = append(changes.Demoted, field.Name)
				coverage[field.Name] = support
				continue
			}
			finalFields = append(finalFields, field)
			coverage[field.Name] = support

		default:
			finalFields = append(finalFields, field)
			coverage[field.Name] = findings.SupportMap[field.Name]
		}
	}

	promoted := promoteDiscoverable(contract, aug.NewFieldProposals)
	for _, f := range promoted {
		finalFields = append(finalFields, f)
		changes.Added = append(changes.Added, f.Name)
		coverage[f.Name] = 0
		for _, p := range aug.NewFieldProposals {
			if p.Name == f.Name {
				coverage[f.Name] = p.SupportCount
			}
		}
	}

	applyNormalizations(&finalFields, aug.Normalizations)

	totalSupport := 0
	for _, s := range coverage {
		totalSupport += s
	}
	reliability := 0.0
	if len(coverage) > 0 {
		reliability = float64(totalSupport) / float64(len(coverage))
		if reliability > 1 {
			reliability = 1
		}
		if reliability < 0 {
			reliability = 0
		}
	}

	return models.NegotiationResult{
		Status:      models.NegotiationSuccess,
		FinalSchema: finalFields,
		Changes:     changes,
		EvidenceSummary: models.EvidenceSummary{
			TotalSupport:     totalSupport,
			FieldCoverage:    coverage,
			ReliabilityScore: reliability,
		},
	}
}

// requiredFieldErrorReason builds the diagnostic for spec §4.7 item 1: the
// field's declared detectors, followed by the detectors recorded on its
// misses. No block ids are included.
func requiredFieldErrorReason(field models.FieldSpec, findings *models.DeterministicFindings) string {
	var b strings.Builder
	b.WriteString("required field '" + field.Name + "' has zero support; detectors tried: ")
	b.WriteString(strings.Join(field.Detectors, ", "))
	var blocks []string
	for _, m := range findings.Misses {
		if m.Field == field.Name {
			blocks = append(blocks, m.DetectorsTried...)
		}
	}
	if len(blocks) > 0 {
		b.WriteString("; also tried: " + strings.Join(blocks, ", "))
	}
	return b.String()
}

// promoteDiscoverable implements spec §4.7 item 3: a proposal promotes iff
// support-count >= K and block-count >= M and all cited anchors resolve
// (already guaranteed by C5's cross-validation before a proposal reaches
// here). Promotions are capped at max-discoverable-fields, breaking ties
// by (support-count desc, then lexicographic name).
func promoteDiscoverable(contract models.SchemaContract, proposals []models.NewFieldProposal) []models.FieldSpec {
	gov := contract.Governance
	var eligible []models.NewFieldProposal
	for _, p := range proposals {
		if p.SupportCount >= gov.MinSupportThreshold && p.BlockCount >= gov.MinBlocksThreshold {
			eligible = append(eligible, p)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].SupportCount != eligible[j].SupportCount {
			return eligible[i].SupportCount > eligible[j].SupportCount
		}
		return eligible[i].Name < eligible[j].Name
	})
	if gov.MaxDiscoverableFields > 0 && len(eligible) > gov.MaxDiscoverableFields {
		eligible = eligible[:gov.MaxDiscoverableFields]
	}

	out := make([]models.FieldSpec, 0, len(eligible))
	for _, p := range eligible {
		out = append(out, models.FieldSpec{
			Name:       p.Name,
			Kind:       models.KindDiscoverable,
			Type:       p.Type,
			Validators: []string{string(p.Type)},
		})
	}
	return out
}

// applyNormalizations renames a field in place only when both endpoint
// names pass the string validator (spec §4.7 item 4); otherwise the
// normalization is ignored.
func applyNormalizations(fields *[]models.FieldSpec, normalizations []models.Normalization) {
	for _, n := range normalizations {
		idx := -1
		for i, f := range *fields {
			if f.Name == n.From {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}
		if !detect.Validate(models.TypeString, n.From, nil).Valid || !detect.Validate(models.TypeString, n.To, nil).Valid {
			continue
		}
		(*fields)[idx].Name = n.To
	}
}
