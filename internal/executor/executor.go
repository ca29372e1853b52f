// Package executor implements the Extraction Executor (C8): given a
// negotiated schema, assembles the output array compositionally from
// deterministic hits and augmentation-accepted completions, then enforces
// strict/soft mode policy.
package executor

import (
	"sort"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

// softModeSupportFloor is spec §4.8's soft-mode demotion threshold:
// required fields with a support rate below this are echoed as
// non-required rather than causing any entity to be dropped.
const softModeSupportFloor = 0.6

// Assemble runs the compositional sub-strategy (spec §4.8 point 1): one
// entity per detected block, filled from deterministic hits and
// augmentation completions, with missing-field policy enforced per mode.
// The second return value lists required fields soft-mode demoted to
// non-required (support rate below softModeSupportFloor), which the caller
// must echo back into the response's output_schema (spec §4.8 "Soft").
func Assemble(idx *anchor.Index, schema []models.FieldSpec, findings *models.DeterministicFindings, aug *models.AugmentationResult, mode models.Mode, stage, correlationID string) ([]map[string]any, []string, *models.PipelineError) {
	blocks := collectBlocks(idx, findings)

	type rawEntity struct {
		blockID string
		values  map[string]any
		present map[string]bool
	}

	raw := make([]rawEntity, 0, len(blocks))
	for _, blockID := range blocks {
		e := rawEntity{blockID: blockID, values: make(map[string]any), present: make(map[string]bool)}
		for _, field := range schema {
			if v, ok := valueForFieldInBlock(field.Name, blockID, findings, aug); ok {
				e.values[field.Name] = v
				e.present[field.Name] = true
			}
		}
		raw = append(raw, e)
	}

	// Per-field support rate across all assembled entities, used by
	// soft-mode demotion (spec §4.8 point "Soft").
	supportRate := make(map[string]float64)
	if len(raw) > 0 {
		for _, field := range schema {
			count := 0
			for _, e := range raw {
				if e.present[field.Name] {
					count++
				}
			}
			supportRate[field.Name] = float64(count) / float64(len(raw))
		}
	}

	requiredDemoted := make(map[string]bool)
	if mode == models.ModeSoft {
		for _, field := range schema {
			if field.Kind == models.KindRequired && supportRate[field.Name] < softModeSupportFloor {
				requiredDemoted[field.Name] = true
			}
		}
	}

	var out []map[string]any
	dropped := 0
	missingEntityCount := make(map[string]int)
	for _, e := range raw {
		missingRequired := false
		var missingNames []string
		for _, field := range schema {
			if field.Kind != models.KindRequired || requiredDemoted[field.Name] {
				continue
			}
			if !e.present[field.Name] {
				missingRequired = true
				missingNames = append(missingNames, field.Name)
			}
		}

		if missingRequired {
			if mode == models.ModeStrict {
				dropped++
				for _, name := range missingNames {
					missingEntityCount[name]++
				}
				continue
			}
			// Soft mode: entities are never dropped for missing required
			// fields; null them instead.
			for _, name := range missingNames {
				e.values[name] = nil
			}
		}

		out = append(out, e.values)
	}

	if mode == models.ModeStrict && len(raw) > 0 && len(out) == 0 {
		return nil, nil, models.NewPipelineError(models.ErrStrictModeDrop, stage, correlationID,
			"all entities dropped in strict mode", strictDropDetail(len(raw), missingEntityCount, findings.Misses))
	}

	demoted := make([]string, 0, len(requiredDemoted))
	for name := range requiredDemoted {
		demoted = append(demoted, name)
	}
	sort.Strings(demoted)

	return out, demoted, nil
}

// strictDropDetail builds the E_STRICT_MODE_DROP detail payload spec §4.8
// requires: selectors (detectors, since no DOM selector ever leaves
// internal/anchor) tried per required field and the count of entities that
// missed it.
func strictDropDetail(blocksConsidered int, missingEntityCount map[string]int, misses []models.Miss) map[string]any {
	detectorsTried := make(map[string][]string, len(missingEntityCount))
	for _, miss := range misses {
		if _, tracked := missingEntityCount[miss.Field]; tracked {
			detectorsTried[miss.Field] = miss.DetectorsTried
		}
	}
	fields := make(map[string]any, len(missingEntityCount))
	for field, count := range missingEntityCount {
		fields[field] = map[string]any{
			"entities_missing": count,
			"detectors_tried":  detectorsTried[field],
		}
	}
	return map[string]any{
		"blocks_considered": blocksConsidered,
		"fields":            fields,
	}
}

// collectBlocks returns the distinct block ids referenced by findings, in
// document order; if no block structure exists the page is treated as a
// single implicit entity (empty-string block id).
func collectBlocks(idx *anchor.Index, findings *models.DeterministicFindings) []string {
	type blockOrder struct {
		id    string
		order int
	}
	seen := make(map[string]bool)
	var ordered []blockOrder
	for anchorID, blockID := range findings.BlockMap {
		if seen[blockID] {
			continue
		}
		seen[blockID] = true
		order, _ := idx.OrderOf(anchorID)
		ordered = append(ordered, blockOrder{id: blockID, order: order})
	}
	if len(ordered) == 0 {
		return []string{""}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })
	out := make([]string, len(ordered))
	for i, b := range ordered {
		out[i] = b.id
	}
	return out
}

// valueForFieldInBlock resolves one field's value within one block,
// preferring a deterministic hit over an augmentation completion.
func valueForFieldInBlock(fieldName, blockID string, findings *models.DeterministicFindings, aug *models.AugmentationResult) (string, bool) {
	for _, h := range findings.Hits {
		if h.Field != fieldName {
			continue
		}
		hitBlock := findings.BlockMap[h.AnchorID]
		if hitBlock == blockID {
			return h.Value, true
		}
	}
	for _, c := range aug.Completions {
		if c.Field != fieldName {
			continue
		}
		for _, id := range c.AnchorIDs {
			if findings.BlockMap[id] == blockID {
				return c.Value, true
			}
		}
	}
	return "", false
}
