// Package deterministic implements the Deterministic Track (C3): for each
// non-discoverable field in a contract, run its detectors, attempt
// extraction, validate, and record hits, misses, and support counts.
package deterministic

import (
	"strings"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/detect"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

// Run executes the deterministic track for every required/expected/optional
// field in contract (discoverable fields have no detectors yet; they are
// populated by Augmentation's pattern-discovery seeds). Grounded on the
// teacher's internal/driven/analyzer.go staged, sequential per-field
// processing pattern.
func Run(idx *anchor.Index, contract models.SchemaContract) *models.DeterministicFindings {
	findings := models.NewDeterministicFindings()

	for _, field := range contract.Fields {
		if field.Kind == models.KindDiscoverable {
			continue
		}
		runField(idx, field, findings)
	}

	discoverPatterns(idx, findings)
	return findings
}

// runField applies one field's detectors, validates each raw hit, resolves
// block membership for support counting, and applies the tie-break and
// dedup rules of spec §4.3.
func runField(idx *anchor.Index, field models.FieldSpec, findings *models.DeterministicFindings) {
	defer func() {
		// A detector panicking (malformed DOM assumptions) is recorded as
		// an extractor_error miss rather than crashing the track (spec
		// §4.3 failure-mode handling); the field is not removed here,
		// that decision belongs to C7.
		if r := recover(); r != nil {
			findings.Misses = append(findings.Misses, models.Miss{
				Field:          field.Name,
				Reason:         "extractor_error",
				DetectorsTried: field.Detectors,
			})
		}
	}()

	var raw []detect.Hit
	for _, name := range field.Detectors {
		d, ok := detect.Registry[name]
		if !ok {
			continue
		}
		raw = append(raw, d(idx)...)
	}

	type candidate struct {
		hit     detect.Hit
		order   int
		blockID string
	}

	// Group candidates by block so the tie-break rules apply within a
	// block, and singleton anchors (no block) are each their own group.
	groups := make(map[string][]candidate)
	for _, h := range raw {
		vr := detect.Validate(field.Type, h.Value, field.EnumValues)
		if !vr.Valid {
			continue
		}
		order, _ := idx.OrderOf(h.AnchorID)
		blockID, hasBlock := idx.BlockOf(h.AnchorID)
		key := h.AnchorID
		if hasBlock {
			key = "block:" + blockID
		}
		groups[key] = append(groups[key], candidate{hit: h, order: order, blockID: blockID})
	}

	if len(groups) == 0 {
		findings.Misses = append(findings.Misses, models.Miss{
			Field:          field.Name,
			Reason:         "no_valid_hit",
			DetectorsTried: field.Detectors,
		})
		return
	}

	seenText := make(map[string]bool)
	for _, cands := range groups {
		// Tie-break: (a) highest detector confidence, (b) longest valid
		// value, (c) earliest DOM order (spec §4.3).
		best := cands[0]
		for _, c := range cands[1:] {
			if c.hit.Confidence > best.hit.Confidence {
				best = c
				continue
			}
			if c.hit.Confidence == best.hit.Confidence {
				if len(c.hit.Value) > len(best.hit.Value) {
					best = c
					continue
				}
				if len(c.hit.Value) == len(best.hit.Value) && c.order < best.order {
					best = c
				}
			}
		}

		normalized := strings.ToLower(strings.TrimSpace(best.hit.Value))
		if seenText[normalized] {
			continue // cross-block duplicate, deduplicated by normalized text
		}
		seenText[normalized] = true

		findings.Hits = append(findings.Hits, models.Hit{
			Field:      field.Name,
			Value:      best.hit.Value,
			AnchorID:   best.hit.AnchorID,
			Confidence: best.hit.Confidence,
		})
		findings.SupportMap[field.Name]++
		if best.blockID != "" {
			findings.BlockMap[best.hit.AnchorID] = best.blockID
		}
	}
}

// discoverPatterns runs the label-value detector across the whole document
// and promotes repeated labels into PatternCandidates (spec §4.3: "a
// pattern is a candidate when it appears in >= 2 blocks with similar
// associated value structures").
func discoverPatterns(idx *anchor.Index, findings *models.DeterministicFindings) {
	hits := detect.DetectLabelValue(idx)

	type occurrence struct {
		anchorID string
		blockID  string
	}
	byLabel := make(map[string][]occurrence)
	for _, h := range hits {
		label := strings.TrimPrefix(h.Field, "label:")
		blockID, _ := idx.BlockOf(h.AnchorID)
		byLabel[label] = append(byLabel[label], occurrence{anchorID: h.AnchorID, blockID: blockID})
	}

	for label, occs := range byLabel {
		blocks := make(map[string]bool)
		var samples []string
		for _, o := range occs {
			if o.blockID != "" {
				blocks[o.blockID] = true
			}
			if len(samples) < 3 {
				samples = append(samples, o.anchorID)
			}
		}
		if len(blocks) < 2 {
			continue
		}
		findings.Candidates = append(findings.Candidates, models.PatternCandidate{
			PatternLabel:    label,
			Instances:       len(occs),
			SampleAnchorIDs: samples,
		})
	}
}
