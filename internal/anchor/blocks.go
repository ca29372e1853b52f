package anchor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// assignBlocks groups sibling sets of >= 2 elements sharing a tag,
// overlapping class prefix, and similar child tag-sequence (Jaccard >= 0.8
// over immediate child tags) into a block id, per spec §4.1.
//
// A "block" is the repeated container spec §3 GLOSSARY calls a list item or
// card; Deterministic Track (C3) and Augmentation Track (C5) count blocks
// toward the promotion quorum (K entities, M blocks).
func assignBlocks(idx *Index) {
	type group struct {
		blockID     string
		sigSeen     map[string]bool
		classPrefix string
		tag         string
		parent      *html.Node
	}
	var groups []*group

	for _, id := range idx.order {
		e := idx.entries[id]
		sig := childTagSignature(e.sel)
		if len(sig) == 0 {
			continue
		}
		var parent *html.Node
		if len(e.sel.Nodes) > 0 {
			parent = e.sel.Nodes[0].Parent
		}
		class := firstClass(e.sel)
		placed := false
		for _, g := range groups {
			if g.tag != e.tag || g.parent != parent || !classOverlaps(g.classPrefix, class) {
				continue
			}
			for seenSig := range g.sigSeen {
				if jaccard(seenSig, sig) >= 0.8 {
					e.blockID = g.blockID
					g.sigSeen[sig] = true
					placed = true
					break
				}
			}
			if placed {
				break
			}
		}
		if !placed {
			groups = append(groups, &group{
				blockID:     fmt.Sprintf("b_%s_%d", e.tag, len(groups)+1),
				sigSeen:     map[string]bool{sig: true},
				classPrefix: class,
				tag:         e.tag,
				parent:      parent,
			})
			e.blockID = groups[len(groups)-1].blockID
		}
	}

	// A block requires >= 2 members; demote singleton "blocks" back to no
	// block so they don't inflate the promotion quorum's block-count.
	counts := make(map[string]int)
	for _, id := range idx.order {
		if b := idx.entries[id].blockID; b != "" {
			counts[b]++
		}
	}
	for _, id := range idx.order {
		e := idx.entries[id]
		if e.blockID != "" && counts[e.blockID] < 2 {
			e.blockID = ""
		}
	}
}

// childTagSignature returns the space-joined sequence of immediate child
// tag names, used as the set for the Jaccard similarity check.
func childTagSignature(sel *goquery.Selection) string {
	var tags []string
	sel.Children().Each(func(_ int, c *goquery.Selection) {
		tags = append(tags, strings.ToLower(goquery.NodeName(c)))
	})
	return strings.Join(tags, " ")
}

func firstClass(sel *goquery.Selection) string {
	class, _ := sel.Attr("class")
	fields := strings.Fields(class)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// classOverlaps treats an absent class on either side as "no constraint"
// (spec §4.1 requires "overlapping class prefixes", which untagged elements
// trivially satisfy).
func classOverlaps(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	return a == b
}

// jaccard computes the Jaccard similarity of the tag-name sets underlying
// two space-joined signatures (spec §4.1: "Jaccard ≥ 0.8 over immediate
// child tags"), generalized from the teacher's token-overlap Similarity
// helper in internal/utils/heuristics.go.
func jaccard(a, b string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func toSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		out[tok] = true
	}
	return out
}
