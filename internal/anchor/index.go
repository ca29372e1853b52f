// Package anchor implements the Anchor Index (C1): it parses acquired HTML
// into a traversable tree, assigns each content element an opaque id, and
// exposes a constrained API to the rest of the pipeline. No selector string
// is ever returned outside this package.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// maxSampleChars bounds the short text sample kept per anchor (spec §3:
// "short text sample (≤200 chars)").
const maxSampleChars = 200

// skipTags are non-content nodes excluded from id assignment (spec §4.1).
var skipTags = map[string]bool{
	"script": true,
	"style":  true,
	"head":   true,
	"meta":   true,
	"link":   true,
}

// entry is the internal record behind an opaque anchor id. Only this
// package ever sees Selection or Selector.
type entry struct {
	id       string
	sel      *goquery.Selection
	selector string
	tag      string
	text     string
	textHash string
	blockID  string
}

// Index is the Anchor Index for a single job. It is owned exclusively by
// that job for its lifetime (spec §5 "Shared-resource policy").
type Index struct {
	doc      *goquery.Document
	entries  map[string]*entry
	order    []string // insertion order, depth-first
	digest   string
	byNode   map[*html.Node]string
}

// Build parses html and assigns opaque ids depth-first, skipping
// non-content nodes, then groups repeated sibling structures into blocks
// (spec §4.1 algorithm).
func Build(html string) (*Index, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("anchor: parse html: %w", err)
	}

	idx := &Index{
		doc:     doc,
		entries: make(map[string]*entry),
		byNode:  make(map[*html.Node]string),
	}

	counter := 0
	var walk func(sel *goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Children().Each(func(_ int, child *goquery.Selection) {
			tag := goquery.NodeName(child)
			if skipTags[strings.ToLower(tag)] {
				return
			}
			counter++
			id := fmt.Sprintf("n_%d", counter)
			text := normalizeText(child.Text())
			sample := text
			if len(sample) > maxSampleChars {
				sample = sample[:maxSampleChars]
			}
			e := &entry{
				id:       id,
				sel:      child,
				selector: canonicalSelector(child, tag),
				tag:      strings.ToLower(tag),
				text:     sample,
				textHash: hashText(sample),
			}
			idx.entries[id] = e
			idx.order = append(idx.order, id)
			if node := child.Get(0); node != nil {
				idx.byNode[node] = id
			}
			walk(child)
		})
	}
	walk(doc.Selection)

	assignBlocks(idx)
	idx.digest = computeDigest(idx)
	return idx, nil
}

// Digest is a stable identity for this parsed tree, used to key the
// content-cache-adjacent "parsed AnchorIndex digest" entry in Cache (C11).
func (idx *Index) Digest() string { return idx.digest }

// Size returns the number of assigned anchors.
func (idx *Index) Size() int { return len(idx.order) }

// Lookup reports whether id resolves to exactly one node in this index
// (spec §4.1 invariant 2).
func (idx *Index) Lookup(id string) (exists bool) {
	_, ok := idx.entries[id]
	return ok
}

// TextOf returns the short normalized text sample for id (spec §4.1).
func (idx *Index) TextOf(id string) (string, bool) {
	e, ok := idx.entries[id]
	if !ok {
		return "", false
	}
	return e.text, true
}

// OrderOf returns id's position in depth-first document order, used by
// callers that must tie-break on "earliest DOM order" (spec §4.3).
func (idx *Index) OrderOf(id string) (int, bool) {
	for i, oid := range idx.order {
		if oid == id {
			return i, true
		}
	}
	return 0, false
}

// BlockOf returns the block id an anchor belongs to, if any.
func (idx *Index) BlockOf(id string) (string, bool) {
	e, ok := idx.entries[id]
	if !ok || e.blockID == "" {
		return "", false
	}
	return e.blockID, true
}

// BlockCount returns the number of distinct repeated-container blocks
// assigned by assignBlocks, used by Strategy & Fallback (C9) to decide
// whether an acquired page is "valid" (spec §4.9: yields at least one
// detected content block in C3).
func (idx *Index) BlockCount() int {
	seen := make(map[string]bool)
	for _, e := range idx.entries {
		if e.blockID != "" {
			seen[e.blockID] = true
		}
	}
	return len(seen)
}

// ReExtract re-derives a typed value for id via the canonical extractor for
// typeName, used by Augmentation (C5) cross-validation to check a
// model-proposed value against the live DOM (spec §4.1, §4.5).
func (idx *Index) ReExtract(id, typeName string) (string, bool) {
	e, ok := idx.entries[id]
	if !ok {
		return "", false
	}
	switch typeName {
	case "url":
		if href, exists := e.sel.Attr("href"); exists {
			return strings.TrimSpace(href), true
		}
		if src, exists := e.sel.Attr("src"); exists {
			return strings.TrimSpace(src), true
		}
	case "email":
		if href, exists := e.sel.Attr("href"); exists && strings.HasPrefix(href, "mailto:") {
			return strings.TrimPrefix(href, "mailto:"), true
		}
	}
	return e.text, true
}

// Doc exposes the parsed document for use by the detect package's pure
// `dom -> []hit` functions (spec §4.2). Detectors run inside the same
// process boundary as the Anchor Index; what they may never do is hand a
// selector string to anything outside this package.
func (idx *Index) Doc() *goquery.Document { return idx.doc }

// IDForSelection resolves a goquery Selection (as returned by a Doc()
// traversal) back to the opaque anchor id assigned to it, or false if the
// node was skipped during Build (e.g. script/style).
func (idx *Index) IDForSelection(sel *goquery.Selection) (string, bool) {
	node := sel.Get(0)
	if node == nil {
		return "", false
	}
	id, ok := idx.byNode[node]
	return id, ok
}

// Sample is one representative anchor handed to the Model Client: an id and
// its short text, never a selector (spec §4.1 buildSamples, §2 data-flow
// invariant).
type Sample struct {
	AnchorID string
	Text     string
	BlockID  string
}

// BuildSamples returns up to k representative anchors across distinct
// blocks (spec §4.1). Anchors with no block (singleton content) are
// included only after all distinct blocks are represented once.
func (idx *Index) BuildSamples(k int) []Sample {
	if k <= 0 {
		return nil
	}
	seenBlock := make(map[string]bool)
	var withBlock, withoutBlock []Sample
	for _, id := range idx.order {
		e := idx.entries[id]
		if e.text == "" {
			continue
		}
		s := Sample{AnchorID: e.id, Text: e.text, BlockID: e.blockID}
		if e.blockID != "" {
			if seenBlock[e.blockID] {
				continue
			}
			seenBlock[e.blockID] = true
			withBlock = append(withBlock, s)
		} else {
			withoutBlock = append(withoutBlock, s)
		}
	}
	out := append(withBlock, withoutBlock...)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func normalizeText(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// canonicalSelector builds an internal-only selector string; it never
// crosses the package boundary (spec §4.1 invariant 2).
func canonicalSelector(sel *goquery.Selection, tag string) string {
	var parts []string
	if id, ok := sel.Attr("id"); ok && id != "" {
		parts = append(parts, "#"+id)
	}
	if class, ok := sel.Attr("class"); ok && class != "" {
		classes := strings.Fields(class)
		if len(classes) > 0 {
			parts = append(parts, "."+classes[0])
		}
	}
	if len(parts) == 0 {
		return tag
	}
	return tag + strings.Join(parts, "")
}

func computeDigest(idx *Index) string {
	ids := append([]string(nil), idx.order...)
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(idx.entries[id].textHash))
	}
	return hex.EncodeToString(h.Sum(nil))
}
