// Package detect implements the Detectors & Validators library (C2): pure
// functions that locate candidate nodes and type-check extracted values.
package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/atlas-codex/atlas-codex/internal/anchor"
	"github.com/atlas-codex/atlas-codex/internal/models"
)

// Hit is a single detector match (spec §4.2): the label it was found
// under, an anchor id, the extracted value, and a match confidence. No
// selector is carried — only internal/anchor ever sees one.
type Hit struct {
	Field      string
	AnchorID   string
	Value      string
	Confidence float64
}

// Detector is a pure `dom -> []hit` function (spec §4.2).
type Detector func(idx *anchor.Index) []Hit

// Registry is the minimum library spec §4.2 names: title, heading,
// description, link, email, phone, price, date, image, label-value pair,
// list item.
var Registry = map[string]Detector{
	"title":       DetectTitle,
	"heading":     DetectHeading,
	"description": DetectDescription,
	"link":        DetectLink,
	"email":       DetectEmail,
	"phone":       DetectPhone,
	"price":       DetectPrice,
	"date":        DetectDate,
	"image":       DetectImage,
	"label_value": DetectLabelValue,
	"list_item":   DetectListItem,
}

// Run executes the named detectors against idx, concatenating their hits.
// Unknown detector names are skipped; since an unknown detector can never
// produce a hit, the Deterministic Track records such a field as a miss with
// reason "no_valid_hit".
func Run(idx *anchor.Index, names []string) []Hit {
	var out []Hit
	for _, name := range names {
		d, ok := Registry[name]
		if !ok {
			continue
		}
		out = append(out, d(idx)...)
	}
	return out
}

func DetectTitle(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("title, h1").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		conf := 0.7
		if goquery.NodeName(s) == "h1" {
			conf = 0.85
		}
		hits = append(hits, Hit{Field: "title", AnchorID: id, Value: text, Confidence: conf})
	})
	return hits
}

func DetectHeading(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		hits = append(hits, Hit{Field: "heading", AnchorID: id, Value: text, Confidence: 0.6})
	})
	return hits
}

func DetectDescription(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("p, [class*=desc], [class*=summary], [class*=bio]").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		text := strings.TrimSpace(s.Text())
		if len(text) < 20 {
			return
		}
		hits = append(hits, Hit{Field: "description", AnchorID: id, Value: text, Confidence: 0.5})
	})
	return hits
}

func DetectLink(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "#") {
			return
		}
		hits = append(hits, Hit{Field: "url", AnchorID: id, Value: href, Confidence: 0.8})
	})
	return hits
}

func DetectEmail(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if idx := strings.IndexByte(addr, '?'); idx >= 0 {
			addr = addr[:idx]
		}
		hits = append(hits, Hit{Field: "email", AnchorID: id, Value: addr, Confidence: 0.9})
	})
	idx.Doc().Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if m := emailPattern.FindString(text); m != "" {
			id, ok := idx.IDForSelection(s)
			if !ok {
				return
			}
			hits = append(hits, Hit{Field: "email", AnchorID: id, Value: m, Confidence: 0.6})
		}
	})
	return hits
}

func DetectPhone(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if m := phonePattern.FindString(text); m != "" {
			id, ok := idx.IDForSelection(s)
			if !ok {
				return
			}
			hits = append(hits, Hit{Field: "phone", AnchorID: id, Value: m, Confidence: 0.6})
		}
	})
	return hits
}

func DetectPrice(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("[class*=price], [class*=cost]").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		text := strings.TrimSpace(s.Text())
		if pricePattern.MatchString(text) {
			hits = append(hits, Hit{Field: "price", AnchorID: id, Value: text, Confidence: 0.75})
		}
	})
	return hits
}

func DetectDate(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("time, [class*=date]").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		if dt, exists := s.Attr("datetime"); exists && dt != "" {
			hits = append(hits, Hit{Field: "date", AnchorID: id, Value: dt, Confidence: 0.9})
			return
		}
		text := strings.TrimSpace(s.Text())
		if text != "" {
			hits = append(hits, Hit{Field: "date", AnchorID: id, Value: text, Confidence: 0.5})
		}
	})
	return hits
}

func DetectImage(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		src, _ := s.Attr("src")
		if strings.TrimSpace(src) == "" {
			return
		}
		hits = append(hits, Hit{Field: "image", AnchorID: id, Value: src, Confidence: 0.8})
	})
	return hits
}

// DetectLabelValue finds dt/dd pairs and leaf elements whose text ends with
// ':' followed by a sibling element holding the value (spec §4.3
// pattern-discovery sub-pass). A label such as <strong>Office</strong>
// without the trailing ':' is not detected.
func DetectLabelValue(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("dt").Each(func(_ int, s *goquery.Selection) {
		dd := s.Next()
		if goquery.NodeName(dd) != "dd" {
			return
		}
		id, ok := idx.IDForSelection(dd)
		if !ok {
			return
		}
		label := strings.TrimSpace(strings.TrimSuffix(s.Text(), ":"))
		value := strings.TrimSpace(dd.Text())
		if label == "" || value == "" {
			return
		}
		hits = append(hits, Hit{Field: "label:" + label, AnchorID: id, Value: value, Confidence: 0.7})
	})
	idx.Doc().Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if !strings.HasSuffix(text, ":") || len(text) < 3 {
			return
		}
		sibling := s.Next()
		if sibling.Length() == 0 {
			return
		}
		id, ok := idx.IDForSelection(sibling)
		if !ok {
			return
		}
		label := strings.TrimSuffix(text, ":")
		value := strings.TrimSpace(sibling.Text())
		if value == "" {
			return
		}
		hits = append(hits, Hit{Field: "label:" + label, AnchorID: id, Value: value, Confidence: 0.55})
	})
	return hits
}

// DetectListItem yields one hit per <li>/block member, used as the seed
// pool for entity assembly in Extraction Executor (C8).
func DetectListItem(idx *anchor.Index) []Hit {
	var hits []Hit
	idx.Doc().Find("li").Each(func(_ int, s *goquery.Selection) {
		id, ok := idx.IDForSelection(s)
		if !ok {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		hits = append(hits, Hit{Field: "list_item", AnchorID: id, Value: text, Confidence: 0.5})
	})
	return hits
}

// ToModelHits converts detect.Hit to the serializable models.Hit shape
// stored in DeterministicFindings.
func ToModelHits(hits []Hit, field string) []models.Hit {
	out := make([]models.Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.Hit{Field: field, Value: h.Value, AnchorID: h.AnchorID, Confidence: h.Confidence})
	}
	return out
}
