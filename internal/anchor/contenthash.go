package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// volatileAttrs are stripped before hashing since they vary run-to-run
// without a meaningful content change (spec §3 ContentHash invariant:
// "two renders differing only in volatile fields must yield the same
// content hash").
var volatileAttrs = regexp.MustCompile(`(?i)^(data-reactid|data-react-checksum|data-timestamp|data-rand.*|data-nonce|id)$`)

// ContentHash computes the sha-256 content hash over a DOM-normalized
// serialization of html: comments removed, script/style removed,
// whitespace collapsed, attributes sorted, volatile attributes stripped
// (spec §3).
func ContentHash(html string) (string, error) {
	norm, err := Normalize(html)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:]), nil
}

// Normalize produces the canonical serialization ContentHash hashes. It is
// exported so the "round-trip" law (spec §8: normalize(html) ==
// normalize(normalize(html))) can be tested directly.
func Normalize(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style").Remove()
	removeComments(doc.Selection)

	var b strings.Builder
	serialize(doc.Selection, &b)
	return collapseWhitespace(b.String()), nil
}

func removeComments(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#comment" {
			s.Remove()
			return
		}
		removeComments(s)
	})
}

func serialize(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "#text":
			b.WriteString(s.Text())
			return
		case "#comment":
			return
		}
		b.WriteByte('<')
		b.WriteString(strings.ToLower(name))
		writeSortedAttrs(s, b)
		b.WriteByte('>')
		serialize(s, b)
		b.WriteString("</")
		b.WriteString(strings.ToLower(name))
		b.WriteByte('>')
	})
}

func writeSortedAttrs(sel *goquery.Selection, b *strings.Builder) {
	node := sel.Get(0)
	if node == nil {
		return
	}
	var names []string
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		if volatileAttrs.MatchString(a.Key) {
			continue
		}
		names = append(names, a.Key)
		attrs[a.Key] = a.Val
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteString(`="`)
		b.WriteString(attrs[name])
		b.WriteByte('"')
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
