package detect

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-codex/atlas-codex/internal/models"
)

// Shared detection patterns. Grounded on the teacher's
// internal/driven/analyzer_utils.go regex-library idiom (a small set of
// precompiled patterns per concern), generalized from secret detection to
// content detection.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	pricePattern = regexp.MustCompile(`[$€£¥]\s?\d[\d,]*(\.\d{2})?`)
	currencyGlyphs = regexp.MustCompile(`[$€£¥,\s]`)
)

// ValidationResult is the outcome of checking a value against a FieldType's
// rules (spec §4.2).
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Validate dispatches to the per-type validator (spec §4.2). A value enters
// any result only if Validate returns Valid (spec §4.2 invariant).
func Validate(t models.FieldType, value string, enumValues []string) ValidationResult {
	switch t {
	case models.TypeString:
		return validateString(value, 0, 0)
	case models.TypeEmail:
		return validateEmail(value)
	case models.TypeURL:
		return validateURL(value)
	case models.TypeNumber:
		return validateNumber(value)
	case models.TypeDate:
		return validateDate(value)
	case models.TypeEnum:
		return validateEnum(value, enumValues)
	case models.TypeRichtext:
		return validateRichtext(value)
	case models.TypeBoolean:
		return validateBoolean(value)
	case models.TypeArrayOfString:
		// Callers validate each element individually with TypeString;
		// an empty array is invalid on its own as a single value.
		return validateString(value, 0, 0)
	default:
		return ValidationResult{Valid: false, Reason: "unknown_type"}
	}
}

func validateString(value string, minLen, maxLen int) ValidationResult {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ValidationResult{Valid: false, Reason: "empty"}
	}
	if minLen > 0 && len(trimmed) < minLen {
		return ValidationResult{Valid: false, Reason: "too_short"}
	}
	if maxLen > 0 && len(trimmed) > maxLen {
		return ValidationResult{Valid: false, Reason: "too_long"}
	}
	return ValidationResult{Valid: true}
}

// validateEmail implements spec §4.2's "RFC-5322-lite": local@domain, no
// whitespace, domain has a dot.
func validateEmail(value string) ValidationResult {
	value = strings.TrimSpace(value)
	if strings.ContainsAny(value, " \t\n") {
		return ValidationResult{Valid: false, Reason: "contains_whitespace"}
	}
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return ValidationResult{Valid: false, Reason: "missing_local_or_domain"}
	}
	domain := value[at+1:]
	if !strings.Contains(domain, ".") {
		return ValidationResult{Valid: false, Reason: "domain_missing_dot"}
	}
	return ValidationResult{Valid: true}
}

// validateURL implements spec §4.2: absolute http/https, valid host.
func validateURL(value string) ValidationResult {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return ValidationResult{Valid: false, Reason: "not_absolute_http"}
	}
	rest := value[strings.Index(lower, "://")+3:]
	host := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		host = rest[:i]
	}
	if host == "" {
		return ValidationResult{Valid: false, Reason: "missing_host"}
	}
	return ValidationResult{Valid: true}
}

// validateNumber implements spec §4.2: finite, parses from localized
// forms; monetary removes currency glyphs.
func validateNumber(value string) ValidationResult {
	cleaned := currencyGlyphs.ReplaceAllString(strings.TrimSpace(value), "")
	if cleaned == "" {
		return ValidationResult{Valid: false, Reason: "empty"}
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return ValidationResult{Valid: false, Reason: "not_numeric"}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ValidationResult{Valid: false, Reason: "not_finite"}
	}
	return ValidationResult{Valid: true}
}

// dateLayouts are attempted in order; the first to parse wins. Grounded on
// the common set of formats content pages use for publication/event dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
}

// validateDate implements spec §4.2: parses to ISO-8601; undated strings
// rejected.
func validateDate(value string) ValidationResult {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ValidationResult{Valid: false, Reason: "empty"}
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return ValidationResult{Valid: true}
		}
	}
	return ValidationResult{Valid: false, Reason: "unparseable_date"}
}

// validateEnum implements spec §4.2: member of a declared set
// (case-insensitive).
func validateEnum(value string, allowed []string) ValidationResult {
	lower := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return ValidationResult{Valid: true}
		}
	}
	return ValidationResult{Valid: false, Reason: "not_in_enum"}
}

// validateRichtext implements spec §4.2: string with printable content;
// length bounds apply.
func validateRichtext(value string) ValidationResult {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 1 {
		return ValidationResult{Valid: false, Reason: "empty"}
	}
	if len(trimmed) > 20000 {
		return ValidationResult{Valid: false, Reason: "too_long"}
	}
	return ValidationResult{Valid: true}
}

func validateBoolean(value string) ValidationResult {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no", "1", "0":
		return ValidationResult{Valid: true}
	default:
		return ValidationResult{Valid: false, Reason: "not_boolean"}
	}
}

// NormalizeDateToISO8601 converts a value validateDate accepted into
// canonical ISO-8601, used before a value is written into ExtractionResult.
func NormalizeDateToISO8601(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
