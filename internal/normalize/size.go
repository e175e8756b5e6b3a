package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// dimensionPattern matches "W x H" with optional decimals. The separator may
// be a Latin x, the multiplication sign or a Cyrillic х, all of which occur
// in supplier data.
var dimensionPattern = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*[xX×х]\s*(\d+(?:[.,]\d+)?)$`)

// unitSuffix strips trailing unit markers like "cm", "cm.", "CM".
var unitSuffix = regexp.MustCompile(`(?i)\s*cm\.?\s*$`)

var spaceRun = regexp.MustCompile(`\s+`)

// SizeResult is the outcome of canonicalizing one raw size label.
type SizeResult struct {
	// Label is the canonical "W x H cm" form, or the input verbatim when the
	// label does not parse as dimensions (display labels pass through).
	Label string
	// Area is W*H, used only for tie-breaking; 0 when unparseable.
	Area float64
	// Parsed reports whether the label matched the dimension pattern.
	Parsed bool
}

// Size canonicalizes a free-text size label into "{W} x {H} cm".
func Size(raw string) SizeResult {
	s := strings.TrimSpace(raw)
	if s == "" {
		return SizeResult{}
	}
	stripped := strings.TrimSpace(unitSuffix.ReplaceAllString(s, ""))

	m := dimensionPattern.FindStringSubmatch(stripped)
	if m == nil {
		return SizeResult{Label: s}
	}

	w, errW := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	h, errH := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
	if errW != nil || errH != nil {
		return SizeResult{Label: s}
	}

	return SizeResult{
		Label:  fmt.Sprintf("%s x %s cm", formatDimension(w), formatDimension(h)),
		Area:   w * h,
		Parsed: true,
	}
}

// IsSpecialSize recognizes the made-to-order sentinel label independent of
// case, diacritics and Latin/Turkish letter variants: "Özel Ölçü",
// "ozel olcu" and "OZEL ÖLÇÜ" all match.
func IsSpecialSize(raw string) bool {
	return foldLabel(raw) == "ozel olcu"
}

// LooksLikeSize is the predicate the extractor uses to pick a size value out
// of competing size-bearing fields: either parseable dimensions or the
// custom-size sentinel.
func LooksLikeSize(raw string) bool {
	if IsSpecialSize(raw) {
		return true
	}
	stripped := strings.TrimSpace(unitSuffix.ReplaceAllString(strings.TrimSpace(raw), ""))
	return dimensionPattern.MatchString(stripped)
}

// foldLabel lowercases, strips diacritics and collapses whitespace so that
// Turkish spellings compare equal to their ASCII forms. The transform chain
// carries mutable buffer state, so it is built per call: foldLabel runs on
// both sides of the extractor/reconciler channel.
func foldLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	// Dotless ı has no combining mark to strip.
	s = strings.ReplaceAll(s, "ı", "i")
	return spaceRun.ReplaceAllString(s, " ")
}

func formatDimension(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
