package normalize

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PriceClass classifies the outcome of parsing a raw price string.
type PriceClass int

const (
	// PriceOK means a positive numeric value was parsed.
	PriceOK PriceClass = iota
	// PriceZeroOrNegative means the string parsed but the value is <= 0.
	PriceZeroOrNegative
	// PriceInvalid means the string is empty or unparseable.
	PriceInvalid
)

// PriceResult carries the parsed USD value, the converted EUR value and the
// classification. Absence of a valid price is data, not an error.
type PriceResult struct {
	USD   decimal.Decimal
	EUR   decimal.Decimal
	Class PriceClass
}

// rate bounds: anything outside this window is a unit mistake, not FX.
var (
	rateMin = decimal.NewFromFloat(0.2)
	rateMax = decimal.NewFromFloat(2.0)
)

// SanitizeRate validates the configured USD->EUR rate. Out-of-range values are
// replaced with 1.0 and logged, guarding against misconfigured units.
func SanitizeRate(rate float64) decimal.Decimal {
	d := decimal.NewFromFloat(rate)
	if d.LessThan(rateMin) || d.GreaterThan(rateMax) {
		log.Warn().Float64("rate", rate).Msg("usd/eur rate out of range, falling back to 1.0")
		return decimal.NewFromInt(1)
	}
	return d
}

// Price parses a raw price string and converts it to EUR with the given rate.
// Parsing tolerates thousands separators in both "1,234.56" and "1.234,56"
// conventions. EUR is rounded to 2 decimals, half-up.
func Price(raw string, rate decimal.Decimal) PriceResult {
	value, ok := parseAmount(raw)
	if !ok {
		return PriceResult{Class: PriceInvalid}
	}
	if value.Sign() <= 0 {
		return PriceResult{USD: value, Class: PriceZeroOrNegative}
	}
	return PriceResult{
		USD:   value,
		EUR:   value.Mul(rate).Round(2),
		Class: PriceOK,
	}
}

// parseAmount extracts a decimal from a human-formatted amount string.
func parseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, false
	}

	// Keep only digits, separators and sign.
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case r == ' ':
			// thousands separator in some locales
		}
	}
	s = b.String()
	if s == "" || s == "-" {
		return decimal.Decimal{}, false
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one is the decimal separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ',')
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, '.')
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// normalizeSingleSeparator resolves a string containing only one kind of
// separator: a single occurrence followed by 1-2 digits is a decimal point,
// everything else is thousands grouping.
func normalizeSingleSeparator(s string, sep byte) string {
	sepStr := string(sep)
	first := strings.IndexByte(s, sep)
	last := strings.LastIndexByte(s, sep)
	tail := len(s) - last - 1
	if first == last && tail >= 1 && tail <= 2 {
		return strings.Replace(s, sepStr, ".", 1)
	}
	return strings.ReplaceAll(s, sepStr, "")
}
