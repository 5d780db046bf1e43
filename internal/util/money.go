package util

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	amountPattern = regexp.MustCompile(`(?i)(US\$|RD\$|\$|€|£|USD|EUR|MXN)\s?(\d{1,3}(?:[.,\s]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)` +
		`|(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)\s?(€|USD\b|EUR\b|MXN\b)` +
		`|(\d{1,3}(?:,\d{3})+\.\d{2}|\d{1,3}(?:\.\d{3})+,\d{2}|\d+[.,]\d{2})\b`)
	bareNumberPattern = regexp.MustCompile(`^\d[\d.,\s]*$`)
	currencyStrip     = strings.NewReplacer("US$", "", "RD$", "", "$", "", "€", "", "£", "", "USD", "", "EUR", "", "MXN", "")
)

type ParsedAmount struct {
	Value    *decimal.Decimal
	Currency *string
	Raw      *string
}

// ParseAmount returns the last money token on a line. A cell holding only a
// number ("15", "1.234,50") is accepted as an amount too.
func ParseAmount(input string) ParsedAmount {
	if all := ParseAmounts(input); len(all) > 0 {
		return all[len(all)-1]
	}

	line := strings.ReplaceAll(input, " ", " ")
	bare := strings.TrimSpace(currencyStrip.Replace(line))
	if bareNumberPattern.MatchString(bare) {
		if d, err := decimal.NewFromString(normalizeNumericToken(bare)); err == nil {
			raw := strings.TrimSpace(line)
			return ParsedAmount{Value: &d, Raw: &raw}
		}
	}
	return ParsedAmount{}
}

// ParseAmounts returns every money token on a line, left to right.
func ParseAmounts(input string) []ParsedAmount {
	line := strings.ReplaceAll(input, " ", " ")
	var out []ParsedAmount
	for _, m := range amountPattern.FindAllStringSubmatch(line, -1) {
		number, currency := "", ""
		switch {
		case m[2] != "":
			number, currency = m[2], m[1]
		case m[3] != "":
			number, currency = m[3], m[4]
		default:
			number = m[5]
		}
		d, err := decimal.NewFromString(normalizeNumericToken(number))
		if err != nil {
			continue
		}
		raw := strings.TrimSpace(m[0])
		amount := ParsedAmount{Value: &d, Raw: &raw}
		if currency != "" {
			c := normalizeCurrency(currency)
			amount.Currency = &c
		}
		out = append(out, amount)
	}
	return out
}

func normalizeCurrency(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "$", "US$", "USD":
		return "USD"
	case "€", "EUR":
		return "EUR"
	case "£":
		return "GBP"
	case "RD$":
		return "DOP"
	default:
		return strings.ToUpper(symbol)
	}
}

// DecimalFromAny coerces a loosely typed JSON value to money. Anything that is
// not a finite number, or a string holding one, becomes zero.
func DecimalFromAny(v any) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(t)
	case float32:
		return DecimalFromAny(float64(t))
	case int:
		return decimal.NewFromInt(int64(t))
	case int64:
		return decimal.NewFromInt(t)
	case json.Number:
		d, err := decimal.NewFromString(string(t))
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "nan") {
			return decimal.Zero
		}
		parsed := ParseAmount(s)
		if parsed.Value == nil {
			return decimal.Zero
		}
		return *parsed.Value
	default:
		return decimal.Zero
	}
}

// IntFromAny is DecimalFromAny for counts; fractions round half away from zero.
func IntFromAny(v any) int {
	if s, ok := v.(string); ok {
		if q := ParseQty(s); q.Qty != nil {
			return *q.Qty
		}
	}
	return int(DecimalFromAny(v).Round(0).IntPart())
}

// Cents rounds to currency precision.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
