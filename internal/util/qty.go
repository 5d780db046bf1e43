package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	unitPattern     = regexp.MustCompile(`(?i)\b(pcs|pc|pieces|piece|units|unit|uds|und|pzas|pza|items|item)\b`)
	withUnitPattern = regexp.MustCompile(`(?i)(?:^|[^0-9.,$])(\d{1,3}(?:[\s.,]\d{3})+|\d+)\s*(pcs|pc|pieces|piece|units|unit|uds|und|pzas|pza|items|item)\b`)
	timesPattern    = regexp.MustCompile(`(?i)(?:^|\s)(?:x\s*(\d+)|(\d+)\s*x)(?:\s|$)`)
	qtyLabelPattern = regexp.MustCompile(`(?i)\b(?:qty|quantity|cant|cantidad)\s*[:.]?\s*(\d+)`)
	integerPattern  = regexp.MustCompile(`(?:^|[^0-9.,$])(\d+)(?:$|[^0-9.,])`)
)

type ParsedQty struct {
	Qty    *int
	Unit   *string
	QtyRaw *string
}

// ParseQty finds the piece count on an order line. Explicit markers win over
// bare integers: "Qty: 3", "3 pcs", "x3".
func ParseQty(input string) ParsedQty {
	line := strings.ReplaceAll(input, " ", " ")

	qtyRaw := ""
	qtyToken := ""

	if m := qtyLabelPattern.FindStringSubmatch(line); len(m) > 1 {
		qtyRaw = strings.TrimSpace(m[0])
		qtyToken = m[1]
	} else if wm := withUnitPattern.FindAllStringSubmatch(line, -1); len(wm) > 0 {
		last := wm[len(wm)-1]
		qtyRaw = strings.TrimSpace(last[1] + " " + last[2])
		qtyToken = strings.TrimSpace(last[1])
	} else if tm := timesPattern.FindStringSubmatch(line); len(tm) > 2 {
		qtyRaw = strings.TrimSpace(tm[0])
		qtyToken = tm[1]
		if qtyToken == "" {
			qtyToken = tm[2]
		}
	} else if strings.TrimSpace(line) != "" {
		if nm := integerPattern.FindAllStringSubmatch(stripAmounts(line), -1); len(nm) > 0 {
			last := nm[len(nm)-1]
			qtyRaw = last[1]
			qtyToken = last[1]
		}
	}

	var qtyPtr *int
	if qtyToken != "" {
		norm := strings.NewReplacer(" ", "", ",", "", ".", "").Replace(qtyToken)
		if parsed, err := strconv.Atoi(norm); err == nil {
			qtyPtr = &parsed
		}
	}

	var unitPtr *string
	if um := unitPattern.FindStringSubmatch(line); len(um) > 1 {
		u := normalizeUnit(um[1])
		unitPtr = &u
	}

	var qtyRawPtr *string
	if qtyRaw != "" {
		qtyRawPtr = &qtyRaw
	}

	return ParsedQty{Qty: qtyPtr, Unit: unitPtr, QtyRaw: qtyRawPtr}
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "pcs", "pc", "pieces", "piece", "pzas", "pza":
		return "pcs"
	case "units", "unit", "uds", "und":
		return "units"
	case "items", "item":
		return "items"
	default:
		return u
	}
}

// stripAmounts blanks out money tokens so a price is never mistaken for a count.
func stripAmounts(line string) string {
	return amountPattern.ReplaceAllString(line, " ")
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	if regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`).MatchString(compact) {
		return strings.ReplaceAll(compact, ".", "")
	}
	if regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`).MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+,\d{1,2}$`).MatchString(compact) {
		return strings.ReplaceAll(strings.ReplaceAll(compact, ".", ""), ",", ".")
	}
	if regexp.MustCompile(`^\d{1,3}(?:,\d{3})+\.\d{1,2}$`).MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
