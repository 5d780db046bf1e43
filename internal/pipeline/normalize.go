package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/util"
)

// RawOrder is the order exactly as the extractor returned it. Every field is
// optional and may carry the wrong JSON type; NormalizeOrder is the only place
// that turns it into an internal.OrderRecord.
type RawOrder struct {
	CustomerName   OptString `json:"customerName"`
	Items          []RawItem `json:"items"`
	OrderTotal     OptNumber `json:"orderTotal"`
	TotalPieces    OptNumber `json:"totalPieces"`
	TrackingNumber OptString `json:"trackingNumber"`
}

type RawItem struct {
	Name       OptString `json:"name"`
	Quantity   OptNumber `json:"quantity"`
	UnitValue  OptNumber `json:"unitValue"`
	TotalValue OptNumber `json:"totalValue"`
	Weight     OptNumber `json:"weight"`
	HSCode     OptString `json:"hsCode"`
}

func (ri RawItem) empty() bool {
	return !ri.Name.Set && !ri.Quantity.Present() && !ri.UnitValue.Present() && !ri.TotalValue.Present()
}

type OptString struct {
	Value string
	Set   bool
}

func (s *OptString) UnmarshalJSON(b []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = OptString{Value: strings.TrimSpace(t), Set: strings.TrimSpace(t) != ""}
	case json.Number:
		*s = OptString{Value: t.String(), Set: true}
	default:
		*s = OptString{}
	}
	return nil
}

// OptNumber keeps whatever JSON value sat in a numeric slot.
type OptNumber struct {
	Raw any
}

func (n *OptNumber) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(&n.Raw)
}

func (n OptNumber) Present() bool {
	return n.Raw != nil
}

func (n OptNumber) Decimal() decimal.Decimal {
	return util.NonNegative(util.DecimalFromAny(n.Raw))
}

func (n OptNumber) Int() int {
	v := util.IntFromAny(n.Raw)
	if v < 0 {
		return 0
	}
	return v
}

const orderSchema = `{
  "type": "object",
  "properties": {
    "customerName": {},
    "orderTotal": {"not": {"type": ["object", "array"]}},
    "totalPieces": {"not": {"type": ["object", "array"]}},
    "trackingNumber": {},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": ["object", "null"],
        "properties": {
          "quantity": {"not": {"type": ["object", "array"]}},
          "unitValue": {"not": {"type": ["object", "array"]}},
          "totalValue": {"not": {"type": ["object", "array"]}},
          "weight": {"not": {"type": ["object", "array"]}}
        }
      }
    }
  }
}`

var (
	compiledOrderSchema = mustCompileSchema("order.json", orderSchema)
	fencePattern        = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile(name)
}

// DecodeRawOrder parses extractor output. Markdown fences and prose around the
// JSON object are tolerated. The document must be an object whose items are
// objects; scalar type mistakes are left for NormalizeOrder to absorb.
func DecodeRawOrder(blob []byte) (RawOrder, error) {
	text := sanitizeJSON(string(blob))
	if text == "" {
		return RawOrder{}, fmt.Errorf("decode order: no JSON object in response")
	}

	var doc any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return RawOrder{}, fmt.Errorf("decode order: %w", err)
	}
	if err := compiledOrderSchema.Validate(doc); err != nil {
		return RawOrder{}, fmt.Errorf("order does not match schema: %w", err)
	}

	var raw RawOrder
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return RawOrder{}, fmt.Errorf("decode order: %w", err)
	}
	return raw, nil
}

func sanitizeJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

const warnNoCustomer = "customer name missing"

// DefaultMaxAmount bounds any single money value read from an order. Bigger
// numbers are tracking or phone numbers read as prices.
var DefaultMaxAmount = decimal.NewFromInt(100000)

// NormalizeOrder is NormalizeOrderMax with DefaultMaxAmount.
func NormalizeOrder(raw RawOrder, source internal.RecordSource) internal.OrderRecord {
	return NormalizeOrderMax(raw, source, DefaultMaxAmount)
}

// NormalizeOrderMax applies the zero-for-missing policy. Money and counts that
// are absent, unreadable or negative become zero, and so does money above
// maxAmount. An order total missing from the answer falls back to the items
// sum; missing pieces fall back to the sum of item quantities.
func NormalizeOrderMax(raw RawOrder, source internal.RecordSource, maxAmount decimal.Decimal) internal.OrderRecord {
	rec := internal.OrderRecord{
		Source:       source,
		CustomerName: util.CleanCustomerName(raw.CustomerName.Value),
		TotalPieces:  raw.TotalPieces.Int(),
	}
	capped := func(what string, d decimal.Decimal) decimal.Decimal {
		if maxAmount.IsPositive() && d.GreaterThan(maxAmount) {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("%s %s above %s, set to 0", what, d.String(), maxAmount.StringFixed(2)))
			return decimal.Zero
		}
		return d
	}
	rec.OrderTotal = capped("order total", raw.OrderTotal.Decimal())
	if raw.TrackingNumber.Set {
		tracking := strings.ToUpper(strings.Join(strings.Fields(raw.TrackingNumber.Value), ""))
		rec.TrackingNumber = &tracking
	}

	itemsTotal := decimal.Zero
	itemsPieces := 0
	for i, ri := range raw.Items {
		if ri.empty() {
			continue
		}
		item := internal.OrderItem{
			Name:       util.NormalizeSpaces(ri.Name.Value),
			Quantity:   ri.Quantity.Int(),
			UnitValue:  capped("unit value", ri.UnitValue.Decimal()),
			TotalValue: capped("item total", ri.TotalValue.Decimal()),
		}
		if item.Name == "" {
			item.Name = "Item " + strconv.Itoa(i+1)
		}
		if !ri.Quantity.Present() && (ri.UnitValue.Present() || ri.TotalValue.Present()) {
			item.Quantity = 1
		}
		if item.TotalValue.IsZero() && !item.UnitValue.IsZero() {
			item.TotalValue = capped("item total", item.UnitValue.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		if item.UnitValue.IsZero() && !item.TotalValue.IsZero() && item.Quantity > 0 {
			item.UnitValue = item.TotalValue.Div(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		}
		if ri.Weight.Present() {
			w := ri.Weight.Decimal()
			item.Weight = &w
		}
		if ri.HSCode.Set {
			hs := ri.HSCode.Value
			item.HSCode = &hs
		}
		itemsTotal = itemsTotal.Add(item.TotalValue)
		itemsPieces += item.Quantity
		rec.Items = append(rec.Items, item)
	}

	if rec.OrderTotal.IsZero() && !itemsTotal.IsZero() {
		rec.OrderTotal = capped("items sum", itemsTotal)
		rec.Warnings = append(rec.Warnings, "order total missing, using items sum")
	} else if len(rec.Items) > 0 && !itemsTotal.IsZero() && !util.Cents(itemsTotal).Equal(util.Cents(rec.OrderTotal)) {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("order total %s differs from items sum %s", util.Cents(rec.OrderTotal).StringFixed(2), util.Cents(itemsTotal).StringFixed(2)))
	}
	if !raw.TotalPieces.Present() || rec.TotalPieces == 0 {
		rec.TotalPieces = itemsPieces
	}
	rec.OrderTotal = util.Cents(rec.OrderTotal)
	if rec.CustomerName == "" {
		rec.Warnings = append(rec.Warnings, warnNoCustomer)
	}
	return rec
}

// CapAmounts zeroes money above maxAmount on an already normalized record.
// It reports whether anything changed.
func CapAmounts(rec *internal.OrderRecord, maxAmount decimal.Decimal) bool {
	if !maxAmount.IsPositive() {
		return false
	}
	changed := false
	zero := func(what string, d *decimal.Decimal) {
		if d.GreaterThan(maxAmount) {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("%s %s above %s, set to 0", what, d.String(), maxAmount.StringFixed(2)))
			*d = decimal.Zero
			changed = true
		}
	}
	zero("order total", &rec.OrderTotal)
	for i := range rec.Items {
		zero("unit value", &rec.Items[i].UnitValue)
		zero("item total", &rec.Items[i].TotalValue)
	}
	return changed
}
