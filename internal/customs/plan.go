package customs

import (
	"strings"

	"github.com/shopspring/decimal"

	"importflow/internal"
)

// Declaration is one customs declaration for a customer. Split declarations
// carry a carved value and reference every record of the customer.
type Declaration struct {
	Customer   string
	Index      int
	Count      int
	Name       string
	Value      decimal.Decimal
	RecordIDs  []string
	Split      bool
	Overridden bool
}

// Plan recomputes every declaration for a record set from scratch. A group
// too large to split keeps one declaration, which ExceedsThreshold reports.
func (e *Engine) Plan(records []internal.OrderRecord) []Declaration {
	var out []Declaration
	for _, g := range GroupByCustomer(records) {
		det := e.Detect(g)
		ids := g.RecordIDs()
		if !det.IsOverThreshold || det.Total.GreaterThan(e.MaxSplittable()) {
			out = append(out, Declaration{
				Customer:  g.Name,
				Count:     1,
				Name:      g.Name,
				Value:     det.Total.Round(2),
				RecordIDs: ids,
			})
			continue
		}

		values := e.Partition(det.Total)
		names := e.NameSplits(len(values), g.Name)
		for i, v := range values {
			out = append(out, Declaration{
				Customer:  g.Name,
				Index:     i,
				Count:     len(values),
				Name:      names[i],
				Value:     v,
				RecordIDs: ids,
				Split:     true,
			})
		}
	}
	return out
}

// ApplyOverrides returns decls with human edits applied. Overrides pointing at
// a customer or index that no longer exists are ignored.
func ApplyOverrides(decls []Declaration, overrides []internal.SplitOverride) []Declaration {
	type key struct {
		customer string
		index    int
	}
	byKey := make(map[key]internal.SplitOverride, len(overrides))
	for _, o := range overrides {
		byKey[key{CustomerKey(o.Customer), o.Index}] = o
	}

	out := make([]Declaration, len(decls))
	for i, d := range decls {
		o, ok := byKey[key{d.Customer, d.Index}]
		if ok {
			if o.Name != nil && strings.TrimSpace(*o.Name) != "" {
				d.Name = strings.TrimSpace(*o.Name)
				d.Overridden = true
			}
			if o.Value != nil && !o.Value.IsNegative() {
				d.Value = o.Value.Round(2)
				d.Overridden = true
			}
		}
		out[i] = d
	}
	return out
}

// ExceedsThreshold lists declarations whose value, possibly after a human
// override, is above the engine's threshold.
func (e *Engine) ExceedsThreshold(decls []Declaration) []Declaration {
	var out []Declaration
	for _, d := range decls {
		if d.Value.GreaterThan(e.threshold) {
			out = append(out, d)
		}
	}
	return out
}

// Mismatch is a customer whose edited declarations no longer add up to the
// orders behind them.
type Mismatch struct {
	Customer string
	Declared decimal.Decimal
	Orders   decimal.Decimal
}

func (m Mismatch) String() string {
	return m.Customer + ": declared " + m.Declared.StringFixed(2) + " but orders total " + m.Orders.StringFixed(2)
}

// Reconcile compares, for every customer with a value override, the declared
// sum against the group total. Untouched customers always reconcile.
func Reconcile(decls []Declaration, groups []CustomerGroup) []Mismatch {
	index := Index(groups)
	declared := map[string]decimal.Decimal{}
	edited := map[string]bool{}
	var order []string
	for _, d := range decls {
		if _, seen := declared[d.Customer]; !seen {
			order = append(order, d.Customer)
			declared[d.Customer] = decimal.Zero
		}
		declared[d.Customer] = declared[d.Customer].Add(d.Value)
		if d.Overridden {
			edited[d.Customer] = true
		}
	}

	var out []Mismatch
	for _, customer := range order {
		g, ok := index[customer]
		if !edited[customer] || !ok {
			continue
		}
		orders := g.Total().Round(2)
		if !declared[customer].Round(2).Equal(orders) {
			out = append(out, Mismatch{Customer: customer, Declared: declared[customer].Round(2), Orders: orders})
		}
	}
	return out
}
