package customs

import "github.com/shopspring/decimal"

// Partition carves total into ceil(total/unit) declaration values. Values
// start from a whole-dollar base and the leftover cents are spread evenly,
// earlier splits taking the odd cents, so no value exceeds the safe unit and
// the values add up to the cent-rounded total exactly. A total above
// MaxSplittable comes back as a single value.
func (e *Engine) Partition(total decimal.Decimal) []decimal.Decimal {
	if total.GreaterThan(e.MaxSplittable()) {
		return []decimal.Decimal{total.Round(2)}
	}
	cents := toCents(total)
	if cents < 0 {
		cents = 0
	}

	n := cents / e.unitCents
	if cents%e.unitCents != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}

	base := (cents / n) / 100 * 100
	remainder := cents - base*n
	each, extra := remainder/n, remainder%n

	out := make([]decimal.Decimal, n)
	for i := int64(0); i < n; i++ {
		v := base + each
		if i < extra {
			v++
		}
		out[i] = fromCents(v)
	}
	return out
}
