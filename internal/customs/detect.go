package customs

import "github.com/shopspring/decimal"

type Detection struct {
	IsOverThreshold bool
	Total           decimal.Decimal
}

// Detect reports whether a group needs splitting. A total equal to the
// threshold is still a single declaration.
func (e *Engine) Detect(group CustomerGroup) Detection {
	total := group.Total()
	return Detection{
		IsOverThreshold: total.GreaterThan(e.threshold),
		Total:           total,
	}
}
