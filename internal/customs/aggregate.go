package customs

import (
	"strings"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/util"
)

type Stats struct {
	TotalValue          decimal.Decimal
	TotalPieces         int
	TotalWeight         decimal.Decimal
	TrackingNumberCount int
}

func Aggregate(records []internal.OrderRecord) Stats {
	stats := Stats{TotalValue: decimal.Zero, TotalWeight: decimal.Zero}
	for _, r := range records {
		stats.TotalValue = stats.TotalValue.Add(util.NonNegative(r.OrderTotal))
		if r.TotalPieces > 0 {
			stats.TotalPieces += r.TotalPieces
		}
		for _, it := range r.Items {
			if it.Weight != nil {
				stats.TotalWeight = stats.TotalWeight.Add(util.NonNegative(*it.Weight))
			}
		}
		if r.TrackingNumber != nil && strings.TrimSpace(*r.TrackingNumber) != "" {
			stats.TrackingNumberCount++
		}
	}
	return stats
}
