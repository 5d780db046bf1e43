package customs

import (
	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/util"
)

const UnknownCustomer = "Unknown Customer"

type CustomerGroup struct {
	Name    string
	Records []internal.OrderRecord
}

func (g CustomerGroup) Total() decimal.Decimal {
	total := decimal.Zero
	for _, r := range g.Records {
		total = total.Add(util.NonNegative(r.OrderTotal))
	}
	return total
}

func (g CustomerGroup) RecordIDs() []string {
	ids := make([]string, 0, len(g.Records))
	for _, r := range g.Records {
		ids = append(ids, r.ID)
	}
	return ids
}

// CustomerKey is the grouping key for a record's customer name.
func CustomerKey(name string) string {
	key := util.NormalizeSpaces(name)
	if key == "" {
		return UnknownCustomer
	}
	return key
}

// GroupByCustomer partitions records by customer. Groups come out in order of
// first appearance and each keeps the input order of its records.
func GroupByCustomer(records []internal.OrderRecord) []CustomerGroup {
	groups := []CustomerGroup{}
	pos := map[string]int{}
	for _, r := range records {
		key := CustomerKey(r.CustomerName)
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, CustomerGroup{Name: key})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}

func Index(groups []CustomerGroup) map[string]*CustomerGroup {
	out := make(map[string]*CustomerGroup, len(groups))
	for i := range groups {
		out[groups[i].Name] = &groups[i]
	}
	return out
}
