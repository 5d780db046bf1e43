package customs

import (
	"testing"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/util"
)

func rec(id, customer, total string) internal.OrderRecord {
	return internal.OrderRecord{ID: id, CustomerName: customer, OrderTotal: decimal.RequireFromString(total)}
}

func TestGroupByCustomer(t *testing.T) {
	records := []internal.OrderRecord{
		rec("r0", "Ana", "10"),
		rec("r1", "", "20"),
		rec("r2", "Ana", "30"),
	}

	groups := GroupByCustomer(records)
	if len(groups) != 2 {
		t.Fatalf("len=%d", len(groups))
	}
	if groups[0].Name != "Ana" || groups[1].Name != UnknownCustomer {
		t.Fatalf("order: %q, %q", groups[0].Name, groups[1].Name)
	}
	if ids := groups[0].RecordIDs(); len(ids) != 2 || ids[0] != "r0" || ids[1] != "r2" {
		t.Fatalf("ana ids=%v", ids)
	}
	if ids := groups[1].RecordIDs(); len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("unknown ids=%v", ids)
	}

	idx := Index(groups)
	if idx["Ana"].Total().StringFixed(2) != "40.00" {
		t.Fatalf("ana total=%s", idx["Ana"].Total())
	}
}

func TestGroupByCustomerIsPartition(t *testing.T) {
	names := []string{"Ana", " Ana ", "", "Luis", "ana", "Luis  Mora", "   "}
	var records []internal.OrderRecord
	for i := 0; i < 50; i++ {
		records = append(records, rec(string(rune('a'+i%26))+string(rune('0'+i/26)), names[i%len(names)], "1"))
	}

	groups := GroupByCustomer(records)
	seen := map[string]int{}
	count := 0
	for _, g := range groups {
		for _, r := range g.Records {
			seen[r.ID]++
			count++
		}
	}
	if count != len(records) {
		t.Fatalf("count=%d want %d", count, len(records))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("record %s appears %d times", id, n)
		}
	}
}

func TestDetect(t *testing.T) {
	e := MustEngine(DefaultConfig())
	cases := []struct {
		totals []string
		over   bool
		total  string
	}{
		{totals: []string{"150"}, over: false, total: "150.00"},
		{totals: []string{"120", "80"}, over: false, total: "200.00"},
		{totals: []string{"120", "80.01"}, over: true, total: "200.01"},
		{totals: []string{"250", "-40"}, over: true, total: "250.00"},
	}
	for _, tc := range cases {
		g := CustomerGroup{Name: "Ana"}
		for i, v := range tc.totals {
			g.Records = append(g.Records, rec(string(rune('a'+i)), "Ana", v))
		}
		det := e.Detect(g)
		if det.IsOverThreshold != tc.over || det.Total.StringFixed(2) != tc.total {
			t.Fatalf("%v: got %+v", tc.totals, det)
		}
	}
}

func TestAggregate(t *testing.T) {
	records := []internal.OrderRecord{
		{
			ID:             "a",
			OrderTotal:     decimal.RequireFromString("100.50"),
			TotalPieces:    3,
			TrackingNumber: util.StringPtr("1Z999"),
			Items: []internal.OrderItem{
				{Name: "shoes", Weight: util.DecimalPtr(decimal.RequireFromString("1.2"))},
				{Name: "socks"},
			},
		},
		{
			ID:             "b",
			OrderTotal:     decimal.RequireFromString("49.50"),
			TotalPieces:    2,
			TrackingNumber: util.StringPtr("  "),
			Items: []internal.OrderItem{
				{Name: "hat", Weight: util.DecimalPtr(decimal.RequireFromString("0.3"))},
			},
		},
		{ID: "c"},
	}

	stats := Aggregate(records)
	if stats.TotalValue.StringFixed(2) != "150.00" {
		t.Fatalf("value=%s", stats.TotalValue)
	}
	if stats.TotalPieces != 5 {
		t.Fatalf("pieces=%d", stats.TotalPieces)
	}
	if stats.TotalWeight.StringFixed(1) != "1.5" {
		t.Fatalf("weight=%s", stats.TotalWeight)
	}
	if stats.TrackingNumberCount != 1 {
		t.Fatalf("tracking=%d", stats.TrackingNumberCount)
	}

	empty := Aggregate(nil)
	if !empty.TotalValue.IsZero() || empty.TotalPieces != 0 || !empty.TotalWeight.IsZero() {
		t.Fatalf("empty=%+v", empty)
	}
}
