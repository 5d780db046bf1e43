package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/customs"
	"importflow/internal/pipeline"
	"importflow/internal/storage"
)

func seedDoc(t *testing.T) (*storage.DB, internal.Doc, []internal.OrderRecord) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	doc, err := db.CreateDoc("batch")
	if err != nil {
		t.Fatal(err)
	}
	var saved []internal.OrderRecord
	for _, r := range []internal.OrderRecord{
		{DocID: doc.ID, Source: internal.SourceEmailText, CustomerName: "Ana", OrderTotal: decimal.NewFromInt(150),
			Items: []internal.OrderItem{{Name: "Boots", Quantity: 1, UnitValue: decimal.NewFromInt(150), TotalValue: decimal.NewFromInt(150)}}},
		{DocID: doc.ID, Source: internal.SourceEmailText, CustomerName: "Ana", OrderTotal: decimal.NewFromInt(100)},
	} {
		rec, err := db.SaveRecord(r)
		if err != nil {
			t.Fatal(err)
		}
		saved = append(saved, rec)
	}
	return db, doc, saved
}

func planFor(t *testing.T, db *storage.DB, docID string) pipeline.DocPlan {
	t.Helper()
	plan, err := pipeline.NewPlanner(db, customs.MustEngine(customs.DefaultConfig()), nil, nil).PlanDoc(docID)
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func TestWritePlanListsRecordIDs(t *testing.T) {
	db, doc, saved := seedDoc(t)

	var out bytes.Buffer
	writePlan(&out, planFor(t, db, doc.ID))
	text := out.String()
	for _, want := range []string{
		"#1 " + saved[0].ID + " Ana 150.00",
		"#2 " + saved[1].ID + " Ana 100.00",
		"item 1: Boots x1 150.00 = 150.00",
		"[Ana 2/2] Ana Rodríguez 125.00",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestEditRecord(t *testing.T) {
	db, doc, saved := seedDoc(t)
	if err := db.SetDocReviewed(doc.ID, true); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	args := []string{"--doc", doc.ID, "--record", saved[0].ID, "--item", "1", "--qty", "2", "--unit", "60", "--item-total", "120", "--total", "120"}
	if err := editRecord(db, args, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "total=120.00") {
		t.Fatalf("out=%q", out.String())
	}

	plan := planFor(t, db, doc.ID)
	if plan.Doc.HumanReviewed {
		t.Fatal("edit should clear review")
	}
	item := plan.Records[0].Items[0]
	if item.Quantity != 2 || item.UnitValue.StringFixed(2) != "60.00" || item.TotalValue.StringFixed(2) != "120.00" {
		t.Fatalf("item=%+v", item)
	}
	if plan.Stats.TotalValue.StringFixed(2) != "220.00" {
		t.Fatalf("total=%s", plan.Stats.TotalValue)
	}

	bad := []struct {
		name string
		args []string
	}{
		{name: "no change", args: []string{"--doc", doc.ID, "--record", saved[0].ID}},
		{name: "item field without line", args: []string{"--doc", doc.ID, "--record", saved[0].ID, "--qty", "1"}},
		{name: "negative total", args: []string{"--doc", doc.ID, "--record", saved[0].ID, "--total", "-5"}},
		{name: "bad number", args: []string{"--doc", doc.ID, "--record", saved[0].ID, "--total", "ten"}},
		{name: "missing record", args: []string{"--doc", doc.ID}},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if err := editRecord(db, tc.args, &bytes.Buffer{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	err := editRecord(db, []string{"--doc", doc.ID, "--record", "nope", "--total", "1"}, &bytes.Buffer{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestRemoveRecord(t *testing.T) {
	db, doc, saved := seedDoc(t)

	var out bytes.Buffer
	if err := removeRecord(db, []string{"--doc", doc.ID, "--record", saved[0].ID}, &out); err != nil {
		t.Fatal(err)
	}
	plan := planFor(t, db, doc.ID)
	if len(plan.Records) != 1 || plan.Records[0].ID != saved[1].ID {
		t.Fatalf("records=%+v", plan.Records)
	}
	if len(plan.Declarations) != 1 || plan.Declarations[0].Split {
		t.Fatalf("declarations=%+v", plan.Declarations)
	}

	err := removeRecord(db, []string{"--doc", doc.ID, "--record", saved[0].ID}, &bytes.Buffer{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if err := removeRecord(db, nil, &bytes.Buffer{}); err == nil {
		t.Fatal("expected usage error")
	}
}
