package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/util"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDocLifecycle(t *testing.T) {
	db := openTest(t)

	doc, err := db.CreateDoc("March batch")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != internal.DocOpen || doc.HumanReviewed || doc.PackageNumber != nil {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	if err := db.SetDocReviewed(doc.ID, true); err != nil {
		t.Fatal(err)
	}
	got, err := db.MustDoc(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HumanReviewed || got.Status != internal.DocReviewed {
		t.Fatalf("after review: %+v", got)
	}

	if _, err := db.SaveRecord(internal.OrderRecord{DocID: doc.ID, Source: internal.SourceScreenshot, CustomerName: "Ana", OrderTotal: decimal.NewFromInt(10)}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.MustDoc(doc.ID)
	if got.HumanReviewed || got.Status != internal.DocOpen {
		t.Fatalf("edit should clear review: %+v", got)
	}

	if _, err := db.MustDoc("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if err := db.SetDocReviewed("missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	byName, err := db.GetDocByName("March batch")
	if err != nil || byName == nil || byName.ID != doc.ID {
		t.Fatalf("by name: %+v %v", byName, err)
	}
}

func TestAssignPackageNumber(t *testing.T) {
	db := openTest(t)
	a, _ := db.CreateDoc("a")
	b, _ := db.CreateDoc("b")

	n, err := db.AssignPackageNumber(a.ID, 42)
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Fatalf("first=%d", n)
	}
	again, _ := db.AssignPackageNumber(a.ID, 42)
	if again != 42 {
		t.Fatalf("not idempotent: %d", again)
	}
	next, _ := db.AssignPackageNumber(b.ID, 1)
	if next != 43 {
		t.Fatalf("second=%d", next)
	}
	if _, err := db.AssignPackageNumber("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestScreenshotsDedupeAndRetry(t *testing.T) {
	db := openTest(t)
	doc, _ := db.CreateDoc("d")

	first, created, err := db.InsertScreenshot(doc.ID, "h1", "/tmp/h1.png", "image/png", "upload")
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	dup, created, err := db.InsertScreenshot(doc.ID, "h1", "/tmp/h1.png", "image/png", "upload")
	if err != nil || created || dup.ID != first.ID {
		t.Fatalf("dup=%+v created=%v err=%v", dup, created, err)
	}
	if _, _, err := db.InsertScreenshot(doc.ID, "h2", "/tmp/h2.png", "image/png", "upload"); err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateScreenshotStatus(first.ID, internal.ScreenshotFailed, util.StringPtr("timeout")); err != nil {
		t.Fatal(err)
	}
	pending, _ := db.ListScreenshots(doc.ID, internal.ScreenshotPending, 0)
	if len(pending) != 1 {
		t.Fatalf("pending=%d", len(pending))
	}
	failed, _ := db.ListScreenshots(doc.ID, internal.ScreenshotFailed, 0)
	if len(failed) != 1 || failed[0].Error == nil || *failed[0].Error != "timeout" {
		t.Fatalf("failed=%+v", failed)
	}

	n, err := db.ResetFailedScreenshots(doc.ID)
	if err != nil || n != 1 {
		t.Fatalf("reset n=%d err=%v", n, err)
	}
	all, _ := db.ListScreenshots(doc.ID, "", 0)
	for _, s := range all {
		if s.Status != internal.ScreenshotPending || s.Error != nil {
			t.Fatalf("not reset: %+v", s)
		}
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	db := openTest(t)
	doc, _ := db.CreateDoc("d")
	shot, _, _ := db.InsertScreenshot(doc.ID, "h1", "/tmp/h1.png", "image/png", "upload")

	weight := decimal.RequireFromString("0.75")
	rec := internal.OrderRecord{
		DocID:          doc.ID,
		ScreenshotID:   &shot.ID,
		Source:         internal.SourceScreenshot,
		CustomerName:   "Ana Pérez",
		OrderTotal:     decimal.RequireFromString("120.50"),
		TotalPieces:    3,
		TrackingNumber: util.StringPtr("1Z999"),
		Warnings:       []string{"total mismatch"},
		Items: []internal.OrderItem{
			{Name: "Sneakers", Quantity: 1, UnitValue: decimal.RequireFromString("100.50"), TotalValue: decimal.RequireFromString("100.50"), Weight: &weight},
			{Name: "Socks", Quantity: 2, UnitValue: decimal.NewFromInt(10), TotalValue: decimal.NewFromInt(20), HSCode: util.StringPtr("6115")},
		},
	}
	saved, err := db.SaveRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID == "" || saved.Position != 1 {
		t.Fatalf("saved=%+v", saved)
	}
	second, err := db.SaveRecord(internal.OrderRecord{DocID: doc.ID, Source: internal.SourceEmailHTML, CustomerName: "Bob", OrderTotal: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatal(err)
	}

	records, err := db.ListRecords(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID != saved.ID || records[1].ID != second.ID {
		t.Fatalf("records=%+v", records)
	}
	got := records[0]
	if got.OrderTotal.StringFixed(2) != "120.50" || got.TotalPieces != 3 || got.TrackingNumber == nil || *got.TrackingNumber != "1Z999" {
		t.Fatalf("got=%+v", got)
	}
	if len(got.Items) != 2 || got.Items[0].Weight == nil || got.Items[0].Weight.String() != "0.75" || got.Items[1].Weight != nil {
		t.Fatalf("items=%+v", got.Items)
	}
	if got.Items[1].HSCode == nil || *got.Items[1].HSCode != "6115" {
		t.Fatalf("hs=%v", got.Items[1].HSCode)
	}
	if len(got.Warnings) != 1 {
		t.Fatalf("warnings=%v", got.Warnings)
	}

	rec.OrderTotal = decimal.NewFromInt(99)
	rec.Items = nil
	if _, err := db.SaveRecord(rec); err != nil {
		t.Fatal(err)
	}
	records, _ = db.ListRecords(doc.ID)
	if len(records) != 2 || records[0].OrderTotal.StringFixed(0) != "99" || len(records[0].Items) != 0 || records[0].Position != 1 {
		t.Fatalf("re-extraction should replace in place: %+v", records)
	}

	if err := db.UpdateRecordCustomer(doc.ID, second.ID, "Roberto"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteRecord(doc.ID, records[0].ID); err != nil {
		t.Fatal(err)
	}
	records, _ = db.ListRecords(doc.ID)
	if len(records) != 1 || records[0].CustomerName != "Roberto" {
		t.Fatalf("records=%+v", records)
	}
	if err := db.DeleteRecord(doc.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestRecordsKeepUploadOrder(t *testing.T) {
	db := openTest(t)
	doc, _ := db.CreateDoc("d")
	first, _, _ := db.InsertScreenshot(doc.ID, "h1", "/tmp/h1.png", "image/png", "upload")
	second, _, _ := db.InsertScreenshot(doc.ID, "h2", "/tmp/h2.png", "image/png", "upload")

	// second screenshot finishes extraction first
	if _, err := db.SaveRecord(internal.OrderRecord{DocID: doc.ID, ScreenshotID: &second.ID, Source: internal.SourceScreenshot, CustomerName: "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveRecord(internal.OrderRecord{DocID: doc.ID, ScreenshotID: &first.ID, Source: internal.SourceScreenshot, CustomerName: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveRecord(internal.OrderRecord{DocID: doc.ID, Source: internal.SourceXLSX, CustomerName: "C"}); err != nil {
		t.Fatal(err)
	}

	records, err := db.ListRecords(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, r := range records {
		got = append(got, r.CustomerName)
	}
	if strings.Join(got, ",") != "A,B,C" {
		t.Fatalf("order=%v", got)
	}
}

func TestRecordEditsClearReview(t *testing.T) {
	db := openTest(t)
	doc, _ := db.CreateDoc("d")
	other, _ := db.CreateDoc("other")
	rec, err := db.SaveRecord(internal.OrderRecord{
		DocID:        doc.ID,
		Source:       internal.SourceEmailText,
		CustomerName: "Ana",
		OrderTotal:   decimal.NewFromInt(40),
		Items: []internal.OrderItem{
			{Name: "Case", Quantity: 2, UnitValue: decimal.NewFromInt(10), TotalValue: decimal.NewFromInt(20)},
			{Name: "Cable", Quantity: 1, UnitValue: decimal.NewFromInt(20), TotalValue: decimal.NewFromInt(20)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.SetDocReviewed(doc.ID, true); err != nil {
		t.Fatal(err)
	}
	unit := decimal.RequireFromString("12.499")
	if err := db.UpdateItem(doc.ID, rec.ID, ItemEdit{LineNo: 1, Quantity: util.IntPtr(3), UnitValue: &unit}); err != nil {
		t.Fatal(err)
	}
	got, _ := db.MustDoc(doc.ID)
	if got.HumanReviewed {
		t.Fatal("item edit should clear review")
	}

	if err := db.SetDocReviewed(doc.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateRecordTotal(doc.ID, rec.ID, decimal.RequireFromString("57.5")); err != nil {
		t.Fatal(err)
	}
	got, _ = db.MustDoc(doc.ID)
	if got.HumanReviewed {
		t.Fatal("total edit should clear review")
	}

	records, _ := db.ListRecords(doc.ID)
	item := records[0].Items[0]
	if records[0].OrderTotal.StringFixed(2) != "57.50" || item.Quantity != 3 || item.UnitValue.StringFixed(2) != "12.50" || item.TotalValue.StringFixed(2) != "20.00" {
		t.Fatalf("record=%+v", records[0])
	}
	if records[0].Items[1].Quantity != 1 {
		t.Fatalf("second item changed: %+v", records[0].Items[1])
	}

	if err := db.UpdateItem(doc.ID, rec.ID, ItemEdit{LineNo: 9, Quantity: util.IntPtr(1)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing line err=%v", err)
	}
	if err := db.UpdateItem(other.ID, rec.ID, ItemEdit{LineNo: 1, Quantity: util.IntPtr(1)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong doc err=%v", err)
	}
	if err := db.UpdateRecordTotal(other.ID, rec.ID, decimal.NewFromInt(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong doc err=%v", err)
	}
}

func TestSplitOverrides(t *testing.T) {
	db := openTest(t)
	doc, _ := db.CreateDoc("d")

	if err := db.SetSplitOverride(internal.SplitOverride{DocID: doc.ID, Customer: "Ana", Index: 1, Name: util.StringPtr("Ana Ruiz")}); err != nil {
		t.Fatal(err)
	}
	v := decimal.RequireFromString("120.10")
	if err := db.SetSplitOverride(internal.SplitOverride{DocID: doc.ID, Customer: "Ana", Index: 1, Value: &v}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSplitOverride(internal.SplitOverride{DocID: doc.ID, Customer: "Bob", Index: 0, Name: util.StringPtr("Roberto")}); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListSplitOverrides(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len=%d", len(list))
	}
	ana := list[0]
	if ana.Name == nil || *ana.Name != "Ana Ruiz" || ana.Value == nil || ana.Value.StringFixed(2) != "120.10" {
		t.Fatalf("merged override=%+v", ana)
	}

	n, err := db.ClearSplitOverrides(doc.ID, "Ana")
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	list, _ = db.ListSplitOverrides(doc.ID)
	if len(list) != 1 || list[0].Customer != "Bob" {
		t.Fatalf("list=%+v", list)
	}
}

func TestMailsAndRecentCustomers(t *testing.T) {
	db := openTest(t)

	row, err := db.UpsertMail("imap", "<m1@example.com>", "Orders", "ana@example.com", "2026-03-01T10:00:00Z", "hash", "/tmp/m1.eml", "fetched")
	if err != nil {
		t.Fatal(err)
	}
	doc, _ := db.CreateDoc("inbox")
	if err := db.UpdateMailStatus(row.ID, "processed", &doc.ID); err != nil {
		t.Fatal(err)
	}
	got, err := db.MustMailByProviderMessageID("imap", "<m1@example.com>")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "processed" || got.DocID == nil || *got.DocID != doc.ID {
		t.Fatalf("mail=%+v", got)
	}
	if _, err := db.MustMailByProviderMessageID("imap", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = db.SaveRecentCustomers([]internal.RecentCustomer{
		{Name: "Old", TouchedAt: now.Add(-time.Hour)},
		{Name: "New", TouchedAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}
	recent, err := db.LoadRecentCustomers()
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Name != "New" || !recent[0].TouchedAt.Equal(now) {
		t.Fatalf("recent=%+v", recent)
	}
}

func TestMetadata(t *testing.T) {
	db := openTest(t)
	v, err := db.GetMetadata("k")
	if err != nil || v != nil {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if err := db.SetMetadata("k", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMetadata("k", "2"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.GetMetadata("k")
	if v == nil || *v != "2" {
		t.Fatalf("v=%v", v)
	}
}
