package listener

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"importflow/internal"
	"importflow/internal/config"
	"importflow/internal/customs"
	"importflow/internal/numbering"
	"importflow/internal/pipeline"
	"importflow/internal/recent"
	"importflow/internal/storage"
)

const orderMail = "From: Ana Perez <ana@example.com>\r\n" +
	"Subject: My order\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"B\"\r\n" +
	"\r\n" +
	"--B\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"screenshot attached\r\n" +
	"--B\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: attachment; filename=\"order.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aW1nLWE=\r\n" +
	"--B--\r\n"

const newsletter = "From: News <news@example.com>\r\n" +
	"Subject: Weekly stories\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Read our latest stories\r\n"

type fakeConnector struct {
	messages []internal.FetchedMailMessage
}

func (f *fakeConnector) FetchInbox(_ context.Context, _ string, _ int) ([]internal.FetchedMailMessage, error) {
	out := f.messages
	f.messages = nil
	return out, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, _ []byte, _ string) ([]byte, error) {
	return []byte(`{"customerName":"Ana Perez","orderTotal":120.5}`), nil
}

func TestRunOnce(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := config.Config{
		ScreenshotDir:            filepath.Join(tmp, "shots"),
		RawMailDir:               filepath.Join(tmp, "raw"),
		ExtractConcurrency:       2,
		CustomerMatchThreshold:   0.85,
		MailListenerLabel:        "INBOX",
		MailListenerDoc:          "Inbox",
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerAutoExport:   true,
	}
	store := recent.NewLRU(10, time.Hour)
	conn := &fakeConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<1@x>", Subject: "My order", ReceivedAt: "2026-10-01T10:00:00Z", Raw: []byte(orderMail)},
		{Provider: "imap", MessageID: "<2@x>", Subject: "Weekly stories", ReceivedAt: "2026-10-01T11:00:00Z", Raw: []byte(newsletter)},
	}}
	planner := pipeline.NewPlanner(db, customs.MustEngine(customs.DefaultConfig()), numbering.New(db, "IF-", 5, 1), nil)
	svc := NewService(db, cfg, Deps{
		Connector: conn,
		Processor: pipeline.NewProcessingService(db, cfg, fakeExtractor{}, store, nil),
		Planner:   planner,
		Exporter:  pipeline.XLSXExporter{Dir: filepath.Join(tmp, "out")},
		Recent:    store,
	})

	res, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Mails != 2 || res.Extracted != 1 || res.Failed != 0 || len(res.ExportedTo) != 0 {
		t.Fatalf("res=%+v", res)
	}
	skipped, _ := db.ListMailsByStatus("skipped", 0)
	if len(skipped) != 1 || skipped[0].MessageID != "<2@x>" {
		t.Fatalf("skipped=%+v", skipped)
	}
	saved, err := db.LoadRecentCustomers()
	if err != nil || len(saved) != 1 || saved[0].Name != "Ana Perez" {
		t.Fatalf("recent=%+v err=%v", saved, err)
	}

	if _, err := planner.MarkReviewed(res.DocID); err != nil {
		t.Fatal(err)
	}
	second, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(second.ExportedTo) != 1 || filepath.Base(second.ExportedTo[0]) != "IF-00001.xlsx" {
		t.Fatalf("second=%+v", second)
	}

	third, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if third.DocID == res.DocID {
		t.Fatal("exported inbox doc should be replaced by a fresh one")
	}
}

type flakyExporter struct {
	next    pipeline.PlanExporter
	failFor string
}

func (f flakyExporter) ExportPlan(ctx context.Context, plan pipeline.DocPlan) (string, error) {
	if plan.Doc.Name == f.failFor {
		return "", errors.New("disk full")
	}
	return f.next.ExportPlan(ctx, plan)
}

func TestRunOnceExportsPastFailedDoc(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := config.Config{
		ScreenshotDir:            filepath.Join(tmp, "shots"),
		RawMailDir:               filepath.Join(tmp, "raw"),
		ExtractConcurrency:       1,
		CustomerMatchThreshold:   0.85,
		MailListenerLabel:        "INBOX",
		MailListenerDoc:          "Inbox",
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerAutoExport:   true,
	}
	planner := pipeline.NewPlanner(db, customs.MustEngine(customs.DefaultConfig()), numbering.New(db, "IF-", 5, 1), nil)
	for _, name := range []string{"Broken", "Good"} {
		doc, err := db.CreateDoc(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := db.SaveRecord(internal.OrderRecord{DocID: doc.ID, Source: internal.SourceEmailText, CustomerName: "Ana", OrderTotal: decimal.NewFromInt(80)}); err != nil {
			t.Fatal(err)
		}
		if _, err := planner.MarkReviewed(doc.ID); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewService(db, cfg, Deps{
		Connector: &fakeConnector{},
		Processor: pipeline.NewProcessingService(db, cfg, fakeExtractor{}, recent.NewLRU(10, time.Hour), nil),
		Planner:   planner,
		Exporter:  flakyExporter{next: pipeline.XLSXExporter{Dir: filepath.Join(tmp, "out")}, failFor: "Broken"},
	})
	res, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ExportedTo) != 1 || res.ExportFailed != 1 {
		t.Fatalf("res=%+v", res)
	}
	left, err := db.ListDocsByStatus(internal.DocReviewed)
	if err != nil || len(left) != 1 || left[0].Name != "Broken" {
		t.Fatalf("still reviewed=%+v err=%v", left, err)
	}
}
