package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"importflow/internal"
	"importflow/internal/storage"
)

type fakeConnector struct {
	messages []internal.FetchedMailMessage
}

func (f fakeConnector) FetchInbox(_ context.Context, _ string, max int) ([]internal.FetchedMailMessage, error) {
	if len(f.messages) > max {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func TestFetchAndStore(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	conn := fakeConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<1@example.com>", Subject: "Order", From: "Ana <ana@example.com>", ReceivedAt: "2026-10-01T10:00:00Z", Raw: []byte("Subject: Order\r\n\r\nhi")},
		{Provider: "imap", MessageID: "<2@example.com>", Subject: "Pedido", From: "Luis <luis@example.com>", ReceivedAt: "2026-10-01T11:00:00Z", Raw: []byte("Subject: Pedido\r\n\r\nhola")},
	}}
	svc := NewFetchService(db, filepath.Join(tmp, "raw"), conn, nil)

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Stored != 2 {
		t.Fatalf("res=%+v", res)
	}

	again, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if again.Fetched != 2 || again.Stored != 0 {
		t.Fatalf("again=%+v", again)
	}

	mails, err := db.ListMailsByStatus("fetched", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(mails) != 2 {
		t.Fatalf("mails=%+v", mails)
	}
	raw, err := os.ReadFile(mails[0].RawRef)
	if err != nil || len(raw) == 0 {
		t.Fatalf("raw=%q err=%v", raw, err)
	}
}
