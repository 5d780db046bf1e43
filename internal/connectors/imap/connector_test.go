package imap

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"importflow/internal/config"
)

func TestFormatAddresses(t *testing.T) {
	got := formatAddresses([]*imap.Address{
		{PersonalName: "Ana Pérez", MailboxName: "ana", HostName: "example.com"},
		nil,
		{MailboxName: "orders", HostName: "shop.test"},
	})
	if got != "Ana Pérez <ana@example.com>, orders@shop.test" {
		t.Fatalf("got=%q", got)
	}
	if formatAddresses(nil) != "" {
		t.Fatal("expected empty")
	}
}

func TestNewConnectorRequiresCredentials(t *testing.T) {
	if _, err := NewConnector(config.Config{IMAPHost: "imap.example.com"}); err == nil {
		t.Fatal("expected missing IMAP_USER error")
	}
	c, err := NewConnector(config.Config{IMAPHost: "imap.example.com", IMAPPort: 993, IMAPSecure: true, IMAPUser: "u", IMAPPassword: "p"})
	if err != nil || c.addr != "imap.example.com:993" || !c.useTLS {
		t.Fatalf("c=%+v err=%v", c, err)
	}
}

func TestToFetched(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Connector{now: func() time.Time { return fixed }}
	section := &imap.BodySectionName{}

	msg := &imap.Message{
		SeqNum: 3,
		Uid:    42,
		Body:   map[*imap.BodySectionName]imap.Literal{section: bytes.NewBufferString("Subject: hi\r\n\r\nbody")},
	}
	got, ok, err := c.toFetched(msg, section)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.MessageID != "imap-42" || got.Provider != "imap" || got.ReceivedAt != "2026-03-01T10:00:00Z" || string(got.Raw) != "Subject: hi\r\n\r\nbody" {
		t.Fatalf("got=%+v", got)
	}

	msg = &imap.Message{
		Uid:          7,
		InternalDate: time.Date(2026, 2, 1, 8, 30, 0, 0, time.FixedZone("AST", -4*3600)),
		Envelope: &imap.Envelope{
			MessageId: "<order-7@shop.test>",
			Subject:   "Pedido",
			From:      []*imap.Address{{PersonalName: "Ana", MailboxName: "ana", HostName: "example.com"}},
		},
		Body: map[*imap.BodySectionName]imap.Literal{section: bytes.NewBufferString("x")},
	}
	got, ok, err = c.toFetched(msg, section)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if got.MessageID != "<order-7@shop.test>" || got.From != "Ana <ana@example.com>" || got.ReceivedAt != "2026-02-01T12:30:00Z" {
		t.Fatalf("got=%+v", got)
	}

	if _, ok, _ := c.toFetched(&imap.Message{Uid: 1}, section); ok {
		t.Fatal("message without body should be skipped")
	}
}
