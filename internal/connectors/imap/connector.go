package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"importflow/internal"
	"importflow/internal/config"
)

// Connector reads unseen order mail over IMAP. Each FetchInbox call opens
// its own session.
type Connector struct {
	addr       string
	serverName string
	useTLS     bool
	user       string
	password   string
	markSeen   bool
	now        func() time.Time
}

func NewConnector(cfg config.Config) (*Connector, error) {
	for _, req := range [][2]string{
		{"IMAP_HOST", cfg.IMAPHost},
		{"IMAP_USER", cfg.IMAPUser},
		{"IMAP_PASSWORD", cfg.IMAPPassword},
	} {
		if err := cfg.Require(req[0], req[1]); err != nil {
			return nil, err
		}
	}
	return &Connector{
		addr:       net.JoinHostPort(cfg.IMAPHost, strconv.Itoa(cfg.IMAPPort)),
		serverName: cfg.IMAPHost,
		useTLS:     cfg.IMAPSecure,
		user:       cfg.IMAPUser,
		password:   cfg.IMAPPassword,
		markSeen:   cfg.IMAPMarkSeen,
		now:        time.Now,
	}, nil
}

func (c *Connector) session() (*imapclient.Client, error) {
	var (
		client *imapclient.Client
		err    error
	)
	if c.useTLS {
		client, err = imapclient.DialTLS(c.addr, &tls.Config{ServerName: c.serverName})
	} else {
		client, err = imapclient.Dial(c.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", c.addr, err)
	}
	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return client, nil
}

// FetchInbox returns up to max unseen messages from label, oldest first.
// The IMAP client has no context support, so ctx is only checked between
// messages.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	if _, err := client.Select(label, false); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", label, err)
	}
	wanted, n, err := newestUnseen(client, max)
	if err != nil || n == 0 {
		return nil, err
	}

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, n)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- client.Fetch(wanted, []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}, messages)
	}()

	out := make([]internal.FetchedMailMessage, 0, n)
	seen := new(imap.SeqSet)
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		fetched, ok, err := c.toFetched(msg, section)
		if err != nil {
			drain(messages)
			return nil, err
		}
		if ok {
			out = append(out, fetched)
			seen.AddNum(msg.SeqNum)
		}
	}
	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.markSeen && !seen.Empty() {
		op := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := client.Store(seen, op, []interface{}{imap.SeenFlag}, nil); err != nil {
			return nil, fmt.Errorf("imap mark seen: %w", err)
		}
	}
	return out, nil
}

// newestUnseen picks the last max unseen sequence numbers.
func newestUnseen(client *imapclient.Client, max int) (*imap.SeqSet, int, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, 0, fmt.Errorf("imap search: %w", err)
	}
	if max > 0 && len(ids) > max {
		ids = ids[len(ids)-max:]
	}
	set := new(imap.SeqSet)
	set.AddNum(ids...)
	return set, len(ids), nil
}

// toFetched converts one fetched message. Messages without a body are
// skipped; a missing Message-Id falls back to the UID.
func (c *Connector) toFetched(msg *imap.Message, section *imap.BodySectionName) (internal.FetchedMailMessage, bool, error) {
	if msg == nil {
		return internal.FetchedMailMessage{}, false, nil
	}
	body := msg.GetBody(section)
	if body == nil {
		return internal.FetchedMailMessage{}, false, nil
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return internal.FetchedMailMessage{}, false, fmt.Errorf("imap read body %d: %w", msg.Uid, err)
	}

	out := internal.FetchedMailMessage{Provider: "imap", Raw: raw}
	if env := msg.Envelope; env != nil {
		out.MessageID = env.MessageId
		out.Subject = env.Subject
		out.From = formatAddresses(env.From)
	}
	if out.MessageID == "" {
		out.MessageID = "imap-" + strconv.FormatUint(uint64(msg.Uid), 10)
	}
	received := msg.InternalDate
	if received.IsZero() {
		received = c.now()
	}
	out.ReceivedAt = received.UTC().Format(time.RFC3339)
	return out, true, nil
}

// drain empties the fetch channel so the fetch goroutine can finish.
func drain(messages <-chan *imap.Message) {
	for range messages {
	}
}

func formatAddresses(addrs []*imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		mailbox := strings.Trim(a.MailboxName+"@"+a.HostName, "@")
		if a.PersonalName == "" {
			parts = append(parts, mailbox)
			continue
		}
		parts = append(parts, a.PersonalName+" <"+mailbox+">")
	}
	return strings.Join(parts, ", ")
}
