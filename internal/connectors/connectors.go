// Package connectors pulls order mail from inboxes into local storage.
package connectors

import (
	"context"
	"fmt"
	"strings"

	"importflow/internal"
	"importflow/internal/config"
	gmailconnector "importflow/internal/connectors/gmail"
	imapconnector "importflow/internal/connectors/imap"
)

type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// New builds the connector for provider ("gmail" or "imap").
func New(ctx context.Context, cfg config.Config, provider string) (MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %q", provider)
	}
}
