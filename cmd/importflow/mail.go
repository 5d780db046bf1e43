package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"importflow/internal/pipeline"
)

// processMail implements mail:process. With --message-id only that stored
// message is routed, otherwise the next batch of fetched mail.
func processMail(processor *pipeline.ProcessingService, args []string, out io.Writer) error {
	fs := newFlagSet("mail:process")
	provider := fs.String("provider", "", "gmail|imap (empty = any)")
	messageID := fs.String("message-id", "", "specific provider message id")
	docID := fs.String("doc", "", "doc that receives the orders")
	batch := fs.Int("batch", 20, "max fetched mails to process")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docID == "" {
		return errors.New("--doc is required")
	}

	if strings.TrimSpace(*messageID) != "" {
		if *provider == "" {
			return errors.New("--provider is required with --message-id")
		}
		res, err := processor.ProcessByProviderMessageID(*provider, *messageID, *docID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "processed mail id=%d screenshots=%d records=%d skipped=%t\n", res.MailID, res.Screenshots, res.Records, res.Skipped)
		return nil
	}
	n, err := processor.ProcessFetchedMails(*docID, *batch, *provider)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "processed mails=%d into doc=%s\n", n, *docID)
	return nil
}
