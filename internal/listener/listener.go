// Package listener polls an inbox and feeds order mail into a doc.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"importflow/internal"
	"importflow/internal/config"
	"importflow/internal/connectors"
	"importflow/internal/metrics"
	"importflow/internal/pipeline"
	"importflow/internal/recent"
	"importflow/internal/storage"
)

type Service struct {
	db        *storage.DB
	cfg       config.Config
	fetcher   *connectors.FetchService
	processor *pipeline.ProcessingService
	planner   *pipeline.Planner
	exporter  pipeline.PlanExporter
	recent    *recent.LRU
	logger    *slog.Logger
}

type Deps struct {
	Connector connectors.MailConnector
	Processor *pipeline.ProcessingService
	Planner   *pipeline.Planner
	Exporter  pipeline.PlanExporter
	Recent    *recent.LRU
	Logger    *slog.Logger
}

func NewService(db *storage.DB, cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		cfg:       cfg,
		fetcher:   connectors.NewFetchService(db, cfg.RawMailDir, deps.Connector, logger),
		processor: deps.Processor,
		planner:   deps.Planner,
		exporter:  deps.Exporter,
		recent:    deps.Recent,
		logger:    logger.With("system", "listener"),
	}
}

func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(max(1, s.cfg.MailListenerIntervalSec)) * time.Second
	s.logger.Info("listener started", "provider", s.cfg.MailListenerProvider, "label", s.cfg.MailListenerLabel, "interval", interval)
	for {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("listener cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("listener stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

type CycleResult struct {
	DocID        string
	Fetched      int
	Stored       int
	Mails        int
	Extracted    int
	Failed       int
	ExportedTo   []string
	ExportFailed int
}

// RunOnce fetches new mail into the inbox doc, extracts pending screenshots
// and, when auto export is on, exports every reviewed doc.
func (s *Service) RunOnce(ctx context.Context) (CycleResult, error) {
	res, err := s.runCycle(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ListenerCycles.WithLabelValues(status).Inc()
	return res, err
}

func (s *Service) runCycle(ctx context.Context) (CycleResult, error) {
	doc, err := s.inboxDoc()
	if err != nil {
		return CycleResult{}, err
	}
	res := CycleResult{DocID: doc.ID}

	fetched, err := s.fetcher.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.Fetched, res.Stored = fetched.Fetched, fetched.Stored

	res.Mails, err = s.processor.ProcessFetchedMails(doc.ID, s.cfg.MailListenerProcessBatch, "")
	if err != nil {
		return res, fmt.Errorf("process mail: %w", err)
	}

	processed, err := s.processor.ProcessPending(ctx, doc.ID, s.cfg.MailListenerProcessBatch)
	if err != nil && !errors.Is(err, pipeline.ErrNoExtractor) {
		return res, fmt.Errorf("extract: %w", err)
	}
	res.Extracted, res.Failed = processed.Extracted, processed.Failed

	if s.recent != nil {
		if err := s.recent.Snapshot(s.db); err != nil {
			s.logger.Warn("recent customers snapshot failed", "err", err)
		}
	}

	if s.cfg.MailListenerAutoExport && s.exporter != nil {
		res.ExportedTo, res.ExportFailed, err = s.exportReviewed(ctx)
		if err != nil {
			return res, err
		}
	}

	s.logger.Info("listener cycle done", "doc", doc.ID, "fetched", res.Fetched, "stored", res.Stored,
		"mails", res.Mails, "extracted", res.Extracted, "failed", res.Failed, "exported", len(res.ExportedTo), "export_failed", res.ExportFailed)
	return res, nil
}

// inboxDoc is the open doc new mail lands in. Once it has been exported a
// fresh one with the same name is started.
func (s *Service) inboxDoc() (internal.Doc, error) {
	doc, err := s.db.GetOpenDocByName(s.cfg.MailListenerDoc)
	if err != nil {
		return internal.Doc{}, err
	}
	if doc != nil {
		return *doc, nil
	}
	created, err := s.db.CreateDoc(s.cfg.MailListenerDoc)
	if err != nil {
		return internal.Doc{}, err
	}
	s.logger.Info("inbox doc created", "doc", created.ID, "name", created.Name)
	return created, nil
}

// exportReviewed exports every reviewed doc. A doc that fails stays
// reviewed and is retried next cycle; the others still go out.
func (s *Service) exportReviewed(ctx context.Context) ([]string, int, error) {
	docs, err := s.db.ListDocsByStatus(internal.DocReviewed)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviewed docs: %w", err)
	}
	var out []string
	failed := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			return out, failed, ctx.Err()
		}
		location, _, err := s.planner.Export(ctx, doc.ID, s.exporter, false)
		if err != nil {
			failed++
			s.logger.Error("export failed", "doc", doc.ID, "name", doc.Name, "err", err)
			continue
		}
		out = append(out, location)
	}
	return out, failed, nil
}
