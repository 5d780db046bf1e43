package connectors

import (
	"context"
	"log/slog"

	"importflow/internal/metrics"
	"importflow/internal/storage"
)

type FetchService struct {
	db        *storage.DB
	connector MailConnector
	store     *MailStoreService
	logger    *slog.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, logger *slog.Logger) *FetchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchService{
		db:        db,
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		logger:    logger.With("system", "mail"),
	}
}

// FetchAndStore pulls up to max messages from label. Messages already stored
// are counted as fetched but not stored again.
func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	stored := 0
	for _, msg := range messages {
		_, created, err := s.store.Store(msg)
		if err != nil {
			return FetchResult{Fetched: len(messages), Stored: stored}, err
		}
		metrics.MailsFetched.WithLabelValues(msg.Provider).Inc()
		if created {
			stored++
		}
	}

	s.logger.Info("mail fetched", "label", label, "fetched", len(messages), "stored", stored)
	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}
