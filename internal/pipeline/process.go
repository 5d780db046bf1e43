package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"importflow/internal"
	"importflow/internal/config"
	"importflow/internal/metrics"
	"importflow/internal/recent"
	"importflow/internal/storage"
)

// Extractor turns one order screenshot into the JSON document described by
// the order schema. Implementations talk to an external vision model.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) ([]byte, error)
}

var ErrNoExtractor = errors.New("no extractor configured")

type ProcessingService struct {
	db        *storage.DB
	cfg       config.Config
	extractor Extractor
	recent    recent.Store
	matcher   *CustomerMatcher
	logger    *slog.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, extractor Extractor, store recent.Store, logger *slog.Logger) *ProcessingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessingService{
		db:        db,
		cfg:       cfg,
		extractor: extractor,
		recent:    store,
		matcher:   NewCustomerMatcher(store, cfg.CustomerMatchThreshold),
		logger:    logger.With("system", "pipeline"),
	}
}

type ProcessResult struct {
	Extracted int
	Failed    int
}

// AddScreenshot queues an image file for extraction.
func (s *ProcessingService) AddScreenshot(docID, path string) (internal.Screenshot, bool, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return internal.Screenshot{}, false, err
	}
	return s.AddScreenshotBytes(docID, blob, mimeTypeFor(path), "upload")
}

// AddScreenshotBytes stores the image under SCREENSHOT_DIR by content hash and
// queues it. The same image added twice to a doc is queued once.
func (s *ProcessingService) AddScreenshotBytes(docID string, blob []byte, mimeType, source string) (internal.Screenshot, bool, error) {
	if len(blob) == 0 {
		return internal.Screenshot{}, false, fmt.Errorf("add screenshot: empty image")
	}
	if _, err := s.db.MustDoc(docID); err != nil {
		return internal.Screenshot{}, false, err
	}

	sum := sha256.Sum256(blob)
	hash := hex.EncodeToString(sum[:])
	path := filepath.Join(s.cfg.ScreenshotDir, hash+extensionFor(mimeType))
	if err := os.MkdirAll(s.cfg.ScreenshotDir, 0o755); err != nil {
		return internal.Screenshot{}, false, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, blob, 0o644); err != nil {
			return internal.Screenshot{}, false, err
		}
	}
	return s.db.InsertScreenshot(docID, hash, path, mimeType, source)
}

// AddOrderFile reads an order document that needs no vision model (html,
// pdf, xlsx or plain text) and appends its records to the doc.
func (s *ProcessingService) AddOrderFile(docID, path string) ([]internal.OrderRecord, error) {
	if _, err := s.db.MustDoc(docID); err != nil {
		return nil, err
	}
	records, err := ExtractRecordsFromFile(inputTypeFor(path), path)
	if err != nil {
		return nil, err
	}
	return s.saveRecords(docID, records)
}

func (s *ProcessingService) saveRecords(docID string, records []internal.OrderRecord) ([]internal.OrderRecord, error) {
	out := make([]internal.OrderRecord, 0, len(records))
	for _, rec := range records {
		rec.DocID = docID
		CapAmounts(&rec, s.cfg.MaxOrderAmount)
		s.snapCustomer(&rec)
		saved, err := s.db.SaveRecord(rec)
		if err != nil {
			return out, err
		}
		s.touchRecent(saved.CustomerName)
		out = append(out, saved)
	}
	return out, nil
}

// ProcessPending extracts every pending screenshot of a doc. Screenshots are
// independent: one failing is recorded on that screenshot and does not stop
// the others.
func (s *ProcessingService) ProcessPending(ctx context.Context, docID string, limit int) (ProcessResult, error) {
	if s.extractor == nil {
		return ProcessResult{}, ErrNoExtractor
	}
	start := time.Now()
	pending, err := s.db.ListScreenshots(docID, internal.ScreenshotPending, limit)
	if err != nil {
		return ProcessResult{}, err
	}

	var extracted, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(1, s.cfg.ExtractConcurrency))
	for _, shot := range pending {
		g.Go(func() error {
			if err := s.processScreenshot(ctx, shot); err != nil {
				failed.Add(1)
				return nil
			}
			extracted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := ProcessResult{Extracted: int(extracted.Load()), Failed: int(failed.Load())}
	_ = s.db.InsertRun(traceID(), docID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"pending": len(pending), "extracted": res.Extracted, "failed": res.Failed})
	s.logger.Info("processed screenshots", "doc", docID, "extracted", res.Extracted, "failed", res.Failed)
	return res, ctx.Err()
}

func (s *ProcessingService) processScreenshot(ctx context.Context, shot internal.Screenshot) error {
	start := time.Now()
	defer func() { metrics.ExtractionDuration.Observe(time.Since(start).Seconds()) }()

	rec, err := s.extractScreenshot(ctx, shot)
	if err == nil {
		rec, err = s.db.SaveRecord(rec)
	}
	if err != nil {
		msg := err.Error()
		if uerr := s.db.UpdateScreenshotStatus(shot.ID, internal.ScreenshotFailed, &msg); uerr != nil {
			s.logger.Error("record extraction failure", "screenshot", shot.ID, "err", uerr)
		}
		metrics.Extractions.WithLabelValues("failed").Inc()
		s.logger.Warn("extraction failed", "screenshot", shot.ID, "path", shot.Path, "err", err)
		return err
	}

	if err := s.db.UpdateScreenshotStatus(shot.ID, internal.ScreenshotExtracted, nil); err != nil {
		return err
	}
	s.touchRecent(rec.CustomerName)
	metrics.Extractions.WithLabelValues("ok").Inc()
	s.logger.Debug("extracted", "screenshot", shot.ID, "customer", rec.CustomerName, "total", rec.OrderTotal.StringFixed(2), "warnings", len(rec.Warnings))
	return nil
}

func (s *ProcessingService) extractScreenshot(ctx context.Context, shot internal.Screenshot) (internal.OrderRecord, error) {
	blob, err := os.ReadFile(shot.Path)
	if err != nil {
		return internal.OrderRecord{}, err
	}
	answer, err := s.extractor.Extract(ctx, blob, shot.MimeType)
	if err != nil {
		return internal.OrderRecord{}, err
	}
	raw, err := DecodeRawOrder(answer)
	if err != nil {
		return internal.OrderRecord{}, err
	}

	rec := NormalizeOrderMax(raw, internal.SourceScreenshot, s.maxAmount())
	rec.DocID = shot.DocID
	id := shot.ID
	rec.ScreenshotID = &id
	s.snapCustomer(&rec)
	return rec, nil
}

// RetryFailed puts failed screenshots back in the queue.
func (s *ProcessingService) RetryFailed(docID string) (int64, error) {
	if _, err := s.db.MustDoc(docID); err != nil {
		return 0, err
	}
	return s.db.ResetFailedScreenshots(docID)
}

type EmailResult struct {
	MailID      int
	Screenshots int
	Records     int
	Skipped     bool
}

func (s *ProcessingService) ProcessByProviderMessageID(provider, messageID, docID string) (EmailResult, error) {
	mail, err := s.db.MustMailByProviderMessageID(provider, messageID)
	if err != nil {
		return EmailResult{}, err
	}
	return s.ProcessEmail(mail, docID)
}

// ProcessFetchedMails routes every fetched message into docID.
func (s *ProcessingService) ProcessFetchedMails(docID string, limit int, provider string) (int, error) {
	fetched, err := s.db.ListMailsByStatus("fetched", limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, mail := range fetched {
		if provider != "" && mail.Provider != provider {
			continue
		}
		if _, err := s.ProcessEmail(mail, docID); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// ProcessEmail routes one fetched message into a doc: image attachments are
// queued as screenshots and orders readable without the vision model become
// records right away. Messages that do not look like orders are skipped.
func (s *ProcessingService) ProcessEmail(mail internal.MailRow, docID string) (EmailResult, error) {
	start := time.Now()
	res := EmailResult{MailID: mail.ID}
	raw, err := os.ReadFile(mail.RawRef)
	if err != nil {
		return res, err
	}
	parsed, err := ParseEmail(raw)
	if err != nil {
		_ = s.db.UpdateMailStatus(mail.ID, "failed", nil)
		return res, fmt.Errorf("parse mail %d: %w", mail.ID, err)
	}

	detect := DetectOrderEmail(firstNonEmpty(parsed.Subject, mail.Subject), parsed.Text, parsed.HTML, parsed.AttachmentNames)
	if !detect.IsOrder {
		res.Skipped = true
		s.logger.Info("mail skipped", "mail", mail.ID, "subject", mail.Subject, "score", detect.Score)
		return res, s.db.UpdateMailStatus(mail.ID, "skipped", nil)
	}

	for _, img := range parsed.Images {
		_, created, err := s.AddScreenshotBytes(docID, img.Content, img.ContentType, "mail:"+mail.Provider)
		if err != nil {
			return res, err
		}
		if created {
			res.Screenshots++
		}
	}
	saved, err := s.saveRecords(docID, parsed.Records)
	if err != nil {
		return res, err
	}
	res.Records = len(saved)

	if err := s.db.UpdateMailStatus(mail.ID, "processed", &docID); err != nil {
		return res, err
	}
	_ = s.db.InsertRun(traceID(), docID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"mail": mail.ID, "screenshots": res.Screenshots, "records": res.Records})
	return res, nil
}

func (s *ProcessingService) maxAmount() decimal.Decimal {
	if s.cfg.MaxOrderAmount.IsPositive() {
		return s.cfg.MaxOrderAmount
	}
	return DefaultMaxAmount
}

func (s *ProcessingService) snapCustomer(rec *internal.OrderRecord) {
	m := s.matcher.Match(rec.CustomerName)
	if m.Matched {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("customer %q matched to %q", rec.CustomerName, m.Name))
	}
	rec.CustomerName = m.Name
}

func (s *ProcessingService) touchRecent(name string) {
	if s.recent != nil {
		s.recent.Touch(name)
	}
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
