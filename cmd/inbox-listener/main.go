package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"importflow/internal/config"
	"importflow/internal/connectors"
	"importflow/internal/customs"
	"importflow/internal/listener"
	"importflow/internal/logging"
	"importflow/internal/metrics"
	"importflow/internal/numbering"
	"importflow/internal/pipeline"
	"importflow/internal/recent"
	"importflow/internal/storage"
	"importflow/internal/vision"
)

func main() {
	cfg, err := config.Load()
	must(err)
	logging.Setup(cfg.LogLevel)

	engine, err := customs.NewEngine(cfg.CustomsConfig())
	must(err)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := connectors.New(ctx, cfg, cfg.MailListenerProvider)
	must(err)

	recents := recent.NewLRU(cfg.RecentCustomersMax, time.Duration(cfg.RecentCustomersTTLHours)*time.Hour)
	if err := recents.Restore(db); err != nil {
		slog.Warn("restore recent customers", "err", err)
	}

	var extractor pipeline.Extractor
	if strings.TrimSpace(cfg.VisionAPIKey) != "" {
		extractor = vision.NewClient(cfg)
	} else {
		slog.Warn("VISION_API_KEY not set, screenshots stay pending")
	}

	numbers := numbering.New(db, cfg.PackagePrefix, cfg.PackageWidth, cfg.PackageStart)
	svc := listener.NewService(db, cfg, listener.Deps{
		Connector: conn,
		Processor: pipeline.NewProcessingService(db, cfg, extractor, recents, slog.Default()),
		Planner:   pipeline.NewPlanner(db, engine, numbers, slog.Default()),
		Exporter:  pipeline.XLSXExporter{Dir: cfg.OutputDir},
		Recent:    recents,
		Logger:    slog.Default(),
	})

	metrics.Serve(ctx, cfg.MetricsAddr, slog.Default())
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
