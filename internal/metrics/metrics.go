// Package metrics holds the Prometheus collectors shared by the listener and
// the processing pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	Extractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "importflow",
		Name:      "extractions_total",
		Help:      "Screenshot extractions by outcome.",
	}, []string{"status"})

	ExtractionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "importflow",
		Name:      "extraction_duration_seconds",
		Help:      "Latency of one screenshot extraction.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	MailsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "importflow",
		Name:      "mails_fetched_total",
		Help:      "Messages pulled from the inbox by provider.",
	}, []string{"provider"})

	ListenerCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "importflow",
		Name:      "listener_cycles_total",
		Help:      "Listener poll cycles by outcome.",
	}, []string{"status"})

	DocsExported = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "importflow",
		Name:      "docs_exported_total",
		Help:      "Docs exported after human review.",
	})

	SplitDeclarations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "importflow",
		Name:      "split_declarations_total",
		Help:      "Declarations produced by splitting an over-threshold customer.",
	})
)

func init() {
	Registry.MustRegister(
		Extractions,
		ExtractionDuration,
		MailsFetched,
		ListenerCycles,
		DocsExported,
		SplitDeclarations,
		collectors.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
}
