// Demo wiring a plain database/sql sqlite pool through sqltap: every query
// is logged and audited to NDJSON, slow statements get EXPLAIN plans, and
// the aggregates are scrapeable on /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meridian-labs/sqltap-go/example/sql/internal/config"
	"github.com/meridian-labs/sqltap-go/example/sql/internal/database"
	tapsql "github.com/meridian-labs/sqltap-go/sql"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("demo failed")
	}
}

func run(logger zerolog.Logger) error {
	ctx := context.Background()

	// SQLTAP_* variables still apply; the explicit options below win.
	cfg, err := tapsql.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	mon, err := tapsql.NewMonitor(
		tapsql.WithConfig(cfg),
		tapsql.WithLogger(logger),
		tapsql.WithSlowQueryThreshold(5*time.Millisecond),
		tapsql.WithLogEveryQuery(),
		tapsql.WithLogParams(),
		tapsql.WithSlowExplain(),
		tapsql.WithAuditFile(config.AuditPath),
		tapsql.WithRotation(config.RotateBytes, config.RetainCount),
		tapsql.WithSnapshotInterval(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}
	defer mon.Close()

	db, err := database.New(ctx, mon, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(tapsql.NewCollector(mon, prometheus.Labels{"db": config.DBName}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: config.MetricsAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", config.MetricsAddr).Msg("metrics endpoint up")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(config.TickSeconds * time.Second)
	defer ticker.Stop()

	logger.Info().
		Str("audit", config.AuditPath).
		Str("metrics", "http://localhost"+config.MetricsAddr+"/metrics").
		Msg("demo running, Ctrl+C to stop")

	iteration := 0
	for {
		select {
		case <-ticker.C:
			iteration++
			opCtx := tapsql.WithTraceID(ctx, fmt.Sprintf("demo-%d", iteration))
			runOnce(opCtx, db, logger)

		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			report(mon.Stats(), logger)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown")
			}
			return nil
		}
	}
}

// runOnce drives one batch of traffic: inserts, a list, a deliberately slow
// scan, and a primary key violation so the error counters move too.
func runOnce(ctx context.Context, db *database.DB, logger zerolog.Logger) {
	if err := db.Seed(ctx); err != nil {
		logger.Error().Err(err).Msg("seed failed")
	}
	if err := db.List(ctx); err != nil {
		logger.Error().Err(err).Msg("list failed")
	}
	if err := db.BurnCPU(ctx); err != nil {
		logger.Error().Err(err).Msg("heavy scan failed")
	}
	if err := db.InsertDuplicate(ctx); err != nil {
		var qe *tapsql.QueryError
		if errors.As(err, &qe) {
			logger.Info().
				Str("fingerprint", qe.Fingerprint).
				Str("table", qe.Table).
				Msg("duplicate insert rejected, as intended")
		} else {
			logger.Error().Err(err).Msg("duplicate insert failed unexpectedly")
		}
	}
}

func report(snap tapsql.Snapshot, logger zerolog.Logger) {
	logger.Info().
		Uint64("total", snap.Total).
		Uint64("errors", snap.Errors).
		Uint64("slow", snap.Slow).
		Int("fingerprints", snap.Fingerprints).
		Float64("p95_ms", snap.P95MS).
		Msg("final aggregates")

	for i, r := range snap.TopSlowest {
		ev := logger.Info().
			Int("rank", i+1).
			Str("query", r.Query).
			Uint64("count", r.Count).
			Float64("max_ms", r.MaxMS).
			Float64("avg_ms", r.AvgMS)
		if r.LastPlan != "" {
			ev = ev.Str("plan", r.LastPlan)
		}
		ev.Msg("slowest statement")
	}
}
