package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/meridian-labs/sqltap-go/example/sqlx/internal/config"
	"github.com/meridian-labs/sqltap-go/example/sqlx/internal/database"
	"github.com/meridian-labs/sqltap-go/example/sqlx/internal/telemetry"
	tapsql "github.com/meridian-labs/sqltap-go/sql"
)

func main() {
	ctx := context.Background()

	// 1. Setup OpenTelemetry (Tracing + Metrics)
	shutdownTracing, shutdownMetrics, err := telemetry.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup OTel: %v", err)
	}
	defer func() {
		shutdownTracing(ctx)
		shutdownMetrics(ctx)
	}()

	// 2. Create the monitor and expose its aggregates on the default
	// registry, which the /metrics handler already serves.
	mon, err := tapsql.NewMonitor(
		tapsql.WithSlowQueryThreshold(100*time.Millisecond),
		tapsql.WithSlowExplain(),
		tapsql.WithTopN(5),
	)
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}
	defer mon.Close()
	prometheus.MustRegister(tapsql.NewCollector(mon, nil))

	// 3. Start Prometheus Metrics Server
	metricsServer := &http.Server{Addr: config.MetricsPort}
	go func() {
		log.Printf("Starting Prometheus metrics server on %s", config.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// 4. Open Database Connection through the instrumented driver
	db, err := database.New(ctx, mon)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.CreateTable(ctx); err != nil {
		log.Printf("Failed to create table: %v", err)
	}

	// 5. Perform Database Operations in a Loop
	// Audit lines pick up the surrounding span's trace id on their own.
	tracer := otel.Tracer("example-app")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(config.OperationInterval) * time.Second)
	defer ticker.Stop()

	fmt.Println("✅ SQLX Example app started!")
	fmt.Println("📊 Prometheus metrics: http://localhost:2112/metrics")
	fmt.Println("Press Ctrl+C to stop...")

	for {
		select {
		case <-ticker.C:
			opCtx, span := tracer.Start(ctx, "db-operations")

			if err := db.InsertUsers(opCtx); err != nil {
				log.Printf("Failed to insert users: %v", err)
			}
			if err := db.QueryUsers(opCtx); err != nil {
				log.Printf("Failed to query users: %v", err)
			}
			if _, err := db.GetUser(opCtx, "Alice"); err != nil {
				log.Printf("Failed to get user: %v", err)
			}
			if err := db.InsertWithTransaction(opCtx); err != nil {
				log.Printf("Failed transaction: %v", err)
			}

			span.End()
			log.Println("✓ Database operations completed")

		case <-sigChan:
			fmt.Println("\n🛑 Shutting down gracefully...")

			snap := mon.Stats()
			log.Printf("Observed %d queries (%d slow, %d errors) across %d statement shapes",
				snap.Total, snap.Slow, snap.Errors, snap.Fingerprints)
			for _, r := range snap.TopSlowest {
				log.Printf("  slowest: %s (count=%d max=%.1fms)", r.Query, r.Count, r.MaxMS)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				log.Printf("Metrics server shutdown error: %v", err)
			}
			return
		}
	}
}
