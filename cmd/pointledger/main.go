package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pointledger/internal/backfill"
	"pointledger/internal/config"
	"pointledger/internal/ingestion"
	"pointledger/internal/leaderboard"
	"pointledger/internal/observability"
	"pointledger/internal/period"
	"pointledger/internal/persistence"
	"pointledger/internal/query"
	"pointledger/internal/sampler"
	"pointledger/internal/server"
	"pointledger/internal/window"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := observability.ParseLogLevel(cfg.LogLevel)
	log := observability.NewLoggerWithLevel("main", level)
	log.Info().Msg("pointledger starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", level))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Stores ---
	counterStore := persistence.NewCounterStore(db)
	snapshotStore := persistence.NewSnapshotStore(db)
	leaderboardStore := persistence.NewLeaderboardStore(db)

	// --- Derivation and jobs ---
	engine := window.NewEngine(snapshotStore, metrics, observability.NewLoggerWithLevel("window", level))
	builder := leaderboard.NewBuilder(
		counterStore,
		engine,
		leaderboardStore,
		metrics,
		observability.NewLoggerWithLevel("builder", level),
		cfg.AggregationConcurrency,
		cfg.AccountTimeout,
		cfg.TopN,
	)
	backfillTool := backfill.NewTool(
		counterStore,
		snapshotStore,
		metrics,
		observability.NewLoggerWithLevel("backfill", level),
		cfg.BackfillBatchSize,
	)
	smp := sampler.New(
		counterStore,
		snapshotStore,
		metrics,
		observability.NewLoggerWithLevel("sampler", level),
		cfg.SampleInterval,
		cfg.BackfillBatchSize,
	)
	queryService := query.NewService(engine, leaderboardStore, observability.NewLoggerWithLevel("query", level))

	// --- NATS ---
	natsLog := observability.NewLoggerWithLevel("nats", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLog)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("nats connected")

	if err := ingestion.EnsureStream(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure nats stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, natsLog)
	if err := natsSubscriber.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	processor := ingestion.NewProcessor(
		counterStore,
		rawEventChan,
		metrics,
		observability.NewLoggerWithLevel("processor", level),
	)

	// --- HTTP ---
	httpServer := server.New(
		queryService,
		builder,
		backfillTool,
		smp,
		healthChecker,
		metrics,
		observability.NewLoggerWithLevel("http", level),
		cfg.OperatorToken,
	)

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	// 1. Activity event processor
	go processor.Run(ctx)

	// 2. Daily sampler
	go smp.Run(ctx)

	// 3. Periodic leaderboard aggregation
	go runPeriodicAggregation(ctx, builder, cfg.AggregationInterval, log)

	// 4. HTTP API
	go func() {
		errChan <- httpServer.ListenAndServe(ctx, cfg.HTTPAddr)
	}()

	// 5. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("pointledger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()
	natsSubscriber.Stop()

	log.Info().Msg("pointledger shutdown complete")
}

// runPeriodicAggregation rebuilds the current day, week and month boards
// on the configured interval so the served boards track live activity.
func runPeriodicAggregation(ctx context.Context, builder *leaderboard.Builder, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}

	build := func() {
		for _, kind := range []period.Kind{period.KindDay, period.KindWeek, period.KindMonth} {
			if _, err := builder.Build(ctx, kind, "", time.Now().UTC()); err != nil {
				log.Error().Str("kind", string(kind)).Err(err).Msg("periodic aggregation failed")
			}
		}
	}

	build()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			build()
		}
	}
}
