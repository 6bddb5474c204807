// Command backfill runs snapshot maintenance against the database
// directly: repairing history, taking a one-shot daily sample, or
// rebuilding a leaderboard period, without going through the service's
// admin API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"pointledger/internal/backfill"
	"pointledger/internal/config"
	"pointledger/internal/leaderboard"
	"pointledger/internal/observability"
	"pointledger/internal/period"
	"pointledger/internal/persistence"
	"pointledger/internal/sampler"
	"pointledger/internal/window"
)

func usage() {
	fmt.Println("Usage: backfill <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  fill       synthesize and repair daily snapshot rows")
	fmt.Println("               -days N        lookback window ending today (required)")
	fmt.Println("               -account UUID  limit to one account")
	fmt.Println("  sample     write today's snapshot row for every account")
	fmt.Println("  aggregate  rebuild one leaderboard period")
	fmt.Println("               -kind day|week|month  (required)")
	fmt.Println("               -period ID            defaults to the current period")
	fmt.Println()
	fmt.Println("Configuration is read from the environment (POINTS_* variables).")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := observability.ParseLogLevel(cfg.LogLevel)
	log := observability.NewLoggerWithLevel("backfill-cli", level)

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}

	counterStore := persistence.NewCounterStore(db)
	snapshotStore := persistence.NewSnapshotStore(db)

	switch os.Args[1] {
	case "fill":
		fs := flag.NewFlagSet("fill", flag.ExitOnError)
		days := fs.Int("days", 0, "lookback window in days ending today")
		account := fs.String("account", "", "limit to one account id")
		fs.Parse(os.Args[2:])

		if *days < 1 || *days > 366 {
			log.Fatal().Int("days", *days).Msg("-days must be in [1, 366]")
		}
		var target *uuid.UUID
		if *account != "" {
			id, err := uuid.Parse(*account)
			if err != nil {
				log.Fatal().Str("account", *account).Err(err).Msg("invalid -account")
			}
			target = &id
		}

		tool := backfill.NewTool(counterStore, snapshotStore, nil, log, cfg.BackfillBatchSize)
		to := period.Day(time.Now().UTC())
		from := to.AddDate(0, 0, -(*days - 1))
		report, err := tool.Run(ctx, target, from, to)
		if err != nil {
			log.Fatal().Err(err).Msg("backfill failed")
		}
		log.Info().
			Int("accounts", report.AccountsProcessed).
			Int("rows_written", report.RowsWritten).
			Int("rows_repaired", report.RowsRepaired).
			Msg("backfill complete")

	case "sample":
		smp := sampler.New(counterStore, snapshotStore, nil, log, cfg.SampleInterval, cfg.BackfillBatchSize)
		n, err := smp.SampleAll(ctx, time.Now().UTC())
		if err != nil {
			log.Fatal().Err(err).Msg("sample failed")
		}
		log.Info().Int("accounts", n).Msg("sample complete")

	case "aggregate":
		fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
		kindStr := fs.String("kind", "", "period kind: day, week or month")
		periodID := fs.String("period", "", "period id, defaults to the current period")
		fs.Parse(os.Args[2:])

		kind, err := period.ParseKind(*kindStr)
		if err != nil {
			log.Fatal().Str("kind", *kindStr).Msg("-kind must be day, week or month")
		}

		leaderboardStore := persistence.NewLeaderboardStore(db)
		engine := window.NewEngine(snapshotStore, nil, log)
		builder := leaderboard.NewBuilder(
			counterStore, engine, leaderboardStore, nil, log,
			cfg.AggregationConcurrency, cfg.AccountTimeout, cfg.TopN,
		)
		sum, err := builder.Build(ctx, kind, *periodID, time.Now().UTC())
		if err != nil {
			log.Fatal().Err(err).Msg("aggregate failed")
		}
		log.Info().
			Str("period", sum.PeriodID).
			Int("entries", sum.Entries).
			Int("failed_accounts", sum.FailedAccounts).
			Msg("aggregate complete")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
	}
}
