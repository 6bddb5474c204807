// Package backfill repairs sparse daily snapshot history. It walks each
// account's days in a range, synthesizes rows for days the sampler
// missed by carrying the last known cumulative forward, and raises rows
// that were recorded below the carried value. Writes go through the
// merge path, so re-running over accurate history changes nothing.
package backfill

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/observability"
	"pointledger/internal/period"
)

// SnapshotStore is the slice of the snapshot store backfill needs.
type SnapshotStore interface {
	ReadLastBefore(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error)
	ReadRange(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]ledger.DailySnapshot, error)
	MergeBatch(ctx context.Context, snaps []ledger.DailySnapshot) error
}

// AccountLister enumerates accounts for a full-population run.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

// Tool fills and repairs snapshot history.
type Tool struct {
	accounts  AccountLister
	snapshots SnapshotStore
	metrics   *observability.Metrics
	log       zerolog.Logger
	batchSize int
}

func NewTool(
	accounts AccountLister,
	snapshots SnapshotStore,
	metrics *observability.Metrics,
	log zerolog.Logger,
	batchSize int,
) *Tool {
	if batchSize < 1 {
		batchSize = 400
	}
	return &Tool{
		accounts:  accounts,
		snapshots: snapshots,
		metrics:   metrics,
		log:       log,
		batchSize: batchSize,
	}
}

// Report summarizes one backfill run.
type Report struct {
	AccountsProcessed int
	RowsWritten       int
	RowsRepaired      int
	BatchesFlushed    int
}

// Run backfills [from, to] for every account, or for a single account
// when target is non-nil. Accounts are processed independently; a
// failing account aborts the run so the operator sees the error instead
// of a silently partial repair.
func (t *Tool) Run(ctx context.Context, target *uuid.UUID, from, to time.Time) (Report, error) {
	start := time.Now()
	from = period.Day(from)
	to = period.Day(to)

	var report Report

	var ids []uuid.UUID
	if target != nil {
		ids = []uuid.UUID{*target}
	} else {
		accounts, err := t.accounts.ListAccounts(ctx)
		if err != nil {
			return report, ledger.StoreUnavailable("list accounts", err)
		}
		for _, a := range accounts {
			ids = append(ids, a.ID)
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := t.fillAccount(ctx, id, from, to, &report); err != nil {
			return report, &ledger.AccountAggregationError{AccountID: id, Err: err}
		}
		report.AccountsProcessed++
	}

	t.log.Info().
		Str("from", period.DayKey(from)).
		Str("to", period.DayKey(to)).
		Int("accounts", report.AccountsProcessed).
		Int("rows_written", report.RowsWritten).
		Int("rows_repaired", report.RowsRepaired).
		Int("batches", report.BatchesFlushed).
		Dur("took", time.Since(start)).
		Msg("backfill finished")
	return report, nil
}

// fillAccount walks one account's days ascending, carrying the last
// known cumulative. Days before the account's first snapshot are left
// absent; history must not be invented for a user who did not exist yet.
func (t *Tool) fillAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time, report *Report) error {
	carry, err := t.snapshots.ReadLastBefore(ctx, accountID, from)
	if err != nil {
		return err
	}
	existing, err := t.snapshots.ReadRange(ctx, accountID, from, to)
	if err != nil {
		return err
	}

	byDay := make(map[string]*ledger.DailySnapshot, len(existing))
	for i := range existing {
		byDay[period.DayKey(existing[i].Day)] = &existing[i]
	}

	var pending []ledger.DailySnapshot
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := t.snapshots.MergeBatch(ctx, pending); err != nil {
			return err
		}
		report.BatchesFlushed++
		if t.metrics != nil {
			t.metrics.BackfillBatches.Inc()
		}
		pending = pending[:0]
		return nil
	}

	var carryCounters ledger.Counters
	haveCarry := carry != nil
	if haveCarry {
		carryCounters = carry.Counters
	}

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := period.DayKey(d)
		snap, ok := byDay[key]

		switch {
		case ok:
			if haveCarry && (snap.Counters.Points < carryCounters.Points || snap.Counters.Items < carryCounters.Items) {
				// Recorded below the carried cumulative. Counters never
				// decrease, so the stored row is wrong; raise it.
				repaired := carryCounters
				if snap.Counters.Points > repaired.Points {
					repaired.Points = snap.Counters.Points
				}
				if snap.Counters.Items > repaired.Items {
					repaired.Items = snap.Counters.Items
				}
				t.log.Warn().
					Stringer("account_id", accountID).
					Str("day", key).
					Int64("stored_points", snap.Counters.Points).
					Int64("carried_points", carryCounters.Points).
					Msg("raising snapshot below carried cumulative")
				pending = append(pending, ledger.DailySnapshot{
					AccountID: accountID,
					Day:       d,
					Counters:  repaired,
				})
				report.RowsRepaired++
				if t.metrics != nil {
					t.metrics.BackfillRepairs.Inc()
				}
				carryCounters = repaired
			} else {
				carryCounters = snap.Counters
			}
			haveCarry = true

		case haveCarry:
			// Missing day inside known history: synthesize with the carry.
			pending = append(pending, ledger.DailySnapshot{
				AccountID: accountID,
				Day:       d,
				Counters:  carryCounters,
			})
			report.RowsWritten++
			if t.metrics != nil {
				t.metrics.BackfillRowsWritten.Inc()
			}

		default:
			// No history yet for this account; skip the day.
		}

		if len(pending) >= t.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	return flush()
}
