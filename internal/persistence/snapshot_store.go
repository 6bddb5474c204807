package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pointledger/internal/ledger"
	"pointledger/internal/period"
)

// SnapshotStore is the per-account daily time series. Keys are
// (account_id, day); at most one row per account per day, where a repeat
// write overwrites. The nearest-lookup queries run against the primary
// key index (ordered scan, never a full-table scan) because the builder
// calls them once per account per period.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// WriteSnapshot upserts one daily snapshot with overwrite semantics.
// Writing the same arguments twice yields the same stored state.
func (ss *SnapshotStore) WriteSnapshot(ctx context.Context, snap ledger.DailySnapshot) error {
	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO daily_snapshots (account_id, day, points, items, written_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id, day) DO UPDATE SET
			points     = EXCLUDED.points,
			items      = EXCLUDED.items,
			written_at = NOW()
	`, snap.AccountID, period.Day(snap.Day), snap.Counters.Points, snap.Counters.Items)
	if err != nil {
		return ledger.StoreUnavailable("write snapshot", err)
	}
	return nil
}

// WriteBatch upserts many snapshots in one statement with overwrite
// semantics. Used by the daily sampler.
func (ss *SnapshotStore) WriteBatch(ctx context.Context, snaps []ledger.DailySnapshot) error {
	return ss.writeBatch(ctx, snaps, false)
}

// MergeBatch upserts many snapshots but never lowers a stored cumulative
// below what is already there. Used by backfill repair so re-running over
// accurate data is a no-op.
func (ss *SnapshotStore) MergeBatch(ctx context.Context, snaps []ledger.DailySnapshot) error {
	return ss.writeBatch(ctx, snaps, true)
}

func (ss *SnapshotStore) writeBatch(ctx context.Context, snaps []ledger.DailySnapshot, merge bool) error {
	if len(snaps) == 0 {
		return nil
	}

	query := `INSERT INTO daily_snapshots (account_id, day, points, items, written_at) VALUES `

	values := make([]string, 0, len(snaps))
	args := make([]interface{}, 0, len(snaps)*4)
	for i, s := range snaps {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, NOW())",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, s.AccountID, period.Day(s.Day), s.Counters.Points, s.Counters.Items)
	}
	query += strings.Join(values, ", ")

	if merge {
		query += `
			ON CONFLICT (account_id, day) DO UPDATE SET
				points     = GREATEST(daily_snapshots.points, EXCLUDED.points),
				items      = GREATEST(daily_snapshots.items, EXCLUDED.items),
				written_at = NOW()
			WHERE daily_snapshots.points < EXCLUDED.points
			   OR daily_snapshots.items < EXCLUDED.items`
	} else {
		query += `
			ON CONFLICT (account_id, day) DO UPDATE SET
				points     = EXCLUDED.points,
				items      = EXCLUDED.items,
				written_at = NOW()`
	}

	if _, err := ss.db.ExecContext(ctx, query, args...); err != nil {
		return ledger.StoreUnavailable("write snapshot batch", err)
	}
	return nil
}

// ReadSnapshot returns the snapshot for an exact day, or nil when absent.
func (ss *SnapshotStore) ReadSnapshot(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error) {
	return ss.readOne(ctx, `
		SELECT account_id, day, points, items, written_at
		FROM daily_snapshots
		WHERE account_id = $1 AND day = $2
	`, accountID, period.Day(day))
}

// ReadLastBeforeOrAt returns the nearest snapshot with day <= the given
// day, or nil when absent.
func (ss *SnapshotStore) ReadLastBeforeOrAt(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error) {
	return ss.readOne(ctx, `
		SELECT account_id, day, points, items, written_at
		FROM daily_snapshots
		WHERE account_id = $1 AND day <= $2
		ORDER BY day DESC
		LIMIT 1
	`, accountID, period.Day(day))
}

// ReadLastBefore returns the nearest snapshot with day < the given day,
// or nil when absent.
func (ss *SnapshotStore) ReadLastBefore(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error) {
	return ss.readOne(ctx, `
		SELECT account_id, day, points, items, written_at
		FROM daily_snapshots
		WHERE account_id = $1 AND day < $2
		ORDER BY day DESC
		LIMIT 1
	`, accountID, period.Day(day))
}

// ReadRange returns snapshots in [from, to] ascending by day. The range
// may be sparse; gaps are the caller's concern.
func (ss *SnapshotStore) ReadRange(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]ledger.DailySnapshot, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT account_id, day, points, items, written_at
		FROM daily_snapshots
		WHERE account_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day ASC
	`, accountID, period.Day(from), period.Day(to))
	if err != nil {
		return nil, ledger.StoreUnavailable("read snapshot range", err)
	}
	defer rows.Close()

	var snaps []ledger.DailySnapshot
	for rows.Next() {
		var s ledger.DailySnapshot
		if err := rows.Scan(&s.AccountID, &s.Day, &s.Counters.Points, &s.Counters.Items, &s.WrittenAt); err != nil {
			return nil, ledger.StoreUnavailable("scan snapshot", err)
		}
		s.Day = period.Day(s.Day)
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreUnavailable("read snapshot range", err)
	}
	return snaps, nil
}

func (ss *SnapshotStore) readOne(ctx context.Context, query string, args ...interface{}) (*ledger.DailySnapshot, error) {
	var s ledger.DailySnapshot
	err := ss.db.QueryRowContext(ctx, query, args...).
		Scan(&s.AccountID, &s.Day, &s.Counters.Points, &s.Counters.Items, &s.WrittenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.StoreUnavailable("read snapshot", err)
	}
	s.Day = period.Day(s.Day)
	return &s, nil
}
