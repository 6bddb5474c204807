package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pointledger/internal/ledger"
)

// LeaderboardStore persists immutable leaderboard snapshots keyed by
// (period_kind, period_id). A rerun for the same period replaces the
// snapshot wholesale in one transaction, so readers never observe a
// partial merge.
type LeaderboardStore struct {
	db *sql.DB
}

func NewLeaderboardStore(db *sql.DB) *LeaderboardStore {
	return &LeaderboardStore{db: db}
}

// Replace writes a snapshot, superseding any existing one for the same
// period id.
func (ls *LeaderboardStore) Replace(ctx context.Context, snap ledger.LeaderboardSnapshot) error {
	tx, err := ls.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.StoreUnavailable("begin replace leaderboard", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM leaderboard_entries WHERE period_kind = $1 AND period_id = $2
	`, snap.PeriodKind, snap.PeriodID); err != nil {
		return ledger.StoreUnavailable("delete leaderboard entries", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO leaderboard_snapshots (period_kind, period_id, period_start, period_end, generated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (period_kind, period_id) DO UPDATE SET
			period_start = EXCLUDED.period_start,
			period_end   = EXCLUDED.period_end,
			generated_at = EXCLUDED.generated_at
	`, snap.PeriodKind, snap.PeriodID, snap.PeriodStart, snap.PeriodEnd, snap.GeneratedAt); err != nil {
		return ledger.StoreUnavailable("upsert leaderboard snapshot", err)
	}

	if len(snap.Entries) > 0 {
		query := `INSERT INTO leaderboard_entries
			(period_kind, period_id, rank, account_id, display_name, initials, points_gained, points_total, items_gained)
			VALUES `

		values := make([]string, 0, len(snap.Entries))
		args := make([]interface{}, 0, len(snap.Entries)*9)
		for i, e := range snap.Entries {
			base := i * 9
			values = append(values, fmt.Sprintf(
				"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
			))
			args = append(args,
				snap.PeriodKind, snap.PeriodID, e.Rank, e.AccountID,
				e.DisplayName, e.Initials, e.PointsGained, e.PointsTotal, e.ItemsGained,
			)
		}
		query += strings.Join(values, ", ")

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return ledger.StoreUnavailable("insert leaderboard entries", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ledger.StoreUnavailable("commit replace leaderboard", err)
	}
	return nil
}

// Get returns the snapshot for a period id, or ErrNotFound.
func (ls *LeaderboardStore) Get(ctx context.Context, kind, periodID string) (*ledger.LeaderboardSnapshot, error) {
	var snap ledger.LeaderboardSnapshot
	err := ls.db.QueryRowContext(ctx, `
		SELECT period_kind, period_id, period_start, period_end, generated_at
		FROM leaderboard_snapshots
		WHERE period_kind = $1 AND period_id = $2
	`, kind, periodID).Scan(&snap.PeriodKind, &snap.PeriodID, &snap.PeriodStart, &snap.PeriodEnd, &snap.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, ledger.StoreUnavailable("get leaderboard snapshot", err)
	}

	rows, err := ls.db.QueryContext(ctx, `
		SELECT rank, account_id, display_name, initials, points_gained, points_total, items_gained
		FROM leaderboard_entries
		WHERE period_kind = $1 AND period_id = $2
		ORDER BY rank ASC
	`, kind, periodID)
	if err != nil {
		return nil, ledger.StoreUnavailable("get leaderboard entries", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e ledger.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.AccountID, &e.DisplayName, &e.Initials, &e.PointsGained, &e.PointsTotal, &e.ItemsGained); err != nil {
			return nil, ledger.StoreUnavailable("scan leaderboard entry", err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreUnavailable("get leaderboard entries", err)
	}
	return &snap, nil
}
