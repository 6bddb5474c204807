package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"pointledger/internal/ledger"
)

// CounterStore is the durable mapping from account id to current
// cumulative counters, backed by Postgres.
type CounterStore struct {
	db *sql.DB
}

func NewCounterStore(db *sql.DB) *CounterStore {
	return &CounterStore{db: db}
}

// Increment atomically adds the deltas to an account's counters and
// returns the new cumulative totals. The account is created on first
// activity. The add happens in a single statement, so two concurrent
// increments for the same account can never lose an update. Negative
// deltas are applied as corrections; the resulting total is clamped
// at zero, never the delta itself.
func (cs *CounterStore) Increment(
	ctx context.Context,
	accountID uuid.UUID,
	displayName string,
	delta ledger.Counters,
) (ledger.Counters, error) {
	var totals ledger.Counters
	err := cs.db.QueryRowContext(ctx, `
		INSERT INTO accounts (account_id, display_name, points, items, created_at, updated_at)
		VALUES ($1, $2, GREATEST($3, 0), GREATEST($4, 0), NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			points       = GREATEST(accounts.points + $3, 0),
			items        = GREATEST(accounts.items + $4, 0),
			display_name = CASE WHEN EXCLUDED.display_name != '' THEN EXCLUDED.display_name ELSE accounts.display_name END,
			updated_at   = NOW()
		RETURNING points, items
	`, accountID, displayName, delta.Points, delta.Items).Scan(&totals.Points, &totals.Items)
	if err != nil {
		return ledger.Counters{}, ledger.StoreUnavailable("increment", err)
	}
	return totals, nil
}

// GetAccount returns one account, or ErrNotFound.
func (cs *CounterStore) GetAccount(ctx context.Context, accountID uuid.UUID) (*ledger.Account, error) {
	var a ledger.Account
	err := cs.db.QueryRowContext(ctx, `
		SELECT account_id, display_name, points, items, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
	`, accountID).Scan(&a.ID, &a.DisplayName, &a.Counters.Points, &a.Counters.Items, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, ledger.StoreUnavailable("get account", err)
	}
	return &a, nil
}

// ListAccounts returns every known account ordered by id. The builder
// and the daily sampler iterate this set.
func (cs *CounterStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := cs.db.QueryContext(ctx, `
		SELECT account_id, display_name, points, items, created_at, updated_at
		FROM accounts
		ORDER BY account_id
	`)
	if err != nil {
		return nil, ledger.StoreUnavailable("list accounts", err)
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var a ledger.Account
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Counters.Points, &a.Counters.Items, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, ledger.StoreUnavailable("scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.StoreUnavailable("list accounts", err)
	}
	return accounts, nil
}
