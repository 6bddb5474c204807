package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error taxonomy. Nothing here is fatal to the process: a failed builder
// run leaves the previous snapshot in place, and store errors are retried
// by the caller, never swallowed internally.
var (
	// ErrStoreUnavailable marks a transient persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidPeriod marks a malformed or out-of-range period id.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrNotFound marks a missing leaderboard snapshot or account.
	ErrNotFound = errors.New("not found")

	// ErrGapDetected marks a snapshot range with missing days beyond
	// tolerance. Chart consumers degrade to zero-gain days instead of
	// failing the series.
	ErrGapDetected = errors.New("snapshot gap detected")
)

// StoreUnavailable wraps err so callers can match ErrStoreUnavailable
// while keeping the underlying cause in the chain.
func StoreUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

// AccountAggregationError is a per-account failure during a builder run.
// It is logged and the account is excluded from that run's ranking; the
// run itself continues.
type AccountAggregationError struct {
	AccountID uuid.UUID
	Err       error
}

func (e *AccountAggregationError) Error() string {
	return fmt.Sprintf("aggregate account %s: %v", e.AccountID, e.Err)
}

func (e *AccountAggregationError) Unwrap() error { return e.Err }
