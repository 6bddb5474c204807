package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Counters holds the cumulative per-account totals tracked by the ledger.
// Both values are monotone in intent: activity events only add, and the
// engine clamps to zero wherever a recorded decrease shows up anyway.
type Counters struct {
	Points int64 `json:"points"`
	Items  int64 `json:"items"`
}

// Sub returns c minus other with each component clamped to zero.
func (c Counters) Sub(other Counters) Counters {
	return Counters{
		Points: clampNonNegative(c.Points - other.Points),
		Items:  clampNonNegative(c.Items - other.Items),
	}
}

// IsZero reports whether both counters are zero.
func (c Counters) IsZero() bool {
	return c.Points == 0 && c.Items == 0
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Account is the durable record owned by the CounterStore. It is created
// on first activity and mutated only through Increment.
type Account struct {
	ID          uuid.UUID `json:"account_id"`
	DisplayName string    `json:"display_name"`
	Counters    Counters  `json:"counters"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Initials derives the display initials for leaderboard entries: first
// letter of the first two words, uppercased. Empty names render as "?".
func Initials(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return "?"
	}
	var b strings.Builder
	for i, f := range fields {
		if i == 2 {
			break
		}
		r := []rune(f)
		b.WriteString(strings.ToUpper(string(r[0])))
	}
	return b.String()
}

// DailySnapshot is a dated sample of an account's cumulative counters.
// At most one exists per (account, day); a repeat write for the same day
// overwrites. Day is always a UTC calendar day at midnight.
type DailySnapshot struct {
	AccountID uuid.UUID `json:"account_id"`
	Day       time.Time `json:"day"`
	Counters  Counters  `json:"counters"`
	WrittenAt time.Time `json:"written_at"`
}

// WindowDelta is the derived gain over a window. Never persisted.
type WindowDelta struct {
	AccountID   uuid.UUID `json:"account_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Gained      Counters  `json:"gained"`
	// TotalAtEnd is the cumulative value at the window end, used for the
	// leaderboard's cumulative column.
	TotalAtEnd Counters `json:"total_at_end"`
}

// LeaderboardEntry is one ranked row of a leaderboard snapshot.
type LeaderboardEntry struct {
	Rank         int       `json:"rank"`
	AccountID    uuid.UUID `json:"account_id"`
	DisplayName  string    `json:"display_name"`
	Initials     string    `json:"initials"`
	PointsGained int64     `json:"points_gained"`
	PointsTotal  int64     `json:"points_total"`
	ItemsGained  int64     `json:"items_gained"`
}

// LeaderboardSnapshot is the immutable ranked result for one period.
// A rerun for the same period id replaces it wholesale.
type LeaderboardSnapshot struct {
	PeriodKind  string             `json:"period_kind"`
	PeriodID    string             `json:"period_id"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
	GeneratedAt time.Time          `json:"generated_at"`
	Entries     []LeaderboardEntry `json:"entries"`
}
