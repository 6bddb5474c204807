// Package period defines the calendar periods leaderboards are keyed by.
// All arithmetic is UTC; weeks start on Monday; period ids are canonical
// strings ("2025-10-04", "2025-W42", "2025-10") whose lexicographic order
// matches chronological order within a kind.
package period

import (
	"fmt"
	"time"

	"pointledger/internal/ledger"
)

// Kind is the calendar granularity of a period.
type Kind string

const (
	KindDay   Kind = "day"
	KindWeek  Kind = "week"
	KindMonth Kind = "month"
)

// DayFormat is the canonical date key layout. Lexicographic ordering of
// these keys equals chronological ordering, which the snapshot range
// queries rely on.
const DayFormat = "2006-01-02"

// ParseKind validates a period kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDay, KindWeek, KindMonth:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("parse kind %q: %w", s, ledger.ErrInvalidPeriod)
	}
}

// Period is a calendar-aligned span. Start and End are inclusive UTC
// calendar days at midnight.
type Period struct {
	Kind  Kind
	ID    string
	Start time.Time
	End   time.Time
}

// ContainsDay reports whether the UTC day of t falls inside the period.
func (p Period) ContainsDay(t time.Time) bool {
	d := Day(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats t's UTC day as the canonical YYYY-MM-DD key.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// ParseDay parses a canonical YYYY-MM-DD key.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, ledger.ErrInvalidPeriod)
	}
	return t, nil
}

// Parse resolves a canonical period id into its UTC bounds.
func Parse(kind Kind, id string) (Period, error) {
	switch kind {
	case KindDay:
		start, err := ParseDay(id)
		if err != nil {
			return Period{}, err
		}
		return Period{Kind: kind, ID: id, Start: start, End: start}, nil

	case KindWeek:
		var year, week int
		if _, err := fmt.Sscanf(id, "%4d-W%2d", &year, &week); err != nil {
			return Period{}, fmt.Errorf("parse week %q: %w", id, ledger.ErrInvalidPeriod)
		}
		start := isoWeekStart(year, week)
		gotYear, gotWeek := start.ISOWeek()
		if gotYear != year || gotWeek != week {
			return Period{}, fmt.Errorf("week %q out of range: %w", id, ledger.ErrInvalidPeriod)
		}
		p := Period{Kind: kind, Start: start, End: start.AddDate(0, 0, 6)}
		p.ID = p.canonicalID()
		if p.ID != id {
			return Period{}, fmt.Errorf("week %q is not canonical (want %q): %w", id, p.ID, ledger.ErrInvalidPeriod)
		}
		return p, nil

	case KindMonth:
		start, err := time.Parse("2006-01", id)
		if err != nil {
			return Period{}, fmt.Errorf("parse month %q: %w", id, ledger.ErrInvalidPeriod)
		}
		return Period{
			Kind:  kind,
			ID:    id,
			Start: start,
			End:   start.AddDate(0, 1, -1),
		}, nil

	default:
		return Period{}, fmt.Errorf("unknown kind %q: %w", kind, ledger.ErrInvalidPeriod)
	}
}

// Containing returns the period of the given kind that contains t.
func Containing(kind Kind, t time.Time) Period {
	d := Day(t)
	var p Period
	switch kind {
	case KindWeek:
		// Walk back to Monday.
		offset := (int(d.Weekday()) + 6) % 7
		start := d.AddDate(0, 0, -offset)
		p = Period{Kind: kind, Start: start, End: start.AddDate(0, 0, 6)}
	case KindMonth:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		p = Period{Kind: kind, Start: start, End: start.AddDate(0, 1, -1)}
	default:
		p = Period{Kind: KindDay, Start: d, End: d}
	}
	p.ID = p.canonicalID()
	return p
}

// Previous returns the period immediately before p.
func Previous(p Period) Period {
	return Containing(p.Kind, p.Start.AddDate(0, 0, -1))
}

func (p Period) canonicalID() string {
	switch p.Kind {
	case KindWeek:
		year, week := p.Start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case KindMonth:
		return p.Start.Format("2006-01")
	default:
		return p.Start.Format(DayFormat)
	}
}

// isoWeekStart returns the Monday of the given ISO week. January 4th is
// always in ISO week 1.
func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	week1Monday := jan4.AddDate(0, 0, -offset)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}
