// Package window derives counter gains over calendar windows from a
// sparse, possibly-incomplete daily snapshot series. It has two modes:
// per-day reconstruction for chart series, and a boundary delta for
// ranking. Ranking cares only about net change over the whole period and
// must not double-penalize missing days, whereas a chart must show
// something for every displayed day.
package window

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/observability"
	"pointledger/internal/period"
)

// SnapshotReader is the slice of the snapshot store the engine needs.
type SnapshotReader interface {
	ReadLastBeforeOrAt(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error)
	ReadLastBefore(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error)
	ReadRange(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]ledger.DailySnapshot, error)
}

// Engine computes window gains. It is stateless and safe for concurrent
// use across accounts.
type Engine struct {
	snapshots SnapshotReader
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewEngine(snapshots SnapshotReader, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{snapshots: snapshots, metrics: metrics, log: log}
}

// DayPoint is one day of a reconstructed chart series.
type DayPoint struct {
	Day    time.Time
	Label  string
	Gained ledger.Counters
	// Gap marks a day degraded to zero gain because no snapshot exists
	// for it.
	Gap bool
}

// DayGain computes the gain attributed to a single target day using the
// nearest-snapshot rule: take the last snapshot at or before the day,
// then subtract the snapshot immediately preceding it. No snapshot at or
// before the day, or no prior baseline, means zero gain: a user's first
// tracked day never shows their whole historical accumulation as one
// day's gain.
func (e *Engine) DayGain(ctx context.Context, accountID uuid.UUID, day time.Time) (ledger.Counters, error) {
	last, err := e.snapshots.ReadLastBeforeOrAt(ctx, accountID, day)
	if err != nil {
		return ledger.Counters{}, err
	}
	if last == nil {
		return ledger.Counters{}, nil
	}

	prev, err := e.snapshots.ReadLastBefore(ctx, accountID, last.Day)
	if err != nil {
		return ledger.Counters{}, err
	}
	if prev == nil {
		e.log.Debug().
			Stringer("account_id", accountID).
			Str("day", period.DayKey(last.Day)).
			Msg("no prior baseline, suppressing first-day gain")
		return ledger.Counters{}, nil
	}

	return e.gain(accountID, prev, last), nil
}

// Series reconstructs per-day gains for every day in [from, to]. Days
// without a snapshot of their own degrade to zero gain and are flagged
// as gaps; the series itself never fails on missing days.
func (e *Engine) Series(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]DayPoint, error) {
	from = period.Day(from)
	to = period.Day(to)

	prev, err := e.snapshots.ReadLastBefore(ctx, accountID, from)
	if err != nil {
		return nil, err
	}
	snaps, err := e.snapshots.ReadRange(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*ledger.DailySnapshot, len(snaps))
	for i := range snaps {
		byDay[period.DayKey(snaps[i].Day)] = &snaps[i]
	}

	var points []DayPoint
	gapDays := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		p := DayPoint{Day: d, Label: period.DayKey(d)}

		if snap, ok := byDay[p.Label]; ok {
			if prev != nil {
				p.Gained = e.gain(accountID, prev, snap)
			}
			prev = snap
		} else {
			p.Gap = true
			gapDays++
			if e.metrics != nil {
				e.metrics.SeriesGapDays.Inc()
			}
		}
		points = append(points, p)
	}

	if gapDays > 0 {
		e.log.Warn().
			Stringer("account_id", accountID).
			Str("from", period.DayKey(from)).
			Str("to", period.DayKey(to)).
			Int("gap_days", gapDays).
			Err(ledger.ErrGapDetected).
			Msg("series has missing days, rendered as zero gain")
	}

	return points, nil
}

// BoundaryDelta computes the net gain over a whole period for ranking.
// The baseline is the last snapshot strictly before the period start,
// falling back to the earliest snapshot inside the period when the
// account's history begins mid-window. The end value is the last
// snapshot at or before the period end; for the period containing today
// it falls back to the live counters, so a ranking run mid-period sees
// gains that have not been sampled yet. An account with fewer than two
// snapshots and no live fallback has zero gain.
func (e *Engine) BoundaryDelta(
	ctx context.Context,
	accountID uuid.UUID,
	p period.Period,
	live *ledger.Counters,
) (ledger.WindowDelta, error) {
	delta := ledger.WindowDelta{
		AccountID:   accountID,
		WindowStart: p.Start,
		WindowEnd:   p.End,
	}

	base, err := e.snapshots.ReadLastBefore(ctx, accountID, p.Start)
	if err != nil {
		return delta, err
	}

	end, err := e.snapshots.ReadLastBeforeOrAt(ctx, accountID, p.End)
	if err != nil {
		return delta, err
	}
	if end != nil && end.Day.Before(p.Start) {
		// The newest snapshot predates the window. For the period
		// containing today the live counters may have moved since, so
		// measure against that snapshot; a historical period keeps the
		// stale cumulative with zero gain.
		if live != nil && p.ContainsDay(time.Now().UTC()) {
			base = end
			end = nil
		} else {
			delta.TotalAtEnd = end.Counters
			return delta, nil
		}
	}

	if base == nil && end != nil {
		// History starts mid-window: baseline on the earliest in-window
		// snapshot instead of attributing all prior accumulation to this
		// period.
		first, err := earliestInRange(ctx, e.snapshots, accountID, p.Start, end.Day)
		if err != nil {
			return delta, err
		}
		base = first
	}

	endCounters := ledger.Counters{}
	switch {
	case end != nil:
		endCounters = end.Counters
	case live != nil && p.ContainsDay(time.Now().UTC()):
		endCounters = *live
	default:
		// Fully historical period with no snapshots at all: live
		// counters say nothing about it, gain stays zero.
		return delta, nil
	}

	delta.TotalAtEnd = endCounters
	if base == nil {
		e.log.Debug().
			Stringer("account_id", accountID).
			Str("period", p.ID).
			Msg("no baseline snapshot, suppressing period gain")
		return delta, nil
	}

	gained := endCounters.Sub(base.Counters)
	if endCounters.Points < base.Counters.Points || endCounters.Items < base.Counters.Items {
		e.logClamp(accountID, base.Counters, endCounters)
	}
	delta.Gained = gained
	return delta, nil
}

// gain subtracts two snapshots with the non-negative clamp, logging any
// recorded decrease instead of silently hiding it.
func (e *Engine) gain(accountID uuid.UUID, prev, last *ledger.DailySnapshot) ledger.Counters {
	if last.Counters.Points < prev.Counters.Points || last.Counters.Items < prev.Counters.Items {
		e.logClamp(accountID, prev.Counters, last.Counters)
	}
	return last.Counters.Sub(prev.Counters)
}

func (e *Engine) logClamp(accountID uuid.UUID, prev, last ledger.Counters) {
	if e.metrics != nil {
		e.metrics.NegativeDeltasClamped.Inc()
	}
	e.log.Warn().
		Stringer("account_id", accountID).
		Int64("prev_points", prev.Points).
		Int64("last_points", last.Points).
		Int64("prev_items", prev.Items).
		Int64("last_items", last.Items).
		Msg("cumulative counter decreased, clamping gain to zero")
}

func earliestInRange(ctx context.Context, r SnapshotReader, accountID uuid.UUID, from, to time.Time) (*ledger.DailySnapshot, error) {
	snaps, err := r.ReadRange(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}
