// Package sampler persists each account's live cumulative counters as
// that day's snapshot. Running more than once per day is harmless; the
// later write overwrites the earlier one with a value at least as large.
package sampler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/observability"
	"pointledger/internal/period"
)

// AccountLister enumerates every tracked account with live counters.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

// SnapshotWriter writes a batch of daily snapshot rows, overwriting any
// existing rows for the same days.
type SnapshotWriter interface {
	WriteBatch(ctx context.Context, snaps []ledger.DailySnapshot) error
}

// Sampler materializes the daily snapshot series.
type Sampler struct {
	accounts  AccountLister
	snapshots SnapshotWriter
	metrics   *observability.Metrics
	log       zerolog.Logger
	interval  time.Duration
	batchSize int
}

func New(
	accounts AccountLister,
	snapshots SnapshotWriter,
	metrics *observability.Metrics,
	log zerolog.Logger,
	interval time.Duration,
	batchSize int,
) *Sampler {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize < 1 {
		batchSize = 400
	}
	return &Sampler{
		accounts:  accounts,
		snapshots: snapshots,
		metrics:   metrics,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// SampleAll writes today's snapshot row for every account. It returns
// the number of accounts sampled.
func (s *Sampler) SampleAll(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	today := period.Day(now)

	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		s.observeRun("error", start)
		return 0, ledger.StoreUnavailable("list accounts", err)
	}

	batch := make([]ledger.DailySnapshot, 0, s.batchSize)
	sampled := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.snapshots.WriteBatch(ctx, batch); err != nil {
			if s.metrics != nil {
				s.metrics.SnapshotWriteErr.Inc()
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.SnapshotWrites.Add(float64(len(batch)))
		}
		sampled += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, a := range accounts {
		batch = append(batch, ledger.DailySnapshot{
			AccountID: a.ID,
			Day:       today,
			Counters:  a.Counters,
		})
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				s.observeRun("error", start)
				return sampled, err
			}
		}
	}
	if err := flush(); err != nil {
		s.observeRun("error", start)
		return sampled, err
	}

	s.observeRun("ok", start)
	if s.metrics != nil {
		s.metrics.SamplerAccounts.Add(float64(sampled))
	}
	s.log.Info().
		Str("day", period.DayKey(today)).
		Int("accounts", sampled).
		Dur("took", time.Since(start)).
		Msg("daily sample written")
	return sampled, nil
}

// Run samples on the configured interval until the context is canceled.
// One sample is taken immediately so a freshly started process does not
// wait a full interval before its first snapshot.
func (s *Sampler) Run(ctx context.Context) {
	if _, err := s.SampleAll(ctx, time.Now()); err != nil {
		s.log.Error().Err(err).Msg("initial sample failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sampler stopped")
			return
		case <-ticker.C:
			if _, err := s.SampleAll(ctx, time.Now()); err != nil {
				s.log.Error().Err(err).Msg("sample failed")
			}
		}
	}
}

func (s *Sampler) observeRun(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SamplerRuns.WithLabelValues(status).Inc()
	s.metrics.SamplerDuration.Observe(time.Since(start).Seconds())
}
