// Package leaderboard builds ranked, immutable period snapshots from
// per-account window deltas. A build fans out across all accounts,
// tolerates individual account failures, and publishes the result as a
// single atomic replace so readers never observe a half-built board.
package leaderboard

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pointledger/internal/ledger"
	"pointledger/internal/observability"
	"pointledger/internal/period"
	"pointledger/internal/window"
)

// AccountLister enumerates every tracked account.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

// Store persists finished boards.
type Store interface {
	Replace(ctx context.Context, snap ledger.LeaderboardSnapshot) error
}

// Builder runs aggregation passes over the whole account population.
type Builder struct {
	accounts AccountLister
	engine   *window.Engine
	store    Store
	metrics  *observability.Metrics
	log      zerolog.Logger

	concurrency    int
	accountTimeout time.Duration
	topN           int
}

func NewBuilder(
	accounts AccountLister,
	engine *window.Engine,
	store Store,
	metrics *observability.Metrics,
	log zerolog.Logger,
	concurrency int,
	accountTimeout time.Duration,
	topN int,
) *Builder {
	if concurrency < 1 {
		concurrency = 1
	}
	if topN < 1 {
		topN = 10
	}
	return &Builder{
		accounts:       accounts,
		engine:         engine,
		store:          store,
		metrics:        metrics,
		log:            log,
		concurrency:    concurrency,
		accountTimeout: accountTimeout,
		topN:           topN,
	}
}

// Summary describes a completed build.
type Summary struct {
	PeriodKind     string
	PeriodID       string
	Accounts       int
	FailedAccounts int
	Entries        int
}

// Build aggregates one period and publishes its board. An empty periodID
// selects the period containing now. Per-account errors are logged,
// counted and skipped; the build itself fails only when the account
// listing or the final store write fails, and a failed build publishes
// nothing.
func (b *Builder) Build(ctx context.Context, kind period.Kind, periodID string, now time.Time) (Summary, error) {
	start := time.Now()

	var (
		p   period.Period
		err error
	)
	if periodID == "" {
		p = period.Containing(kind, now)
	} else {
		p, err = period.Parse(kind, periodID)
		if err != nil {
			b.observeRun(kind, "invalid", start)
			return Summary{}, err
		}
	}

	accounts, err := b.accounts.ListAccounts(ctx)
	if err != nil {
		b.observeRun(kind, "error", start)
		return Summary{}, ledger.StoreUnavailable("list accounts", err)
	}

	deltas := make([]*ledger.WindowDelta, len(accounts))
	failed := make([]error, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i := range accounts {
		i := i
		g.Go(func() error {
			acct := accounts[i]
			actx := gctx
			if b.accountTimeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(gctx, b.accountTimeout)
				defer cancel()
			}

			live := acct.Counters
			delta, err := b.engine.BoundaryDelta(actx, acct.ID, p, &live)
			if err != nil {
				failed[i] = &ledger.AccountAggregationError{AccountID: acct.ID, Err: err}
				return nil
			}
			deltas[i] = &delta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.observeRun(kind, "error", start)
		return Summary{}, err
	}

	failures := 0
	for i, ferr := range failed {
		if ferr == nil {
			continue
		}
		failures++
		if b.metrics != nil {
			b.metrics.BuilderAccountsFailed.Inc()
		}
		b.log.Warn().
			Str("period", p.ID).
			Stringer("account_id", accounts[i].ID).
			Err(ferr).
			Msg("skipping account in aggregation pass")
	}

	entries := b.rank(accounts, deltas)

	snap := ledger.LeaderboardSnapshot{
		PeriodKind:  string(kind),
		PeriodID:    p.ID,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		GeneratedAt: time.Now().UTC(),
		Entries:     entries,
	}
	if err := b.store.Replace(ctx, snap); err != nil {
		b.observeRun(kind, "error", start)
		return Summary{}, err
	}

	b.observeRun(kind, "ok", start)
	if b.metrics != nil {
		b.metrics.BuilderEntries.WithLabelValues(string(kind)).Set(float64(len(entries)))
	}
	b.log.Info().
		Str("period", p.ID).
		Int("accounts", len(accounts)).
		Int("failed", failures).
		Int("entries", len(entries)).
		Dur("took", time.Since(start)).
		Msg("leaderboard published")

	return Summary{
		PeriodKind:     string(kind),
		PeriodID:       p.ID,
		Accounts:       len(accounts),
		FailedAccounts: failures,
		Entries:        len(entries),
	}, nil
}

// rank orders by points gained descending, breaking ties by account ID
// so repeated builds over the same data produce identical boards, then
// truncates to the configured size.
func (b *Builder) rank(accounts []ledger.Account, deltas []*ledger.WindowDelta) []ledger.LeaderboardEntry {
	type scored struct {
		acct  ledger.Account
		delta ledger.WindowDelta
	}
	ranked := make([]scored, 0, len(accounts))
	for i := range accounts {
		if deltas[i] == nil {
			continue
		}
		ranked = append(ranked, scored{acct: accounts[i], delta: *deltas[i]})
	}

	sort.Slice(ranked, func(i, j int) bool {
		pi, pj := ranked[i].delta.Gained.Points, ranked[j].delta.Gained.Points
		if pi != pj {
			return pi > pj
		}
		return ranked[i].acct.ID.String() < ranked[j].acct.ID.String()
	})

	if len(ranked) > b.topN {
		ranked = ranked[:b.topN]
	}

	entries := make([]ledger.LeaderboardEntry, len(ranked))
	for i, s := range ranked {
		entries[i] = ledger.LeaderboardEntry{
			Rank:         i + 1,
			AccountID:    s.acct.ID,
			DisplayName:  s.acct.DisplayName,
			Initials:     ledger.Initials(s.acct.DisplayName),
			PointsGained: s.delta.Gained.Points,
			PointsTotal:  s.delta.TotalAtEnd.Points,
			ItemsGained:  s.delta.Gained.Items,
		}
	}
	return entries
}

func (b *Builder) observeRun(kind period.Kind, status string, start time.Time) {
	if b.metrics == nil {
		return
	}
	b.metrics.BuilderRuns.WithLabelValues(string(kind), status).Inc()
	b.metrics.BuilderDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}
