// Package query is the read side: chart series and leaderboard lookups
// served from derived data, never recomputing on the request path beyond
// the per-day window reconstruction.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/period"
	"pointledger/internal/window"
)

// Leaderboards reads published boards.
type Leaderboards interface {
	Get(ctx context.Context, kind, periodID string) (*ledger.LeaderboardSnapshot, error)
}

// maxLatestWalk bounds how many periods back the latest-board lookup
// probes before concluding nothing has ever been published.
const maxLatestWalk = 36

// Service answers read queries.
type Service struct {
	engine *window.Engine
	boards Leaderboards
	log    zerolog.Logger
}

func NewService(engine *window.Engine, boards Leaderboards, log zerolog.Logger) *Service {
	return &Service{engine: engine, boards: boards, log: log}
}

// SeriesPoint is one chart day.
type SeriesPoint struct {
	Day          string `json:"day"`
	PointsGained int64  `json:"points_gained"`
	ItemsGained  int64  `json:"items_gained"`
	Gap          bool   `json:"gap,omitempty"`
}

// WindowSeries reconstructs the last `days` days of gains ending today.
func (s *Service) WindowSeries(ctx context.Context, accountID uuid.UUID, days int) ([]SeriesPoint, error) {
	if days < 1 || days > 366 {
		return nil, fmt.Errorf("days %d out of range [1, 366]: %w", days, ledger.ErrInvalidPeriod)
	}

	to := period.Day(time.Now().UTC())
	from := to.AddDate(0, 0, -(days - 1))

	points, err := s.engine.Series(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]SeriesPoint, len(points))
	for i, p := range points {
		out[i] = SeriesPoint{
			Day:          p.Label,
			PointsGained: p.Gained.Points,
			ItemsGained:  p.Gained.Items,
			Gap:          p.Gap,
		}
	}
	return out, nil
}

// DayGain returns the gain attributed to one calendar day under the
// nearest-snapshot rule.
func (s *Service) DayGain(ctx context.Context, accountID uuid.UUID, dayKey string) (SeriesPoint, error) {
	day, err := period.ParseDay(dayKey)
	if err != nil {
		return SeriesPoint{}, err
	}
	gained, err := s.engine.DayGain(ctx, accountID, day)
	if err != nil {
		return SeriesPoint{}, err
	}
	return SeriesPoint{
		Day:          period.DayKey(day),
		PointsGained: gained.Points,
		ItemsGained:  gained.Items,
	}, nil
}

// Leaderboard returns the published board for an exact period id.
func (s *Service) Leaderboard(ctx context.Context, kindStr, periodID string) (*ledger.LeaderboardSnapshot, error) {
	kind, err := period.ParseKind(kindStr)
	if err != nil {
		return nil, err
	}
	if _, err := period.Parse(kind, periodID); err != nil {
		return nil, err
	}
	return s.boards.Get(ctx, string(kind), periodID)
}

// LatestCompletedLeaderboard returns the most recent published board for
// a fully elapsed period, walking backwards from the period before the
// current one. Boards for the in-progress period are previews and are
// deliberately skipped.
func (s *Service) LatestCompletedLeaderboard(ctx context.Context, kindStr string) (*ledger.LeaderboardSnapshot, error) {
	kind, err := period.ParseKind(kindStr)
	if err != nil {
		return nil, err
	}

	p := period.Previous(period.Containing(kind, time.Now().UTC()))
	for i := 0; i < maxLatestWalk; i++ {
		snap, err := s.boards.Get(ctx, string(kind), p.ID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
		p = period.Previous(p)
	}

	s.log.Debug().
		Str("kind", string(kind)).
		Int("walked", maxLatestWalk).
		Msg("no completed leaderboard found")
	return nil, ledger.ErrNotFound
}
