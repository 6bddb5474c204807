package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/period"
	"pointledger/internal/testutil"
	"pointledger/internal/window"
)

func newTestService(t *testing.T) (*Service, *testutil.MemSnapshotStore, *testutil.MemLeaderboardStore) {
	t.Helper()
	snaps := testutil.NewMemSnapshotStore()
	boards := testutil.NewMemLeaderboardStore()
	engine := window.NewEngine(snaps, nil, zerolog.Nop())
	return NewService(engine, boards, zerolog.Nop()), snaps, boards
}

func publish(t *testing.T, boards *testutil.MemLeaderboardStore, kind period.Kind, id string) {
	t.Helper()
	p, err := period.Parse(kind, id)
	if err != nil {
		t.Fatalf("parse period %q: %v", id, err)
	}
	err = boards.Replace(context.Background(), ledger.LeaderboardSnapshot{
		PeriodKind:  string(kind),
		PeriodID:    p.ID,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
}

// ============================================================
// Series
// ============================================================

func TestWindowSeriesLength(t *testing.T) {
	svc, snaps, _ := newTestService(t)

	id := uuid.New()
	now := time.Now().UTC()
	snaps.Put(id, period.DayKey(now.AddDate(0, 0, -3)), 10, 0)
	snaps.Put(id, period.DayKey(now.AddDate(0, 0, -1)), 30, 0)

	points, err := svc.WindowSeries(context.Background(), id, 7)
	if err != nil {
		t.Fatalf("WindowSeries: %v", err)
	}
	if len(points) != 7 {
		t.Fatalf("len = %d, want 7", len(points))
	}
	if points[6].Day != period.DayKey(now) {
		t.Errorf("last day = %s, want today", points[6].Day)
	}

	// The day before yesterday gained 20 over the day three back.
	if points[5].PointsGained != 20 {
		t.Errorf("gained = %d, want 20", points[5].PointsGained)
	}
	// Today has no snapshot yet, so it renders as a gap.
	if !points[6].Gap {
		t.Error("today should be a gap before sampling")
	}
}

func TestDayGain(t *testing.T) {
	svc, snaps, _ := newTestService(t)

	id := uuid.New()
	snaps.Put(id, "2025-10-01", 100, 5)
	snaps.Put(id, "2025-10-04", 150, 7)

	point, err := svc.DayGain(context.Background(), id, "2025-10-06")
	if err != nil {
		t.Fatalf("DayGain: %v", err)
	}
	if point.PointsGained != 50 || point.ItemsGained != 2 {
		t.Errorf("point = %+v, want gains {50 2}", point)
	}

	if _, err := svc.DayGain(context.Background(), id, "not-a-day"); !errors.Is(err, ledger.ErrInvalidPeriod) {
		t.Errorf("bad day: err = %v, want ErrInvalidPeriod", err)
	}
}

func TestWindowSeriesRejectsBadRange(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, days := range []int{0, -1, 367} {
		if _, err := svc.WindowSeries(context.Background(), uuid.New(), days); !errors.Is(err, ledger.ErrInvalidPeriod) {
			t.Errorf("days=%d: err = %v, want ErrInvalidPeriod", days, err)
		}
	}
}

// ============================================================
// Leaderboard lookups
// ============================================================

func TestLeaderboardExactLookup(t *testing.T) {
	svc, _, boards := newTestService(t)
	publish(t, boards, period.KindWeek, "2025-W41")

	snap, err := svc.Leaderboard(context.Background(), "week", "2025-W41")
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if snap.PeriodID != "2025-W41" {
		t.Errorf("period = %q", snap.PeriodID)
	}
}

func TestLeaderboardValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Leaderboard(context.Background(), "fortnight", "2025-W41"); !errors.Is(err, ledger.ErrInvalidPeriod) {
		t.Errorf("bad kind: err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := svc.Leaderboard(context.Background(), "week", "2025-10-04"); !errors.Is(err, ledger.ErrInvalidPeriod) {
		t.Errorf("mismatched id: err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := svc.Leaderboard(context.Background(), "week", "2025-W41"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing board: err = %v, want ErrNotFound", err)
	}
}

func TestLatestCompletedSkipsCurrentPeriod(t *testing.T) {
	svc, _, boards := newTestService(t)

	now := time.Now().UTC()
	current := period.Containing(period.KindWeek, now)
	previous := period.Previous(current)

	// A preview board for the running week must not win over the board
	// of the last completed week.
	publish(t, boards, period.KindWeek, current.ID)
	publish(t, boards, period.KindWeek, previous.ID)

	snap, err := svc.LatestCompletedLeaderboard(context.Background(), "week")
	if err != nil {
		t.Fatalf("LatestCompletedLeaderboard: %v", err)
	}
	if snap.PeriodID != previous.ID {
		t.Errorf("period = %q, want %q", snap.PeriodID, previous.ID)
	}
}

func TestLatestCompletedWalksBack(t *testing.T) {
	svc, _, boards := newTestService(t)

	now := time.Now().UTC()
	p := period.Previous(period.Containing(period.KindMonth, now))
	for i := 0; i < 4; i++ {
		p = period.Previous(p)
	}
	publish(t, boards, period.KindMonth, p.ID)

	snap, err := svc.LatestCompletedLeaderboard(context.Background(), "month")
	if err != nil {
		t.Fatalf("LatestCompletedLeaderboard: %v", err)
	}
	if snap.PeriodID != p.ID {
		t.Errorf("period = %q, want %q", snap.PeriodID, p.ID)
	}
}

func TestLatestCompletedGivesUpEventually(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.LatestCompletedLeaderboard(context.Background(), "day"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
