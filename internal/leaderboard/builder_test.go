package leaderboard

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

func newTestBuilder(t *testing.T, topN int) (*Builder, *testutil.MemCounterStore, *testutil.MemSnapshotStore, *testutil.MemLeaderboardStore) {
	t.Helper()
	counters := testutil.NewMemCounterStore()
	snaps := testutil.NewMemSnapshotStore()
	boards := testutil.NewMemLeaderboardStore()
	engine := window.NewEngine(snaps, nil, zerolog.Nop())
	b := NewBuilder(counters, engine, boards, nil, zerolog.Nop(), 4, time.Second, topN)
	return b, counters, snaps, boards
}

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

// ============================================================
// Ranking
// ============================================================

func TestBuildRanksByPointsGained(t *testing.T) {
	b, counters, snaps, boards := newTestBuilder(t, 10)

	alice := mustUUID(t, "11111111-1111-1111-1111-111111111111")
	bob := mustUUID(t, "22222222-2222-2222-2222-222222222222")

	counters.Seed(alice, "Alice Anders", ledger.Counters{Points: 170, Items: 9})
	counters.Seed(bob, "Bob Brown", ledger.Counters{Points: 500, Items: 3})

	// Alice gained 70 in the window, Bob only 20 despite the larger total.
	snaps.Put(alice, "2025-10-01", 100, 5)
	snaps.Put(alice, "2025-10-08", 170, 9)
	snaps.Put(bob, "2025-10-01", 480, 3)
	snaps.Put(bob, "2025-10-08", 500, 3)

	sum, err := b.Build(context.Background(), period.KindWeek, "2025-W41", time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.Entries != 2 {
		t.Fatalf("entries = %d, want 2", sum.Entries)
	}

	snap, err := boards.Get(context.Background(), "week", "2025-W41")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Entries[0].AccountID != alice {
		t.Errorf("rank 1 = %s, want alice", snap.Entries[0].AccountID)
	}
	if snap.Entries[0].PointsGained != 70 {
		t.Errorf("rank 1 gained = %d, want 70", snap.Entries[0].PointsGained)
	}
	if snap.Entries[0].Rank != 1 || snap.Entries[1].Rank != 2 {
		t.Errorf("ranks = %d,%d, want 1,2", snap.Entries[0].Rank, snap.Entries[1].Rank)
	}
	if snap.Entries[0].Initials != "AA" {
		t.Errorf("initials = %q, want AA", snap.Entries[0].Initials)
	}
	if snap.Entries[1].PointsTotal != 500 {
		t.Errorf("rank 2 total = %d, want 500", snap.Entries[1].PointsTotal)
	}
}

func TestBuildTieBreakIsDeterministic(t *testing.T) {
	b, counters, snaps, boards := newTestBuilder(t, 10)

	lo := mustUUID(t, "11111111-0000-0000-0000-000000000000")
	hi := mustUUID(t, "99999999-0000-0000-0000-000000000000")

	counters.Seed(hi, "Hi", ledger.Counters{Points: 50})
	counters.Seed(lo, "Lo", ledger.Counters{Points: 50})
	for _, id := range []uuid.UUID{lo, hi} {
		snaps.Put(id, "2025-10-01", 20, 0)
		snaps.Put(id, "2025-10-05", 50, 0)
	}

	for i := 0; i < 3; i++ {
		_, err := b.Build(context.Background(), period.KindWeek, "2025-W40", time.Now())
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		snap, err := boards.Get(context.Background(), "week", "2025-W40")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if snap.Entries[0].AccountID != lo {
			t.Fatalf("rank 1 = %s, want lower uuid on equal gain", snap.Entries[0].AccountID)
		}
	}
}

func TestBuildTruncatesToTopN(t *testing.T) {
	b, counters, snaps, boards := newTestBuilder(t, 2)

	ids := []string{
		"11111111-0000-0000-0000-000000000000",
		"22222222-0000-0000-0000-000000000000",
		"33333333-0000-0000-0000-000000000000",
		"44444444-0000-0000-0000-000000000000",
	}
	for i, s := range ids {
		id := mustUUID(t, s)
		counters.Seed(id, "User", ledger.Counters{Points: int64(100 * (i + 1))})
		snaps.Put(id, "2025-10-01", 0, 0)
		snaps.Put(id, "2025-10-05", int64(100*(i+1)), 0)
	}

	sum, err := b.Build(context.Background(), period.KindWeek, "2025-W40", time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.Entries != 2 {
		t.Fatalf("entries = %d, want 2", sum.Entries)
	}
	snap, _ := boards.Get(context.Background(), "week", "2025-W40")
	if snap.Entries[0].PointsGained != 400 || snap.Entries[1].PointsGained != 300 {
		t.Errorf("top gains = %d,%d, want 400,300",
			snap.Entries[0].PointsGained, snap.Entries[1].PointsGained)
	}
}

func TestBuildIncludesZeroGainAccounts(t *testing.T) {
	b, counters, snaps, boards := newTestBuilder(t, 10)

	idle := mustUUID(t, "aaaaaaaa-0000-0000-0000-000000000000")
	counters.Seed(idle, "Idle", ledger.Counters{Points: 40})
	snaps.Put(idle, "2025-09-01", 40, 0)
	snaps.Put(idle, "2025-10-08", 40, 0)

	if _, err := b.Build(context.Background(), period.KindWeek, "2025-W41", time.Now()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap, err := boards.Get(context.Background(), "week", "2025-W41")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].PointsGained != 0 {
		t.Fatalf("entries = %+v, want one zero-gain entry", snap.Entries)
	}
	if snap.Entries[0].PointsTotal != 40 {
		t.Errorf("total = %d, want 40", snap.Entries[0].PointsTotal)
	}
}

// ============================================================
// Fail-soft and atomicity
// ============================================================

func TestBuildSkipsFailingAccounts(t *testing.T) {
	b, counters, snaps, boards := newTestBuilder(t, 10)

	good := mustUUID(t, "11111111-0000-0000-0000-000000000000")
	bad := mustUUID(t, "22222222-0000-0000-0000-000000000000")

	counters.Seed(good, "Good", ledger.Counters{Points: 30})
	counters.Seed(bad, "Bad", ledger.Counters{Points: 999})
	snaps.Put(good, "2025-10-01", 10, 0)
	snaps.Put(good, "2025-10-05", 30, 0)
	snaps.FailFor[bad] = true

	sum, err := b.Build(context.Background(), period.KindWeek, "2025-W40", time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.FailedAccounts != 1 {
		t.Errorf("failed = %d, want 1", sum.FailedAccounts)
	}
	snap, err := boards.Get(context.Background(), "week", "2025-W40")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].AccountID != good {
		t.Fatalf("entries = %+v, want only the healthy account", snap.Entries)
	}
}

func TestBuildPublishesNothingOnListFailure(t *testing.T) {
	b, counters, _, boards := newTestBuilder(t, 10)
	counters.FailList = errors.New("connection refused")

	_, err := b.Build(context.Background(), period.KindWeek, "2025-W41", time.Now())
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := boards.Get(context.Background(), "week", "2025-W41"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("board exists after failed build")
	}
}

func TestBuildRejectsMalformedPeriodID(t *testing.T) {
	b, _, _, _ := newTestBuilder(t, 10)

	_, err := b.Build(context.Background(), period.KindWeek, "2025-10", time.Now())
	if !errors.Is(err, ledger.ErrInvalidPeriod) {
		t.Fatalf("err = %v, want ErrInvalidPeriod", err)
	}
}

func TestBuildDefaultsToCurrentPeriod(t *testing.T) {
	b, counters, snaps, boards := newTestBuilder(t, 10)

	id := mustUUID(t, "11111111-0000-0000-0000-000000000000")
	now := time.Now().UTC()
	today := period.DayKey(now)
	yesterday := period.DayKey(now.AddDate(0, 0, -1))

	counters.Seed(id, "Live", ledger.Counters{Points: 80})
	snaps.Put(id, yesterday, 50, 0)

	sum, err := b.Build(context.Background(), period.KindDay, "", now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.PeriodID != today {
		t.Fatalf("period = %q, want %q", sum.PeriodID, today)
	}

	// Today has no snapshot yet, so the live counters stand in for the
	// window end.
	snap, err := boards.Get(context.Background(), "day", today)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].PointsGained != 30 {
		t.Fatalf("entries = %+v, want one entry gaining 30", snap.Entries)
	}
}
