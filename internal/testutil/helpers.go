// Package testutil provides in-memory store fakes shared by package
// tests. They implement the same contracts as the Postgres stores in
// internal/persistence, including overwrite-vs-merge snapshot writes.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pointledger/internal/ledger"
	"pointledger/internal/period"
)

// MemCounterStore is an in-memory CounterStore with the same atomic
// increment contract as the Postgres implementation.
type MemCounterStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*ledger.Account

	// FailList forces ListAccounts to return this error when set.
	FailList error
}

func NewMemCounterStore() *MemCounterStore {
	return &MemCounterStore{accounts: make(map[uuid.UUID]*ledger.Account)}
}

func (m *MemCounterStore) Increment(
	ctx context.Context,
	accountID uuid.UUID,
	displayName string,
	delta ledger.Counters,
) (ledger.Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		a = &ledger.Account{ID: accountID, CreatedAt: time.Now().UTC()}
		m.accounts[accountID] = a
	}
	if displayName != "" {
		a.DisplayName = displayName
	}
	a.Counters.Points += delta.Points
	if a.Counters.Points < 0 {
		a.Counters.Points = 0
	}
	a.Counters.Items += delta.Items
	if a.Counters.Items < 0 {
		a.Counters.Items = 0
	}
	a.UpdatedAt = time.Now().UTC()
	return a.Counters, nil
}

func (m *MemCounterStore) GetAccount(ctx context.Context, accountID uuid.UUID) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemCounterStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList != nil {
		return nil, m.FailList
	}
	out := make([]ledger.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// Seed inserts an account with fixed counters.
func (m *MemCounterStore) Seed(accountID uuid.UUID, displayName string, c ledger.Counters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountID] = &ledger.Account{
		ID:          accountID,
		DisplayName: displayName,
		Counters:    c,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
}

// MemSnapshotStore is an in-memory SnapshotStore.
type MemSnapshotStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]map[string]ledger.DailySnapshot

	// FailFor makes every read for the given account fail with
	// ledger.ErrStoreUnavailable, for fail-soft tests.
	FailFor map[uuid.UUID]bool

	// Writes counts individual rows written, Batches counts batch calls.
	Writes  int
	Batches int
}

func NewMemSnapshotStore() *MemSnapshotStore {
	return &MemSnapshotStore{
		rows:    make(map[uuid.UUID]map[string]ledger.DailySnapshot),
		FailFor: make(map[uuid.UUID]bool),
	}
}

// Put stores a snapshot directly, bypassing write accounting.
func (m *MemSnapshotStore) Put(accountID uuid.UUID, day string, points, items int64) {
	d, err := period.ParseDay(day)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[accountID] == nil {
		m.rows[accountID] = make(map[string]ledger.DailySnapshot)
	}
	m.rows[accountID][day] = ledger.DailySnapshot{
		AccountID: accountID,
		Day:       d,
		Counters:  ledger.Counters{Points: points, Items: items},
		WrittenAt: time.Now().UTC(),
	}
}

// Get returns the stored snapshot for a day, if any.
func (m *MemSnapshotStore) Get(accountID uuid.UUID, day string) (ledger.DailySnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[accountID][day]
	return s, ok
}

func (m *MemSnapshotStore) WriteSnapshot(ctx context.Context, snap ledger.DailySnapshot) error {
	return m.write([]ledger.DailySnapshot{snap}, false)
}

func (m *MemSnapshotStore) WriteBatch(ctx context.Context, snaps []ledger.DailySnapshot) error {
	return m.write(snaps, false)
}

func (m *MemSnapshotStore) MergeBatch(ctx context.Context, snaps []ledger.DailySnapshot) error {
	return m.write(snaps, true)
}

func (m *MemSnapshotStore) write(snaps []ledger.DailySnapshot, merge bool) error {
	if len(snaps) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches++
	for _, s := range snaps {
		key := period.DayKey(s.Day)
		if m.rows[s.AccountID] == nil {
			m.rows[s.AccountID] = make(map[string]ledger.DailySnapshot)
		}
		if merge {
			if old, ok := m.rows[s.AccountID][key]; ok {
				if old.Counters.Points >= s.Counters.Points && old.Counters.Items >= s.Counters.Items {
					continue
				}
				if old.Counters.Points > s.Counters.Points {
					s.Counters.Points = old.Counters.Points
				}
				if old.Counters.Items > s.Counters.Items {
					s.Counters.Items = old.Counters.Items
				}
			}
		}
		s.Day = period.Day(s.Day)
		s.WrittenAt = time.Now().UTC()
		m.rows[s.AccountID][key] = s
		m.Writes++
	}
	return nil
}

func (m *MemSnapshotStore) ReadSnapshot(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[accountID] {
		return nil, ledger.StoreUnavailable("read snapshot", context.DeadlineExceeded)
	}
	s, ok := m.rows[accountID][period.DayKey(day)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemSnapshotStore) ReadLastBeforeOrAt(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error) {
	return m.nearest(accountID, day, true)
}

func (m *MemSnapshotStore) ReadLastBefore(ctx context.Context, accountID uuid.UUID, day time.Time) (*ledger.DailySnapshot, error) {
	return m.nearest(accountID, day, false)
}

func (m *MemSnapshotStore) nearest(accountID uuid.UUID, day time.Time, inclusive bool) (*ledger.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[accountID] {
		return nil, ledger.StoreUnavailable("read snapshot", context.DeadlineExceeded)
	}
	limit := period.DayKey(day)
	var best *ledger.DailySnapshot
	for key, s := range m.rows[accountID] {
		if key > limit || (!inclusive && key == limit) {
			continue
		}
		if best == nil || period.DayKey(best.Day) < key {
			cp := s
			best = &cp
		}
	}
	return best, nil
}

func (m *MemSnapshotStore) ReadRange(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]ledger.DailySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[accountID] {
		return nil, ledger.StoreUnavailable("read snapshot range", context.DeadlineExceeded)
	}
	lo, hi := period.DayKey(from), period.DayKey(to)
	var out []ledger.DailySnapshot
	for key, s := range m.rows[accountID] {
		if key >= lo && key <= hi {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// MemLeaderboardStore is an in-memory LeaderboardStore.
type MemLeaderboardStore struct {
	mu    sync.Mutex
	snaps map[string]ledger.LeaderboardSnapshot

	// FailReplace forces Replace to return this error when set.
	FailReplace error
}

func NewMemLeaderboardStore() *MemLeaderboardStore {
	return &MemLeaderboardStore{snaps: make(map[string]ledger.LeaderboardSnapshot)}
}

func (m *MemLeaderboardStore) Replace(ctx context.Context, snap ledger.LeaderboardSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReplace != nil {
		return m.FailReplace
	}
	m.snaps[snap.PeriodKind+"/"+snap.PeriodID] = snap
	return nil
}

func (m *MemLeaderboardStore) Get(ctx context.Context, kind, periodID string) (*ledger.LeaderboardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[kind+"/"+periodID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := snap
	cp.Entries = append([]ledger.LeaderboardEntry(nil), snap.Entries...)
	return &cp, nil
}
