package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/backfill"
	"pointledger/internal/leaderboard"
	"pointledger/internal/ledger"
	"pointledger/internal/observability"
	"pointledger/internal/period"
	"pointledger/internal/query"
	"pointledger/internal/sampler"
	"pointledger/internal/testutil"
	"pointledger/internal/window"
)

type fixture struct {
	srv      *Server
	counters *testutil.MemCounterStore
	snaps    *testutil.MemSnapshotStore
	boards   *testutil.MemLeaderboardStore
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	counters := testutil.NewMemCounterStore()
	snaps := testutil.NewMemSnapshotStore()
	boards := testutil.NewMemLeaderboardStore()

	engine := window.NewEngine(snaps, nil, zerolog.Nop())
	builder := leaderboard.NewBuilder(counters, engine, boards, nil, zerolog.Nop(), 2, time.Second, 10)
	tool := backfill.NewTool(counters, snaps, nil, zerolog.Nop(), 400)
	smp := sampler.New(counters, snaps, nil, zerolog.Nop(), time.Hour, 400)
	queries := query.NewService(engine, boards, zerolog.Nop())

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := New(queries, builder, tool, smp, health, nil, zerolog.Nop(), token)
	return &fixture{srv: srv, counters: counters, snaps: snaps, boards: boards}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Operator-Token", token)
	}
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	return w
}

// ============================================================
// Read endpoints
// ============================================================

func TestSeriesEndpoint(t *testing.T) {
	f := newFixture(t, "")

	id := uuid.New()
	now := time.Now().UTC()
	f.snaps.Put(id, period.DayKey(now.AddDate(0, 0, -2)), 10, 0)
	f.snaps.Put(id, period.DayKey(now.AddDate(0, 0, -1)), 25, 0)

	w := f.do(t, http.MethodGet, "/v1/accounts/"+id.String()+"/series?days=7", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Days   int                 `json:"days"`
		Series []query.SeriesPoint `json:"series"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Days != 7 || len(resp.Series) != 7 {
		t.Fatalf("days = %d, series len = %d, want 7", resp.Days, len(resp.Series))
	}
	if resp.Series[5].PointsGained != 15 {
		t.Errorf("yesterday gained = %d, want 15", resp.Series[5].PointsGained)
	}
}

func TestDayGainEndpoint(t *testing.T) {
	f := newFixture(t, "")

	id := uuid.New()
	f.snaps.Put(id, "2025-10-01", 100, 5)
	f.snaps.Put(id, "2025-10-04", 150, 7)

	w := f.do(t, http.MethodGet, "/v1/accounts/"+id.String()+"/gains/2025-10-06", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var point query.SeriesPoint
	if err := json.Unmarshal(w.Body.Bytes(), &point); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if point.PointsGained != 50 {
		t.Errorf("gained = %d, want 50", point.PointsGained)
	}

	if w := f.do(t, http.MethodGet, "/v1/accounts/"+id.String()+"/gains/garbage", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad day: status = %d, want 400", w.Code)
	}
}

func TestSeriesEndpointRejectsBadInput(t *testing.T) {
	f := newFixture(t, "")

	if w := f.do(t, http.MethodGet, "/v1/accounts/not-a-uuid/series", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad uuid: status = %d, want 400", w.Code)
	}
	id := uuid.New().String()
	if w := f.do(t, http.MethodGet, "/v1/accounts/"+id+"/series?days=abc", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad days: status = %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/accounts/"+id+"/series?days=9999", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("days out of range: status = %d, want 400", w.Code)
	}
}

func TestLeaderboardEndpointErrorMapping(t *testing.T) {
	f := newFixture(t, "")

	if w := f.do(t, http.MethodGet, "/v1/leaderboards/week/2025-W41", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing board: status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/leaderboards/week/garbage", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad period: status = %d, want 400", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/v1/leaderboards/fortnight/2025-W41", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad kind: status = %d, want 400", w.Code)
	}
}

func TestLatestRouteBeatsPeriodRoute(t *testing.T) {
	f := newFixture(t, "")

	p := period.Previous(period.Containing(period.KindWeek, time.Now().UTC()))
	if err := f.boards.Replace(context.Background(), ledger.LeaderboardSnapshot{
		PeriodKind: "week", PeriodID: p.ID, PeriodStart: p.Start, PeriodEnd: p.End,
		GeneratedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	w := f.do(t, http.MethodGet, "/v1/leaderboards/week/latest", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var snap ledger.LeaderboardSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.PeriodID != p.ID {
		t.Errorf("period = %q, want %q", snap.PeriodID, p.ID)
	}
}

// ============================================================
// Operator endpoints
// ============================================================

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t, "secret")

	if w := f.do(t, http.MethodPost, "/v1/admin/sample", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/admin/sample", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/admin/sample", "secret", ""); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	f := newFixture(t, "")

	if w := f.do(t, http.MethodPost, "/v1/admin/sample", "anything", ""); w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no token is configured", w.Code)
	}
}

func TestAdminAggregate(t *testing.T) {
	f := newFixture(t, "secret")

	id := uuid.New()
	f.counters.Seed(id, "Alice", ledger.Counters{Points: 30})
	f.snaps.Put(id, "2025-10-01", 10, 0)
	f.snaps.Put(id, "2025-10-08", 30, 0)

	w := f.do(t, http.MethodPost, "/v1/admin/aggregate", "secret",
		`{"kind": "week", "period_id": "2025-W41"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if g := f.do(t, http.MethodGet, "/v1/leaderboards/week/2025-W41", "", ""); g.Code != http.StatusOK {
		t.Fatalf("board not readable after aggregate: %d", g.Code)
	}
}

func TestAdminBackfill(t *testing.T) {
	f := newFixture(t, "secret")

	id := uuid.New()
	f.counters.Seed(id, "Alice", ledger.Counters{Points: 10})
	f.snaps.Put(id, period.DayKey(time.Now().UTC().AddDate(0, 0, -3)), 10, 0)

	w := f.do(t, http.MethodPost, "/v1/admin/backfill", "secret",
		`{"account_id": "`+id.String()+`", "lookback_days": 5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		RowsWritten int `json:"rows_written"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RowsWritten != 3 {
		t.Errorf("rows written = %d, want 3", resp.RowsWritten)
	}

	if w := f.do(t, http.MethodPost, "/v1/admin/backfill", "secret", `{"lookback_days": 0}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad lookback: status = %d, want 400", w.Code)
	}
}
