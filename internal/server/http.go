// Package server exposes the read API and operator endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"pointledger/internal/backfill"
	"pointledger/internal/leaderboard"
	"pointledger/internal/ledger"
	"pointledger/internal/observability"
	"pointledger/internal/period"
	"pointledger/internal/query"
	"pointledger/internal/sampler"
)

const defaultSeriesDays = 30

// Server wires query and operator handlers onto a mux router.
type Server struct {
	queries  *query.Service
	builder  *leaderboard.Builder
	backfill *backfill.Tool
	sampler  *sampler.Sampler
	health   *observability.HealthChecker
	metrics  *observability.Metrics
	log      zerolog.Logger

	// operatorToken guards the admin endpoints. Empty disables them.
	operatorToken string
}

func New(
	queries *query.Service,
	builder *leaderboard.Builder,
	backfillTool *backfill.Tool,
	smp *sampler.Sampler,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
	operatorToken string,
) *Server {
	return &Server{
		queries:       queries,
		builder:       builder,
		backfill:      backfillTool,
		sampler:       smp,
		health:        health,
		metrics:       metrics,
		log:           log,
		operatorToken: operatorToken,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/accounts/{id}/series", s.handleSeries).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/gains/{day}", s.handleDayGain).Methods(http.MethodGet)
	// "latest" must be registered before the generic period route.
	v1.HandleFunc("/leaderboards/{kind}/latest", s.handleLatestLeaderboard).Methods(http.MethodGet)
	v1.HandleFunc("/leaderboards/{kind}/{period}", s.handleLeaderboard).Methods(http.MethodGet)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireOperator)
	admin.HandleFunc("/aggregate", s.handleAggregate).Methods(http.MethodPost)
	admin.HandleFunc("/backfill", s.handleBackfill).Methods(http.MethodPost)
	admin.HandleFunc("/sample", s.handleSample).Methods(http.MethodPost)

	return r
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.operatorToken == "" {
			s.writeError(w, http.StatusForbidden, "operator endpoints disabled")
			return
		}
		if r.Header.Get("X-Operator-Token") != s.operatorToken {
			s.writeError(w, http.StatusUnauthorized, "invalid operator token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "series"
	start := time.Now()

	accountID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	days := defaultSeriesDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			s.observe(endpoint, "bad_request", start)
			s.writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
	}

	points, err := s.queries.WindowSeries(r.Context(), accountID, days)
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"days":       days,
		"series":     points,
	})
}

func (s *Server) handleDayGain(w http.ResponseWriter, r *http.Request) {
	const endpoint = "day_gain"
	start := time.Now()
	vars := mux.Vars(r)

	accountID, err := uuid.Parse(vars["id"])
	if err != nil {
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	point, err := s.queries.DayGain(r.Context(), accountID, vars["day"])
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, point)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const endpoint = "leaderboard"
	start := time.Now()
	vars := mux.Vars(r)

	snap, err := s.queries.Leaderboard(r.Context(), vars["kind"], vars["period"])
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLatestLeaderboard(w http.ResponseWriter, r *http.Request) {
	const endpoint = "leaderboard_latest"
	start := time.Now()

	snap, err := s.queries.LatestCompletedLeaderboard(r.Context(), mux.Vars(r)["kind"])
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, snap)
}

type aggregateRequest struct {
	Kind     string `json:"kind"`
	PeriodID string `json:"period_id"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	const endpoint = "admin_aggregate"
	start := time.Now()

	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := period.ParseKind(req.Kind)
	if err != nil {
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, "kind must be day, week or month")
		return
	}

	sum, err := s.builder.Build(r.Context(), kind, req.PeriodID, time.Now().UTC())
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"period_kind":     sum.PeriodKind,
		"period_id":       sum.PeriodID,
		"accounts":        sum.Accounts,
		"failed_accounts": sum.FailedAccounts,
		"entries":         sum.Entries,
	})
}

type backfillRequest struct {
	AccountID    string `json:"account_id"`
	LookbackDays int    `json:"lookback_days"`
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	const endpoint = "admin_backfill"
	start := time.Now()

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LookbackDays < 1 || req.LookbackDays > 366 {
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, "lookback_days must be in [1, 366]")
		return
	}

	var target *uuid.UUID
	if req.AccountID != "" {
		id, err := uuid.Parse(req.AccountID)
		if err != nil {
			s.observe(endpoint, "bad_request", start)
			s.writeError(w, http.StatusBadRequest, "invalid account_id")
			return
		}
		target = &id
	}

	to := period.Day(time.Now().UTC())
	from := to.AddDate(0, 0, -(req.LookbackDays - 1))
	report, err := s.backfill.Run(r.Context(), target, from, to)
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"accounts_processed": report.AccountsProcessed,
		"rows_written":       report.RowsWritten,
		"rows_repaired":      report.RowsRepaired,
		"batches_flushed":    report.BatchesFlushed,
	})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	const endpoint = "admin_sample"
	start := time.Now()

	n, err := s.sampler.SampleAll(r.Context(), time.Now().UTC())
	if err != nil {
		s.respondError(w, endpoint, start, err)
		return
	}

	s.observe(endpoint, "ok", start)
	s.writeJSON(w, http.StatusOK, map[string]any{"accounts_sampled": n})
}

// respondError maps domain errors onto HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, endpoint string, start time.Time, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidPeriod):
		s.observe(endpoint, "bad_request", start)
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		s.observe(endpoint, "not_found", start)
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ledger.ErrStoreUnavailable):
		s.observe(endpoint, "unavailable", start)
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.observe(endpoint, "error", start)
		s.log.Error().Str("endpoint", endpoint).Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) observe(endpoint, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if status != "ok" {
		s.metrics.QueryErrors.WithLabelValues(endpoint, status).Inc()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the HTTP server until the context is canceled,
// then drains with a shutdown grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
