// Package server exposes the admin HTTP API: manual cycle triggers, run
// reports, change listings, and validation sign-off for critical changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/normwatch/normwatch-oss/pkg/domain"
	"github.com/normwatch/normwatch-oss/pkg/escalate"
	"github.com/normwatch/normwatch-oss/pkg/ledger"
	"github.com/normwatch/normwatch-oss/pkg/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	defaultRunsLimit  = 20
	maxRunsLimit      = 200
)

// CycleTrigger starts a monitoring cycle on demand.
type CycleTrigger interface {
	RunCycleNow(ctx context.Context) (*domain.MonitoringRun, error)
}

// Config holds dependencies for creating a Server.
type Config struct {
	ListenAddress string
	Trigger       CycleTrigger
	Ledger        *ledger.Ledger
	Gate          *escalate.Gate
	Runs          domain.RunStore
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
}

// New creates a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the admin API handler with tracing middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/cycles", s.handleTriggerCycle)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/changes", s.handleListChanges)
	mux.HandleFunc("GET /v1/changes/{id}", s.handleGetChange)
	mux.HandleFunc("POST /v1/changes/{id}/validation", s.handleRecordValidation)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	}

	return otelhttp.NewHandler(mux, "normwatch.admin")
}

// ListenAndServe runs the server until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin server listening", "address", s.cfg.ListenAddress)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Trigger.RunCycleNow(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{
				Code:    "BAD_REQUEST",
				Message: fmt.Sprintf("invalid limit %q", raw),
				TraceID: traceID(r.Context()),
			})
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.cfg.Runs.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.cfg.Runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	state := domain.ChangeState(strings.TrimSpace(r.URL.Query().Get("state")))
	changes, err := s.cfg.Ledger.List(r.Context(), state)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleGetChange(w http.ResponseWriter, r *http.Request) {
	change, err := s.cfg.Ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, change)
}

type validationRequest struct {
	ValidatedBy string `json:"validatedBy"`
}

// handleRecordValidation records a human sign-off on a critical change and,
// once recorded, releases it through to Communicated.
func (s *Server) handleRecordValidation(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ValidatedBy) == "" {
		s.writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{
			Code:    "BAD_REQUEST",
			Message: "body must carry a non-empty validatedBy",
			TraceID: traceID(r.Context()),
		})
		return
	}

	id := r.PathValue("id")
	if err := s.cfg.Gate.RecordValidation(r.Context(), id, req.ValidatedBy); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Ledger.MarkCommunicated(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	change, err := s.cfg.Ledger.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, change)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConcurrentRunRejected):
		status, code = http.StatusConflict, "CONCURRENT_RUN_REJECTED"
	case errors.Is(err, domain.ErrValidationPending):
		status, code = http.StatusConflict, "VALIDATION_PENDING"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	}

	var derr *domain.DomainError
	if errors.As(err, &derr) && derr.Code != "" {
		code = derr.Code
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("admin request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, domain.ErrorResponse{
		Code:    code,
		Message: err.Error(),
		TraceID: traceID(r.Context()),
	})
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
