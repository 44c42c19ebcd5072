// Package ops serves the operational HTTP endpoints of the scheduler.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/willemschots/stockdigest/internal"
	"github.com/willemschots/stockdigest/internal/dispatch"
	"github.com/willemschots/stockdigest/internal/schedule"
)

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

// Engine is the part of schedule.Engine the server uses.
type Engine interface {
	Trigger() schedule.Trigger
	State() schedule.State
	Next() time.Time
	TriggerNow(ctx context.Context) (dispatch.Run, error)
}

// RunLister lists recent runs, newest first.
type RunLister interface {
	List(ctx context.Context, limit int) ([]dispatch.Run, error)
}

// ServerDeps are the dependencies for the server.
type ServerDeps struct {
	Logger *slog.Logger
	Engine Engine
	// Runs is optional, without it /runs is not served.
	Runs RunLister
}

// Server serves health and manual dispatch endpoints.
type Server struct {
	deps    *ServerDeps
	handler http.Handler

	// runs started in the background use ctx, not the request context.
	ctx context.Context
	wg  sync.WaitGroup
	// at most one background run is accepted at a time.
	pending atomic.Bool
}

// NewServer creates a new server. Runs started with POST /dispatch are
// cancelled when ctx is done.
func NewServer(ctx context.Context, deps *ServerDeps) *Server {
	s := &Server{
		deps: deps,
		ctx:  ctx,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Post("/dispatch", s.dispatchAsync)
	r.Post("/dispatch/sync", s.dispatchSync)
	if deps.Runs != nil {
		r.Get("/runs", s.runs)
	}

	s.handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Wait blocks until all background runs are done.
func (s *Server) Wait() {
	s.wg.Wait()
}

type healthResponse struct {
	Status      string     `json:"status"`
	Schedule    string     `json:"schedule"`
	Timezone    string     `json:"timezone"`
	State       string     `json:"state"`
	NextTrigger *time.Time `json:"next_trigger"`
	Revision    string     `json:"revision"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	t := s.deps.Engine.Trigger()

	res := healthResponse{
		Status:   "ok",
		Schedule: fmt.Sprintf("%02d:%02d", t.Hour, t.Minute),
		Timezone: t.Location.String(),
		State:    s.deps.Engine.State().String(),
		Revision: internal.BuildInfo.Version(),
	}

	if next := s.deps.Engine.Next(); !next.IsZero() {
		next = next.In(t.Location)
		res.NextTrigger = &next
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) dispatchAsync(w http.ResponseWriter, r *http.Request) {
	if !s.pending.CompareAndSwap(false, true) {
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "conflict",
			"message": "a dispatch is already pending",
		})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.pending.Store(false)

		run, err := s.deps.Engine.TriggerNow(s.ctx)
		if err != nil {
			s.deps.Logger.Error("manual dispatch failed", "runID", run.ID, "error", err)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "dispatch started in the background",
	})
}

type runResponse struct {
	RunID       string           `json:"run_id"`
	Manual      bool             `json:"manual"`
	TriggeredAt time.Time        `json:"triggered_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Summary     dispatch.Summary `json:"summary"`
	SuccessRate float64          `json:"success_rate"`
}

func newRunResponse(run dispatch.Run) runResponse {
	return runResponse{
		RunID:       run.ID.String(),
		Manual:      run.Manual,
		TriggeredAt: run.TriggeredAt,
		CompletedAt: run.CompletedAt,
		Summary:     run.Summary,
		SuccessRate: run.Summary.SuccessRate(),
	}
}

func (s *Server) dispatchSync(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Engine.TriggerNow(r.Context())
	if err != nil {
		// a run that completed but could not be logged still has a result.
		if run.ID != uuid.Nil {
			s.deps.Logger.Error("manual dispatch completed with error", "runID", run.ID, "error", err)
			s.writeJSON(w, http.StatusOK, newRunResponse(run))
			return
		}

		s.handleError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunsLimit {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.List(r.Context(), limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	res := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		res = append(res, newRunResponse(run))
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.deps.Logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	s.deps.Logger.Error("internal server error", "url", r.URL.String(), "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
