// ABOUTME: HTTP surface for pipeline runs: list runs, inspect checkpoints, answer gates, read reports.
// ABOUTME: A chi router over the pipeline and its checkpoint store; resumes execute in the background.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/pipeline"
)

// Server exposes pipeline runs over HTTP.
type Server struct {
	pipeline *pipeline.Pipeline
	saver    graph.Saver
	logger   *slog.Logger
	router   chi.Router

	// inflightMu guards inflight: one engine invocation per run at a time.
	inflightMu sync.Mutex
	inflight   map[string]bool
}

// NewServer builds the server and its routes.
func NewServer(p *pipeline.Pipeline, saver graph.Saver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pipeline: p,
		saver:    saver,
		logger:   logger,
		inflight: make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Post("/runs", s.handleStartRun)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/checkpoints", s.handleListCheckpoints)
			r.Get("/pending", s.handlePending)
			r.Post("/resume", s.handleResume)
		})
	})
	r.Get("/runs/{runID}/report", s.handleReport)
	s.router = r
	return s
}

// Handler returns the root handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.saver.Runs(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "list runs: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type startRunRequest struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`
}

// handleStartRun creates a run. The first stage is the user input gate, so
// the call returns quickly with the gate payload the caller must answer.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "decode request: %v", err)
		return
	}

	res, err := s.pipeline.Run(r.Context(), req.RunID, req.Query)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "start run: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, runView(res))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	cp, ok := s.latest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, checkpointView(cp))
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	cps, err := s.saver.List(r.Context(), runID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "list checkpoints: %v", err)
		return
	}
	views := make([]map[string]any, len(cps))
	for i, cp := range cps {
		views[i] = checkpointView(cp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "checkpoints": views})
}

// handlePending returns the interrupt payload a suspended run is waiting on.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	cp, ok := s.latest(w, r)
	if !ok {
		return
	}
	if cp.Pending == nil {
		s.fail(w, http.StatusNotFound, "run %s has no pending interrupt", cp.RunID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  cp.RunID,
		"node":    cp.Pending.Node,
		"payload": cp.Pending.Payload,
	})
}

// handleResume answers a gate. The pipeline may then run for minutes, so the
// engine is driven by a background goroutine and callers poll the run.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	var value map[string]any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		s.fail(w, http.StatusBadRequest, "decode resume value: %v", err)
		return
	}

	s.inflightMu.Lock()
	if s.inflight[runID] {
		s.inflightMu.Unlock()
		s.fail(w, http.StatusConflict, "run %s is already executing", runID)
		return
	}
	s.inflight[runID] = true
	s.inflightMu.Unlock()

	// The engine outlives the HTTP request; it must not inherit its context.
	go func() {
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, runID)
			s.inflightMu.Unlock()
		}()
		res, err := s.pipeline.Resume(context.Background(), runID, value)
		if err != nil {
			s.logger.Error("resume failed", "run_id", runID, "error", err)
			return
		}
		s.logger.Info("resume finished", "run_id", runID, "status", res.Status)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "status": "resuming"})
}

// latest loads the newest checkpoint for the request's run, writing the
// error response itself when there is none.
func (s *Server) latest(w http.ResponseWriter, r *http.Request) (*graph.Checkpoint, bool) {
	runID := chi.URLParam(r, "runID")
	cp, err := s.saver.Latest(r.Context(), runID)
	if errors.Is(err, graph.ErrNoCheckpoint) {
		s.fail(w, http.StatusNotFound, "unknown run %s", runID)
		return nil, false
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "load run %s: %v", runID, err)
		return nil, false
	}
	return cp, true
}

func (s *Server) fail(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", msg)
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func runView(res *graph.RunResult) map[string]any {
	view := map[string]any{
		"run_id":           res.RunID,
		"status":           res.Status,
		"superstep":        res.Superstep,
		"execution_status": res.ExecutionStatus(),
		"errors":           res.Errors(),
	}
	if res.Pending != nil {
		view["pending"] = map[string]any{"node": res.Pending.Node, "payload": res.Pending.Payload}
	}
	return view
}

func checkpointView(cp *graph.Checkpoint) map[string]any {
	view := map[string]any{
		"id":               cp.ID,
		"run_id":           cp.RunID,
		"superstep":        cp.Superstep,
		"created_at":       cp.CreatedAt,
		"frontier":         cp.Frontier,
		"suspended":        cp.Pending != nil,
		"execution_status": cp.State.GetMap(graph.FieldExecutionStatus),
		"errors":           cp.State.GetMap(graph.FieldErrors),
	}
	if cp.Pending != nil {
		view["pending_node"] = cp.Pending.Node
	}
	return view
}
