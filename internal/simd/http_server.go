package simd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sugarbeet-lab/yieldsim/internal/history"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// HistoryReader lists and deletes stored results.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
	DeleteSince(ctx context.Context, d time.Duration) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
	history  HistoryReader
}

// NewHTTPServer wires the REST API. history and metrics may be nil.
func NewHTTPServer(store *RunStore, executor *RunExecutor, hist HistoryReader, metrics http.Handler) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
		history:  hist,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/runs", s.handleRuns)
	s.mux.HandleFunc("/v1/runs/", s.handleRunByID)
	s.mux.HandleFunc("/v1/history", s.handleHistory)
	if metrics != nil {
		s.mux.Handle("/metrics", metrics)
	}

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRuns handles /v1/runs
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRunByID handles /v1/runs/{id}, /v1/runs/{id}:{action} and /v1/runs/{id}/events
func (s *HTTPServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	if runID, ok := strings.CutSuffix(path, "/events"); ok {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleEventStream(w, r, runID)
		return
	}

	if runID, action, ok := strings.Cut(path, ":"); ok {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleAction(w, runID, action)
		return
	}

	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleGetRun(w, path)
}

type createRunRequest struct {
	RunID      string             `json:"run_id,omitempty"`
	Config     *config.Simulation `json:"config,omitempty"`
	ConfigYAML string             `json:"config_yaml,omitempty"`
	Start      bool               `json:"start,omitempty"`
}

// handleCreateRun handles POST /v1/runs. The body is either a YAML
// simulation file (Content-Type containing "yaml") or a JSON request.
func (s *HTTPServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}

	var req createRunRequest
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		req.ConfigYAML = string(body)
		req.RunID = r.URL.Query().Get("run_id")
		req.Start = r.URL.Query().Get("start") == "true"
	} else if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg, err := req.simulation()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.store.Create(req.RunID, *cfg)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	logger.Info("run created (HTTP)", "run_id", rec.Run.ID)

	if req.Start {
		if rec, err = s.Executor.Start(rec.Run.ID); err != nil {
			s.writeRunError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"run": rec.Run})
}

func (req createRunRequest) simulation() (*config.Simulation, error) {
	switch {
	case req.ConfigYAML != "":
		return config.ParseSimulationYAMLString(req.ConfigYAML)
	case req.Config != nil:
		cfg := *req.Config
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &cfg, nil
	default:
		return nil, errors.New("config or config_yaml is required")
	}
}

// handleListRuns handles GET /v1/runs?limit=&status=
func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 1000)
	status := models.RunStatus(r.URL.Query().Get("status"))

	recs := s.store.List(limit, status)
	runs := make([]Run, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, rec.Run)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *HTTPServer) handleGetRun(w http.ResponseWriter, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, recordJSON(rec))
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, runID, action string) {
	var (
		rec *RunRecord
		err error
	)
	switch action {
	case "start":
		rec, err = s.Executor.Start(runID)
	case "stop":
		rec, err = s.Executor.Stop(runID)
	case "resume":
		rec, err = s.Executor.Resume(runID)
	default:
		s.writeError(w, http.StatusNotFound, "unknown action: "+action)
		return
	}
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	logger.Info("run "+action+" (HTTP)", "run_id", runID, "status", rec.Run.Status)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run})
}

// handleEventStream streams run status and progress as server-sent events
// until the run is terminal or the client disconnects.
func (s *HTTPServer) handleEventStream(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	interval := 250 * time.Millisecond
	if intervalStr := r.URL.Query().Get("interval_ms"); intervalStr != "" {
		if intervalMs, err := strconv.ParseInt(intervalStr, 10, 64); err == nil && intervalMs > 0 {
			interval = time.Duration(intervalMs) * time.Millisecond
		}
	}

	flush := func() {
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	}

	watch := newRunWatcher(rec)
	for _, ev := range watch.initial(rec) {
		s.sendSSEEvent(w, ev.name, ev.data)
	}
	flush()
	if rec.Run.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, ok := s.store.Get(runID)
			if !ok {
				s.sendSSEEvent(w, "error", map[string]any{"error": "run not found"})
				flush()
				return
			}
			events, terminal := watch.next(rec)
			for _, ev := range events {
				s.sendSSEEvent(w, ev.name, ev.data)
			}
			flush()
			if terminal {
				return
			}
		}
	}
}

func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, data map[string]any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal SSE event data", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		logger.Error("failed to write SSE event", "error", err)
	}
}

// handleHistory handles GET /v1/history?limit= and
// DELETE /v1/history[?since_minutes=]
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		records, err := s.history.List(r.Context(), parseLimit(r, 100, 10000))
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"records": records})
	case http.MethodDelete:
		var (
			removed int64
			err     error
		)
		if minutesStr := r.URL.Query().Get("since_minutes"); minutesStr != "" {
			minutes, convErr := strconv.Atoi(minutesStr)
			if convErr != nil || minutes <= 0 {
				s.writeError(w, http.StatusBadRequest, "since_minutes must be a positive integer")
				return
			}
			removed, err = s.history.DeleteSince(r.Context(), time.Duration(minutes)*time.Minute)
		} else {
			removed, err = s.history.DeleteAll(r.Context())
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Helper functions

func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

func recordJSON(rec *RunRecord) map[string]any {
	out := map[string]any{
		"run":         rec.Run,
		"config":      rec.Config,
		"config_yaml": rec.Config.YAML(),
	}
	if rec.Result != nil {
		out["result"] = rec.Result
	}
	if from := rec.ResumeFrom(); from >= 0 {
		out["resume_from"] = from
	}
	return out
}

func (s *HTTPServer) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRunExists), errors.Is(err, ErrRunTerminal), errors.Is(err, ErrRunNotResumable):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, config.ErrInvalidConfig):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
