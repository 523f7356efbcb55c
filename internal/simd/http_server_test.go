package simd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sugarbeet-lab/yieldsim/internal/metrics"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

type testServer struct {
	store    *RunStore
	executor *RunExecutor
	handler  http.Handler
}

func newTestServer(t *testing.T, withHistory bool) *testServer {
	t.Helper()
	store := NewRunStore()
	collector := metrics.NewCollector("test")
	opts := []ExecutorOption{WithObserver(collector)}

	var hist HistoryReader
	if withHistory {
		h := openHistory(t)
		opts = append(opts, WithHistory(h))
		hist = h
	}
	executor := NewRunExecutor(store, opts...)
	return &testServer{
		store:    store,
		executor: executor,
		handler:  NewHTTPServer(store, executor, hist, collector.Handler()).Handler(),
	}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeRun(t *testing.T, rr *httptest.ResponseRecorder) Run {
	t.Helper()
	var resp struct {
		Run Run `json:"run"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return resp.Run
}

func TestHTTPHealthz(t *testing.T) {
	s := newTestServer(t, false)
	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestHTTPCreateStartAndGet(t *testing.T) {
	s := newTestServer(t, true)

	body, _ := json.Marshal(map[string]any{"run_id": "run-1", "config": testSimulation(), "start": true})
	rr := s.do(t, http.MethodPost, "/v1/runs", "application/json", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if run := decodeRun(t, rr); run.ID != "run-1" || run.Status != models.RunStatusRunning {
		t.Fatalf("unexpected run %+v", run)
	}
	s.executor.Wait("run-1")

	rr = s.do(t, http.MethodGet, "/v1/runs/run-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got struct {
		Run        Run                     `json:"run"`
		Result     *models.AggregateResult `json:"result"`
		ConfigYAML string                  `json:"config_yaml"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Run.Status != models.RunStatusCompleted || got.Result == nil {
		t.Fatalf("expected completed run with result, got %s", rr.Body.String())
	}
	if len(got.Result.MeanLoss) != len(models.Strategies) {
		t.Fatalf("expected a mean loss per strategy, got %v", got.Result.MeanLoss)
	}
	if best, _ := got.Result.Best(); got.Result.Recommended == "" || got.Result.Recommended != best {
		t.Fatalf("expected recommended strategy %q, got %q", best, got.Result.Recommended)
	}
	if cfg, err := config.ParseSimulationYAMLString(got.ConfigYAML); err != nil || *cfg != testSimulation() {
		t.Fatalf("config_yaml does not round trip: %v %q", err, got.ConfigYAML)
	}

	rr = s.do(t, http.MethodGet, "/v1/history?limit=5", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"run_id":"run-1"`) {
		t.Fatalf("expected history entry for run-1, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHTTPCreateFromYAML(t *testing.T) {
	s := newTestServer(t, false)
	rr := s.do(t, http.MethodPost, "/v1/runs?run_id=yaml-run", "application/yaml", []byte(testConfigYAML))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rec, ok := s.store.Get("yaml-run")
	if !ok {
		t.Fatalf("expected run to be stored")
	}
	if rec.Config != testSimulation() {
		t.Fatalf("parsed config %+v differs", rec.Config)
	}
}

func TestHTTPCreateRejectsInvalidConfig(t *testing.T) {
	s := newTestServer(t, false)

	cfg := testSimulation()
	cfg.Beta1 = 1.5
	body, _ := json.Marshal(map[string]any{"config": cfg})
	if rr := s.do(t, http.MethodPost, "/v1/runs", "application/json", body); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodPost, "/v1/runs", "application/json", []byte(`{}`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing config, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodPost, "/v1/runs", "application/json", []byte(`{`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodPost, "/v1/runs", "application/yaml", []byte("n: 5\nunknown: 1\n")); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown YAML field, got %d", rr.Code)
	}
}

func TestHTTPCreateDuplicate(t *testing.T) {
	s := newTestServer(t, false)
	body, _ := json.Marshal(map[string]any{"run_id": "dup", "config": testSimulation()})
	if rr := s.do(t, http.MethodPost, "/v1/runs", "application/json", body); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodPost, "/v1/runs", "application/json", body); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestHTTPListRuns(t *testing.T) {
	s := newTestServer(t, false)
	for _, id := range []string{"a", "b"} {
		if _, err := s.store.Create(id, testSimulation()); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if _, err := s.store.SetStatus("a", models.RunStatusCancelled); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	rr := s.do(t, http.MethodGet, "/v1/runs?status=cancelled", "", nil)
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 || resp.Runs[0].ID != "a" {
		t.Fatalf("expected only run a, got %+v", resp.Runs)
	}
}

func TestHTTPStopAndResume(t *testing.T) {
	s := newTestServer(t, false)
	if _, err := s.store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rr := s.do(t, http.MethodPost, "/v1/runs/run-1:stop", "", nil)
	if rr.Code != http.StatusOK || decodeRun(t, rr).Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %d %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodGet, "/v1/runs/run-1", "", nil)
	if !strings.Contains(rr.Body.String(), `"resume_from":0`) {
		t.Fatalf("expected resume_from in %s", rr.Body.String())
	}

	if rr := s.do(t, http.MethodPost, "/v1/runs/run-1:start", "", nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 when starting a cancelled run, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/v1/runs/run-1:resume", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	s.executor.Wait("run-1")

	if rr := s.do(t, http.MethodPost, "/v1/runs/run-1:resume", "", nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 when resuming a completed run, got %d", rr.Code)
	}
}

func TestHTTPRunErrors(t *testing.T) {
	s := newTestServer(t, false)
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/v1/runs/missing", http.StatusNotFound},
		{http.MethodPost, "/v1/runs/missing:start", http.StatusNotFound},
		{http.MethodPost, "/v1/runs/missing:explode", http.StatusNotFound},
		{http.MethodGet, "/v1/runs/missing:start", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/v1/runs", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/runs/", http.StatusBadRequest},
		{http.MethodGet, "/v1/runs/missing/events", http.StatusNotFound},
		{http.MethodGet, "/v1/history", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			if rr := s.do(t, tt.method, tt.path, "", nil); rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestHTTPEventStreamOfFinishedRun(t *testing.T) {
	s := newTestServer(t, false)
	if _, err := s.store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := s.executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.executor.Wait("run-1")

	rr := s.do(t, http.MethodGet, "/v1/runs/run-1/events", "", nil)
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"event: status_change\ndata: {\"status\":\"completed\"}",
		"event: progress\ndata: {\"trials\":40,\"trials_done\":40}",
		"event: complete\n",
		`"mean_loss"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in stream:\n%s", want, body)
		}
	}
}

func TestHTTPHistoryDelete(t *testing.T) {
	s := newTestServer(t, true)
	if _, err := s.store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := s.executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	s.executor.Wait("run-1")

	if rr := s.do(t, http.MethodDelete, "/v1/history?since_minutes=0", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr := s.do(t, http.MethodDelete, "/v1/history?since_minutes=60", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"removed":1`) {
		t.Fatalf("expected one removed record, got %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodDelete, "/v1/history", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"removed":0`) {
		t.Fatalf("expected nothing left to remove, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	rr := s.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "test_runs_active") {
		t.Fatalf("expected collector output, got %s", rr.Body.String())
	}
}
