package simd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sugarbeet-lab/yieldsim/internal/engine"
	"github.com/sugarbeet-lab/yieldsim/internal/metrics"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

func TestExecutorRunsToCompletion(t *testing.T) {
	store := NewRunStore()
	hist := openHistory(t)
	collector := metrics.NewCollector("test")
	executor := NewRunExecutor(store, WithHistory(hist), WithObserver(collector))

	if _, err := store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	rec, err := executor.Start("run-1")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if rec.Run.Status != models.RunStatusRunning {
		t.Fatalf("expected running, got %s", rec.Run.Status)
	}
	executor.Wait("run-1")

	rec, _ = store.Get("run-1")
	if rec.Run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", rec.Run.Status, rec.Run.Error)
	}
	if rec.Result == nil || rec.Result.Trials != 40 {
		t.Fatalf("expected 40 counted trials, got %+v", rec.Result)
	}
	if rec.Run.TrialsDone != 40 {
		t.Fatalf("expected trials_done 40, got %d", rec.Run.TrialsDone)
	}
	if rec.Run.HistoryID == "" {
		t.Fatalf("expected history id")
	}

	records, err := hist.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if len(records) != 1 || records[0].RunID != "run-1" {
		t.Fatalf("expected one history record for run-1, got %+v", records)
	}

	scrape := httptest.NewRecorder()
	collector.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := scrape.Body.String()
	for _, want := range []string{
		`test_runs_finished_total{status="completed"} 1`,
		`test_engine_trials_total{outcome="counted"} 40`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q", want)
		}
	}
}

func TestExecutorStartErrors(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)

	if _, err := executor.Start(""); !errors.Is(err, ErrRunIDMissing) {
		t.Fatalf("expected ErrRunIDMissing, got %v", err)
	}
	if _, err := executor.Start("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if _, err := store.Create("done", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.SetStatus("done", models.RunStatusCompleted); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if _, err := executor.Start("done"); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := executor.Resume("done"); !errors.Is(err, ErrRunNotResumable) {
		t.Fatalf("expected ErrRunNotResumable, got %v", err)
	}
}

func TestExecutorInvalidConfigFails(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)

	cfg := testSimulation()
	cfg.AlphaMin, cfg.AlphaMax = 0, 0
	if _, err := store.Create("zero", cfg); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("zero"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	executor.Wait("zero")

	rec, _ := store.Get("zero")
	if rec.Run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed, got %s", rec.Run.Status)
	}
	if rec.Run.ErrorKind != models.ErrorKindAggregation {
		t.Fatalf("expected aggregation failure, got %s", rec.Run.ErrorKind)
	}
}

func TestExecutorStopPendingThenResume(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)

	if _, err := store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	rec, err := executor.Stop("run-1")
	if err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if rec.Run.Status != models.RunStatusCancelled || rec.ResumeFrom() != 0 {
		t.Fatalf("expected cancelled run resumable from 0, got %+v", rec.Run)
	}

	if _, err := executor.Resume("run-1"); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	executor.Wait("run-1")
	rec, _ = store.Get("run-1")
	if rec.Run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Run.Status)
	}
}

func TestExecutorStopRunningThenResumeMatchesUninterrupted(t *testing.T) {
	store := NewRunStore()
	gate := newGateBackend(10)
	executor := NewRunExecutor(store, WithBackend(gate))

	if _, err := store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-gate.reached

	stopped := make(chan *RunRecord, 1)
	go func() {
		rec, err := executor.Stop("run-1")
		if err != nil {
			t.Errorf("Stop error: %v", err)
		}
		stopped <- rec
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)

	rec := <-stopped
	if rec.Run.Status != models.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Run.Status)
	}
	if rec.ResumeFrom() != 11 {
		t.Fatalf("expected resume from trial 11, got %d", rec.ResumeFrom())
	}

	if _, err := executor.Resume("run-1"); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	executor.Wait("run-1")
	resumed, _ := store.Get("run-1")
	if resumed.Run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", resumed.Run.Status)
	}

	full, err := engine.Simulate(context.Background(), testSimulation(), nil)
	if err != nil {
		t.Fatalf("Simulate error: %v", err)
	}
	if !reflect.DeepEqual(full.Result.MeanLoss, resumed.Result.MeanLoss) {
		t.Fatalf("resumed result %v differs from uninterrupted %v", resumed.Result.MeanLoss, full.Result.MeanLoss)
	}
}

func TestExecutorAssignsSeed(t *testing.T) {
	store := NewRunStore()
	executor := NewRunExecutor(store)

	cfg := testSimulation()
	cfg.Seed = 0
	if _, err := store.Create("run-1", cfg); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	rec, err := executor.Start("run-1")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if rec.Config.Seed == 0 {
		t.Fatalf("expected a seed to be assigned at start")
	}
	executor.Wait("run-1")
}

func TestExecutorNotifiesCallback(t *testing.T) {
	received := make(chan NotificationPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p NotificationPayload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := NewRunStore()
	notifier := NewNotifier().WithRetries(0, utils.NewConstantBackoff(0))
	executor := NewRunExecutor(store, WithCallback(notifier, srv.URL+"/runs/{run_id}", "s3cret"))

	if _, err := store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case p := <-received:
		if p.RunID != "run-1" || p.Status != models.RunStatusCompleted || p.Result == nil {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
}

func TestExecutorShutdown(t *testing.T) {
	store := NewRunStore()
	gate := newGateBackend(3)
	executor := NewRunExecutor(store, WithBackend(gate))

	if _, err := store.Create("run-1", testSimulation()); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := executor.Start("run-1"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-gate.reached
	close(gate.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := executor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	rec, _ := store.Get("run-1")
	if !rec.Run.Status.IsTerminal() {
		t.Fatalf("expected terminal status after shutdown, got %s", rec.Run.Status)
	}
}
