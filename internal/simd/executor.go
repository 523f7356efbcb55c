package simd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sugarbeet-lab/yieldsim/internal/engine"
	"github.com/sugarbeet-lab/yieldsim/internal/history"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

var (
	ErrRunTerminal     = errors.New("run is terminal")
	ErrRunIDMissing    = errors.New("run_id is required")
	ErrRunNotResumable = errors.New("run is not resumable")
)

// HistoryStore persists completed results.
type HistoryStore interface {
	Add(ctx context.Context, runID string, params config.Simulation, results models.AggregateResult) (*history.Record, error)
}

// RunObserver receives run lifecycle and per-trial metrics.
type RunObserver interface {
	engine.Observer
	RunStarted()
	RunFinished(status models.RunStatus, result *models.AggregateResult)
}

// ExecutorOption configures a RunExecutor.
type ExecutorOption func(*RunExecutor)

// WithHistory appends every completed run to h.
func WithHistory(h HistoryStore) ExecutorOption {
	return func(e *RunExecutor) { e.history = h }
}

// WithObserver reports run and trial metrics to o.
func WithObserver(o RunObserver) ExecutorOption {
	return func(e *RunExecutor) { e.observer = o }
}

// WithCallback posts terminal run states to url through n.
func WithCallback(n *Notifier, url, secret string) ExecutorOption {
	return func(e *RunExecutor) {
		e.notifier = n
		e.callbackURL = url
		e.callbackSecret = secret
	}
}

// WithBackend overrides the numeric backend used for every run.
func WithBackend(b engine.Backend) ExecutorOption {
	return func(e *RunExecutor) { e.backend = b }
}

// RunExecutor manages asynchronous run execution and per-run cancellation.
type RunExecutor struct {
	store *RunStore

	history        HistoryStore
	observer       RunObserver
	notifier       *Notifier
	callbackURL    string
	callbackSecret string
	backend        engine.Backend

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
	wg      sync.WaitGroup
}

func NewRunExecutor(store *RunStore, opts ...ExecutorOption) *RunExecutor {
	e := &RunExecutor{
		store:   store,
		cancels: make(map[string]context.CancelFunc),
		done:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins executing a pending run asynchronously.
// Starting a running run is a no-op.
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch {
	case rec.Run.Status == models.RunStatusRunning:
		return rec, nil
	case rec.Run.Status.IsTerminal():
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	return e.launch(runID, nil)
}

// Resume continues a cancelled run from its checkpoint.
func (e *RunExecutor) Resume(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status != models.RunStatusCancelled {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotResumable, runID, rec.Run.Status)
	}
	return e.launch(runID, rec.Checkpoint)
}

// Stop cancels a run. A running run is stopped at its next trial boundary
// and Stop waits for that, so the returned record holds the checkpoint.
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	e.mu.Lock()
	cancel, running := e.cancels[runID]
	done := e.done[runID]
	e.mu.Unlock()

	if running {
		cancel()
		<-done
		rec, ok := e.store.Get(runID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return rec, nil
	}

	return e.store.Update(runID, func(rec *RunRecord) {
		if rec.Run.Status.IsTerminal() {
			return
		}
		setStatus(rec, models.RunStatusCancelled)
		logger.ForRun(runID).Info("pending run cancelled")
	})
}

// Wait blocks until the given run is no longer executing.
func (e *RunExecutor) Wait(runID string) {
	e.mu.Lock()
	done, ok := e.done[runID]
	e.mu.Unlock()
	if ok {
		<-done
	}
}

// Shutdown cancels every executing run and waits for them or for ctx.
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *RunExecutor) launch(runID string, resume *models.Checkpoint) (*RunRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.cancels[runID]; running {
		rec, _ := e.store.Get(runID)
		return rec, nil
	}

	updated, err := e.store.Update(runID, func(rec *RunRecord) {
		// A fixed seed keeps the fingerprint stable across resumes.
		if rec.Config.Seed == 0 {
			rec.Config.Seed = utils.NewSeed()
		}
		if resume == nil {
			rec.Run.TrialsDone = 0
			rec.Checkpoint = nil
		}
		setStatus(rec, models.RunStatusRunning)
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancels[runID] = cancel
	e.done[runID] = done
	e.wg.Add(1)

	if e.observer != nil {
		e.observer.RunStarted()
	}
	go e.runSimulation(ctx, runID, updated.Config, resume, done)
	return updated, nil
}

func (e *RunExecutor) cleanup(runID string, done chan struct{}) {
	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	delete(e.done, runID)
	e.mu.Unlock()
	close(done)
	e.wg.Done()
}

func (e *RunExecutor) runSimulation(ctx context.Context, runID string, cfg config.Simulation, resume *models.Checkpoint, done chan struct{}) {
	defer e.cleanup(runID, done)

	log := logger.ForRun(runID)
	opts := []engine.Option{engine.WithLogger(log)}
	if e.observer != nil {
		opts = append(opts, engine.WithObserver(e.observer))
	}
	if e.backend != nil {
		opts = append(opts, engine.WithBackend(e.backend))
	}

	log.Info("starting simulation", "trials", cfg.Trials, "resume", resume != nil)
	var last models.Event
	for ev := range engine.Run(ctx, cfg, resume, opts...) {
		if ev.Kind == models.EventProgress {
			if err := e.store.SetProgress(runID, ev.TrialsDone); err != nil {
				log.Error("failed to record progress", "error", err)
			}
			continue
		}
		last = ev
	}

	rec, err := e.finish(runID, cfg, last)
	if err != nil {
		log.Error("failed to record run outcome", "error", err)
		return
	}
	if e.observer != nil {
		e.observer.RunFinished(rec.Run.Status, rec.Result)
	}
	if e.notifier != nil {
		e.notifier.Notify(e.callbackURL, e.callbackSecret, rec)
	}
}

// finish stores the terminal event and appends completed results to history.
func (e *RunExecutor) finish(runID string, cfg config.Simulation, ev models.Event) (*RunRecord, error) {
	log := logger.ForRun(runID)

	var historyID string
	if ev.Kind == models.EventCompleted && e.history != nil {
		rec, err := e.history.Add(context.Background(), runID, cfg, *ev.Result)
		if err != nil {
			log.Error("failed to append history", "error", err)
		} else {
			historyID = rec.ID
		}
	}

	return e.store.Update(runID, func(rec *RunRecord) {
		switch ev.Kind {
		case models.EventCompleted:
			rec.Result = ev.Result
			rec.Checkpoint = nil
			rec.Run.TrialsDone = ev.TrialsDone
			rec.Run.HistoryID = historyID
			log.Info("run completed", "counted", ev.Result.Trials)
		case models.EventCancelled:
			rec.Checkpoint = ev.Checkpoint
			rec.Run.TrialsDone = ev.TrialsDone
			log.Info("run cancelled", "next_trial", ev.TrialsDone)
		case models.EventFailed:
			rec.Run.ErrorKind = ev.ErrorKind
			rec.Run.Error = ev.Message
			log.Warn("run failed", "error_kind", ev.ErrorKind, "error", ev.Message)
		}
		setStatus(rec, ev.Status())
	})
}
