package simd

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunExists   = errors.New("run already exists")
)

// Run is the externally visible state of a simulation run.
type Run struct {
	ID              string           `json:"id"`
	Status          models.RunStatus `json:"status"`
	CreatedAtUnixMs int64            `json:"created_at_unix_ms"`
	StartedAtUnixMs int64            `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64            `json:"ended_at_unix_ms,omitempty"`
	TrialsDone      int              `json:"trials_done"`
	Trials          int              `json:"trials"`
	ErrorKind       models.ErrorKind `json:"error_kind,omitempty"`
	Error           string           `json:"error,omitempty"`
	HistoryID       string           `json:"history_id,omitempty"`
}

// RunRecord is everything the service keeps about one run.
type RunRecord struct {
	Run        Run                     `json:"run"`
	Config     config.Simulation       `json:"config"`
	Result     *models.AggregateResult `json:"result,omitempty"`
	Checkpoint *models.Checkpoint      `json:"-"`
}

// ResumeFrom returns the trial a resumed run would continue from, or -1.
func (r *RunRecord) ResumeFrom() int {
	if r.Run.Status != models.RunStatusCancelled {
		return -1
	}
	if r.Checkpoint == nil {
		return 0
	}
	return r.Checkpoint.NextTrial
}

func (r *RunRecord) clone() *RunRecord {
	out := *r
	out.Checkpoint = r.Checkpoint.Clone()
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return &out
}

// RunStore is an in-memory registry of runs. Getters return copies.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

// Create registers a pending run. An empty runID is generated.
func (s *RunStore) Create(runID string, cfg config.Simulation) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = utils.GenerateRunID()
	}
	if _, exists := s.runs[runID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: Run{
			ID:              runID,
			Status:          models.RunStatusPending,
			CreatedAtUnixMs: utils.NowUnixMs(),
			Trials:          cfg.Trials,
		},
		Config: cfg,
	}
	s.runs[runID] = rec
	return rec.clone(), nil
}

func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns up to limit runs, newest first, optionally filtered by status.
func (s *RunStore) List(limit int, status models.RunStatus) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]*RunRecord, 0, utils.Min(limit, len(s.runs)))
	for _, rec := range s.runs {
		if status != "" && rec.Run.Status != status {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Run.CreatedAtUnixMs != out[j].Run.CreatedAtUnixMs {
			return out[i].Run.CreatedAtUnixMs > out[j].Run.CreatedAtUnixMs
		}
		return out[i].Run.ID < out[j].Run.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Update applies fn to the stored record under the write lock.
func (s *RunStore) Update(runID string, fn func(*RunRecord)) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	fn(rec)
	return rec.clone(), nil
}

// SetStatus moves a run to status and stamps start/end times.
func (s *RunStore) SetStatus(runID string, status models.RunStatus) (*RunRecord, error) {
	return s.Update(runID, func(rec *RunRecord) {
		setStatus(rec, status)
	})
}

// SetProgress records the number of finished trials.
func (s *RunStore) SetProgress(runID string, trialsDone int) error {
	_, err := s.Update(runID, func(rec *RunRecord) {
		rec.Run.TrialsDone = trialsDone
	})
	return err
}

func setStatus(rec *RunRecord, status models.RunStatus) {
	rec.Run.Status = status
	switch {
	case status == models.RunStatusRunning:
		if rec.Run.StartedAtUnixMs == 0 {
			rec.Run.StartedAtUnixMs = utils.NowUnixMs()
		}
		rec.Run.EndedAtUnixMs = 0
		rec.Run.Error = ""
		rec.Run.ErrorKind = ""
	case status.IsTerminal():
		rec.Run.EndedAtUnixMs = utils.NowUnixMs()
	}
}
