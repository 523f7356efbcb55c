package models

import "sort"

// Strategy names a heuristic whose loss against the optimum is measured.
type Strategy string

const (
	StrategyGreedy        Strategy = "greedy"
	StrategyThrifty       Strategy = "thrifty"
	StrategyMedian        Strategy = "median"
	StrategyGreedyThrifty Strategy = "greedy_thrifty"
	StrategyThriftyGreedy Strategy = "thrifty_greedy"
)

// Strategies lists every strategy in reporting order.
var Strategies = []Strategy{
	StrategyGreedy,
	StrategyThrifty,
	StrategyMedian,
	StrategyGreedyThrifty,
	StrategyThriftyGreedy,
}

// RunStatus represents the status of a simulation run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible from s
// without an explicit resume.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ErrorKind classifies a failed run.
type ErrorKind string

const (
	ErrorKindConfig             ErrorKind = "config_error"
	ErrorKindAggregation        ErrorKind = "aggregation_failure"
	ErrorKindBackendUnavailable ErrorKind = "backend_unavailable"
	ErrorKindNumeric            ErrorKind = "numeric_error"
)

// TrialResult holds the relative loss (percent) of each strategy on one matrix.
type TrialResult map[Strategy]float64

// AggregateResult is the mean relative loss per strategy over all counted trials.
type AggregateResult struct {
	MeanLoss map[Strategy]float64   `json:"mean_loss" yaml:"mean_loss"`
	Trials   int                    `json:"trials" yaml:"trials"`
	Spread   map[Strategy]LossStats `json:"spread,omitempty" yaml:"spread,omitempty"`

	// Recommended is the strategy with the lowest mean loss.
	Recommended Strategy `json:"recommended,omitempty" yaml:"recommended,omitempty"`
}

// Best returns the strategy with the lowest mean loss. Ties go to the
// strategy listed first in reporting order.
func (r *AggregateResult) Best() (Strategy, bool) {
	if r == nil || len(r.MeanLoss) == 0 {
		return "", false
	}
	var best Strategy
	found := false
	for _, s := range SortedStrategies(r.MeanLoss) {
		if !found || r.MeanLoss[s] < r.MeanLoss[best] {
			best, found = s, true
		}
	}
	return best, found
}

// LossStats describes the distribution of per-trial losses of one strategy.
type LossStats struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
	P50 float64 `json:"p50" yaml:"p50"`
	P95 float64 `json:"p95" yaml:"p95"`
	P99 float64 `json:"p99" yaml:"p99"`
}

// Checkpoint is the resumable state of an interrupted run.
type Checkpoint struct {
	NextTrial     int                    `json:"next_trial"`
	PartialLosses map[Strategy][]float64 `json:"partial_losses"`
	Fingerprint   string                 `json:"fingerprint"`
	Seed          int64                  `json:"seed"`
}

// Clone returns a deep copy so callers can hold a checkpoint across runs
// without sharing slices with the producer.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := &Checkpoint{
		NextTrial:     c.NextTrial,
		Fingerprint:   c.Fingerprint,
		Seed:          c.Seed,
		PartialLosses: make(map[Strategy][]float64, len(c.PartialLosses)),
	}
	for s, losses := range c.PartialLosses {
		out.PartialLosses[s] = append([]float64(nil), losses...)
	}
	return out
}

// Counted returns the number of trials recorded in the checkpoint.
func (c *Checkpoint) Counted() int {
	if c == nil {
		return 0
	}
	return len(c.PartialLosses[StrategyGreedy])
}

// SortedStrategies returns the keys of m in reporting order, followed by any
// unknown keys alphabetically.
func SortedStrategies[V any](m map[Strategy]V) []Strategy {
	out := make([]Strategy, 0, len(m))
	known := make(map[Strategy]bool, len(Strategies))
	for _, s := range Strategies {
		known[s] = true
		if _, ok := m[s]; ok {
			out = append(out, s)
		}
	}
	extra := make([]Strategy, 0)
	for s := range m {
		if !known[s] {
			extra = append(extra, s)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
