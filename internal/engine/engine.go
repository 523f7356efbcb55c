package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

// Simulate runs cfg.Trials trials, optionally continuing from resume, and
// blocks until the run completes, is cancelled through ctx, or fails.
//
// On cancellation the returned Outcome carries a Checkpoint and a nil Result.
func Simulate(ctx context.Context, cfg config.Simulation, resume *models.Checkpoint, opts ...Option) (*models.Outcome, error) {
	o := buildOptions(opts)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkBackend(o.backend); err != nil {
		return nil, err
	}

	fingerprint := cfg.Fingerprint()
	start, losses, seed := restore(cfg, fingerprint, resume, o.log)
	if seed == 0 {
		seed = cfg.Seed
	}
	if seed == 0 {
		seed = utils.NewSeed()
	}

	log := o.log.With(
		slog.Int("n", cfg.N),
		slog.Int("trials", cfg.Trials),
		slog.Int64("seed", seed),
	)
	log.Info("simulation started", "start_trial", start, "workers", cfg.Workers)

	out := &models.Outcome{Seed: seed}
	interval := cfg.ProgressInterval()
	batch := cfg.Workers
	if batch < 1 {
		batch = 1
	}

	checkpoint := func(next int) *models.Checkpoint {
		return &models.Checkpoint{
			NextTrial:     next,
			PartialLosses: map[models.Strategy][]float64(losses.Clone()),
			Fingerprint:   fingerprint,
			Seed:          seed,
		}
	}

	for i := start; i < cfg.Trials; i += batch {
		if ctx.Err() != nil {
			out.Checkpoint = checkpoint(i)
			out.Degenerate = i - mustCount(losses)
			log.Info("simulation cancelled", "next_trial", i)
			return out, nil
		}

		end := utils.Min(i+batch, cfg.Trials)
		for _, t := range runBatch(o, cfg, seed, i, end) {
			if t.err != nil {
				logger.ForTrial(log, t.index).Error("trial failed", "error", t.err)
				return nil, t.err
			}
			out.TrialsRun++
			if t.degenerate {
				logger.ForTrial(log, t.index).Debug("degenerate trial skipped")
			} else {
				losses.Add(t.result)
			}

			done := t.index + 1
			if o.progress != nil && done%interval == 0 && done != cfg.Trials {
				o.progress(done)
			}
		}
	}
	if o.progress != nil {
		o.progress(cfg.Trials)
	}

	counted := mustCount(losses)
	out.Degenerate = cfg.Trials - counted
	result, err := Aggregate(losses)
	if err != nil {
		log.Error("aggregation failed", "degenerate", out.Degenerate, "error", err)
		return nil, err
	}
	out.Result = result
	log.Info("simulation completed", "counted", counted, "degenerate", out.Degenerate)
	return out, nil
}

// runBatch evaluates trials [from, to) and returns them in trial order.
func runBatch(o *options, cfg config.Simulation, seed int64, from, to int) []trialOutcome {
	results := make([]trialOutcome, to-from)
	eval := func(k int) {
		began := time.Now()
		results[k] = evaluateTrial(o.backend, cfg, seed, from+k)
		if o.observer != nil && results[k].err == nil {
			o.observer.ObserveTrial(time.Since(began), results[k].degenerate)
		}
	}

	if len(results) == 1 {
		eval(0)
		return results
	}

	var wg sync.WaitGroup
	for k := range results {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			eval(k)
		}(k)
	}
	wg.Wait()
	return results
}

// restore validates a checkpoint against the run. A rejected checkpoint is
// logged and the run starts from scratch.
func restore(cfg config.Simulation, fingerprint string, cp *models.Checkpoint, log *slog.Logger) (int, Losses, int64) {
	if cp == nil {
		return 0, newLosses(), 0
	}

	reject := func(reason string) (int, Losses, int64) {
		log.Warn("discarding checkpoint", "reason", reason, "next_trial", cp.NextTrial)
		return 0, newLosses(), 0
	}

	if cp.Fingerprint != fingerprint {
		return reject("configuration fingerprint mismatch")
	}
	if cp.NextTrial < 0 || cp.NextTrial > cfg.Trials {
		return reject(fmt.Sprintf("next trial outside [0, %d]", cfg.Trials))
	}

	losses := newLosses()
	for s, l := range cp.PartialLosses {
		losses[s] = append([]float64(nil), l...)
	}
	if len(losses) != len(models.Strategies) {
		return reject("unknown strategy in partial losses")
	}
	counted, err := losses.Counted()
	if err != nil {
		return reject(err.Error())
	}
	if counted > cp.NextTrial {
		return reject("more losses than finished trials")
	}
	return cp.NextTrial, losses, cp.Seed
}

func checkBackend(b Backend) error {
	if b == nil {
		return fmt.Errorf("%w: no backend configured", ErrBackendUnavailable)
	}
	if c, ok := b.(Checker); ok {
		if err := c.Ready(); err != nil {
			return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
	}
	return nil
}

func mustCount(l Losses) int {
	n, _ := l.Counted()
	return n
}
