package engine

import (
	"fmt"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

// Epsilon is the optimum below which a trial is treated as degenerate.
const Epsilon = 1e-9

// trialOutcome is what one trial contributes to the run.
type trialOutcome struct {
	index      int
	result     models.TrialResult
	degenerate bool
	err        error
}

// RelativeLoss returns (optimum - achieved) / optimum in percent.
func RelativeLoss(optimum, achieved float64) float64 {
	return (optimum - achieved) / optimum * 100.0
}

// evaluateTrial runs the full pipeline for trial index on its own random stream.
func evaluateTrial(b Backend, cfg config.Simulation, seed int64, index int) trialOutcome {
	rng := utils.NewRandSource(utils.DeriveSeed(seed, index))
	m := b.Generate(cfg, rng)

	optimum, err := b.SolveExact(m)
	if err != nil {
		return trialOutcome{index: index, err: fmt.Errorf("%w: trial %d: %w", ErrNumeric, index, err)}
	}
	if !utils.IsFinite(optimum) {
		return trialOutcome{index: index, err: fmt.Errorf("%w: trial %d: non-finite optimum %v", ErrNumeric, index, optimum)}
	}
	if optimum <= Epsilon {
		return trialOutcome{index: index, degenerate: true}
	}

	solvers := b.Heuristics(cfg.SwitchColumn())
	result := make(models.TrialResult, len(solvers))
	for _, s := range solvers {
		achieved := s.Yield(m)
		if achieved > optimum+Epsilon*optimum {
			return trialOutcome{index: index, err: fmt.Errorf("%w: trial %d: %s yield %.12g exceeds optimum %.12g",
				ErrNumeric, index, s.Name(), achieved, optimum)}
		}
		result[s.Name()] = RelativeLoss(optimum, achieved)
	}
	return trialOutcome{index: index, result: result}
}
