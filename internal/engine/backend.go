package engine

import (
	"gonum.org/v1/gonum/mat"

	"github.com/sugarbeet-lab/yieldsim/internal/assignment"
	"github.com/sugarbeet-lab/yieldsim/internal/generator"
	"github.com/sugarbeet-lab/yieldsim/internal/heuristic"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
)

// Backend bundles the numeric components a trial needs.
type Backend interface {
	Generate(cfg config.Simulation, rng generator.Source) *mat.Dense
	SolveExact(m mat.Matrix) (float64, error)
	Heuristics(v int) []heuristic.Solver
}

// Checker is implemented by backends that need initialisation before use.
type Checker interface {
	Ready() error
}

// NativeBackend is the in-process gonum backend.
type NativeBackend struct{}

var _ Backend = NativeBackend{}

func (NativeBackend) Generate(cfg config.Simulation, rng generator.Source) *mat.Dense {
	return generator.Generate(cfg, rng)
}

func (NativeBackend) SolveExact(m mat.Matrix) (float64, error) {
	return assignment.SolveExact(m)
}

func (NativeBackend) Heuristics(v int) []heuristic.Solver {
	return heuristic.All(v)
}
