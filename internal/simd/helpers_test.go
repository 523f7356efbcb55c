package simd

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sugarbeet-lab/yieldsim/internal/engine"
	"github.com/sugarbeet-lab/yieldsim/internal/generator"
	"github.com/sugarbeet-lab/yieldsim/internal/history"
	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/logger"
)

func init() {
	logger.SetDefault(logger.Discard())
}

const testConfigYAML = `
n: 5
trials: 40
alpha_min: 0.12
alpha_max: 0.22
beta1: 0.85
beta2: 1.0
distribution: uniform
seed: 7
`

func testSimulation() config.Simulation {
	return config.Simulation{
		N:            5,
		Trials:       40,
		AlphaMin:     0.12,
		AlphaMax:     0.22,
		Beta1:        0.85,
		Beta2:        1.0,
		Distribution: config.DistributionUniform,
		Seed:         7,
	}
}

func openHistory(t *testing.T) *history.Store {
	t.Helper()
	h, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), 0)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// gateBackend blocks the generation of trial `at` until release is closed.
type gateBackend struct {
	engine.NativeBackend
	at      int
	reached chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGateBackend(at int) *gateBackend {
	return &gateBackend{at: at, reached: make(chan struct{}), release: make(chan struct{})}
}

func (b *gateBackend) Generate(cfg config.Simulation, rng generator.Source) *mat.Dense {
	b.mu.Lock()
	call := b.calls
	b.calls++
	b.mu.Unlock()

	if call == b.at {
		close(b.reached)
		<-b.release
	}
	return b.NativeBackend.Generate(cfg, rng)
}
