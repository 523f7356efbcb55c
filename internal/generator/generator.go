package generator

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

// Source is the randomness a generator consumes. *utils.RandSource satisfies it.
type Source interface {
	UniformFloat64(min, max float64) float64
	NormFloat64(mean, stddev float64) float64
}

const (
	// minGrowth keeps ripening factors strictly above 1.
	minGrowth = 1.000001

	// concentratedSigmas is the number of standard deviations between the
	// midpoint and either bound of the concentrated initial-quality law.
	concentratedSigmas = 3.0

	// maxRejections bounds truncated-normal resampling.
	maxRejections = 64
)

// Generate draws one n×n yield matrix for cfg. The result is never mutated
// afterwards and every entry lies in [0, 1].
func Generate(cfg config.Simulation, rng Source) *mat.Dense {
	n := cfg.N
	m := mat.NewDense(n, n, nil)

	for i := 0; i < n; i++ {
		m.Set(i, 0, utils.ClampFloat64(initialQuality(cfg, rng), 0, 1))
	}

	windows := decayWindows(cfg, rng)
	ripeningEnd := 0
	if cfg.Ripening.Enabled {
		ripeningEnd = cfg.Ripening.V
	}

	for j := 1; j < n; j++ {
		ripening := j < ripeningEnd
		for i := 0; i < n; i++ {
			var factor float64
			switch {
			case ripening:
				factor = rng.UniformFloat64(minGrowth, math.Max(cfg.Ripening.BetaMax, minGrowth))
			case windows != nil:
				factor = rng.UniformFloat64(windows[i].lo, windows[i].hi)
			default:
				factor = rng.UniformFloat64(cfg.Beta1, cfg.Beta2)
			}
			m.Set(i, j, math.Min(m.At(i, j-1)*factor, 1))
		}
	}

	if cfg.InorganicLoss {
		applyInorganicLoss(m, rng)
	}

	clamp(m)
	return m
}

// initialQuality samples the column-0 value of one batch.
func initialQuality(cfg config.Simulation, rng Source) float64 {
	if cfg.Distribution != config.DistributionConcentrated || cfg.AlphaMin >= cfg.AlphaMax {
		return rng.UniformFloat64(cfg.AlphaMin, cfg.AlphaMax)
	}

	mid := (cfg.AlphaMin + cfg.AlphaMax) / 2
	sigma := (cfg.AlphaMax - cfg.AlphaMin) / (2 * concentratedSigmas)
	for attempt := 0; attempt < maxRejections; attempt++ {
		v := rng.NormFloat64(mid, sigma)
		if v >= cfg.AlphaMin && v <= cfg.AlphaMax {
			return v
		}
	}
	return mid
}

type window struct {
	lo, hi float64
}

// decayWindows narrows the decay interval per row under the concentrated law:
// a half-width δ ≤ (β2−β1)/4 and a centre c with [c−δ, c+δ] ⊆ [β1, β2].
// It returns nil under the uniform law.
func decayWindows(cfg config.Simulation, rng Source) []window {
	if cfg.Distribution != config.DistributionConcentrated {
		return nil
	}
	width := cfg.Beta2 - cfg.Beta1
	out := make([]window, cfg.N)
	for i := range out {
		delta := rng.UniformFloat64(0, width/4)
		centre := rng.UniformFloat64(cfg.Beta1+delta, cfg.Beta2-delta)
		out[i] = window{lo: centre - delta, hi: centre + delta}
	}
	return out
}

// Inorganic impurity model: per batch draw potassium, sodium, amino nitrogen
// and the initial invert-sugar content; the molasses loss on day j grows with
// the invert content I0·1.029^(7j).
var (
	potassiumRange = [2]float64{4.8, 7.05}
	sodiumRange    = [2]float64{0.21, 0.82}
	nitrogenRange  = [2]float64{1.58, 2.8}
	invertRange    = [2]float64{0.62, 0.64}
)

// InorganicLoss returns the absolute sugar loss on day j for the given
// impurity levels.
func InorganicLoss(k, na, n, i0 float64, day int) float64 {
	invert := i0 * math.Pow(1.029, float64(7*day))
	return (1.1 + 0.1541*(k+na) + 0.2159*n + 0.9989*invert + 0.1967) / 100.0
}

func applyInorganicLoss(m *mat.Dense, rng Source) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		k := rng.UniformFloat64(potassiumRange[0], potassiumRange[1])
		na := rng.UniformFloat64(sodiumRange[0], sodiumRange[1])
		n := rng.UniformFloat64(nitrogenRange[0], nitrogenRange[1])
		i0 := rng.UniformFloat64(invertRange[0], invertRange[1])
		for j := 0; j < cols; j++ {
			m.Set(i, j, math.Max(0, m.At(i, j)-InorganicLoss(k, na, n, i0, j)))
		}
	}
}

func clamp(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 {
		return utils.ClampFloat64(v, 0, 1)
	}, m)
}
