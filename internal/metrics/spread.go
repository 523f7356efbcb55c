package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// Spread summarises per-trial losses. It returns nil for an empty input.
// values is not modified.
func Spread(values []float64) *models.LossStats {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return &models.LossStats{
		Min: floats.Min(sorted),
		Max: floats.Max(sorted),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

// SpreadAll summarises every strategy's losses.
func SpreadAll(losses map[models.Strategy][]float64) map[models.Strategy]models.LossStats {
	out := make(map[models.Strategy]models.LossStats, len(losses))
	for s, values := range losses {
		if st := Spread(values); st != nil {
			out[s] = *st
		}
	}
	return out
}

// percentile linearly interpolates between the closest ranks of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
