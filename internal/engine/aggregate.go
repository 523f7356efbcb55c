package engine

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/sugarbeet-lab/yieldsim/internal/metrics"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// Losses accumulates per-strategy relative losses in trial order.
type Losses map[models.Strategy][]float64

// newLosses returns empty accumulators for every known strategy.
func newLosses() Losses {
	l := make(Losses, len(models.Strategies))
	for _, s := range models.Strategies {
		l[s] = make([]float64, 0)
	}
	return l
}

// Add appends one trial's losses.
func (l Losses) Add(r models.TrialResult) {
	for s, loss := range r {
		l[s] = append(l[s], loss)
	}
}

// Counted returns the number of recorded trials, or an error when the
// strategies disagree on it.
func (l Losses) Counted() (int, error) {
	count := -1
	for s, losses := range l {
		if count < 0 {
			count = len(losses)
			continue
		}
		if len(losses) != count {
			return 0, fmt.Errorf("strategy %s has %d losses, expected %d", s, len(losses), count)
		}
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Clone deep-copies the accumulators.
func (l Losses) Clone() Losses {
	out := make(Losses, len(l))
	for s, losses := range l {
		out[s] = append([]float64(nil), losses...)
	}
	return out
}

// Aggregate computes the mean loss per strategy as sum/count. It is a pure
// function of the accumulated values and does not depend on trial order
// beyond floating-point summation.
func Aggregate(l Losses) (*models.AggregateResult, error) {
	count, err := l.Counted()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrAggregationFailure
	}
	out := &models.AggregateResult{
		MeanLoss: make(map[models.Strategy]float64, len(l)),
		Trials:   count,
		Spread:   metrics.SpreadAll(l),
	}
	for s, losses := range l {
		out.MeanLoss[s] = floats.Sum(losses) / float64(count)
	}
	out.Recommended, _ = out.Best()
	return out, nil
}
