// Package heuristic implements the column-by-column assignment strategies
// whose yield is compared with the exact optimum.
//
// Every strategy walks the columns (days) in order and, at each column,
// commits one not-yet-used row (batch) chosen by a rule that only looks at
// that column. Nothing is revisited. Ties go to the lowest row index.
package heuristic

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// Rule picks one of the candidate rows for column j. candidates is non-empty
// and in ascending row order.
type Rule func(m mat.Matrix, j int, candidates []int) int

// Solver computes the yield a strategy achieves on a square matrix.
type Solver interface {
	Name() models.Strategy
	Yield(m mat.Matrix) float64
}

// Strategy is a Solver built from a per-column rule schedule.
type Strategy struct {
	name models.Strategy
	// rule returns the rule to apply to column j of an n-column matrix.
	rule func(j, n int) Rule
}

// Name implements Solver.
func (s Strategy) Name() models.Strategy { return s.name }

// Yield implements Solver.
func (s Strategy) Yield(m mat.Matrix) float64 {
	total, _ := s.Assign(m)
	return total
}

// Assign runs the strategy and returns its yield together with the chosen
// row for every column.
func (s Strategy) Assign(m mat.Matrix) (float64, []int) {
	n, _ := m.Dims()
	candidates := make([]int, n)
	for i := range candidates {
		candidates[i] = i
	}

	chosen := make([]int, n)
	total := 0.0
	for j := 0; j < n && len(candidates) > 0; j++ {
		k := s.rule(j, n)(m, j, candidates)
		row := candidates[k]
		total += m.At(row, j)
		chosen[j] = row
		candidates = append(candidates[:k], candidates[k+1:]...)
	}
	return total, chosen
}

// Max picks the candidate with the largest value in column j.
func Max(m mat.Matrix, j int, candidates []int) int {
	best := 0
	for k := 1; k < len(candidates); k++ {
		if m.At(candidates[k], j) > m.At(candidates[best], j) {
			best = k
		}
	}
	return best
}

// Min picks the candidate with the smallest value in column j.
func Min(m mat.Matrix, j int, candidates []int) int {
	best := 0
	for k := 1; k < len(candidates); k++ {
		if m.At(candidates[k], j) < m.At(candidates[best], j) {
			best = k
		}
	}
	return best
}

// Median sorts the candidates by (value, row) and picks position k/2,
// i.e. the upper median when the count is even.
func Median(m mat.Matrix, j int, candidates []int) int {
	order := make([]int, len(candidates))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool {
		return m.At(candidates[order[a]], j) < m.At(candidates[order[b]], j)
	})
	return order[len(order)/2]
}

func always(r Rule) func(int, int) Rule {
	return func(int, int) Rule { return r }
}

// phased applies first to columns below min(v, n) and second to the rest.
func phased(v int, first, second Rule) func(int, int) Rule {
	return func(j, n int) Rule {
		if j < min(v, n) {
			return first
		}
		return second
	}
}

// Greedy always processes the best remaining batch.
func Greedy() Strategy {
	return Strategy{name: models.StrategyGreedy, rule: always(Max)}
}

// Thrifty always processes the worst remaining batch.
func Thrifty() Strategy {
	return Strategy{name: models.StrategyThrifty, rule: always(Min)}
}

// MedianStrategy processes the median remaining batch.
func MedianStrategy() Strategy {
	return Strategy{name: models.StrategyMedian, rule: always(Median)}
}

// GreedyThrifty is greedy for the first v columns and thrifty afterwards.
func GreedyThrifty(v int) Strategy {
	return Strategy{name: models.StrategyGreedyThrifty, rule: phased(v, Max, Min)}
}

// ThriftyGreedy is thrifty for the first v columns and greedy afterwards.
func ThriftyGreedy(v int) Strategy {
	return Strategy{name: models.StrategyThriftyGreedy, rule: phased(v, Min, Max)}
}

// All returns the five strategies in reporting order, with v as the switch
// column of the hybrids.
func All(v int) []Solver {
	return []Solver{
		Greedy(),
		Thrifty(),
		MedianStrategy(),
		GreedyThrifty(v),
		ThriftyGreedy(v),
	}
}
