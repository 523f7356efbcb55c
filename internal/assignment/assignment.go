// Package assignment solves the linear assignment problem exactly.
//
// The solver maximises the sum of selected entries of a square matrix over
// all bijections between rows and columns, using the O(n³) shortest
// augmenting path method with row and column potentials on negated costs.
package assignment

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sugarbeet-lab/yieldsim/pkg/utils"
)

var (
	ErrNotSquare        = errors.New("assignment: matrix is not square")
	ErrNonFinite        = errors.New("assignment: matrix contains NaN or Inf")
	ErrNoAugmentingPath = errors.New("assignment: no augmenting path found")
)

// Assignment maps each column (day) to the row (batch) processed on it.
type Assignment []int

// Valid reports whether a is a permutation of 0..len(a)-1.
func (a Assignment) Valid() bool {
	seen := make([]bool, len(a))
	for _, row := range a {
		if row < 0 || row >= len(a) || seen[row] {
			return false
		}
		seen[row] = true
	}
	return true
}

// Yield sums the entries of m selected by a.
func (a Assignment) Yield(m mat.Matrix) float64 {
	total := 0.0
	for col, row := range a {
		total += m.At(row, col)
	}
	return total
}

// SolveExact returns the maximum achievable sum over all row/column bijections.
func SolveExact(m mat.Matrix) (float64, error) {
	_, total, err := Solve(m)
	return total, err
}

// Solve returns an optimal assignment and its yield. Ties are broken by the
// order in which columns are scanned, so the result is deterministic.
func Solve(m mat.Matrix) (Assignment, float64, error) {
	r, c := m.Dims()
	if r != c {
		return nil, 0, fmt.Errorf("%w: %dx%d", ErrNotSquare, r, c)
	}
	n := r
	if n == 0 {
		return Assignment{}, 0, nil
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if !utils.IsFinite(m.At(i, j)) {
				return nil, 0, fmt.Errorf("%w: entry (%d,%d)", ErrNonFinite, i, j)
			}
		}
	}

	// Index 0 is a sentinel column; rows and columns are 1-based below.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	match := make([]int, n+1) // match[j] = row assigned to column j
	way := make([]int, n+1)
	minv := make([]float64, n+1)
	used := make([]bool, n+1)

	cost := func(i, j int) float64 { return -m.At(i-1, j-1) }

	for i := 1; i <= n; i++ {
		match[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := match[j0]
			delta := math.Inf(1)
			j1 := -1
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0, j) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				return nil, 0, fmt.Errorf("%w: row %d", ErrNoAugmentingPath, i-1)
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[match[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if match[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			match[j0] = match[j1]
			j0 = j1
		}
	}

	out := make(Assignment, n)
	for j := 1; j <= n; j++ {
		out[j-1] = match[j] - 1
	}
	return out, out.Yield(m), nil
}
