package heuristic

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

func dense(rows ...[]float64) *mat.Dense {
	n := len(rows)
	data := make([]float64, 0, n*n)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(n, len(rows[0]), data)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestGreedy(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
		want float64
	}{
		{"basic", dense([]float64{10, 10, 5}, []float64{20, 20, 5}, []float64{30, 30, 5}), 55},
		{"counter example", dense([]float64{10, 100}, []float64{5, 5}), 15},
		{"identity", identity(3), 3},
		{"zeros", mat.NewDense(5, 5, nil), 0},
		{"increasing", dense([]float64{1, 2}, []float64{3, 4}), 5},
		{"row blocking", dense([]float64{100, 1000}, []float64{50, 50}), 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, Greedy().Yield(tt.m), 1e-9)
		})
	}
}

func TestThrifty(t *testing.T) {
	tests := []struct {
		name string
		m    *mat.Dense
		want float64
	}{
		{"basic", dense([]float64{10, 100, 100}, []float64{20, 20, 100}, []float64{30, 30, 30}), 60},
		{"beats greedy", dense([]float64{1, 100}, []float64{10, 10}), 11},
		{"zeros", mat.NewDense(3, 3, nil), 0},
		{"reverse diagonal", dense([]float64{0, 0, 1}, []float64{0, 1, 0}, []float64{1, 0, 0}), 0},
		{"one element", dense([]float64{5}), 5},
		{"large diff", dense([]float64{1, 1000}, []float64{1000, 1}), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, Thrifty().Yield(tt.m), 1e-9)
		})
	}
}

func TestMedian(t *testing.T) {
	even := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			even.Set(i, j, float64(i+1))
		}
	}
	constant := mat.NewDense(3, 3, nil)
	constant.Apply(func(_, _ int, _ float64) float64 { return 7 }, constant)

	tests := []struct {
		name string
		m    *mat.Dense
		want float64
	}{
		{"odd size", dense([]float64{1, 1, 1}, []float64{5, 5, 5}, []float64{10, 10, 10}), 16},
		{"even size takes upper median", even, 10},
		{"constant", constant, 21},
		{"unsorted column", dense([]float64{100, 0, 0}, []float64{1, 0, 0}, []float64{50, 0, 0}), 50},
		{"zeros", mat.NewDense(5, 5, nil), 0},
		{"two by two", dense([]float64{10, 10}, []float64{20, 20}), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, MedianStrategy().Yield(tt.m), 1e-9)
		})
	}
}

func TestMedianTieBreaksByRow(t *testing.T) {
	m := dense([]float64{5, 1, 0}, []float64{5, 2, 0}, []float64{5, 3, 0})
	_, rows := MedianStrategy().Assign(m)
	// Column 0 ties on 5: sorted rows 0,1,2, index 1 → row 1.
	require.Equal(t, 1, rows[0])
}

func TestGreedyThrifty(t *testing.T) {
	switchLogic := dense(
		[]float64{100, 1, 1, 1},
		[]float64{1, 100, 1, 1},
		[]float64{1, 1, 5, 1},
		[]float64{1, 1, 50, 50},
	)
	require.InDelta(t, 255, GreedyThrifty(2).Yield(switchLogic), 1e-9)
	require.InDelta(t, 60, GreedyThrifty(0).Yield(dense([]float64{10, 100}, []float64{50, 50})), 1e-9)
	require.InDelta(t, 15, GreedyThrifty(1).Yield(dense([]float64{10, 10}, []float64{5, 5})), 1e-9)
}

func TestThriftyGreedy(t *testing.T) {
	switchLogic := dense(
		[]float64{1, 100, 1, 1},
		[]float64{100, 1, 1, 1},
		[]float64{50, 50, 50, 1},
		[]float64{5, 5, 5, 5},
	)
	require.InDelta(t, 57, ThriftyGreedy(2).Yield(switchLogic), 1e-9)
	require.InDelta(t, 210, ThriftyGreedy(10).Yield(dense([]float64{10, 100}, []float64{20, 200})), 1e-9)
	require.InDelta(t, 0, ThriftyGreedy(2).Yield(mat.NewDense(4, 4, nil)), 1e-9)
}

func TestHybridDegenerateSwitch(t *testing.T) {
	m := dense(
		[]float64{0.3, 0.9, 0.2},
		[]float64{0.8, 0.1, 0.4},
		[]float64{0.5, 0.6, 0.7},
	)
	thrifty := Thrifty().Yield(m)
	greedy := Greedy().Yield(m)

	require.Equal(t, thrifty, GreedyThrifty(0).Yield(m))
	require.Equal(t, greedy, ThriftyGreedy(0).Yield(m))
	for _, v := range []int{3, 4, 100} {
		require.Equal(t, thrifty, ThriftyGreedy(v).Yield(m), "v=%d", v)
		require.Equal(t, greedy, GreedyThrifty(v).Yield(m), "v=%d", v)
	}
}

func TestAssignIsPermutation(t *testing.T) {
	m := dense(
		[]float64{0.3, 0.9, 0.2, 0.1},
		[]float64{0.8, 0.1, 0.4, 0.6},
		[]float64{0.5, 0.6, 0.7, 0.2},
		[]float64{0.5, 0.2, 0.9, 0.3},
	)
	for _, s := range []Strategy{Greedy(), Thrifty(), MedianStrategy(), GreedyThrifty(2), ThriftyGreedy(2)} {
		total, rows := s.Assign(m)
		seen := map[int]bool{}
		sum := 0.0
		for j, r := range rows {
			require.False(t, seen[r], "%s reused row %d", s.Name(), r)
			seen[r] = true
			sum += m.At(r, j)
		}
		require.Len(t, seen, 4)
		require.InDelta(t, total, sum, 1e-12)
	}
}

func TestAllOrder(t *testing.T) {
	all := All(3)
	require.Len(t, all, len(models.Strategies))
	for i, s := range all {
		require.Equal(t, models.Strategies[i], s.Name())
	}
}
