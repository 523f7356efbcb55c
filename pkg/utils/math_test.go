package utils

import (
	"math"
	"testing"
)

func TestClampFloat64(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float64
	}{
		{-0.5, 0, 1, 0},
		{0.5, 0, 1, 0.5},
		{1.5, 0, 1, 1},
	}
	for _, tt := range tests {
		if got := ClampFloat64(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("ClampFloat64(%v, %v, %v) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestMin(t *testing.T) {
	if Min(3, 7) != 3 || Min(7, 3) != 3 {
		t.Error("Min wrong")
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite(1.0) {
		t.Error("1.0 should be finite")
	}
	if IsFinite(math.NaN()) || IsFinite(math.Inf(1)) || IsFinite(math.Inf(-1)) {
		t.Error("NaN/Inf should not be finite")
	}
}
