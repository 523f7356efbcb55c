package utils

import (
	"math"
	"math/rand"
	"time"
)

// RandSource wraps a seeded math/rand generator. It is not safe for concurrent
// use; every simulation trial owns its own instance.
type RandSource struct {
	seed int64
	rng  *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed picks one from the wall clock.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Seed returns the seed the source was created with.
func (r *RandSource) Seed() int64 {
	return r.seed
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	return r.rng.Float64()
}

// Intn returns a random int in [0, n)
func (r *RandSource) Intn(n int) int {
	return r.rng.Intn(n)
}

// NormFloat64 returns a normally distributed random number with mean and stddev
func (r *RandSource) NormFloat64(mean, stddev float64) float64 {
	return r.rng.NormFloat64()*stddev + mean
}

// UniformFloat64 returns a uniformly distributed random number in [min, max).
// A degenerate or inverted interval yields min.
func (r *RandSource) UniformFloat64(min, max float64) float64 {
	if min >= max {
		return min
	}
	return min + r.rng.Float64()*(max-min)
}

// DeriveSeed mixes a base seed with a stream index (splitmix64 finaliser) so
// that independent streams can be recreated from (base, index) alone.
func DeriveSeed(base int64, index int) int64 {
	z := uint64(base) + uint64(index+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	s := int64(z & math.MaxInt64)
	if s == 0 {
		// rand.NewSource(0) is valid, but NewRandSource treats 0 as "pick one".
		s = 1
	}
	return s
}

// NewSeed returns a fresh non-zero seed from the wall clock.
func NewSeed() int64 {
	return DeriveSeed(time.Now().UnixNano(), 0)
}
