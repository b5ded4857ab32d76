package layer

import (
	"math"
	"math/rand"
)

// RNG is a seeded random source for reproducible weight initialisation.
type RNG struct {
	r *rand.Rand
}

// NewRNG creates a generator from seed.
func NewRNG(seed int64) *RNG {
	return &RNG{r: rand.New(rand.NewSource(seed))}
}

// RandFloat returns a uniform value in [0, 1).
func (g *RNG) RandFloat() float64 { return g.r.Float64() }

// Uniform returns a uniform value in [lo, hi).
func (g *RNG) Uniform(lo, hi float64) float64 { return lo + (hi-lo)*g.r.Float64() }

// XavierUniform fills w with Glorot uniform values for the given fan sizes.
func (g *RNG) XavierUniform(w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = g.Uniform(-limit, limit)
	}
}
