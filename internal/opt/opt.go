// Package opt provides the optimisers and learning rate schedules used for
// training.
package opt

import (
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
)

// Optimizer updates parameters from accumulated gradients.
type Optimizer interface {
	// Apply updates every trainable parameter that has a gradient in g using
	// the learning rate lr.
	Apply(g *layer.Gradients, lr float64)
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct{}

// Apply updates params in-place: params = params - lr * gradients
func (SGD) Apply(g *layer.Gradients, lr float64) {
	for _, p := range g.Params() {
		if !p.Trainable {
			continue
		}
		grad := g.Get(p)
		for i := range p.Data {
			p.Data[i] -= lr * grad[i]
		}
	}
}

type moments struct {
	m, v []float64
}

// Adam optimizer with per-parameter first and second moment estimates.
type Adam struct {
	Beta1   float64 // Exponential decay rate for first moment
	Beta2   float64 // Exponential decay rate for second moment
	Epsilon float64 // Small constant for numerical stability

	t     int64
	state map[*layer.Param]*moments
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam() *Adam {
	return &Adam{
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		state:   make(map[*layer.Param]*moments),
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int64 { return a.t }

// Apply performs one Adam update. The bias correction is folded into the
// step size: lr_t = lr·√(1-β2ᵗ)/(1-β1ᵗ).
func (a *Adam) Apply(g *layer.Gradients, lr float64) {
	if a.state == nil {
		a.state = make(map[*layer.Param]*moments)
	}
	a.t++
	t := float64(a.t)
	lrT := lr * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))

	for _, p := range g.Params() {
		if !p.Trainable {
			continue
		}
		s, ok := a.state[p]
		if !ok {
			s = &moments{m: make([]float64, p.Size()), v: make([]float64, p.Size())}
			a.state[p] = s
		}
		grad := g.Get(p)
		for i, gi := range grad {
			s.m[i] = a.Beta1*s.m[i] + (1-a.Beta1)*gi
			s.v[i] = a.Beta2*s.v[i] + (1-a.Beta2)*gi*gi
			p.Data[i] -= lrT * s.m[i] / (math.Sqrt(s.v[i]) + a.Epsilon)
		}
	}
}
