// Package layer provides neural network layer implementations.
//
// Layers hold only their parameters. Forward is safe to call concurrently on
// the same layer: it returns a Cache with everything Backward needs, and
// Backward accumulates parameter gradients into a caller-owned Gradients.
package layer

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Cache is the per-call state a layer keeps between Forward and Backward.
type Cache interface{}

// Layer is a neural network layer.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, Cache)
	Backward(cache Cache, grad *tensor.Tensor, g *Gradients) *tensor.Tensor
	Params() []*Param
}

// Param is a named weight tensor.
type Param struct {
	Name      string
	Shape     []int
	Data      []float64
	Trainable bool
}

// NewParam allocates a zeroed parameter.
func NewParam(name string, trainable bool, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("layer: param %s has invalid shape %v", name, shape))
		}
		n *= d
	}
	return &Param{Name: name, Shape: append([]int(nil), shape...), Data: make([]float64, n), Trainable: trainable}
}

// NewScalar allocates a one-element parameter holding v.
func NewScalar(name string, v float64, trainable bool) *Param {
	p := NewParam(name, trainable, 1)
	p.Data[0] = v
	return p
}

// Size returns the number of elements.
func (p *Param) Size() int { return len(p.Data) }

// Value returns the first element, the value of a scalar parameter.
func (p *Param) Value() float64 { return p.Data[0] }

func (p *Param) String() string {
	return fmt.Sprintf("%s%v", p.Name, p.Shape)
}

// Gradients accumulates parameter gradients for one forward/backward pass.
// It is not safe for concurrent use; give every goroutine its own.
type Gradients struct {
	grads map[*Param][]float64
}

// NewGradients returns an empty accumulator.
func NewGradients() *Gradients {
	return &Gradients{grads: make(map[*Param][]float64)}
}

// For returns the gradient buffer of p, allocating it on first use.
func (g *Gradients) For(p *Param) []float64 {
	buf, ok := g.grads[p]
	if !ok {
		buf = make([]float64, len(p.Data))
		g.grads[p] = buf
	}
	return buf
}

// Get returns the gradient of p, or nil if nothing was accumulated.
func (g *Gradients) Get(p *Param) []float64 { return g.grads[p] }

// AddScalar adds v to the gradient of a scalar parameter.
func (g *Gradients) AddScalar(p *Param, v float64) {
	g.For(p)[0] += v
}

// Merge adds scale·o into g.
func (g *Gradients) Merge(o *Gradients, scale float64) {
	for p, src := range o.grads {
		floats.AddScaled(g.For(p), scale, src)
	}
}

// Scale multiplies every accumulated gradient by s.
func (g *Gradients) Scale(s float64) {
	for _, buf := range g.grads {
		floats.Scale(s, buf)
	}
}

// Params returns the parameters with accumulated gradients ordered by name.
func (g *Gradients) Params() []*Param {
	ps := make([]*Param, 0, len(g.grads))
	for p := range g.grads {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
	return ps
}

// Norm returns the global L2 norm of all gradients.
func (g *Gradients) Norm() float64 {
	var s float64
	for _, buf := range g.grads {
		n := floats.Norm(buf, 2)
		s += n * n
	}
	return math.Sqrt(s)
}

// Reset drops all accumulated gradients.
func (g *Gradients) Reset() {
	for p := range g.grads {
		delete(g.grads, p)
	}
}
