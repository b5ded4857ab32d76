// Package activations provides the element-wise activation functions used by
// the convolution layers.
package activations

import "math"

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) from the pre-activation x.
	Derivative(x float64) float64
}

// ELU activation function with unit alpha.
type ELU struct{}

// Activate computes x if x > 0, else exp(x) - 1
func (ELU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return math.Expm1(x)
}

// Derivative returns 1 if x > 0, else exp(x)
func (ELU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return math.Exp(x)
}

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// Linear is the identity activation.
type Linear struct{}

// Activate returns x unchanged.
func (Linear) Activate(x float64) float64 { return x }

// Derivative is always 1.
func (Linear) Derivative(float64) float64 { return 1 }

// Name returns a short identifier for a, used in checkpoint metadata and logs.
func Name(a Activation) string {
	switch a.(type) {
	case ELU, *ELU:
		return "elu"
	case Sigmoid, *Sigmoid:
		return "sigmoid"
	case Linear, *Linear, nil:
		return "linear"
	default:
		return "custom"
	}
}
