// Package activations provides unit tests for activation functions.
package activations

import (
	"math"
	"testing"
)

// TestELU tests ELU activation.
func TestELU(t *testing.T) {
	elu := ELU{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{-1.0, math.Exp(-1) - 1},
		{0.0, 0.0},
		{1.0, 1.0},
		{2.5, 2.5},
		{math.Inf(-1), -1.0},
	}

	for _, tt := range tests {
		output := elu.Activate(tt.input)
		if math.Abs(output-tt.expected) > 1e-12 {
			t.Errorf("ELU(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

// TestSigmoid tests Sigmoid activation.
func TestSigmoid(t *testing.T) {
	sigmoid := Sigmoid{}

	tests := []struct {
		input    float64
		expected float64
	}{
		{math.Inf(-1), 0.0},
		{-2.0, 1 / (1 + math.Exp(2))},
		{0.0, 0.5},
		{1.0, 1 / (1 + math.Exp(-1))},
		{math.Inf(1), 1.0},
	}

	for _, tt := range tests {
		output := sigmoid.Activate(tt.input)
		if math.Abs(output-tt.expected) > 1e-12 {
			t.Errorf("Sigmoid(%v) = %v, want %v", tt.input, output, tt.expected)
		}
	}
}

// TestDerivatives compares every derivative against central differences.
func TestDerivatives(t *testing.T) {
	acts := map[string]Activation{
		"elu":     ELU{},
		"sigmoid": Sigmoid{},
		"linear":  Linear{},
	}
	const h = 1e-6

	for name, act := range acts {
		for _, x := range []float64{-3, -0.5, -1e-3, 0.7, 2} {
			num := (act.Activate(x+h) - act.Activate(x-h)) / (2 * h)
			if got := act.Derivative(x); math.Abs(got-num) > 1e-6 {
				t.Errorf("%s'(%v) = %v, numeric %v", name, x, got, num)
			}
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		act  Activation
		want string
	}{
		{ELU{}, "elu"},
		{Sigmoid{}, "sigmoid"},
		{Linear{}, "linear"},
		{nil, "linear"},
	}
	for _, tt := range tests {
		if got := Name(tt.act); got != tt.want {
			t.Errorf("Name(%T) = %q, want %q", tt.act, got, tt.want)
		}
	}
}
