package opt

import (
	"math"
	"testing"

	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
)

func TestSGD(t *testing.T) {
	p := layer.NewParam("w", true, 3)
	copy(p.Data, []float64{1, 2, 3})
	g := layer.NewGradients()
	copy(g.For(p), []float64{1, -1, 0.5})

	SGD{}.Apply(g, 0.1)

	expected := []float64{0.9, 2.1, 2.95}
	for i, want := range expected {
		if math.Abs(p.Data[i]-want) > 1e-12 {
			t.Errorf("param[%d] = %f, expected %f", i, p.Data[i], want)
		}
	}
}

func TestAdamFirstStep(t *testing.T) {
	// With bias correction the first step moves every weight by lr·sign(g).
	p := layer.NewParam("w", true, 3)
	g := layer.NewGradients()
	copy(g.For(p), []float64{4, -0.01, 0})

	a := NewAdam()
	a.Apply(g, 0.1)

	expected := []float64{-0.1, 0.1, 0}
	for i, want := range expected {
		if math.Abs(p.Data[i]-want) > 1e-5 {
			t.Errorf("param[%d] = %f, expected %f", i, p.Data[i], want)
		}
	}
	if a.Steps() != 1 {
		t.Errorf("Steps() = %d", a.Steps())
	}
}

func TestAdamKeepsMoments(t *testing.T) {
	p := layer.NewParam("w", true, 1)
	a := NewAdam()

	g := layer.NewGradients()
	g.For(p)[0] = 1
	a.Apply(g, 0.1)
	g.Reset()
	g.For(p)[0] = -1
	a.Apply(g, 0.1)

	first := -0.1 * math.Sqrt(0.001) / 0.1 * 0.1 / (math.Sqrt(0.001) + 1e-8)
	// m = 0.9·0.1 - 0.1 = -0.01, v = 0.999·0.001 + 0.001 = 0.001999
	m, v := -0.01, 0.001999
	lr := 0.1 * math.Sqrt(1-0.999*0.999) / (1 - 0.9*0.9)
	want := first - lr*m/(math.Sqrt(v)+1e-8)
	if math.Abs(p.Data[0]-want) > 1e-9 {
		t.Errorf("param = %.9f, expected %.9f", p.Data[0], want)
	}
}

func TestAdamSkipsFrozenParams(t *testing.T) {
	frozen := layer.NewScalar("scaling/depth_scale", 1, false)
	g := layer.NewGradients()
	g.AddScalar(frozen, 5)
	NewAdam().Apply(g, 0.1)
	if frozen.Value() != 1 {
		t.Errorf("frozen param changed to %f", frozen.Value())
	}
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	p := layer.NewScalar("x", 3, true)
	a := NewAdam()
	g := layer.NewGradients()
	for i := 0; i < 2000; i++ {
		g.Reset()
		g.AddScalar(p, 2*(p.Value()-1))
		a.Apply(g, 0.01)
	}
	if math.Abs(p.Value()-1) > 5e-2 {
		t.Errorf("x = %f, expected 1", p.Value())
	}
}

func TestTrainingSchedule(t *testing.T) {
	s := NewTrainingSchedule(1e-3, 100)
	tests := []struct {
		step int64
		lr   float64
	}{
		{0, 1e-3},
		{60, 1e-3},
		{61, 5e-4},
		{80, 5e-4},
		{81, 2.5e-4},
		{1000, 2.5e-4},
	}
	for _, tt := range tests {
		if got := s.LR(tt.step); math.Abs(got-tt.lr) > 1e-15 {
			t.Errorf("LR(%d) = %g, expected %g", tt.step, got, tt.lr)
		}
	}
	if Constant(0.5).LR(7) != 0.5 {
		t.Error("Constant schedule")
	}
}

func TestPiecewiseConstantValidates(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for mismatched values")
		}
	}()
	NewPiecewiseConstant([]int64{1, 2}, []float64{1})
}
