package loss

import (
	"math"
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

func randomTensor(r *rand.Rand, b, h, w, c int, lo, hi float64) *tensor.Tensor {
	t := tensor.New(b, h, w, c)
	for i := range t.Data {
		t.Data[i] = lo + (hi-lo)*r.Float64()
	}
	return t
}

// checkNumeric compares grad with central differences of f around x.
func checkNumeric(t *testing.T, name string, x, grad *tensor.Tensor, f func() float64, tol float64) {
	t.Helper()
	const h = 1e-6
	for i := range x.Data {
		orig := x.Data[i]
		x.Data[i] = orig + h
		plus := f()
		x.Data[i] = orig - h
		minus := f()
		x.Data[i] = orig
		if num := (plus - minus) / (2 * h); math.Abs(num-grad.Data[i]) > tol {
			t.Errorf("%s: grad[%d] = %g, numeric %g", name, i, grad.Data[i], num)
		}
	}
}

func TestL1Loss(t *testing.T) {
	tests := []struct {
		name     string
		pred     []float64
		target   []float64
		expected float64
		grad     []float64
	}{
		{"Perfect prediction", []float64{1, 2}, []float64{1, 2}, 0, []float64{0, 0}},
		{"Single error", []float64{1, 2}, []float64{1.5, 2}, 0.25, []float64{-0.5, 0}},
		{"Mixed signs", []float64{3, -1}, []float64{1, 1}, 2, []float64{0.5, -0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tensor.FromData(1, 1, 2, 1, tt.pred)
			y := tensor.FromData(1, 1, 2, 1, tt.target)
			if got := (L1Loss{}).Forward(p, y); math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("L1Loss.Forward() = %v, want %v", got, tt.expected)
			}
			g := L1Loss{}.Backward(p, y)
			for i, want := range tt.grad {
				if math.Abs(g.Data[i]-want) > 1e-12 {
					t.Errorf("grad[%d] = %v, want %v", i, g.Data[i], want)
				}
			}
		})
	}
}

func TestL1LossShapeMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for shape mismatch")
		}
	}()
	L1Loss{}.Forward(tensor.New(1, 2, 2, 1), tensor.New(1, 2, 3, 1))
}

func TestSSIMIdenticalImages(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	x := randomTensor(r, 2, 5, 6, 3, 0, 1)
	m := SSIM(x, x.Clone())
	if m.H != 3 || m.W != 4 || m.C != 3 {
		t.Fatalf("SSIM map shape %v, expected [2 3 4 3]", m)
	}
	for i, v := range m.Data {
		if math.Abs(v) > 1e-12 {
			t.Errorf("SSIM[%d] = %g, expected 0 for identical images", i, v)
		}
	}
}

func TestSSIMRange(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	x := randomTensor(r, 1, 8, 8, 2, 0, 1)
	y := randomTensor(r, 1, 8, 8, 2, 0, 1)
	for i, v := range SSIM(x, y).Data {
		if v < 0 || v > 1 {
			t.Errorf("SSIM[%d] = %g outside [0, 1]", i, v)
		}
	}
	if l := (SSIMLoss{}).Forward(x, y); l <= 0 {
		t.Errorf("SSIMLoss = %g, expected positive for different images", l)
	}
}

func TestSSIMTooSmall(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for an input smaller than the window")
		}
	}()
	SSIM(tensor.New(1, 2, 5, 1), tensor.New(1, 2, 5, 1))
}

func TestSSIMGradient(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	x := randomTensor(r, 2, 5, 4, 2, 0, 1)
	y := randomTensor(r, 2, 5, 4, 2, 0, 1)
	g := SSIMLoss{}.Backward(x, y)
	checkNumeric(t, "SSIM", x, g, func() float64 { return SSIMLoss{}.Forward(x, y) }, 1e-7)
}

func TestSmoothness(t *testing.T) {
	// A horizontal ramp in depth over a flat image costs |step| in x only.
	depth := tensor.New(1, 3, 4, 1)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			depth.Set(0, y, x, 0, 0.5*float64(x))
		}
	}
	flat := tensor.Full(1, 3, 4, 3, 0.5)
	if got := Smoothness(depth, flat); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Smoothness = %f, expected 0.5", got)
	}

	// A strong edge in the image between the same columns damps the cost.
	edge := flat.Clone()
	for y := 0; y < 3; y++ {
		for x := 2; x < 4; x++ {
			for c := 0; c < 3; c++ {
				edge.Set(0, y, x, c, 1.5)
			}
		}
	}
	want := 0.5 * (2 + math.Exp(-1)) / 3
	if got := Smoothness(depth, edge); math.Abs(got-want) > 1e-12 {
		t.Errorf("Smoothness with edge = %f, expected %f", got, want)
	}
}

func TestSmoothnessGradient(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	depth := randomTensor(r, 2, 4, 5, 1, 0.5, 3)
	image := randomTensor(r, 2, 4, 5, 3, 0, 1)
	g := SmoothnessBackward(depth, image)
	checkNumeric(t, "Smoothness", depth, g, func() float64 { return Smoothness(depth, image) }, 1e-7)
}

func TestConsistencyGradient(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	warped := randomTensor(r, 1, 3, 3, 1, 0, 2)
	own := randomTensor(r, 1, 3, 3, 1, 0, 2)
	gw, gOwn := ConsistencyBackward(warped, own)
	f := func() float64 { return Consistency(warped, own) }
	checkNumeric(t, "warped", warped, gw, f, 1e-7)
	checkNumeric(t, "own", own, gOwn, f, 1e-7)
}

func TestLossesNonNegative(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	for trial := 0; trial < 20; trial++ {
		x := randomTensor(r, 1, 6, 6, 3, -5, 5)
		y := randomTensor(r, 1, 6, 6, 3, -5, 5)
		d := randomTensor(r, 1, 6, 6, 1, -5, 5)
		terms := map[string]float64{
			"ssim":        SSIMLoss{}.Forward(x, y),
			"l1":          L1Loss{}.Forward(x, y),
			"smoothness":  Smoothness(d, x),
			"consistency": Consistency(d, d.Map(math.Abs)),
		}
		for name, v := range terms {
			if v < 0 || math.IsNaN(v) {
				t.Errorf("trial %d: %s loss = %g, expected >= 0", trial, name, v)
			}
		}
	}
}

func testInputs(r *rand.Rand, identical bool) *Inputs {
	in := &Inputs{}
	h, w := 8, 12
	for i := 0; i < 3; i++ {
		top := randomTensor(r, 2, h, w, 3, 0, 1)
		bottom := randomTensor(r, 2, h, w, 3, 0, 1)
		topEst := randomTensor(r, 2, h, w, 3, 0, 1)
		bottomEst := randomTensor(r, 2, h, w, 3, 0, 1)
		if identical {
			topEst, bottomEst = top.Clone(), bottom.Clone()
		}
		in.TopPyramid = append(in.TopPyramid, top)
		in.BottomPyramid = append(in.BottomPyramid, bottom)
		in.TopEst = append(in.TopEst, topEst)
		in.BottomEst = append(in.BottomEst, bottomEst)
		in.DepthTop = append(in.DepthTop, randomTensor(r, 2, h, w, 1, 1, 4))
		in.DepthBottom = append(in.DepthBottom, randomTensor(r, 2, h, w, 1, 1, 4))
		in.BottomToTop = append(in.BottomToTop, randomTensor(r, 2, h, w, 1, 1, 4))
		in.TopToBottom = append(in.TopToBottom, randomTensor(r, 2, h, w, 1, 1, 4))
		h, w = h/2+1, w/2
	}
	return in
}

func TestObjectiveForward(t *testing.T) {
	o := Objective{AlphaImage: 0.75, DepthGradientWeight: 1e-3, TBWeight: 1e-3}
	in := testInputs(rand.New(rand.NewSource(7)), false)
	br := o.Forward(in)

	if len(br.Scales) != 3 {
		t.Fatalf("got %d scales, expected 3", len(br.Scales))
	}
	want := br.ImageLoss + 1e-3*br.DepthGradientLoss + 1e-3*br.TBLoss
	if math.Abs(br.Total-want) > 1e-12 {
		t.Errorf("Total = %f, expected %f", br.Total, want)
	}
	if !br.Finite() || br.Total < 0 {
		t.Errorf("Total = %f, expected finite and non-negative", br.Total)
	}
	smooth2 := (Smoothness(in.DepthTop[2], in.TopPyramid[2]) + Smoothness(in.DepthBottom[2], in.BottomPyramid[2])) / 4
	if math.Abs(br.Scales[2].DepthGradient-smooth2) > 1e-12 {
		t.Errorf("scale 2 smoothness = %f, expected %f", br.Scales[2].DepthGradient, smooth2)
	}
	s := br.Scalars()
	for _, k := range []string{"ssim_loss_0", "l1_loss_2", "tb_loss", "total_loss"} {
		if _, ok := s[k]; !ok {
			t.Errorf("Scalars() is missing %q", k)
		}
	}
}

func TestObjectivePerfectReconstruction(t *testing.T) {
	o := Objective{AlphaImage: 0.75}
	br := o.Forward(testInputs(rand.New(rand.NewSource(8)), true))
	if math.Abs(br.ImageLoss) > 1e-12 {
		t.Errorf("ImageLoss = %g, expected 0 for perfect reconstructions", br.ImageLoss)
	}
}

func TestObjectiveBackward(t *testing.T) {
	o := Objective{AlphaImage: 0.75, DepthGradientWeight: 0.1, TBWeight: 0.2}
	in := testInputs(rand.New(rand.NewSource(9)), false)
	g := o.Backward(in)
	f := func() float64 { return o.Forward(in).Total }

	for i := 0; i < in.Scales(); i++ {
		checkNumeric(t, "TopEst", in.TopEst[i], g.TopEst[i], f, 1e-7)
		checkNumeric(t, "BottomEst", in.BottomEst[i], g.BottomEst[i], f, 1e-7)
		checkNumeric(t, "DepthTop", in.DepthTop[i], g.DepthTop[i], f, 1e-7)
		checkNumeric(t, "DepthBottom", in.DepthBottom[i], g.DepthBottom[i], f, 1e-7)
		checkNumeric(t, "BottomToTop", in.BottomToTop[i], g.BottomToTop[i], f, 1e-7)
		checkNumeric(t, "TopToBottom", in.TopToBottom[i], g.TopToBottom[i], f, 1e-7)
	}
}
