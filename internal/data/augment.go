package data

import (
	"math"
	"math/rand"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Augmentation ranges.
const (
	GammaLow, GammaHigh           = 0.8, 1.2
	BrightnessLow, BrightnessHigh = 0.5, 2.0
	ColorLow, ColorHigh           = 0.8, 1.2
)

// Augmentation is one random photometric change applied identically to both
// images of a pair.
type Augmentation struct {
	Gamma      float64
	Brightness float64
	Color      [3]float64
}

func uniform(r *rand.Rand, lo, hi float64) float64 { return lo + (hi-lo)*r.Float64() }

// RandomAugmentation draws gamma, brightness and per-channel colour factors.
func RandomAugmentation(r *rand.Rand) Augmentation {
	a := Augmentation{
		Gamma:      uniform(r, GammaLow, GammaHigh),
		Brightness: uniform(r, BrightnessLow, BrightnessHigh),
	}
	for i := range a.Color {
		a.Color[i] = uniform(r, ColorLow, ColorHigh)
	}
	return a
}

// Apply returns t^gamma · brightness · colour, clipped to [0, 1].
func (a Augmentation) Apply(t *tensor.Tensor) *tensor.Tensor {
	out := t.ZerosLike()
	for i, v := range t.Data {
		v = math.Pow(v, a.Gamma) * a.Brightness * a.Color[i%t.C]
		out.Data[i] = math.Min(math.Max(v, 0), 1)
	}
	return out
}

// AugmentPair applies the train mode augmentation: a horizontal flip of both
// images with probability ½, then with probability ½ a shared photometric
// augmentation.
func AugmentPair(r *rand.Rand, top, bottom *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor) {
	if r.Float64() > 0.5 {
		top, bottom = top.FlipLeftRight(), bottom.FlipLeftRight()
	}
	if r.Float64() > 0.5 {
		a := RandomAugmentation(r)
		top, bottom = a.Apply(top), a.Apply(bottom)
	}
	return top, bottom
}
