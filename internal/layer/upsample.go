package layer

import "github.com/FlavioCFOliveira/GoDepth360/internal/tensor"

// Upsample repeats every pixel Ratio times along both spatial axes.
type Upsample struct {
	Ratio int
}

// NewUpsample creates a nearest-neighbour upsampling layer.
func NewUpsample(ratio int) *Upsample {
	if ratio <= 0 {
		panic("Upsample: ratio must be positive")
	}
	return &Upsample{Ratio: ratio}
}

// Params returns nil.
func (u *Upsample) Params() []*Param { return nil }

// Forward upsamples x.
func (u *Upsample) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	return tensor.UpsampleNearest(x, u.Ratio), nil
}

// Backward sums the gradient over each replicated block.
func (u *Upsample) Backward(_ Cache, grad *tensor.Tensor, _ *Gradients) *tensor.Tensor {
	return tensor.UpsampleNearestBackward(grad, u.Ratio)
}
