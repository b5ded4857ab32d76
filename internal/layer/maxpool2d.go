package layer

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// MaxPool2D implements 2D max pooling.
// The input is zero padded by (k-1)/2 before pooling, so padding cells take
// part in the maximum with value 0.
// Stores argmax indices for correct gradient flow during backward pass.
type MaxPool2D struct {
	kernelSize int
	stride     int
	padding    int
}

// NewMaxPool2D creates a new 2D max pooling layer.
func NewMaxPool2D(kernelSize, stride int) *MaxPool2D {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("MaxPool2D: invalid geometry k=%d s=%d", kernelSize, stride))
	}
	return &MaxPool2D{kernelSize: kernelSize, stride: stride, padding: (kernelSize - 1) / 2}
}

// OutputSize returns the spatial output size for an h×w input.
func (m *MaxPool2D) OutputSize(h, w int) (int, int) {
	outH := (h+2*m.padding-m.kernelSize)/m.stride + 1
	outW := (w+2*m.padding-m.kernelSize)/m.stride + 1
	return outH, outW
}

// Params returns nil; pooling has no parameters.
func (m *MaxPool2D) Params() []*Param { return nil }

type poolCache struct {
	in     *tensor.Tensor
	argmax []int // flat input index, -1 for a padding cell
}

// Forward pools x [B, H, W, C].
func (m *MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	outH, outW := m.OutputSize(x.H, x.W)
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("MaxPool2D: input %v too small", x))
	}
	out := tensor.New(x.B, outH, outW, x.C)
	argmax := make([]int, len(out.Data))

	for b := 0; b < x.B; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				for c := 0; c < x.C; c++ {
					best := math.Inf(-1)
					bestIdx := -1
					for ky := 0; ky < m.kernelSize; ky++ {
						iy := oy*m.stride + ky - m.padding
						for kx := 0; kx < m.kernelSize; kx++ {
							ix := ox*m.stride + kx - m.padding
							if iy < 0 || iy >= x.H || ix < 0 || ix >= x.W {
								if 0 > best {
									best, bestIdx = 0, -1
								}
								continue
							}
							idx := x.Index(b, iy, ix, c)
							if v := x.Data[idx]; v > best {
								best, bestIdx = v, idx
							}
						}
					}
					o := out.Index(b, oy, ox, c)
					out.Data[o] = best
					argmax[o] = bestIdx
				}
			}
		}
	}
	return out, &poolCache{in: x, argmax: argmax}
}

// Backward routes each output gradient to the input that produced the max.
func (m *MaxPool2D) Backward(cache Cache, grad *tensor.Tensor, _ *Gradients) *tensor.Tensor {
	pc := cache.(*poolCache)
	gx := pc.in.ZerosLike()
	for o, idx := range pc.argmax {
		if idx >= 0 {
			gx.Data[idx] += grad.Data[o]
		}
	}
	return gx
}
