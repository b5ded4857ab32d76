// Package sampler implements differentiable bilinear resampling of images at
// real-valued, possibly out-of-bounds, pixel coordinates.
package sampler

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// corner holds the clamped indices and bilinear weights along one axis.
type corner struct {
	i0, i1 int
	w0, w1 float64
	// moves reports whether the two clamped indices differ, i.e. whether the
	// sample value depends on the coordinate.
	moves bool
}

func locate(coord float64, size int) corner {
	// Both corners clamp to the same border pixel outside [-1, size], so
	// bounding coord first keeps the int conversion in range.
	coord = math.Max(-1, math.Min(coord, float64(size)))
	f := math.Floor(coord)
	frac := coord - f
	i0 := clamp(int(f), size)
	i1 := clamp(int(f)+1, size)
	return corner{i0: i0, i1: i1, w0: 1 - frac, w1: frac, moves: i0 != i1}
}

func clamp(i, size int) int {
	if i < 0 {
		return 0
	}
	if i > size-1 {
		return size - 1
	}
	return i
}

func checkOffset(img, off *tensor.Tensor) {
	if off == nil {
		return
	}
	if off.B != img.B || off.H != img.H || off.W != img.W || off.C != 1 {
		panic(fmt.Sprintf("sampler: offset %v does not match image %v", off, img))
	}
}

func offsetAt(off *tensor.Tensor, p int) float64 {
	if off == nil {
		return 0
	}
	return off.Data[p]
}

// Sample reads img at (x + xOffset, y + yOffset) for every output pixel (x, y)
// with bilinear interpolation. Offsets are [B, H, W, 1] in pixels and apply to
// all channels; a nil offset means zero. Coordinates beyond the image clamp
// to the border.
func Sample(img, xOffset, yOffset *tensor.Tensor) *tensor.Tensor {
	checkOffset(img, xOffset)
	checkOffset(img, yOffset)

	out := img.ZerosLike()
	C := img.C
	for b := 0; b < img.B; b++ {
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				p := (b*img.H+y)*img.W + x
				cx := locate(float64(x)+offsetAt(xOffset, p), img.W)
				cy := locate(float64(y)+offsetAt(yOffset, p), img.H)

				i00 := img.Index(b, cy.i0, cx.i0, 0)
				i01 := img.Index(b, cy.i0, cx.i1, 0)
				i10 := img.Index(b, cy.i1, cx.i0, 0)
				i11 := img.Index(b, cy.i1, cx.i1, 0)
				w00 := cy.w0 * cx.w0
				w01 := cy.w0 * cx.w1
				w10 := cy.w1 * cx.w0
				w11 := cy.w1 * cx.w1

				dst := p * C
				for c := 0; c < C; c++ {
					out.Data[dst+c] = w00*img.Data[i00+c] + w01*img.Data[i01+c] +
						w10*img.Data[i10+c] + w11*img.Data[i11+c]
				}
			}
		}
	}
	return out
}

// Backward returns the gradients of Sample with respect to the source image
// and both offset fields. A nil offset yields a nil gradient.
func Backward(img, xOffset, yOffset, grad *tensor.Tensor) (gradImg, gradX, gradY *tensor.Tensor) {
	checkOffset(img, xOffset)
	checkOffset(img, yOffset)
	if !grad.SameShape(img) {
		panic(fmt.Sprintf("sampler: gradient %v does not match image %v", grad, img))
	}

	gradImg = img.ZerosLike()
	if xOffset != nil {
		gradX = xOffset.ZerosLike()
	}
	if yOffset != nil {
		gradY = yOffset.ZerosLike()
	}

	C := img.C
	for b := 0; b < img.B; b++ {
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				p := (b*img.H+y)*img.W + x
				cx := locate(float64(x)+offsetAt(xOffset, p), img.W)
				cy := locate(float64(y)+offsetAt(yOffset, p), img.H)

				i00 := img.Index(b, cy.i0, cx.i0, 0)
				i01 := img.Index(b, cy.i0, cx.i1, 0)
				i10 := img.Index(b, cy.i1, cx.i0, 0)
				i11 := img.Index(b, cy.i1, cx.i1, 0)
				w00 := cy.w0 * cx.w0
				w01 := cy.w0 * cx.w1
				w10 := cy.w1 * cx.w0
				w11 := cy.w1 * cx.w1

				var dx, dy float64
				src := p * C
				for c := 0; c < C; c++ {
					g := grad.Data[src+c]
					gradImg.Data[i00+c] += w00 * g
					gradImg.Data[i01+c] += w01 * g
					gradImg.Data[i10+c] += w10 * g
					gradImg.Data[i11+c] += w11 * g

					v00 := img.Data[i00+c]
					v01 := img.Data[i01+c]
					v10 := img.Data[i10+c]
					v11 := img.Data[i11+c]
					if cx.moves {
						dx += g * (cy.w0*(v01-v00) + cy.w1*(v11-v10))
					}
					if cy.moves {
						dy += g * (cx.w0*(v10-v00) + cx.w1*(v11-v01))
					}
				}
				if gradX != nil {
					gradX.Data[p] = dx
				}
				if gradY != nil {
					gradY.Data[p] = dy
				}
			}
		}
	}
	return gradImg, gradX, gradY
}

// SampleTop synthesises the top view from img using the vertical disparity,
// given in rows, applied with a positive sign.
func SampleTop(img, disparity *tensor.Tensor) *tensor.Tensor {
	return Sample(img, nil, disparity)
}

// SampleBottom synthesises the bottom view from img using the vertical
// disparity, given in rows, applied with a negative sign.
func SampleBottom(img, disparity *tensor.Tensor) *tensor.Tensor {
	return Sample(img, nil, negate(disparity))
}

// BackwardTop returns the gradients of SampleTop.
func BackwardTop(img, disparity, grad *tensor.Tensor) (gradImg, gradDisparity *tensor.Tensor) {
	gradImg, _, gradDisparity = Backward(img, nil, disparity, grad)
	return gradImg, gradDisparity
}

// BackwardBottom returns the gradients of SampleBottom.
func BackwardBottom(img, disparity, grad *tensor.Tensor) (gradImg, gradDisparity *tensor.Tensor) {
	gradImg, _, gradOffset := Backward(img, nil, negate(disparity), grad)
	return gradImg, negate(gradOffset)
}

func negate(t *tensor.Tensor) *tensor.Tensor {
	return t.Map(func(v float64) float64 { return -v })
}
