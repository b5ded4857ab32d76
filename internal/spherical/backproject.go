package spherical

import (
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// RayFactors returns, for each pixel of a size×size face, the ratio between
// the length of the ray through the pixel centre and its component along the
// optical axis, √(1+u²+v²). Every face shares the same intrinsics, so the
// table is face independent.
func RayFactors(size int) []float64 {
	f := make([]float64, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			u, v := pixelPlane(row, col, size)
			f[row*size+col] = math.Sqrt(1 + u*u + v*v)
		}
	}
	return f
}

// Backproject turns perpendicular distances measured on a square face
// [B, n, n, C] into radial distances from the cube centre.
func Backproject(perp *tensor.Tensor) *tensor.Tensor {
	return scaleByRay(perp)
}

// BackprojectBackward returns the gradient of Backproject. The map is linear,
// so the gradient is scaled by the same factors.
func BackprojectBackward(grad *tensor.Tensor) *tensor.Tensor {
	return scaleByRay(grad)
}

func scaleByRay(t *tensor.Tensor) *tensor.Tensor {
	if t.H != t.W {
		panic("spherical: faces must be square, got " + t.String())
	}
	factors := RayFactors(t.H)
	out := t.ZerosLike()
	plane := t.H * t.W
	for b := 0; b < t.B; b++ {
		for p, k := range factors {
			base := (b*plane + p) * t.C
			for c := 0; c < t.C; c++ {
				out.Data[base+c] = k * t.Data[base+c]
			}
		}
	}
	return out
}
