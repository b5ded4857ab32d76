// Package disparity converts between network disparities, depth maps and the
// angular vertical disparity between the top and bottom cameras.
package disparity

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/spherical"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

const (
	// Epsilon biases every conversion away from its singularity.
	Epsilon = 1e-6
	// Baseline is the vertical distance between the two cameras.
	Baseline = 0.5
)

// Position selects which camera of the vertical pair a conversion refers to.
type Position int

const (
	Top Position = iota
	Bottom
)

func (p Position) String() string {
	switch p {
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	default:
		return fmt.Sprintf("Position(%d)", int(p))
	}
}

// sign is -1 for the top camera and +1 for the bottom one, the sign of the
// b·d·tanT term.
func (p Position) sign() float64 {
	if p == Top {
		return -1
	}
	return 1
}

// EquirectToDepth applies the reciprocal law depth = scale/(disp+ε).
func EquirectToDepth(disp *tensor.Tensor, depthScale float64) *tensor.Tensor {
	return disp.Map(func(v float64) float64 { return depthScale / (v + Epsilon) })
}

// EquirectToDepthBackward returns the gradients of EquirectToDepth with
// respect to the disparity and to the depth scale.
func EquirectToDepthBackward(disp *tensor.Tensor, depthScale float64, grad *tensor.Tensor) (*tensor.Tensor, float64) {
	mustMatch("EquirectToDepthBackward", disp, grad)
	gd := disp.ZerosLike()
	var gs float64
	for i, v := range disp.Data {
		inv := 1 / (v + Epsilon)
		gd.Data[i] = -grad.Data[i] * depthScale * inv * inv
		gs += grad.Data[i] * inv
	}
	return gd, gs
}

// CubicToDepth converts the disparity of one cube face [B, n, n, C] into the
// radial distance from the cube centre: the reciprocal law gives the
// perpendicular distance which is then backprojected along each pixel ray.
func CubicToDepth(disp *tensor.Tensor, depthScale float64) *tensor.Tensor {
	return spherical.Backproject(EquirectToDepth(disp, depthScale))
}

// CubicToDepthBackward returns the gradients of CubicToDepth.
func CubicToDepthBackward(disp *tensor.Tensor, depthScale float64, grad *tensor.Tensor) (*tensor.Tensor, float64) {
	return EquirectToDepthBackward(disp, depthScale, spherical.BackprojectBackward(grad))
}

// DepthToNormalized inverts the reciprocal law, returning the network
// disparity that produces depth.
func DepthToNormalized(depth *tensor.Tensor, depthScale float64) *tensor.Tensor {
	return depth.Map(func(d float64) float64 { return depthScale/d - Epsilon })
}

func angularArgs(d, tanT, sign float64) (y, x float64) {
	y = Baseline * d
	x = (1+tanT*tanT)*d*d + sign*Baseline*d*tanT
	if x == 0 && y == 0 {
		x = Epsilon
	}
	return y, x
}

func checkGrid(name string, t *tensor.Tensor, T [][]float64) {
	if len(T) != t.H || (t.H > 0 && len(T[0]) != t.W) {
		panic(fmt.Sprintf("disparity: %s: latitude grid does not match %v", name, t))
	}
}

// ToAngular converts depth [B, H, W, C] into the vertical angular disparity
// seen from the given camera:
//
//	scale·(atan2(b·d, (1+tan²T)·d² ∓ b·d·tanT) − π/2)
//
// with minus for Top and plus for Bottom. T is the latitude grid of the depth
// map's own resolution, as returned by spherical.LatLongGrid.
func ToAngular(depth *tensor.Tensor, T [][]float64, scale float64, pos Position) *tensor.Tensor {
	checkGrid("ToAngular", depth, T)
	out := depth.ZerosLike()
	sign := pos.sign()
	for b := 0; b < depth.B; b++ {
		for i := 0; i < depth.H; i++ {
			for j := 0; j < depth.W; j++ {
				tanT := math.Tan(T[i][j])
				base := depth.Index(b, i, j, 0)
				for c := 0; c < depth.C; c++ {
					y, x := angularArgs(depth.Data[base+c], tanT, sign)
					out.Data[base+c] = scale * (math.Atan2(y, x) - math.Pi/2)
				}
			}
		}
	}
	return out
}

// ToAngularBackward returns the gradients of ToAngular with respect to the
// depth and to the disparity scale.
func ToAngularBackward(depth *tensor.Tensor, T [][]float64, scale float64, pos Position, grad *tensor.Tensor) (*tensor.Tensor, float64) {
	checkGrid("ToAngularBackward", depth, T)
	mustMatch("ToAngularBackward", depth, grad)
	gd := depth.ZerosLike()
	var gs float64
	sign := pos.sign()
	for b := 0; b < depth.B; b++ {
		for i := 0; i < depth.H; i++ {
			for j := 0; j < depth.W; j++ {
				tanT := math.Tan(T[i][j])
				sec2 := 1 + tanT*tanT
				base := depth.Index(b, i, j, 0)
				for c := 0; c < depth.C; c++ {
					k := base + c
					d := depth.Data[k]
					y, x := angularArgs(d, tanT, sign)
					dy := Baseline
					dx := 2*sec2*d + sign*Baseline*tanT
					dTheta := (x*dy - y*dx) / (x*x + y*y + Epsilon)
					gd.Data[k] = grad.Data[k] * scale * dTheta
					gs += grad.Data[k] * (math.Atan2(y, x) - math.Pi/2)
				}
			}
		}
	}
	return gd, gs
}

// FromAngular is the analytic inverse of ToAngular:
//
//	d = b·(cotθ ± tanT)/(1+tan²T),  θ = disparity/scale + π/2
//
// with plus for Top and minus for Bottom.
func FromAngular(disp *tensor.Tensor, T [][]float64, scale float64, pos Position) *tensor.Tensor {
	checkGrid("FromAngular", disp, T)
	out := disp.ZerosLike()
	sign := pos.sign()
	for b := 0; b < disp.B; b++ {
		for i := 0; i < disp.H; i++ {
			for j := 0; j < disp.W; j++ {
				tanT := math.Tan(T[i][j])
				base := disp.Index(b, i, j, 0)
				for c := 0; c < disp.C; c++ {
					theta := disp.Data[base+c]/nonZero(scale) + math.Pi/2
					cot := math.Cos(theta) / nonZero(math.Sin(theta))
					out.Data[base+c] = Baseline * (cot - sign*tanT) / (1 + tanT*tanT)
				}
			}
		}
	}
	return out
}

func nonZero(v float64) float64 {
	if v == 0 {
		return Epsilon
	}
	return v
}

func mustMatch(name string, a, b *tensor.Tensor) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("disparity: %s: shape %v does not match %v", name, a, b))
	}
}
