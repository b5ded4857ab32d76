// Package loss provides the photometric, smoothness and consistency losses of
// the depth pipeline together with their gradients.
package loss

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Loss is a reduction of a prediction against a target with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(pred, target *tensor.Tensor) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	Backward(pred, target *tensor.Tensor) *tensor.Tensor
}

// L1Loss (Mean Absolute Error) loss.
type L1Loss struct{}

// Forward computes mean absolute error: (1/n) * sum(|pred - target|)
func (l L1Loss) Forward(pred, target *tensor.Tensor) float64 {
	mustMatch("L1Loss", pred, target)
	if pred.Len() == 0 {
		return 0
	}
	var sum float64
	for i, p := range pred.Data {
		sum += math.Abs(p - target.Data[i])
	}
	return sum / float64(pred.Len())
}

// Backward computes gradient for L1 loss: dL/dpred = (1/n) * sign(pred - target)
func (l L1Loss) Backward(pred, target *tensor.Tensor) *tensor.Tensor {
	mustMatch("L1Loss", pred, target)
	grad := pred.ZerosLike()
	if pred.Len() == 0 {
		return grad
	}
	factor := 1.0 / float64(pred.Len())
	for i, p := range pred.Data {
		diff := p - target.Data[i]
		if diff > 0 {
			grad.Data[i] = factor
		} else if diff < 0 {
			grad.Data[i] = -factor
		}
	}
	return grad
}

// Consistency is the mean absolute difference between a depth map warped from
// the other camera and the camera's own estimate.
func Consistency(warped, own *tensor.Tensor) float64 {
	return L1Loss{}.Forward(warped, own)
}

// ConsistencyBackward returns the gradients of Consistency with respect to
// both arguments.
func ConsistencyBackward(warped, own *tensor.Tensor) (gWarped, gOwn *tensor.Tensor) {
	gWarped = L1Loss{}.Backward(warped, own)
	gOwn = gWarped.Clone()
	gOwn.Scale(-1)
	return gWarped, gOwn
}

// Smoothness is the edge-aware depth smoothness term
//
//	mean|∂x d · exp(-mean_c|∂x I|)| + mean|∂y d · exp(-mean_c|∂y I|)|
//
// where the image weights are shared by every depth channel.
func Smoothness(depth, image *tensor.Tensor) float64 {
	checkGuide(depth, image)
	var total float64
	for _, axis := range []gradAxis{axisX, axisY} {
		dg := axis.grad(depth)
		w := edgeWeights(axis.grad(image))
		if dg.Len() == 0 {
			continue
		}
		var sum float64
		for i, v := range dg.Data {
			sum += math.Abs(v * w[i/dg.C])
		}
		total += sum / float64(dg.Len())
	}
	return total
}

// SmoothnessBackward returns the gradient of Smoothness with respect to depth.
// The image is treated as a constant.
func SmoothnessBackward(depth, image *tensor.Tensor) *tensor.Tensor {
	checkGuide(depth, image)
	out := depth.ZerosLike()
	for _, axis := range []gradAxis{axisX, axisY} {
		dg := axis.grad(depth)
		w := edgeWeights(axis.grad(image))
		if dg.Len() == 0 {
			continue
		}
		g := dg.ZerosLike()
		n := float64(dg.Len())
		for i, v := range dg.Data {
			wi := w[i/dg.C]
			switch {
			case v > 0:
				g.Data[i] = wi / n
			case v < 0:
				g.Data[i] = -wi / n
			}
		}
		out.Add(axis.backward(g))
	}
	return out
}

type gradAxis int

const (
	axisX gradAxis = iota
	axisY
)

func (a gradAxis) grad(t *tensor.Tensor) *tensor.Tensor {
	if a == axisX {
		if t.W < 2 {
			return tensor.New(t.B, t.H, 0, t.C)
		}
		return tensor.GradientX(t)
	}
	if t.H < 2 {
		return tensor.New(t.B, 0, t.W, t.C)
	}
	return tensor.GradientY(t)
}

func (a gradAxis) backward(g *tensor.Tensor) *tensor.Tensor {
	if a == axisX {
		return tensor.GradientXBackward(g)
	}
	return tensor.GradientYBackward(g)
}

// edgeWeights returns exp(-mean_c|g|) per pixel.
func edgeWeights(g *tensor.Tensor) []float64 {
	pixels := g.B * g.H * g.W
	w := make([]float64, pixels)
	if g.C == 0 {
		return w
	}
	for p := 0; p < pixels; p++ {
		var s float64
		for _, v := range g.Data[p*g.C : (p+1)*g.C] {
			s += math.Abs(v)
		}
		w[p] = math.Exp(-s / float64(g.C))
	}
	return w
}

func checkGuide(depth, image *tensor.Tensor) {
	if depth.B != image.B || depth.H != image.H || depth.W != image.W {
		panic(fmt.Sprintf("Smoothness: depth %v and image %v differ in size", depth, image))
	}
}

func mustMatch(name string, a, b *tensor.Tensor) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("%s: prediction %v and target %v must have the same shape", name, a, b))
	}
}
