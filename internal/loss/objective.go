package loss

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Objective combines the photometric, smoothness and top/bottom consistency
// terms into the training loss.
type Objective struct {
	// AlphaImage weights SSIM against L1 in the photometric term.
	AlphaImage          float64
	DepthGradientWeight float64
	TBWeight            float64
}

// Inputs are the per-scale tensors the objective is evaluated on, finest
// scale first. Every slice must have the same length.
type Inputs struct {
	TopPyramid, BottomPyramid []*tensor.Tensor
	// TopEst is the top view synthesised from the bottom image, BottomEst the
	// converse.
	TopEst, BottomEst []*tensor.Tensor
	// DepthTop and DepthBottom are the [B, H, W, 1] depth estimates.
	DepthTop, DepthBottom []*tensor.Tensor
	// BottomToTop is the bottom depth warped into the top camera,
	// TopToBottom the converse.
	BottomToTop, TopToBottom []*tensor.Tensor
}

// Scales returns the number of pyramid levels.
func (in *Inputs) Scales() int { return len(in.TopPyramid) }

func (in *Inputs) check() {
	n := in.Scales()
	for name, s := range map[string][]*tensor.Tensor{
		"BottomPyramid": in.BottomPyramid,
		"TopEst":        in.TopEst,
		"BottomEst":     in.BottomEst,
		"DepthTop":      in.DepthTop,
		"DepthBottom":   in.DepthBottom,
		"BottomToTop":   in.BottomToTop,
		"TopToBottom":   in.TopToBottom,
	} {
		if len(s) != n {
			panic(fmt.Sprintf("Objective: %s has %d scales, expected %d", name, len(s), n))
		}
	}
}

// ScaleBreakdown holds the loss terms of one pyramid level, summed over top
// and bottom. DepthGradient already carries the 2^-i scale weight.
type ScaleBreakdown struct {
	SSIM, L1, Image, DepthGradient, TB float64
}

// Breakdown is the evaluated objective.
type Breakdown struct {
	Scales            []ScaleBreakdown
	ImageLoss         float64
	DepthGradientLoss float64
	TBLoss            float64
	Total             float64
}

// Scalars returns the named summary values: per-scale terms suffixed with the
// scale index and the aggregated losses.
func (b Breakdown) Scalars() map[string]float64 {
	m := map[string]float64{
		"image_loss":          b.ImageLoss,
		"depth_gradient_loss": b.DepthGradientLoss,
		"tb_loss":             b.TBLoss,
		"total_loss":          b.Total,
	}
	for i, s := range b.Scales {
		m[fmt.Sprintf("ssim_loss_%d", i)] = s.SSIM
		m[fmt.Sprintf("l1_loss_%d", i)] = s.L1
		m[fmt.Sprintf("image_loss_%d", i)] = s.Image
		m[fmt.Sprintf("depth_gradient_loss_%d", i)] = s.DepthGradient
		m[fmt.Sprintf("tb_loss_%d", i)] = s.TB
	}
	return m
}

// Finite reports whether every aggregated term is a finite number.
func (b Breakdown) Finite() bool {
	for _, v := range []float64{b.ImageLoss, b.DepthGradientLoss, b.TBLoss, b.Total} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func scaleWeight(i int) float64 { return 1 / math.Ldexp(1, i) }

// Forward evaluates every term of the objective.
func (o Objective) Forward(in *Inputs) Breakdown {
	in.check()
	var l1 L1Loss
	var ssim SSIMLoss
	br := Breakdown{Scales: make([]ScaleBreakdown, in.Scales())}
	for i := range br.Scales {
		s := &br.Scales[i]
		ssimTop := ssim.Forward(in.TopEst[i], in.TopPyramid[i])
		ssimBottom := ssim.Forward(in.BottomEst[i], in.BottomPyramid[i])
		l1Top := l1.Forward(in.TopEst[i], in.TopPyramid[i])
		l1Bottom := l1.Forward(in.BottomEst[i], in.BottomPyramid[i])

		s.SSIM = ssimTop + ssimBottom
		s.L1 = l1Top + l1Bottom
		s.Image = o.AlphaImage*s.SSIM + (1-o.AlphaImage)*s.L1
		s.DepthGradient = (Smoothness(in.DepthTop[i], in.TopPyramid[i]) +
			Smoothness(in.DepthBottom[i], in.BottomPyramid[i])) * scaleWeight(i)
		s.TB = Consistency(in.BottomToTop[i], in.DepthTop[i]) +
			Consistency(in.TopToBottom[i], in.DepthBottom[i])

		br.ImageLoss += s.Image
		br.DepthGradientLoss += s.DepthGradient
		br.TBLoss += s.TB
	}
	br.Total = br.ImageLoss + o.DepthGradientWeight*br.DepthGradientLoss + o.TBWeight*br.TBLoss
	return br
}

// Gradients are the derivatives of the total loss with respect to the
// estimated tensors of Inputs. The pyramids are constants.
type Gradients struct {
	TopEst, BottomEst        []*tensor.Tensor
	DepthTop, DepthBottom    []*tensor.Tensor
	BottomToTop, TopToBottom []*tensor.Tensor
}

// Backward returns the gradient of the total loss.
func (o Objective) Backward(in *Inputs) *Gradients {
	in.check()
	n := in.Scales()
	g := &Gradients{
		TopEst:      make([]*tensor.Tensor, n),
		BottomEst:   make([]*tensor.Tensor, n),
		DepthTop:    make([]*tensor.Tensor, n),
		DepthBottom: make([]*tensor.Tensor, n),
		BottomToTop: make([]*tensor.Tensor, n),
		TopToBottom: make([]*tensor.Tensor, n),
	}
	for i := 0; i < n; i++ {
		g.TopEst[i] = o.photometricBackward(in.TopEst[i], in.TopPyramid[i])
		g.BottomEst[i] = o.photometricBackward(in.BottomEst[i], in.BottomPyramid[i])

		smooth := o.DepthGradientWeight * scaleWeight(i)
		dt := SmoothnessBackward(in.DepthTop[i], in.TopPyramid[i])
		dt.Scale(smooth)
		db := SmoothnessBackward(in.DepthBottom[i], in.BottomPyramid[i])
		db.Scale(smooth)

		gWarp, gOwn := ConsistencyBackward(in.BottomToTop[i], in.DepthTop[i])
		gWarp.Scale(o.TBWeight)
		dt.AddScaled(o.TBWeight, gOwn)
		g.BottomToTop[i] = gWarp

		gWarp, gOwn = ConsistencyBackward(in.TopToBottom[i], in.DepthBottom[i])
		gWarp.Scale(o.TBWeight)
		db.AddScaled(o.TBWeight, gOwn)
		g.TopToBottom[i] = gWarp

		g.DepthTop[i] = dt
		g.DepthBottom[i] = db
	}
	return g
}

func (o Objective) photometricBackward(est, target *tensor.Tensor) *tensor.Tensor {
	g := SSIMLoss{}.Backward(est, target)
	g.Scale(o.AlphaImage)
	g.AddScaled(1-o.AlphaImage, L1Loss{}.Backward(est, target))
	return g
}
