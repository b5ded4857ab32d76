// Package summary computes scalar statistics and renders image summaries of
// model outputs.
package summary

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Stats summarises the values of a tensor.
type Stats struct {
	Mean, StdDev float64
	Min, Max     float64
}

// Describe returns the statistics of every value in t.
func Describe(t *tensor.Tensor) Stats {
	if len(t.Data) == 0 {
		return Stats{}
	}
	mean, std := stat.MeanStdDev(t.Data, nil)
	if len(t.Data) == 1 {
		std = 0
	}
	return Stats{Mean: mean, StdDev: std, Min: floats.Min(t.Data), Max: floats.Max(t.Data)}
}

// Scalars returns the scalar summary of one train step: the finest scale loss
// terms, the totals, both learned scales, the learning rate and per-scale
// disparity statistics of the top view.
func Scalars(out *model.Outputs, depthScale, disparityScale, lr float64) map[string]float64 {
	s := map[string]float64{
		"depth_scale":     depthScale,
		"disparity_scale": disparityScale,
		"learning_rate":   lr,
	}
	if out.Mode == model.Train {
		all := out.Loss.Scalars()
		for _, k := range []string{
			"ssim_loss_0", "l1_loss_0", "image_loss_0", "depth_gradient_loss_0", "tb_loss_0",
			"image_loss", "depth_gradient_loss", "tb_loss", "total_loss",
		} {
			if v, ok := all[k]; ok {
				s[k] = v
			}
		}
	}
	for i, d := range out.DisparityTop {
		st := Describe(d)
		s[fmt.Sprintf("disparity_top_mean_%d", i)] = st.Mean
		s[fmt.Sprintf("disparity_top_std_%d", i)] = st.StdDev
	}
	return s
}

// NormalizeImage rescales every batch entry of t to [0, 1] by its own minimum
// and maximum. Constant entries map to 0.
func NormalizeImage(t *tensor.Tensor) *tensor.Tensor {
	out := t.ZerosLike()
	per := t.H * t.W * t.C
	for b := 0; b < t.B; b++ {
		src := t.Data[b*per : (b+1)*per]
		dst := out.Data[b*per : (b+1)*per]
		lo, hi := floats.Min(src), floats.Max(src)
		if hi-lo <= 0 {
			continue
		}
		for i, v := range src {
			dst[i] = (v - lo) / (hi - lo)
		}
	}
	return out
}

// NormalizeDepth maps depth through log(1+d) and then normalises each batch
// entry to [0, 1].
func NormalizeDepth(t *tensor.Tensor) *tensor.Tensor {
	return NormalizeImage(t.Map(func(v float64) float64 { return math.Log1p(math.Max(v, 0)) }))
}
