package loss

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// SSIM stabilising constants.
const (
	C1 = 0.01 * 0.01
	C2 = 0.03 * 0.03
)

const (
	ssimWindow = 3
	ssimArea   = ssimWindow * ssimWindow
)

// ssimStats holds the local statistics of one 3×3 window.
type ssimStats struct {
	mx, my, sxx, syy, sxy float64
}

func windowStats(x, y *tensor.Tensor, b, r, c, ch int) ssimStats {
	var sx, sy, sxx, syy, sxy float64
	for dy := 0; dy < ssimWindow; dy++ {
		for dx := 0; dx < ssimWindow; dx++ {
			i := x.Index(b, r+dy, c+dx, ch)
			xv, yv := x.Data[i], y.Data[i]
			sx += xv
			sy += yv
			sxx += xv * xv
			syy += yv * yv
			sxy += xv * yv
		}
	}
	s := ssimStats{mx: sx / ssimArea, my: sy / ssimArea}
	s.sxx = sxx/ssimArea - s.mx*s.mx
	s.syy = syy/ssimArea - s.my*s.my
	s.sxy = sxy/ssimArea - s.mx*s.my
	return s
}

func (s ssimStats) index() (num, den float64) {
	num = (2*s.mx*s.my + C1) * (2*s.sxy + C2)
	den = (s.mx*s.mx + s.my*s.my + C1) * (s.sxx + s.syy + C2)
	return num, den
}

func ssimShape(x, y *tensor.Tensor) (h, w int) {
	mustMatch("SSIM", x, y)
	if x.H < ssimWindow || x.W < ssimWindow {
		panic(fmt.Sprintf("SSIM: input %v is smaller than the %dx%d window", x, ssimWindow, ssimWindow))
	}
	return x.H - ssimWindow + 1, x.W - ssimWindow + 1
}

// SSIM returns the per-window dissimilarity clip((1 - SSIM)/2, 0, 1) over
// 3×3 valid windows, one value per window and channel.
func SSIM(x, y *tensor.Tensor) *tensor.Tensor {
	h, w := ssimShape(x, y)
	out := tensor.New(x.B, h, w, x.C)
	for b := 0; b < x.B; b++ {
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				for ch := 0; ch < x.C; ch++ {
					num, den := windowStats(x, y, b, r, c, ch).index()
					out.Set(b, r, c, ch, clip01((1-num/den)/2))
				}
			}
		}
	}
	return out
}

// SSIMBackward maps the gradient of the SSIM dissimilarity map onto x. y is
// treated as a constant; clipped windows pass no gradient.
func SSIMBackward(x, y, grad *tensor.Tensor) *tensor.Tensor {
	h, w := ssimShape(x, y)
	if grad.B != x.B || grad.H != h || grad.W != w || grad.C != x.C {
		panic(fmt.Sprintf("SSIM: gradient %v does not match map size %dx%d", grad, h, w))
	}
	gx := x.ZerosLike()
	for b := 0; b < x.B; b++ {
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				for ch := 0; ch < x.C; ch++ {
					st := windowStats(x, y, b, r, c, ch)
					num, den := st.index()
					s := num / den
					if raw := (1 - s) / 2; raw < 0 || raw > 1 {
						continue
					}
					g := -0.5 * grad.At(b, r, c, ch)
					if g == 0 {
						continue
					}

					lum := st.mx*st.mx + st.my*st.my + C1
					con := st.sxx + st.syy + C2
					dMx := 2*st.my*(2*st.sxy+C2)/den - s*2*st.mx/lum
					dSxx := -s / con
					dSxy := 2 * (2*st.mx*st.my + C1) / den

					// Coefficients of x_k, x_k² and x_k·y_k inside the window
					// averages.
					gMean := g * (dMx - 2*st.mx*dSxx - st.my*dSxy)
					gSq := g * dSxx
					gCross := g * dSxy
					for dy := 0; dy < ssimWindow; dy++ {
						for dx := 0; dx < ssimWindow; dx++ {
							i := x.Index(b, r+dy, c+dx, ch)
							gx.Data[i] += (gMean + 2*gSq*x.Data[i] + gCross*y.Data[i]) / ssimArea
						}
					}
				}
			}
		}
	}
	return gx
}

// SSIMLoss is the mean of the SSIM dissimilarity map.
type SSIMLoss struct{}

// Forward computes mean(SSIM(pred, target)).
func (SSIMLoss) Forward(pred, target *tensor.Tensor) float64 {
	return SSIM(pred, target).Mean()
}

// Backward computes the gradient of Forward with respect to pred.
func (SSIMLoss) Backward(pred, target *tensor.Tensor) *tensor.Tensor {
	h, w := ssimShape(pred, target)
	n := pred.B * h * w * pred.C
	g := tensor.Full(pred.B, h, w, pred.C, 1/float64(n))
	return SSIMBackward(pred, target, g)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
