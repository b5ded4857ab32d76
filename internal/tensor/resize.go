package tensor

import "fmt"

// span is one source index and its share of an output cell.
type span struct {
	idx    int
	weight float64
}

// areaSpans returns, for every output cell along one axis, the source cells
// it covers and the fraction of the output cell each one fills.
func areaSpans(in, out int) [][]span {
	scale := float64(in) / float64(out)
	spans := make([][]span, out)
	for o := 0; o < out; o++ {
		lo := float64(o) * scale
		hi := lo + scale
		for i := int(lo); i < in && float64(i) < hi; i++ {
			a := maxf(lo, float64(i))
			b := minf(hi, float64(i+1))
			if b > a {
				spans[o] = append(spans[o], span{idx: i, weight: (b - a) / scale})
			}
		}
	}
	return spans
}

// ResizeArea resamples every image to h×w by averaging the source area that
// each output pixel covers.
func ResizeArea(t *Tensor, h, w int) *Tensor {
	if h <= 0 || w <= 0 {
		panic(fmt.Sprintf("tensor: ResizeArea to non-positive size %dx%d", h, w))
	}
	if h == t.H && w == t.W {
		return t.Clone()
	}
	ys := areaSpans(t.H, h)
	xs := areaSpans(t.W, w)
	out := New(t.B, h, w, t.C)
	for b := 0; b < t.B; b++ {
		for oy := 0; oy < h; oy++ {
			for ox := 0; ox < w; ox++ {
				dst := out.Index(b, oy, ox, 0)
				for _, sy := range ys[oy] {
					for _, sx := range xs[ox] {
						wgt := sy.weight * sx.weight
						src := t.Index(b, sy.idx, sx.idx, 0)
						for c := 0; c < t.C; c++ {
							out.Data[dst+c] += wgt * t.Data[src+c]
						}
					}
				}
			}
		}
	}
	return out
}

// PyramidShapes returns the [height, width] of each of n levels, halving per
// level with integer division.
func PyramidShapes(h, w, n int) [][2]int {
	shapes := make([][2]int, n)
	for i := 0; i < n; i++ {
		shapes[i] = [2]int{h >> i, w >> i}
	}
	return shapes
}

// Pyramid returns n progressively half-resolution copies of t, level 0 being t
// itself.
func Pyramid(t *Tensor, n int) []*Tensor {
	levels := make([]*Tensor, n)
	for i, s := range PyramidShapes(t.H, t.W, n) {
		if i == 0 {
			levels[i] = t
			continue
		}
		levels[i] = ResizeArea(t, s[0], s[1])
	}
	return levels
}

// UpsampleNearest enlarges t by an integer ratio, repeating each pixel.
func UpsampleNearest(t *Tensor, ratio int) *Tensor {
	out := New(t.B, t.H*ratio, t.W*ratio, t.C)
	for b := 0; b < t.B; b++ {
		for y := 0; y < out.H; y++ {
			for x := 0; x < out.W; x++ {
				src := t.Index(b, y/ratio, x/ratio, 0)
				dst := out.Index(b, y, x, 0)
				copy(out.Data[dst:dst+t.C], t.Data[src:src+t.C])
			}
		}
	}
	return out
}

// UpsampleNearestBackward folds the gradient of an upsampled tensor back onto
// the source grid.
func UpsampleNearestBackward(grad *Tensor, ratio int) *Tensor {
	out := New(grad.B, grad.H/ratio, grad.W/ratio, grad.C)
	for b := 0; b < grad.B; b++ {
		for y := 0; y < grad.H; y++ {
			for x := 0; x < grad.W; x++ {
				src := grad.Index(b, y, x, 0)
				dst := out.Index(b, y/ratio, x/ratio, 0)
				for c := 0; c < grad.C; c++ {
					out.Data[dst+c] += grad.Data[src+c]
				}
			}
		}
	}
	return out
}

// GradientX returns t[:, :, x, :] - t[:, :, x+1, :], one column narrower.
func GradientX(t *Tensor) *Tensor {
	out := New(t.B, t.H, t.W-1, t.C)
	for b := 0; b < t.B; b++ {
		for y := 0; y < t.H; y++ {
			for x := 0; x < t.W-1; x++ {
				a := t.Index(b, y, x, 0)
				d := out.Index(b, y, x, 0)
				for c := 0; c < t.C; c++ {
					out.Data[d+c] = t.Data[a+c] - t.Data[a+t.C+c]
				}
			}
		}
	}
	return out
}

// GradientY returns t[:, y, :, :] - t[:, y+1, :, :], one row shorter.
func GradientY(t *Tensor) *Tensor {
	out := New(t.B, t.H-1, t.W, t.C)
	row := t.W * t.C
	for b := 0; b < t.B; b++ {
		for y := 0; y < t.H-1; y++ {
			a := t.Index(b, y, 0, 0)
			d := out.Index(b, y, 0, 0)
			for i := 0; i < row; i++ {
				out.Data[d+i] = t.Data[a+i] - t.Data[a+row+i]
			}
		}
	}
	return out
}

// GradientXBackward maps the gradient of GradientX onto a tensor of the
// original width.
func GradientXBackward(grad *Tensor) *Tensor {
	out := New(grad.B, grad.H, grad.W+1, grad.C)
	for b := 0; b < grad.B; b++ {
		for y := 0; y < grad.H; y++ {
			for x := 0; x < grad.W; x++ {
				g := grad.Index(b, y, x, 0)
				d := out.Index(b, y, x, 0)
				for c := 0; c < grad.C; c++ {
					out.Data[d+c] += grad.Data[g+c]
					out.Data[d+out.C+c] -= grad.Data[g+c]
				}
			}
		}
	}
	return out
}

// GradientYBackward maps the gradient of GradientY onto a tensor of the
// original height.
func GradientYBackward(grad *Tensor) *Tensor {
	out := New(grad.B, grad.H+1, grad.W, grad.C)
	row := grad.W * grad.C
	for b := 0; b < grad.B; b++ {
		for y := 0; y < grad.H; y++ {
			g := grad.Index(b, y, 0, 0)
			d := out.Index(b, y, 0, 0)
			for i := 0; i < row; i++ {
				out.Data[d+i] += grad.Data[g+i]
				out.Data[d+row+i] -= grad.Data[g+i]
			}
		}
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
