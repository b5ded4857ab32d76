package spherical

import (
	"fmt"
	"math"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// tap is a precomputed bilinear lookup: four source pixels of one face (or of
// the equirectangular image) and their weights.
type tap struct {
	face int
	idx  [4]int
	w    [4]float64
}

// bilinearTap builds the lookup for fractional (row, col) on an h×w grid.
// Rows always clamp; columns wrap when wrap is set and clamp otherwise.
func bilinearTap(row, col float64, h, w int, wrap bool) tap {
	r0 := math.Floor(row)
	c0 := math.Floor(col)
	fr := row - r0
	fc := col - c0

	ra := clampIndex(int(r0), h)
	rb := clampIndex(int(r0)+1, h)
	var ca, cb int
	if wrap {
		ca = wrapIndex(int(c0), w)
		cb = wrapIndex(int(c0)+1, w)
	} else {
		ca = clampIndex(int(c0), w)
		cb = clampIndex(int(c0)+1, w)
	}
	return tap{
		idx: [4]int{ra*w + ca, ra*w + cb, rb*w + ca, rb*w + cb},
		w:   [4]float64{(1 - fr) * (1 - fc), (1 - fr) * fc, fr * (1 - fc), fr * fc},
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// CubicProjector samples the six cube faces out of an equirectangular image.
// The lookup tables are computed once for a fixed input and face size.
type CubicProjector struct {
	height, width int
	size          int
	taps          [NumFaces][]tap
}

// NewCubicProjector prepares a projector from h×w equirectangular images to
// size×size faces.
func NewCubicProjector(h, w, size int) *CubicProjector {
	if h <= 0 || w <= 0 || size <= 0 {
		panic(fmt.Sprintf("spherical: invalid cubic projection %dx%d -> %d", h, w, size))
	}
	p := &CubicProjector{height: h, width: w, size: size}
	for _, f := range Faces {
		taps := make([]tap, size*size)
		for row := 0; row < size; row++ {
			for col := 0; col < size; col++ {
				s, t := Angles(PixelDirection(f, row, col, size))
				er, ec := equirectPixel(s, t, h, w)
				taps[row*size+col] = bilinearTap(er, ec, h, w, true)
			}
		}
		p.taps[f] = taps
	}
	return p
}

// FaceSize returns the edge length of the produced faces.
func (p *CubicProjector) FaceSize() int { return p.size }

// Project converts img [B, h, w, C] into six [B, size, size, C] faces in face
// order.
func (p *CubicProjector) Project(img *tensor.Tensor) [NumFaces]*tensor.Tensor {
	if img.H != p.height || img.W != p.width {
		panic(fmt.Sprintf("spherical: projector built for %dx%d, got %v", p.height, p.width, img))
	}
	var faces [NumFaces]*tensor.Tensor
	C := img.C
	plane := p.height * p.width
	for _, f := range Faces {
		out := tensor.New(img.B, p.size, p.size, C)
		for b := 0; b < img.B; b++ {
			srcBase := b * plane
			dstBase := b * p.size * p.size
			for i, tp := range p.taps[f] {
				dst := (dstBase + i) * C
				for k := 0; k < 4; k++ {
					if tp.w[k] == 0 {
						continue
					}
					src := (srcBase + tp.idx[k]) * C
					for c := 0; c < C; c++ {
						out.Data[dst+c] += tp.w[k] * img.Data[src+c]
					}
				}
			}
		}
		faces[f] = out
	}
	return faces
}

// EquirectToCubic is a convenience wrapper building a one-off projector.
func EquirectToCubic(img *tensor.Tensor, size int) [NumFaces]*tensor.Tensor {
	return NewCubicProjector(img.H, img.W, size).Project(img)
}

// EquirectResampler reassembles an h×w equirectangular image from six
// size×size faces. Each output pixel reads from the face its direction falls
// on, see FaceOf for the seam rule.
type EquirectResampler struct {
	size          int
	height, width int
	taps          []tap
}

// NewEquirectResampler prepares the face-to-equirectangular lookup.
func NewEquirectResampler(size, h, w int) *EquirectResampler {
	if h <= 0 || w <= 0 || size <= 0 {
		panic(fmt.Sprintf("spherical: invalid equirect resampler %d -> %dx%d", size, h, w))
	}
	r := &EquirectResampler{size: size, height: h, width: w, taps: make([]tap, h*w)}
	for i := 0; i < h; i++ {
		t := Latitude(i, h)
		for j := 0; j < w; j++ {
			d := Direction(Longitude(j, w), t)
			f := FaceOf(d)
			u, v := PlaneCoords(f, d)
			fr, fc := planePixel(u, v, size)
			tp := bilinearTap(fr, fc, size, size, false)
			tp.face = int(f)
			r.taps[i*w+j] = tp
		}
	}
	return r
}

// Shape returns the output height and width.
func (r *EquirectResampler) Shape() (h, w int) { return r.height, r.width }

// FaceOfPixel reports which face feeds output pixel (row, col).
func (r *EquirectResampler) FaceOfPixel(row, col int) Face {
	return Face(r.taps[row*r.width+col].face)
}

func (r *EquirectResampler) check(faces [NumFaces]*tensor.Tensor) (b, c int) {
	for i, f := range faces {
		if f == nil || f.H != r.size || f.W != r.size {
			panic(fmt.Sprintf("spherical: face %d must be %dx%d, got %v", i, r.size, r.size, f))
		}
		if f.B != faces[0].B || f.C != faces[0].C {
			panic(fmt.Sprintf("spherical: face %d shape %v differs from face 0 %v", i, f, faces[0]))
		}
	}
	return faces[0].B, faces[0].C
}

// Resample assembles the equirectangular image [B, h, w, C].
func (r *EquirectResampler) Resample(faces [NumFaces]*tensor.Tensor) *tensor.Tensor {
	B, C := r.check(faces)
	out := tensor.New(B, r.height, r.width, C)
	facePlane := r.size * r.size
	plane := r.height * r.width
	for b := 0; b < B; b++ {
		for p, tp := range r.taps {
			src := faces[tp.face].Data
			dst := (b*plane + p) * C
			for k := 0; k < 4; k++ {
				if tp.w[k] == 0 {
					continue
				}
				s := (b*facePlane + tp.idx[k]) * C
				for c := 0; c < C; c++ {
					out.Data[dst+c] += tp.w[k] * src[s+c]
				}
			}
		}
	}
	return out
}

// Backward scatters the gradient of Resample back onto the six faces.
func (r *EquirectResampler) Backward(grad *tensor.Tensor) [NumFaces]*tensor.Tensor {
	if grad.H != r.height || grad.W != r.width {
		panic(fmt.Sprintf("spherical: gradient %v does not match %dx%d", grad, r.height, r.width))
	}
	var faces [NumFaces]*tensor.Tensor
	for i := range faces {
		faces[i] = tensor.New(grad.B, r.size, r.size, grad.C)
	}
	C := grad.C
	facePlane := r.size * r.size
	plane := r.height * r.width
	for b := 0; b < grad.B; b++ {
		for p, tp := range r.taps {
			dst := faces[tp.face].Data
			src := (b*plane + p) * C
			for k := 0; k < 4; k++ {
				if tp.w[k] == 0 {
					continue
				}
				d := (b*facePlane + tp.idx[k]) * C
				for c := 0; c < C; c++ {
					dst[d+c] += tp.w[k] * grad.Data[src+c]
				}
			}
		}
	}
	return faces
}

// CubicToEquirect is a convenience wrapper building a one-off resampler.
func CubicToEquirect(faces [NumFaces]*tensor.Tensor, h, w int) *tensor.Tensor {
	return NewEquirectResampler(faces[0].H, h, w).Resample(faces)
}
