// Package tensor provides the dense NHWC arrays used throughout the depth pipeline.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a rank-4 array laid out as [batch, height, width, channels].
// Storage is row-major and contiguous: element (b, y, x, c) lives at
// ((b*H+y)*W+x)*C+c.
type Tensor struct {
	B, H, W, C int
	Data       []float64
}

// New allocates a zero tensor.
func New(b, h, w, c int) *Tensor {
	if b < 0 || h < 0 || w < 0 || c < 0 {
		panic(fmt.Sprintf("tensor: negative shape [%d %d %d %d]", b, h, w, c))
	}
	return &Tensor{B: b, H: h, W: w, C: c, Data: make([]float64, b*h*w*c)}
}

// FromData wraps data without copying. The length must match the shape.
func FromData(b, h, w, c int, data []float64) *Tensor {
	if len(data) != b*h*w*c {
		panic(fmt.Sprintf("tensor: data length %d does not match shape [%d %d %d %d]", len(data), b, h, w, c))
	}
	return &Tensor{B: b, H: h, W: w, C: c, Data: data}
}

// Full allocates a tensor with every element set to v.
func Full(b, h, w, c int, v float64) *Tensor {
	t := New(b, h, w, c)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Shape returns [B, H, W, C].
func (t *Tensor) Shape() [4]int { return [4]int{t.B, t.H, t.W, t.C} }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Index returns the flat offset of (b, y, x, c).
func (t *Tensor) Index(b, y, x, c int) int { return ((b*t.H+y)*t.W+x)*t.C + c }

// At returns the element at (b, y, x, c).
func (t *Tensor) At(b, y, x, c int) float64 { return t.Data[t.Index(b, y, x, c)] }

// Set stores v at (b, y, x, c).
func (t *Tensor) Set(b, y, x, c int, v float64) { t.Data[t.Index(b, y, x, c)] = v }

// SameShape reports whether both tensors have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool { return t.Shape() == o.Shape() }

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor[%d %d %d %d]", t.B, t.H, t.W, t.C)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := New(t.B, t.H, t.W, t.C)
	copy(out.Data, t.Data)
	return out
}

// ZerosLike allocates a zero tensor with the same shape.
func (t *Tensor) ZerosLike() *Tensor { return New(t.B, t.H, t.W, t.C) }

// Add accumulates o into t in place.
func (t *Tensor) Add(o *Tensor) {
	mustSameShape("Add", t, o)
	floats.Add(t.Data, o.Data)
}

// AddScaled accumulates alpha*o into t in place.
func (t *Tensor) AddScaled(alpha float64, o *Tensor) {
	mustSameShape("AddScaled", t, o)
	floats.AddScaled(t.Data, alpha, o.Data)
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float64) { floats.Scale(s, t.Data) }

// Map returns a new tensor with f applied element-wise.
func (t *Tensor) Map(f func(float64) float64) *Tensor {
	out := t.ZerosLike()
	for i, v := range t.Data {
		out.Data[i] = f(v)
	}
	return out
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float64 { return floats.Sum(t.Data) }

// Mean returns the mean of all elements, or 0 for an empty tensor.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	return floats.Sum(t.Data) / float64(len(t.Data))
}

// Min returns the smallest element.
func (t *Tensor) Min() float64 { return floats.Min(t.Data) }

// Max returns the largest element.
func (t *Tensor) Max() float64 { return floats.Max(t.Data) }

// Channel extracts channel c as a [B, H, W, 1] tensor.
func (t *Tensor) Channel(c int) *Tensor {
	if c < 0 || c >= t.C {
		panic(fmt.Sprintf("tensor: channel %d out of range for %v", c, t))
	}
	out := New(t.B, t.H, t.W, 1)
	for i := range out.Data {
		out.Data[i] = t.Data[i*t.C+c]
	}
	return out
}

// ConcatChannels stacks tensors along the channel axis. All inputs must agree
// on batch and spatial size.
func ConcatChannels(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: ConcatChannels needs at least one input")
	}
	first := ts[0]
	total := 0
	for _, t := range ts {
		if t.B != first.B || t.H != first.H || t.W != first.W {
			panic(fmt.Sprintf("tensor: ConcatChannels shape mismatch %v vs %v", first, t))
		}
		total += t.C
	}
	out := New(first.B, first.H, first.W, total)
	pixels := first.B * first.H * first.W
	off := 0
	for _, t := range ts {
		for p := 0; p < pixels; p++ {
			copy(out.Data[p*total+off:p*total+off+t.C], t.Data[p*t.C:(p+1)*t.C])
		}
		off += t.C
	}
	return out
}

// SplitChannels is the inverse of ConcatChannels: it cuts t into pieces with
// the given channel counts.
func SplitChannels(t *Tensor, sizes ...int) []*Tensor {
	total := 0
	for _, s := range sizes {
		total += s
	}
	if total != t.C {
		panic(fmt.Sprintf("tensor: SplitChannels sizes sum to %d, tensor has %d channels", total, t.C))
	}
	pixels := t.B * t.H * t.W
	out := make([]*Tensor, len(sizes))
	off := 0
	for i, s := range sizes {
		part := New(t.B, t.H, t.W, s)
		for p := 0; p < pixels; p++ {
			copy(part.Data[p*s:(p+1)*s], t.Data[p*t.C+off:p*t.C+off+s])
		}
		out[i] = part
		off += s
	}
	return out
}

// Slice returns a copy of batch entries [lo, hi).
func (t *Tensor) Slice(lo, hi int) *Tensor {
	if lo < 0 || hi > t.B || lo > hi {
		panic(fmt.Sprintf("tensor: batch slice [%d:%d] out of range for %v", lo, hi, t))
	}
	per := t.H * t.W * t.C
	out := New(hi-lo, t.H, t.W, t.C)
	copy(out.Data, t.Data[lo*per:hi*per])
	return out
}

// StackBatch concatenates tensors along the batch axis.
func StackBatch(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: StackBatch needs at least one input")
	}
	first := ts[0]
	b := 0
	for _, t := range ts {
		if t.H != first.H || t.W != first.W || t.C != first.C {
			panic(fmt.Sprintf("tensor: StackBatch shape mismatch %v vs %v", first, t))
		}
		b += t.B
	}
	out := New(b, first.H, first.W, first.C)
	off := 0
	for _, t := range ts {
		copy(out.Data[off:], t.Data)
		off += len(t.Data)
	}
	return out
}

// FlipLeftRight mirrors every image horizontally.
func (t *Tensor) FlipLeftRight() *Tensor {
	out := t.ZerosLike()
	for b := 0; b < t.B; b++ {
		for y := 0; y < t.H; y++ {
			for x := 0; x < t.W; x++ {
				src := t.Index(b, y, x, 0)
				dst := out.Index(b, y, t.W-1-x, 0)
				copy(out.Data[dst:dst+t.C], t.Data[src:src+t.C])
			}
		}
	}
	return out
}

func mustSameShape(op string, a, b *Tensor) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, a, b))
	}
}
