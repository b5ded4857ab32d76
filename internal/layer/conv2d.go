package layer

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/FlavioCFOliveira/GoDepth360/internal/activations"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// im2rowBudget bounds the number of elements of one im2row block.
const im2rowBudget = 1 << 21

// Conv2D implements a 2D convolutional layer on NHWC tensors.
//
// The input is zero padded by (k-1)/2 on every side and then convolved
// without further padding, so a stride 1 convolution keeps the spatial size
// and a stride 2 one halves it. The convolution runs as im2row followed by a
// single matrix product per block of output rows.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	activation activations.Activation

	// Weight is [kernelSize, kernelSize, inChannels, outChannels].
	Weight *Param
	Bias   *Param
}

// NewConv2D creates a convolution with Xavier uniform weights and zero bias.
// Parameters are named name+"/weights" and name+"/biases".
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride int,
	activation activations.Activation, rng *RNG) *Conv2D {

	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("Conv2D %s: invalid geometry in=%d out=%d k=%d s=%d", name, inChannels, outChannels, kernelSize, stride))
	}
	if activation == nil {
		activation = activations.Linear{}
	}
	c := &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     (kernelSize - 1) / 2,
		activation:  activation,
		Weight:      NewParam(name+"/weights", true, kernelSize, kernelSize, inChannels, outChannels),
		Bias:        NewParam(name+"/biases", true, outChannels),
	}
	k2 := kernelSize * kernelSize
	rng.XavierUniform(c.Weight.Data, k2*inChannels, k2*outChannels)
	return c
}

// OutputSize returns the spatial output size for an h×w input.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	outH := (h+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (w+2*c.padding-c.kernelSize)/c.stride + 1
	return outH, outW
}

// InChannels returns the expected input channel count.
func (c *Conv2D) InChannels() int { return c.inChannels }

// OutChannels returns the number of output feature maps.
func (c *Conv2D) OutChannels() int { return c.outChannels }

// Params returns the weights and biases.
func (c *Conv2D) Params() []*Param { return []*Param{c.Weight, c.Bias} }

type convCache struct {
	x          *tensor.Tensor
	z          []float64
	outH, outW int
}

func (c *Conv2D) blockRows(outW int) int {
	cols := c.kernelSize * c.kernelSize * c.inChannels
	n := im2rowBudget / (outW * cols)
	if n < 1 {
		n = 1
	}
	return n
}

// im2row writes the receptive fields of output rows [r0, r1) of batch b into
// a, one row per output pixel with columns ordered (ky, kx, channel).
func (c *Conv2D) im2row(x *tensor.Tensor, b, r0, r1, outW int, a []float64) {
	k := c.kernelSize
	C := x.C
	cols := k * k * C
	row := 0
	for oy := r0; oy < r1; oy++ {
		for ox := 0; ox < outW; ox++ {
			dst := a[row*cols : (row+1)*cols]
			for ky := 0; ky < k; ky++ {
				iy := oy*c.stride + ky - c.padding
				for kx := 0; kx < k; kx++ {
					ix := ox*c.stride + kx - c.padding
					seg := dst[(ky*k+kx)*C : (ky*k+kx+1)*C]
					if iy < 0 || iy >= x.H || ix < 0 || ix >= x.W {
						for i := range seg {
							seg[i] = 0
						}
						continue
					}
					base := x.Index(b, iy, ix, 0)
					copy(seg, x.Data[base:base+C])
				}
			}
			row++
		}
	}
}

// row2im adds the im2row-shaped gradient da back onto gx.
func (c *Conv2D) row2im(da []float64, gx *tensor.Tensor, b, r0, r1, outW int) {
	k := c.kernelSize
	C := gx.C
	cols := k * k * C
	row := 0
	for oy := r0; oy < r1; oy++ {
		for ox := 0; ox < outW; ox++ {
			src := da[row*cols : (row+1)*cols]
			for ky := 0; ky < k; ky++ {
				iy := oy*c.stride + ky - c.padding
				if iy < 0 || iy >= gx.H {
					continue
				}
				for kx := 0; kx < k; kx++ {
					ix := ox*c.stride + kx - c.padding
					if ix < 0 || ix >= gx.W {
						continue
					}
					seg := src[(ky*k+kx)*C : (ky*k+kx+1)*C]
					base := gx.Index(b, iy, ix, 0)
					dst := gx.Data[base : base+C]
					for i, v := range seg {
						dst[i] += v
					}
				}
			}
			row++
		}
	}
}

func (c *Conv2D) weightMatrix(data []float64) blas64.General {
	cols := c.kernelSize * c.kernelSize * c.inChannels
	return blas64.General{Rows: cols, Cols: c.outChannels, Stride: c.outChannels, Data: data}
}

// Forward performs a forward pass through the convolutional layer.
// x: [B, H, W, inChannels]. Returns [B, outH, outW, outChannels].
func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	if x.C != c.inChannels {
		panic(fmt.Sprintf("Conv2D: input %v has %d channels, expected %d", x, x.C, c.inChannels))
	}
	outH, outW := c.OutputSize(x.H, x.W)
	if outH <= 0 || outW <= 0 {
		panic(fmt.Sprintf("Conv2D: input %v too small for kernel %d", x, c.kernelSize))
	}

	out := tensor.New(x.B, outH, outW, c.outChannels)
	z := make([]float64, len(out.Data))
	cols := c.kernelSize * c.kernelSize * c.inChannels
	block := c.blockRows(outW)
	a := make([]float64, min(block, outH)*outW*cols)
	w := c.weightMatrix(c.Weight.Data)
	oc := c.outChannels

	for b := 0; b < x.B; b++ {
		for r0 := 0; r0 < outH; r0 += block {
			r1 := min(r0+block, outH)
			rows := (r1 - r0) * outW
			c.im2row(x, b, r0, r1, outW, a)

			off := (b*outH + r0) * outW * oc
			zb := z[off : off+rows*oc]
			for i := 0; i < rows; i++ {
				copy(zb[i*oc:(i+1)*oc], c.Bias.Data)
			}
			blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
				blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: a[:rows*cols]},
				w, 1,
				blas64.General{Rows: rows, Cols: oc, Stride: oc, Data: zb})
		}
	}

	for i, v := range z {
		out.Data[i] = c.activation.Activate(v)
	}
	return out, &convCache{x: x, z: z, outH: outH, outW: outW}
}

// Backward accumulates weight and bias gradients into g and returns the
// gradient with respect to the input.
func (c *Conv2D) Backward(cache Cache, grad *tensor.Tensor, g *Gradients) *tensor.Tensor {
	cc := cache.(*convCache)
	if len(grad.Data) != len(cc.z) {
		panic(fmt.Sprintf("Conv2D: gradient %v does not match output size %d", grad, len(cc.z)))
	}
	x := cc.x
	oc := c.outChannels

	dz := make([]float64, len(cc.z))
	for i, v := range cc.z {
		dz[i] = grad.Data[i] * c.activation.Derivative(v)
	}

	gb := g.For(c.Bias)
	for i, v := range dz {
		gb[i%oc] += v
	}

	gw := c.weightMatrix(g.For(c.Weight))
	w := c.weightMatrix(c.Weight.Data)
	gx := x.ZerosLike()

	cols := c.kernelSize * c.kernelSize * c.inChannels
	block := c.blockRows(cc.outW)
	size := min(block, cc.outH) * cc.outW * cols
	a := make([]float64, size)
	da := make([]float64, size)

	for b := 0; b < x.B; b++ {
		for r0 := 0; r0 < cc.outH; r0 += block {
			r1 := min(r0+block, cc.outH)
			rows := (r1 - r0) * cc.outW
			c.im2row(x, b, r0, r1, cc.outW, a)

			off := (b*cc.outH + r0) * cc.outW * oc
			dzb := blas64.General{Rows: rows, Cols: oc, Stride: oc, Data: dz[off : off+rows*oc]}
			am := blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: a[:rows*cols]}
			dam := blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: da[:rows*cols]}

			// dW += Aᵀ·dZ, dA = dZ·Wᵀ
			blas64.Gemm(blas.Trans, blas.NoTrans, 1, am, dzb, 1, gw)
			blas64.Gemm(blas.NoTrans, blas.Trans, 1, dzb, w, 0, dam)
			c.row2im(dam.Data, gx, b, r0, r1, cc.outW)
		}
	}
	return gx
}
