package layer

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/FlavioCFOliveira/GoDepth360/internal/activations"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Deconv2D is a transposed convolution that upsamples by its stride.
//
// Input pixel i contributes to output pixels stride·i + a - (k-1)/2 for every
// kernel tap a; contributions that fall outside the stride·H × stride·W output
// are dropped.
type Deconv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	offset      int

	activation activations.Activation

	// Weight is [inChannels, kernelSize, kernelSize, outChannels].
	Weight *Param
	Bias   *Param
}

// NewDeconv2D creates a transposed convolution with Xavier uniform weights.
func NewDeconv2D(name string, inChannels, outChannels, kernelSize, stride int,
	activation activations.Activation, rng *RNG) *Deconv2D {

	if inChannels <= 0 || outChannels <= 0 || kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("Deconv2D %s: invalid geometry in=%d out=%d k=%d s=%d", name, inChannels, outChannels, kernelSize, stride))
	}
	if activation == nil {
		activation = activations.Linear{}
	}
	d := &Deconv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		offset:      (kernelSize - 1) / 2,
		activation:  activation,
		Weight:      NewParam(name+"/weights", true, inChannels, kernelSize, kernelSize, outChannels),
		Bias:        NewParam(name+"/biases", true, outChannels),
	}
	k2 := kernelSize * kernelSize
	rng.XavierUniform(d.Weight.Data, k2*inChannels, k2*outChannels)
	return d
}

// Params returns the weights and biases.
func (d *Deconv2D) Params() []*Param { return []*Param{d.Weight, d.Bias} }

type deconvCache struct {
	x *tensor.Tensor
	z []float64
}

func (d *Deconv2D) cols() int { return d.kernelSize * d.kernelSize * d.outChannels }

func (d *Deconv2D) blockRows(w int) int {
	n := im2rowBudget / (w * d.cols())
	if n < 1 {
		n = 1
	}
	return n
}

// visit calls fn for every (column of the product, output element) pair
// reachable from input rows [r0, r1) of batch b. row is the product row.
func (d *Deconv2D) visit(x *tensor.Tensor, b, r0, r1 int, fn func(row, col, out int)) {
	k := d.kernelSize
	oc := d.outChannels
	outH, outW := x.H*d.stride, x.W*d.stride
	row := 0
	for iy := r0; iy < r1; iy++ {
		for ix := 0; ix < x.W; ix++ {
			for ay := 0; ay < k; ay++ {
				oy := d.stride*iy + ay - d.offset
				if oy < 0 || oy >= outH {
					continue
				}
				for ax := 0; ax < k; ax++ {
					ox := d.stride*ix + ax - d.offset
					if ox < 0 || ox >= outW {
						continue
					}
					col := (ay*k + ax) * oc
					out := ((b*outH+oy)*outW + ox) * oc
					fn(row, col, out)
				}
			}
			row++
		}
	}
}

func (d *Deconv2D) weightMatrix(data []float64) blas64.General {
	cols := d.cols()
	return blas64.General{Rows: d.inChannels, Cols: cols, Stride: cols, Data: data}
}

// Forward upsamples x [B, H, W, inChannels] to [B, stride·H, stride·W, outChannels].
func (d *Deconv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, Cache) {
	if x.C != d.inChannels {
		panic(fmt.Sprintf("Deconv2D: input %v has %d channels, expected %d", x, x.C, d.inChannels))
	}
	out := tensor.New(x.B, x.H*d.stride, x.W*d.stride, d.outChannels)
	z := make([]float64, len(out.Data))
	oc := d.outChannels
	for i := 0; i < len(z); i += oc {
		copy(z[i:i+oc], d.Bias.Data)
	}

	cols := d.cols()
	block := d.blockRows(x.W)
	y := make([]float64, min(block, x.H)*x.W*cols)
	w := d.weightMatrix(d.Weight.Data)

	for b := 0; b < x.B; b++ {
		for r0 := 0; r0 < x.H; r0 += block {
			r1 := min(r0+block, x.H)
			rows := (r1 - r0) * x.W
			in := x.Index(b, r0, 0, 0)
			ym := blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: y[:rows*cols]}
			blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
				blas64.General{Rows: rows, Cols: d.inChannels, Stride: d.inChannels, Data: x.Data[in : in+rows*d.inChannels]},
				w, 0, ym)
			d.visit(x, b, r0, r1, func(row, col, o int) {
				src := ym.Data[row*cols+col : row*cols+col+oc]
				dst := z[o : o+oc]
				for i, v := range src {
					dst[i] += v
				}
			})
		}
	}

	for i, v := range z {
		out.Data[i] = d.activation.Activate(v)
	}
	return out, &deconvCache{x: x, z: z}
}

// Backward accumulates parameter gradients into g and returns the gradient
// with respect to the input.
func (d *Deconv2D) Backward(cache Cache, grad *tensor.Tensor, g *Gradients) *tensor.Tensor {
	dc := cache.(*deconvCache)
	if len(grad.Data) != len(dc.z) {
		panic(fmt.Sprintf("Deconv2D: gradient %v does not match output size %d", grad, len(dc.z)))
	}
	x := dc.x
	oc := d.outChannels

	dz := make([]float64, len(dc.z))
	for i, v := range dc.z {
		dz[i] = grad.Data[i] * d.activation.Derivative(v)
	}
	gb := g.For(d.Bias)
	for i, v := range dz {
		gb[i%oc] += v
	}

	cols := d.cols()
	block := d.blockRows(x.W)
	dy := make([]float64, min(block, x.H)*x.W*cols)
	w := d.weightMatrix(d.Weight.Data)
	gw := d.weightMatrix(g.For(d.Weight))
	gx := x.ZerosLike()

	for b := 0; b < x.B; b++ {
		for r0 := 0; r0 < x.H; r0 += block {
			r1 := min(r0+block, x.H)
			rows := (r1 - r0) * x.W
			dym := blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: dy[:rows*cols]}
			for i := range dym.Data {
				dym.Data[i] = 0
			}
			d.visit(x, b, r0, r1, func(row, col, o int) {
				copy(dym.Data[row*cols+col:row*cols+col+oc], dz[o:o+oc])
			})

			in := x.Index(b, r0, 0, 0)
			xm := blas64.General{Rows: rows, Cols: d.inChannels, Stride: d.inChannels, Data: x.Data[in : in+rows*d.inChannels]}
			gxm := blas64.General{Rows: rows, Cols: d.inChannels, Stride: d.inChannels, Data: gx.Data[in : in+rows*d.inChannels]}

			// dX = dY·Wᵀ, dW += Xᵀ·dY
			blas64.Gemm(blas.NoTrans, blas.Trans, 1, dym, w, 0, gxm)
			blas64.Gemm(blas.Trans, blas.NoTrans, 1, xm, dym, 1, gw)
		}
	}
	return gx
}
