package net

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoDepth360/internal/activations"
	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// bottleneck is a residual unit: 1×1 reduce, 3×3 (possibly strided), 1×1
// expand to 4·width, added to the shortcut and passed through ELU.
type bottleneck struct {
	conv1, conv2, conv3 *layer.Conv2D
	shortcut            *layer.Conv2D // nil for an identity shortcut
}

func newBottleneck(name string, inChannels, width, stride int, rng *layer.RNG) *bottleneck {
	b := &bottleneck{
		conv1: layer.NewConv2D(name+"/conv1", inChannels, width, 1, 1, activations.ELU{}, rng),
		conv2: layer.NewConv2D(name+"/conv2", width, width, 3, stride, activations.ELU{}, rng),
		conv3: layer.NewConv2D(name+"/conv3", width, 4*width, 1, 1, activations.Linear{}, rng),
	}
	if inChannels != 4*width || stride == 2 {
		b.shortcut = layer.NewConv2D(name+"/shortcut", inChannels, 4*width, 1, stride, activations.Linear{}, rng)
	}
	return b
}

type bottleneckCache struct {
	c1, c2, c3, cs layer.Cache
	sum            *tensor.Tensor
}

func (b *bottleneck) Params() []*layer.Param {
	ps := append(b.conv1.Params(), b.conv2.Params()...)
	ps = append(ps, b.conv3.Params()...)
	if b.shortcut != nil {
		ps = append(ps, b.shortcut.Params()...)
	}
	return ps
}

func (b *bottleneck) Forward(x *tensor.Tensor) (*tensor.Tensor, layer.Cache) {
	var c bottleneckCache
	h, c1 := b.conv1.Forward(x)
	h, c2 := b.conv2.Forward(h)
	h, c3 := b.conv3.Forward(h)
	c.c1, c.c2, c.c3 = c1, c2, c3

	short := x
	if b.shortcut != nil {
		short, c.cs = b.shortcut.Forward(x)
	}
	if !short.SameShape(h) {
		panic(fmt.Sprintf("bottleneck: shortcut %v does not match residual %v", short, h))
	}
	h.Add(short)
	c.sum = h
	return h.Map(activations.ELU{}.Activate), &c
}

func (b *bottleneck) Backward(cache layer.Cache, grad *tensor.Tensor, g *layer.Gradients) *tensor.Tensor {
	c := cache.(*bottleneckCache)
	elu := activations.ELU{}
	dz := c.sum.ZerosLike()
	for i, v := range c.sum.Data {
		dz.Data[i] = grad.Data[i] * elu.Derivative(v)
	}

	dh := b.conv3.Backward(c.c3, dz, g)
	dh = b.conv2.Backward(c.c2, dh, g)
	dx := b.conv1.Backward(c.c1, dh, g)
	if b.shortcut != nil {
		dx.Add(b.shortcut.Backward(c.cs, dz, g))
	} else {
		dx.Add(dz)
	}
	return dx
}

// stage is a run of bottleneck units; the last one halves the resolution.
type stage struct {
	units []*bottleneck
}

func newStage(name string, inChannels, width, blocks int, rng *layer.RNG) *stage {
	s := &stage{}
	in := inChannels
	for i := 0; i < blocks; i++ {
		stride := 1
		if i == blocks-1 {
			stride = 2
		}
		s.units = append(s.units, newBottleneck(fmt.Sprintf("%s/unit%d", name, i+1), in, width, stride, rng))
		in = 4 * width
	}
	return s
}

func (s *stage) Params() []*layer.Param {
	var ps []*layer.Param
	for _, u := range s.units {
		ps = append(ps, u.Params()...)
	}
	return ps
}

func (s *stage) Forward(x *tensor.Tensor) (*tensor.Tensor, layer.Cache) {
	caches := make([]layer.Cache, len(s.units))
	for i, u := range s.units {
		x, caches[i] = u.Forward(x)
	}
	return x, caches
}

func (s *stage) Backward(cache layer.Cache, grad *tensor.Tensor, g *layer.Gradients) *tensor.Tensor {
	caches := cache.([]layer.Cache)
	for i := len(s.units) - 1; i >= 0; i-- {
		grad = s.units[i].Backward(caches[i], grad, g)
	}
	return grad
}

// upconv doubles the resolution by nearest-neighbour upsampling followed by
// a 3×3 convolution.
type upconv struct {
	up   *layer.Upsample
	conv *layer.Conv2D
}

func newUpconv(name string, inChannels, outChannels int, rng *layer.RNG) *upconv {
	return &upconv{
		up:   layer.NewUpsample(2),
		conv: layer.NewConv2D(name, inChannels, outChannels, 3, 1, activations.ELU{}, rng),
	}
}

func (u *upconv) Params() []*layer.Param { return u.conv.Params() }

func (u *upconv) Forward(x *tensor.Tensor) (*tensor.Tensor, layer.Cache) {
	h, _ := u.up.Forward(x)
	return u.conv.Forward(h)
}

func (u *upconv) Backward(cache layer.Cache, grad *tensor.Tensor, g *layer.Gradients) *tensor.Tensor {
	return u.up.Backward(nil, u.conv.Backward(cache, grad, g), g)
}
