// Package net provides the depth estimation network, its checkpoint format and
// the training callbacks.
package net

import (
	"fmt"

	"github.com/FlavioCFOliveira/GoDepth360/internal/activations"
	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// NumScales is the number of disparity heads.
const NumScales = 4

// InputMultiple is the factor input height and width must be divisible by:
// the encoder halves the resolution six times.
const InputMultiple = 64

// Config describes the network topology.
type Config struct {
	// BaseWidth is the channel count of the first convolution; every other
	// width scales with it.
	BaseWidth int
	// Blocks is the number of residual units in each encoder stage.
	Blocks [4]int
	// UseDeconv selects transposed convolutions for decoder upsampling
	// instead of nearest-neighbour upsampling followed by a convolution.
	UseDeconv bool
	// Seed drives the weight initialisation.
	Seed int64
}

// DefaultConfig is the ResNet-50 layout.
func DefaultConfig() Config {
	return Config{BaseWidth: 64, Blocks: [4]int{3, 4, 6, 3}}
}

// DepthNet is a ResNet-50 style encoder/decoder producing four sigmoid
// bounded 2-channel disparity maps. One instance owns one parameter set;
// Forward may be called any number of times (and concurrently) on it.
type DepthNet struct {
	cfg Config

	conv1  *layer.Conv2D
	pool1  *layer.MaxPool2D
	stages [4]*stage

	// Decoder, coarsest first: index 0 is stage 6, index 5 stage 1.
	up    [6]layer.Layer
	iconv [6]*layer.Conv2D
	// Disparity heads after decoder stages 4, 3, 2 and 1.
	heads [NumScales]*layer.Conv2D

	params []*layer.Param
}

// decoderWidths returns the channel counts of decoder stages 6..1.
func decoderWidths(base int) [6]int {
	w := [6]int{base * 8, base * 4, base * 2, base, base / 2, base / 4}
	for i := range w {
		if w[i] < 1 {
			w[i] = 1
		}
	}
	return w
}

// New builds a network with freshly initialised weights.
func New(cfg Config) *DepthNet {
	if cfg.BaseWidth <= 0 {
		panic(fmt.Sprintf("net: base width must be positive, got %d", cfg.BaseWidth))
	}
	for i, b := range cfg.Blocks {
		if b <= 0 {
			panic(fmt.Sprintf("net: stage %d needs at least one block, got %d", i+2, b))
		}
	}
	rng := layer.NewRNG(cfg.Seed)
	n := &DepthNet{cfg: cfg}
	base := cfg.BaseWidth

	n.conv1 = layer.NewConv2D("encoder/conv1", 3, base, 7, 2, activations.ELU{}, rng)
	n.pool1 = layer.NewMaxPool2D(3, 2)

	// Encoder channel counts: conv1, pool1, conv2..conv5.
	enc := [6]int{base, base}
	in := base
	for i := range n.stages {
		width := base << i
		n.stages[i] = newStage(fmt.Sprintf("encoder/conv%d", i+2), in, width, cfg.Blocks[i], rng)
		in = 4 * width
		enc[i+2] = in
	}

	dec := decoderWidths(base)
	// Skip inputs of decoder stages 6..1: conv4, conv3, conv2, pool1, conv1, none.
	skips := [6]int{enc[4], enc[3], enc[2], enc[1], enc[0], 0}
	prev := enc[5]
	for i := 0; i < 6; i++ {
		level := 6 - i
		upName := fmt.Sprintf("decoder/upconv%d", level)
		if cfg.UseDeconv {
			n.up[i] = layer.NewDeconv2D(upName, prev, dec[i], 3, 2, activations.ELU{}, rng)
		} else {
			n.up[i] = newUpconv(upName, prev, dec[i], rng)
		}

		concat := dec[i] + skips[i]
		if level <= 3 {
			// Upsampled disparity of the previous head.
			concat += 2
		}
		n.iconv[i] = layer.NewConv2D(fmt.Sprintf("decoder/iconv%d", level), concat, dec[i], 3, 1, activations.ELU{}, rng)

		if level <= NumScales {
			n.heads[level-1] = layer.NewConv2D(fmt.Sprintf("decoder/disp%d", level), dec[i], 2, 3, 1, activations.Sigmoid{}, rng)
		}
		prev = dec[i]
	}

	n.params = n.collectParams()
	return n
}

func (n *DepthNet) collectParams() []*layer.Param {
	ps := n.conv1.Params()
	for _, s := range n.stages {
		ps = append(ps, s.Params()...)
	}
	for i := range n.up {
		ps = append(ps, n.up[i].Params()...)
		ps = append(ps, n.iconv[i].Params()...)
		if level := 6 - i; level <= NumScales {
			ps = append(ps, n.heads[level-1].Params()...)
		}
	}
	return ps
}

// Config returns the topology the network was built with.
func (n *DepthNet) Config() Config { return n.cfg }

// Params returns every weight of the network in construction order.
func (n *DepthNet) Params() []*layer.Param { return n.params }

// CheckInput panics unless x is a batch of RGB images whose size the encoder
// can halve six times.
func (n *DepthNet) CheckInput(x *tensor.Tensor) {
	if x.C != 3 {
		panic(fmt.Sprintf("net: input %v must have 3 channels", x))
	}
	if x.H%InputMultiple != 0 || x.W%InputMultiple != 0 || x.H == 0 || x.W == 0 {
		panic(fmt.Sprintf("net: input %v must have height and width divisible by %d", x, InputMultiple))
	}
}

// Cache holds the intermediate state of one Forward call.
type Cache struct {
	conv1, pool1 layer.Cache
	stages       [4]layer.Cache

	// Channel counts needed to split decoder concatenations.
	upC   [6]int
	skipC [6]int

	up, iconv [6]layer.Cache
	heads     [NumScales]layer.Cache

	input *tensor.Tensor
}

// Forward runs the network on x [B, H, W, 3] and returns the disparity
// pyramid, finest first: [H, H/2, H/4, H/8], each with 2 channels (top,
// bottom) in (0, 1).
func (n *DepthNet) Forward(x *tensor.Tensor) ([NumScales]*tensor.Tensor, *Cache) {
	n.CheckInput(x)
	c := &Cache{input: x}

	conv1, cc := n.conv1.Forward(x)
	c.conv1 = cc
	pool1, pc := n.pool1.Forward(conv1)
	c.pool1 = pc

	enc := [6]*tensor.Tensor{conv1, pool1}
	h := pool1
	for i, s := range n.stages {
		h, c.stages[i] = s.Forward(h)
		enc[i+2] = h
	}

	skips := [6]*tensor.Tensor{enc[4], enc[3], enc[2], enc[1], enc[0], nil}
	var disps [NumScales]*tensor.Tensor
	var udisp *tensor.Tensor
	for i := 0; i < 6; i++ {
		level := 6 - i
		up, uc := n.up[i].Forward(h)
		c.up[i] = uc
		c.upC[i] = up.C

		parts := []*tensor.Tensor{up}
		if skips[i] != nil {
			parts = append(parts, skips[i])
			c.skipC[i] = skips[i].C
		}
		if level <= 3 {
			parts = append(parts, udisp)
		}
		h, c.iconv[i] = n.iconv[i].Forward(tensor.ConcatChannels(parts...))

		if level <= NumScales {
			d, hc := n.heads[level-1].Forward(h)
			c.heads[level-1] = hc
			disps[level-1] = d
			udisp = tensor.UpsampleNearest(d, 2)
		}
	}
	return disps, c
}

// Backward propagates the gradients of the four disparity maps (nil entries
// count as zero) through the network, accumulating weight gradients into g.
// It returns the gradient with respect to the input image.
func (n *DepthNet) Backward(c *Cache, grads [NumScales]*tensor.Tensor, g *layer.Gradients) *tensor.Tensor {
	var gSkip [6]*tensor.Tensor
	var gh, gUdisp *tensor.Tensor

	for i := 5; i >= 0; i-- {
		level := 6 - i
		if level <= NumScales {
			gd := grads[level-1]
			if gUdisp != nil {
				fold := tensor.UpsampleNearestBackward(gUdisp, 2)
				if gd != nil {
					fold.Add(gd)
				}
				gd = fold
			}
			if gd != nil {
				gHead := n.heads[level-1].Backward(c.heads[level-1], gd, g)
				if gh == nil {
					gh = gHead
				} else {
					gh.Add(gHead)
				}
			}
			gUdisp = nil
		}
		if gh == nil {
			// Nothing flows into the finest stage without a finest-scale
			// gradient; start from zeros of the right shape.
			gh = n.zeroIconvGrad(c, i)
		}

		gcat := n.iconv[i].Backward(c.iconv[i], gh, g)
		sizes := []int{c.upC[i]}
		if c.skipC[i] > 0 {
			sizes = append(sizes, c.skipC[i])
		}
		if level <= 3 {
			sizes = append(sizes, 2)
		}
		parts := tensor.SplitChannels(gcat, sizes...)
		if c.skipC[i] > 0 {
			gSkip[i] = parts[1]
		}
		if level <= 3 {
			gUdisp = parts[len(parts)-1]
		}
		gh = n.up[i].Backward(c.up[i], parts[0], g)
	}

	// gh is now the gradient of conv5. Skips map decoder index to encoder
	// outputs: 0→conv4, 1→conv3, 2→conv2, 3→pool1, 4→conv1.
	for s := len(n.stages) - 1; s >= 0; s-- {
		gh = n.stages[s].Backward(c.stages[s], gh, g)
		// Encoder stage s consumed conv(s+1) (pool1 for s == 0).
		if skip := gSkip[3-s]; skip != nil {
			gh.Add(skip)
		}
	}
	gh = n.pool1.Backward(c.pool1, gh, g)
	if gSkip[4] != nil {
		gh.Add(gSkip[4])
	}
	return n.conv1.Backward(c.conv1, gh, g)
}

// zeroIconvGrad returns a zero gradient shaped like the output of decoder
// stage i for the cached forward pass.
func (n *DepthNet) zeroIconvGrad(c *Cache, i int) *tensor.Tensor {
	x := c.input
	div := 1 << (6 - i - 1)
	return tensor.New(x.B, x.H/div, x.W/div, n.iconv[i].OutChannels())
}
