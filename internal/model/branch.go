package model

import (
	"github.com/FlavioCFOliveira/GoDepth360/internal/disparity"
	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
	"github.com/FlavioCFOliveira/GoDepth360/internal/net"
	"github.com/FlavioCFOliveira/GoDepth360/internal/spherical"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

type branchCache interface{}

// branch turns a batch of equirectangular top images into the equirectangular
// depth pyramid [B, h, w, 2] (top, bottom camera).
type branch interface {
	forward(top *tensor.Tensor) ([NumScales]*tensor.Tensor, branchCache)
	// backward accumulates network gradients into g and returns the gradient
	// of the depth scale.
	backward(c branchCache, depthScale float64, grads [NumScales]*tensor.Tensor, g *layer.Gradients) float64
}

// equirectBranch runs the network once on the whole panorama.
type equirectBranch struct {
	net        *net.DepthNet
	depthScale *layer.Param
}

type equirectCache struct {
	disps [NumScales]*tensor.Tensor
	net   *net.Cache
}

func (e *equirectBranch) forward(top *tensor.Tensor) ([NumScales]*tensor.Tensor, branchCache) {
	disps, nc := e.net.Forward(top)
	var depth [NumScales]*tensor.Tensor
	scale := e.depthScale.Value()
	for i, d := range disps {
		depth[i] = disparity.EquirectToDepth(d, scale)
	}
	return depth, &equirectCache{disps: disps, net: nc}
}

func (e *equirectBranch) backward(c branchCache, depthScale float64, grads [NumScales]*tensor.Tensor, g *layer.Gradients) float64 {
	ec := c.(*equirectCache)
	var gDisp [NumScales]*tensor.Tensor
	var gScale float64
	for i := range grads {
		var gs float64
		gDisp[i], gs = disparity.EquirectToDepthBackward(ec.disps[i], depthScale, grads[i])
		gScale += gs
	}
	e.net.Backward(ec.net, gDisp, g)
	return gScale
}

// cubicBranch projects the panorama onto six cube faces, runs the shared
// network on each face and reassembles the radial depth per scale.
type cubicBranch struct {
	net        *net.DepthNet
	depthScale *layer.Param
	projector  *spherical.CubicProjector
	resamplers [NumScales]*spherical.EquirectResampler
}

func newCubicBranch(n *net.DepthNet, depthScale *layer.Param, h, w, size int, shapes [][2]int) *cubicBranch {
	c := &cubicBranch{
		net:        n,
		depthScale: depthScale,
		projector:  spherical.NewCubicProjector(h, w, size),
	}
	for i := range c.resamplers {
		c.resamplers[i] = spherical.NewEquirectResampler(size>>i, shapes[i][0], shapes[i][1])
	}
	return c
}

type faceCache struct {
	disps [NumScales]*tensor.Tensor
	net   *net.Cache
}

type cubicCache struct {
	faces [spherical.NumFaces]faceCache
}

func (cb *cubicBranch) forward(top *tensor.Tensor) ([NumScales]*tensor.Tensor, branchCache) {
	faces := cb.projector.Project(top)
	scale := cb.depthScale.Value()
	c := &cubicCache{}
	var perScale [NumScales][spherical.NumFaces]*tensor.Tensor
	for f, face := range faces {
		disps, nc := cb.net.Forward(face)
		c.faces[f] = faceCache{disps: disps, net: nc}
		for i, d := range disps {
			perScale[i][f] = disparity.CubicToDepth(d, scale)
		}
	}
	var depth [NumScales]*tensor.Tensor
	for i := range depth {
		depth[i] = cb.resamplers[i].Resample(perScale[i])
	}
	return depth, c
}

func (cb *cubicBranch) backward(c branchCache, depthScale float64, grads [NumScales]*tensor.Tensor, g *layer.Gradients) float64 {
	cc := c.(*cubicCache)
	var faceGrads [NumScales][spherical.NumFaces]*tensor.Tensor
	for i, gr := range grads {
		faceGrads[i] = cb.resamplers[i].Backward(gr)
	}
	var gScale float64
	for f := range cc.faces {
		fc := cc.faces[f]
		var gDisp [NumScales]*tensor.Tensor
		for i := range gDisp {
			var gs float64
			gDisp[i], gs = disparity.CubicToDepthBackward(fc.disps[i], depthScale, faceGrads[i][f])
			gScale += gs
		}
		cb.net.Backward(fc.net, gDisp, g)
	}
	return gScale
}
