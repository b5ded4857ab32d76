// Package model assembles the depth network, the projection geometry and the
// losses into the trainable 360° depth model.
package model

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/disparity"
	"github.com/FlavioCFOliveira/GoDepth360/internal/layer"
	"github.com/FlavioCFOliveira/GoDepth360/internal/loss"
	"github.com/FlavioCFOliveira/GoDepth360/internal/net"
	"github.com/FlavioCFOliveira/GoDepth360/internal/sampler"
	"github.com/FlavioCFOliveira/GoDepth360/internal/spherical"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// NumScales is the number of pyramid levels the model works on.
const NumScales = net.NumScales

// ErrShapeMismatch reports tensors or configuration sizes the model cannot
// work with.
var ErrShapeMismatch = errors.New("shape mismatch")

// Mode selects between training, which needs both views and evaluates the
// loss, and inference on the top view only.
type Mode int

const (
	Train Mode = iota
	Test
)

func (m Mode) String() string {
	if m == Test {
		return "test"
	}
	return "train"
}

// ParseMode maps "train" and "test" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "train":
		return Train, nil
	case "test":
		return Test, nil
	}
	return Train, errors.Errorf("unknown mode %q, expected train or test", s)
}

// Parameter names of the learned scales.
const (
	DepthScaleName     = "scaling/depth_scale"
	DisparityScaleName = "scaling/disparity_scale"
	// ScalingPrefix selects both scales for checkpoint exclusion.
	ScalingPrefix = "scaling/"
)

// Model is one parameter set plus the fixed geometry for a configured input
// size. Forward and Backward do not modify the model and may run
// concurrently; parameters change only through the optimiser.
type Model struct {
	cfg        config.Config
	mode       Mode
	projection config.Projection

	net            *net.DepthNet
	depthScale     *layer.Param
	disparityScale *layer.Param
	branch         branch

	shapes    [][2]int
	latitudes [NumScales][][]float64
	objective loss.Objective

	params []*layer.Param
}

// New validates cfg and builds the model. Unknown projection names select
// the cubic pipeline.
func New(cfg config.Config, mode Mode) (*Model, error) {
	if cfg.Height <= 0 || cfg.Width <= 0 ||
		cfg.Height%net.InputMultiple != 0 || cfg.Width%net.InputMultiple != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "input %dx%d must be a positive multiple of %d",
			cfg.Height, cfg.Width, net.InputMultiple)
	}
	netCfg := net.Config{
		BaseWidth: cfg.Model.BaseWidth,
		UseDeconv: cfg.UseDeconv,
		Seed:      cfg.Seed,
	}
	if len(cfg.Model.Blocks) != len(netCfg.Blocks) {
		return nil, errors.Errorf("model needs %d encoder stages, got %v", len(netCfg.Blocks), cfg.Model.Blocks)
	}
	copy(netCfg.Blocks[:], cfg.Model.Blocks)
	if netCfg.BaseWidth <= 0 {
		return nil, errors.Errorf("model base width %d must be positive", netCfg.BaseWidth)
	}
	for _, b := range netCfg.Blocks {
		if b <= 0 {
			return nil, errors.Errorf("encoder block counts %v must be positive", cfg.Model.Blocks)
		}
	}

	m := &Model{
		cfg:    cfg,
		mode:   mode,
		net:    net.New(netCfg),
		shapes: tensor.PyramidShapes(cfg.Height, cfg.Width, NumScales),
		objective: loss.Objective{
			AlphaImage:          cfg.AlphaImageLoss,
			DepthGradientWeight: cfg.DepthGradientLossWeight,
			TBWeight:            cfg.TBLossWeight,
		},
	}
	m.projection, _ = cfg.ProjectionMode()
	for i, s := range m.shapes {
		_, m.latitudes[i] = spherical.LatLongGrid(s[0], s[1])
	}

	switch m.projection {
	case config.Equirectangular:
		m.depthScale = layer.NewScalar(DepthScaleName, 1.0, false)
		m.disparityScale = layer.NewScalar(DisparityScaleName, 1.0, true)
		m.branch = &equirectBranch{net: m.net, depthScale: m.depthScale}
	default:
		size := cfg.CubeFaceSize
		if size <= 0 || size%net.InputMultiple != 0 {
			return nil, errors.Wrapf(ErrShapeMismatch, "cube face size %d must be a positive multiple of %d",
				size, net.InputMultiple)
		}
		m.depthScale = layer.NewScalar(DepthScaleName, 1.0, true)
		m.disparityScale = layer.NewScalar(DisparityScaleName, 1.5, true)
		m.branch = newCubicBranch(m.net, m.depthScale, cfg.Height, cfg.Width, size, m.shapes)
	}

	m.params = append([]*layer.Param{m.depthScale, m.disparityScale}, m.net.Params()...)
	return m, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() config.Config { return m.cfg }

// Mode returns the mode the model was built for.
func (m *Model) Mode() Mode { return m.mode }

// Projection returns the active projection.
func (m *Model) Projection() config.Projection { return m.projection }

// Params returns every learned parameter: the two scales followed by the
// network weights.
func (m *Model) Params() []*layer.Param { return m.params }

// DepthScale returns the current depth scale.
func (m *Model) DepthScale() float64 { return m.depthScale.Value() }

// DisparityScale returns the current disparity scale.
func (m *Model) DisparityScale() float64 { return m.disparityScale.Value() }

// Outputs holds everything one forward pass produced. Every slice is indexed
// by scale, finest first.
type Outputs struct {
	Mode Mode

	TopPyramid, BottomPyramid []*tensor.Tensor

	// DepthTop and DepthBottom are the [B, h, w, 1] equirectangular depth
	// estimates of the two cameras.
	DepthTop, DepthBottom []*tensor.Tensor
	// DisparityTop and DisparityBottom are the angular disparities derived
	// from the depths.
	DisparityTop, DisparityBottom []*tensor.Tensor

	// Train mode only.
	TopEst, BottomEst        []*tensor.Tensor
	BottomToTop, TopToBottom []*tensor.Tensor
	Loss                     loss.Breakdown

	depthScale, disparityScale float64
	// Disparities converted to sampler row offsets, per scale.
	rowsTop, rowsBottom []*tensor.Tensor
	cache               branchCache
}

func (m *Model) checkImage(name string, img *tensor.Tensor) error {
	if img == nil {
		return errors.Wrapf(ErrShapeMismatch, "%s image is missing", name)
	}
	if img.H != m.cfg.Height || img.W != m.cfg.Width || img.C != 3 || img.B == 0 {
		return errors.Wrapf(ErrShapeMismatch, "%s image %v, expected [B %d %d 3]", name, img, m.cfg.Height, m.cfg.Width)
	}
	return nil
}

// Forward runs the model on a batch of top images and, in train mode, the
// matching bottom images. Test mode ignores bottom and only fills the depth
// and disparity outputs.
func (m *Model) Forward(top, bottom *tensor.Tensor) (*Outputs, error) {
	if err := m.checkImage("top", top); err != nil {
		return nil, err
	}
	if m.mode == Train {
		if err := m.checkImage("bottom", bottom); err != nil {
			return nil, err
		}
		if bottom.B != top.B {
			return nil, errors.Wrapf(ErrShapeMismatch, "batch sizes differ: top %d, bottom %d", top.B, bottom.B)
		}
	}

	out := &Outputs{
		Mode:           m.mode,
		TopPyramid:     tensor.Pyramid(top, NumScales),
		depthScale:     m.depthScale.Value(),
		disparityScale: m.disparityScale.Value(),
	}
	depth, cache := m.branch.forward(top)
	out.cache = cache

	for i := 0; i < NumScales; i++ {
		dt, db := depth[i].Channel(0), depth[i].Channel(1)
		out.DepthTop = append(out.DepthTop, dt)
		out.DepthBottom = append(out.DepthBottom, db)
		out.DisparityTop = append(out.DisparityTop,
			disparity.ToAngular(dt, m.latitudes[i], out.disparityScale, disparity.Top))
		out.DisparityBottom = append(out.DisparityBottom,
			disparity.ToAngular(db, m.latitudes[i], out.disparityScale, disparity.Bottom))
	}
	if m.mode == Test {
		return out, nil
	}

	out.BottomPyramid = tensor.Pyramid(bottom, NumScales)
	for i := 0; i < NumScales; i++ {
		offTop := m.rowOffsets(i, out.DisparityTop[i])
		offBottom := m.rowOffsets(i, out.DisparityBottom[i])
		out.rowsTop = append(out.rowsTop, offTop)
		out.rowsBottom = append(out.rowsBottom, offBottom)

		out.TopEst = append(out.TopEst, sampler.SampleTop(out.BottomPyramid[i], offTop))
		out.BottomEst = append(out.BottomEst, sampler.SampleBottom(out.TopPyramid[i], offBottom))
		out.BottomToTop = append(out.BottomToTop, sampler.SampleTop(out.DepthBottom[i], offTop))
		out.TopToBottom = append(out.TopToBottom, sampler.SampleBottom(out.DepthTop[i], offBottom))
	}
	out.Loss = m.objective.Forward(out.lossInputs())
	return out, nil
}

// rowOffsets converts an angular disparity at scale i into the row offsets
// the sampler expects.
func (m *Model) rowOffsets(i int, disp *tensor.Tensor) *tensor.Tensor {
	off := disp.Clone()
	off.Scale(spherical.RowsPerRadian(m.shapes[i][0]))
	return off
}

func (o *Outputs) lossInputs() *loss.Inputs {
	return &loss.Inputs{
		TopPyramid:    o.TopPyramid,
		BottomPyramid: o.BottomPyramid,
		TopEst:        o.TopEst,
		BottomEst:     o.BottomEst,
		DepthTop:      o.DepthTop,
		DepthBottom:   o.DepthBottom,
		BottomToTop:   o.BottomToTop,
		TopToBottom:   o.TopToBottom,
	}
}

// Backward accumulates the gradient of the total loss of a train mode
// forward pass into g.
func (m *Model) Backward(out *Outputs, g *layer.Gradients) error {
	if out.Mode != Train {
		return errors.New("backward needs a train mode forward pass")
	}
	lg := m.objective.Backward(out.lossInputs())

	var depthGrads [NumScales]*tensor.Tensor
	var gDispScale float64
	for i := 0; i < NumScales; i++ {
		gDepthTop := lg.DepthTop[i]
		gDepthBottom := lg.DepthBottom[i]

		_, gDispTop := sampler.BackwardTop(out.BottomPyramid[i], out.rowsTop[i], lg.TopEst[i])
		_, gDispBottom := sampler.BackwardBottom(out.TopPyramid[i], out.rowsBottom[i], lg.BottomEst[i])

		gImg, gd := sampler.BackwardTop(out.DepthBottom[i], out.rowsTop[i], lg.BottomToTop[i])
		gDepthBottom.Add(gImg)
		gDispTop.Add(gd)
		gImg, gd = sampler.BackwardBottom(out.DepthTop[i], out.rowsBottom[i], lg.TopToBottom[i])
		gDepthTop.Add(gImg)
		gDispBottom.Add(gd)

		// Row offsets are the disparity scaled by a constant per level.
		rows := spherical.RowsPerRadian(m.shapes[i][0])
		gDispTop.Scale(rows)
		gDispBottom.Scale(rows)

		gdt, gs := disparity.ToAngularBackward(out.DepthTop[i], m.latitudes[i], out.disparityScale, disparity.Top, gDispTop)
		gDepthTop.Add(gdt)
		gDispScale += gs
		gdb, gs := disparity.ToAngularBackward(out.DepthBottom[i], m.latitudes[i], out.disparityScale, disparity.Bottom, gDispBottom)
		gDepthBottom.Add(gdb)
		gDispScale += gs

		depthGrads[i] = tensor.ConcatChannels(gDepthTop, gDepthBottom)
	}

	g.AddScalar(m.disparityScale, gDispScale)
	g.AddScalar(m.depthScale, m.branch.backward(out.cache, out.depthScale, depthGrads, g))
	return nil
}

func (m *Model) String() string {
	return fmt.Sprintf("model(%s, %s, %dx%d, %d params)", m.projection, m.mode, m.cfg.Height, m.cfg.Width, len(m.params))
}
