package summary

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Colour map end points, dark blue for 0 and yellow for 1.
var (
	lowColor  = colorful.Color{R: 0.05, G: 0.03, B: 0.53}
	highColor = colorful.Color{R: 0.94, G: 0.98, B: 0.13}
)

// ColorMap maps v in [0, 1] to a colour blended in the HCL space.
func ColorMap(v float64) color.RGBA {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	r, g, b := lowColor.BlendHcl(highColor, v).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// ToImage renders batch entry b of t. Single channel tensors are colour
// mapped, three channel tensors are drawn as RGB; values are expected in
// [0, 1].
func ToImage(t *tensor.Tensor, b int) (*image.RGBA, error) {
	if b < 0 || b >= t.B {
		return nil, errors.Errorf("batch entry %d out of range for %v", b, t)
	}
	if t.C != 1 && t.C != 3 {
		return nil, errors.Errorf("cannot render %d channels", t.C)
	}
	img := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			i := t.Index(b, y, x, 0)
			if t.C == 1 {
				img.SetRGBA(x, y, ColorMap(t.Data[i]))
				continue
			}
			img.SetRGBA(x, y, color.RGBA{
				R: to8(t.Data[i]), G: to8(t.Data[i+1]), B: to8(t.Data[i+2]), A: 0xff,
			})
		}
	}
	return img, nil
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(v*255 + 0.5)
}

// SavePNG renders batch entry b of t with title drawn in the top left corner.
func SavePNG(path, title string, t *tensor.Tensor, b int) error {
	img, err := ToImage(t, b)
	if err != nil {
		return err
	}
	dc := gg.NewContextForImage(img)
	if title != "" {
		dc.SetRGB(1, 1, 1)
		dc.DrawString(title, 4, 12)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create summary directory")
	}
	return errors.Wrapf(dc.SavePNG(path), "saving %s", path)
}

type namedImage struct {
	name string
	t    *tensor.Tensor
}

// ImageWriter writes image summaries of the first batch entry at the finest
// scale.
type ImageWriter struct {
	Dir    string
	RunID  string
	Logger golog.Logger
}

// Write renders the disparities, the normalised depths and, for train mode
// outputs, the inputs and reconstructions of step.
func (w ImageWriter) Write(step int64, out *model.Outputs) error {
	images := []namedImage{
		{"disparity_top", NormalizeImage(out.DisparityTop[0])},
		{"disparity_bottom", NormalizeImage(out.DisparityBottom[0])},
		{"depth_top", NormalizeDepth(out.DepthTop[0])},
		{"depth_bottom", NormalizeDepth(out.DepthBottom[0])},
	}
	if out.Mode == model.Train {
		images = append(images,
			namedImage{"top", out.TopPyramid[0]},
			namedImage{"bottom", out.BottomPyramid[0]},
			namedImage{"top_est", out.TopEst[0]},
			namedImage{"bottom_est", out.BottomEst[0]},
		)
	}
	for _, im := range images {
		path := filepath.Join(w.Dir, fmt.Sprintf("%s_%08d_%s.png", w.RunID, step, im.name))
		if err := SavePNG(path, fmt.Sprintf("%s step %d", im.name, step), im.t, 0); err != nil {
			return err
		}
	}
	w.Logger.Debugf("wrote %d image summaries for step %d", len(images), step)
	return nil
}
