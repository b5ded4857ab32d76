// Package data loads top/bottom panorama pairs from disk and assembles
// augmented batches.
package data

import (
	"image"
	"image/color"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

// Extensions are tried in this order when locating a sample image.
var Extensions = []string{".jpg", ".png", ".tif", ".webp", ".bmp"}

// ImagePath returns the first existing <dir>/<name><ext> in Extensions order.
func ImagePath(dir, name string) (string, error) {
	for _, ext := range Extensions {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Errorf("no image for %q in %s", name, dir)
}

// LoadImage decodes the image file at path.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

// ToTensor converts img to a [1, h, w, 3] tensor with values in [0, 1],
// flattening transparency over black and resizing to h×w.
func ToTensor(img image.Image, h, w int) *tensor.Tensor {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Over)

	var src image.Image = rgba
	if b.Dx() != w || b.Dy() != h {
		src = resize.Resize(uint(w), uint(h), rgba, resize.Bilinear)
	}

	t := tensor.New(1, h, w, 3)
	sb := src.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := src.At(sb.Min.X+x, sb.Min.Y+y).RGBA()
			i := t.Index(0, y, x, 0)
			t.Data[i] = float64(r) / 0xffff
			t.Data[i+1] = float64(g) / 0xffff
			t.Data[i+2] = float64(bl) / 0xffff
		}
	}
	return t
}

// LoadTensor locates, decodes and converts the sample image name in dir.
func LoadTensor(dir, name string, h, w int) (*tensor.Tensor, error) {
	path, err := ImagePath(dir, name)
	if err != nil {
		return nil, err
	}
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return ToTensor(img, h, w), nil
}
