package summary

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

func TestDescribe(t *testing.T) {
	s := Describe(tensor.FromData(1, 1, 4, 1, []float64{1, 2, 3, 4}))
	if s.Mean != 2.5 || s.Min != 1 || s.Max != 4 {
		t.Errorf("Describe = %+v", s)
	}
	// Unbiased standard deviation of 1..4.
	if want := math.Sqrt(5.0 / 3); math.Abs(s.StdDev-want) > 1e-12 {
		t.Errorf("StdDev = %f, expected %f", s.StdDev, want)
	}
	if s := Describe(tensor.FromData(1, 1, 1, 1, []float64{7})); s.StdDev != 0 || s.Mean != 7 {
		t.Errorf("single value: %+v", s)
	}
}

func TestNormalizeImagePerSample(t *testing.T) {
	x := tensor.FromData(2, 1, 3, 1, []float64{2, 4, 6, 5, 5, 5})
	out := NormalizeImage(x)
	expected := []float64{0, 0.5, 1, 0, 0, 0}
	for i, want := range expected {
		if math.Abs(out.Data[i]-want) > 1e-12 {
			t.Errorf("Output[%d] = %f, expected %f", i, out.Data[i], want)
		}
	}
}

func TestNormalizeDepth(t *testing.T) {
	x := tensor.FromData(1, 1, 3, 1, []float64{0, math.E - 1, math.E*math.E - 1})
	out := NormalizeDepth(x)
	expected := []float64{0, 0.5, 1}
	for i, want := range expected {
		if math.Abs(out.Data[i]-want) > 1e-12 {
			t.Errorf("Output[%d] = %f, expected %f", i, out.Data[i], want)
		}
	}
}

func TestColorMapEnds(t *testing.T) {
	lo, hi := ColorMap(-1), ColorMap(2)
	if lo != ColorMap(0) || hi != ColorMap(1) {
		t.Error("values outside [0, 1] are not clamped")
	}
	if lo.B <= lo.R || hi.R <= hi.B {
		t.Errorf("unexpected end colours %v %v", lo, hi)
	}
}

func TestToImage(t *testing.T) {
	rgb := tensor.FromData(1, 1, 2, 3, []float64{1, 0, 0.5, -1, 2, 0})
	img, err := ToImage(rgb, 0)
	if err != nil {
		t.Fatal(err)
	}
	if c := img.RGBAAt(0, 0); c.R != 255 || c.G != 0 || c.B != 128 {
		t.Errorf("pixel 0 = %v", c)
	}
	if c := img.RGBAAt(1, 0); c.R != 0 || c.G != 255 {
		t.Errorf("pixel 1 = %v, expected clamped values", c)
	}
	if _, err := ToImage(tensor.New(1, 1, 1, 2), 0); err == nil {
		t.Error("expected an error for two channels")
	}
	if _, err := ToImage(rgb, 1); err == nil {
		t.Error("expected an error for a missing batch entry")
	}
}

func TestImageWriter(t *testing.T) {
	cfg := config.Default()
	cfg.Projection = "equirectangular"
	cfg.Height, cfg.Width = 64, 128
	cfg.Model.BaseWidth = 2
	cfg.Model.Blocks = []int{1, 1, 1, 1}
	m, err := model.New(cfg, model.Train)
	if err != nil {
		t.Fatal(err)
	}
	img := tensor.Full(1, 64, 128, 3, 0.5)
	out, err := m.Forward(img, img)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	w := ImageWriter{Dir: dir, RunID: "r", Logger: golog.NewTestLogger(t)}
	if err := w.Write(10, out); err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	if len(files) != 8 {
		t.Fatalf("wrote %d files, expected 8", len(files))
	}
	f, err := os.Open(filepath.Join(dir, "r_00000010_depth_top.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("image size %v", b)
	}

	s := Scalars(out, m.DepthScale(), m.DisparityScale(), 1e-3)
	for _, k := range []string{"total_loss", "image_loss_0", "learning_rate", "disparity_top_mean_3"} {
		if _, ok := s[k]; !ok {
			t.Errorf("scalar %s missing", k)
		}
	}
}
