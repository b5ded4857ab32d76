package data

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// dataset writes n grey sample pairs and returns a config pointing at them.
func dataset(t *testing.T, n int) config.Config {
	t.Helper()
	dir := t.TempDir()
	var list string
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		grey := color.RGBA{uint8(20 * i), uint8(20 * i), uint8(20 * i), 255}
		writePNG(t, filepath.Join(dir, TopDir, name+".png"), 16, 8, grey)
		writePNG(t, filepath.Join(dir, BottomDir, name+".png"), 16, 8, grey)
		list += name + " extra tokens\n"
	}
	list += "\n"
	file := filepath.Join(dir, "files.txt")
	if err := os.WriteFile(file, []byte(list), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.DataPath = dir
	cfg.FilenamesFile = file
	cfg.Height, cfg.Width = 4, 8
	cfg.BatchSize = 2
	cfg.NumThreads = 3
	cfg.Seed = 5
	return cfg
}

func TestReadFilenames(t *testing.T) {
	cfg := dataset(t, 3)
	names, err := ReadFilenames(cfg.FilenamesFile)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"a", "b", "c"}
	if len(names) != len(expected) {
		t.Fatalf("got %v, expected %v", names, expected)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("names[%d] = %q, expected %q", i, names[i], expected[i])
		}
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	os.WriteFile(empty, []byte("\n\n"), 0o644)
	if _, err := ReadFilenames(empty); err == nil {
		t.Error("expected an error for an empty list")
	}
}

func TestLoadTensorResizesAndScales(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "x.png"), 20, 10, color.RGBA{255, 0, 51, 255})
	img, err := LoadTensor(dir, "x", 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if img.Shape() != [4]int{1, 4, 8, 3} {
		t.Fatalf("shape %v", img.Shape())
	}
	expected := []float64{1, 0, 0.2}
	for c, want := range expected {
		if got := img.At(0, 2, 3, c); math.Abs(got-want) > 1e-3 {
			t.Errorf("channel %d = %f, expected %f", c, got, want)
		}
	}

	if _, err := LoadTensor(dir, "missing", 4, 8); err == nil {
		t.Error("expected an error for a missing sample")
	}
}

func TestImagePathPrefersJPEG(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".png", ".jpg"} {
		os.WriteFile(filepath.Join(dir, "s"+ext), nil, 0o644)
	}
	p, err := ImagePath(dir, "s")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(p) != ".jpg" {
		t.Errorf("ImagePath = %s, expected the .jpg file", p)
	}
}

func TestAugmentationClipsAndScales(t *testing.T) {
	a := Augmentation{Gamma: 1, Brightness: 2, Color: [3]float64{1, 0.5, 1}}
	x := tensor.FromData(1, 1, 1, 3, []float64{0.25, 0.5, 0.75})
	out := a.Apply(x)
	expected := []float64{0.5, 0.5, 1}
	for i, want := range expected {
		if math.Abs(out.Data[i]-want) > 1e-12 {
			t.Errorf("Output[%d] = %f, expected %f", i, out.Data[i], want)
		}
	}
}

func TestRandomAugmentationRanges(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		a := RandomAugmentation(r)
		if a.Gamma < GammaLow || a.Gamma > GammaHigh {
			t.Fatalf("gamma %f out of range", a.Gamma)
		}
		if a.Brightness < BrightnessLow || a.Brightness > BrightnessHigh {
			t.Fatalf("brightness %f out of range", a.Brightness)
		}
		for _, c := range a.Color {
			if c < ColorLow || c > ColorHigh {
				t.Fatalf("colour %f out of range", c)
			}
		}
	}
}

func TestAugmentPairKeepsViewsAligned(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	x := tensor.New(1, 2, 3, 3)
	for i := range x.Data {
		x.Data[i] = float64(i) / float64(len(x.Data))
	}
	for i := 0; i < 20; i++ {
		top, bottom := AugmentPair(r, x, x)
		for j := range top.Data {
			if top.Data[j] != bottom.Data[j] {
				t.Fatalf("trial %d: views differ at %d", i, j)
			}
		}
	}
}

func TestLoaderTrainEpoch(t *testing.T) {
	cfg := dataset(t, 5)
	l, err := NewLoader(cfg, false, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if l.StepsPerEpoch() != 3 {
		t.Fatalf("StepsPerEpoch = %d, expected 3", l.StepsPerEpoch())
	}

	seen := map[string]int{}
	steps := 0
	for b := range l.Epoch(context.Background(), 0) {
		if b.Err != nil {
			t.Fatal(b.Err)
		}
		if b.Step != steps {
			t.Errorf("batch %d arrived as step %d", b.Step, steps)
		}
		if b.Top.Shape() != [4]int{2, 4, 8, 3} || !b.Bottom.SameShape(b.Top) {
			t.Errorf("batch shapes %v / %v", b.Top, b.Bottom)
		}
		for _, n := range b.Names {
			seen[n]++
		}
		steps++
	}
	if steps != 3 {
		t.Errorf("got %d batches, expected 3", steps)
	}
	for _, n := range l.Names() {
		if seen[n] == 0 {
			t.Errorf("sample %s never loaded", n)
		}
	}
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	cfg := dataset(t, 6)
	l, err := NewLoader(cfg, false, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	a, b := l.order(3), l.order(3)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order differs at %d for the same epoch", i)
		}
	}
}

func TestLoaderTestMode(t *testing.T) {
	cfg := dataset(t, 2)
	l, err := NewLoader(cfg, true, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for b := range l.Epoch(context.Background(), 0) {
		if b.Err != nil {
			t.Fatal(b.Err)
		}
		if b.Top.B != 2 || b.Bottom != nil {
			t.Fatalf("test batch %v, bottom %v", b.Top, b.Bottom)
		}
		flipped := b.Top.Slice(1, 2).FlipLeftRight()
		for i, v := range b.Top.Slice(0, 1).Data {
			if v != flipped.Data[i] {
				t.Fatalf("second entry is not the mirror at %d", i)
			}
		}
		names = append(names, b.Names...)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names %v, expected [a b]", names)
	}
}

func TestLoaderReportsMissingImages(t *testing.T) {
	cfg := dataset(t, 2)
	os.Remove(filepath.Join(cfg.DataPath, BottomDir, "b.png"))
	cfg.BatchSize = 1
	l, err := NewLoader(cfg, false, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	var failed bool
	for b := range l.Epoch(context.Background(), 0) {
		if b.Err != nil {
			failed = true
		}
	}
	if !failed {
		t.Error("expected an error batch")
	}
}

func TestLoaderStopsOnCancel(t *testing.T) {
	cfg := dataset(t, 4)
	cfg.BatchSize = 1
	l, err := NewLoader(cfg, false, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := l.Epoch(ctx, 0)
	<-ch
	cancel()
	for range ch {
	}
}
