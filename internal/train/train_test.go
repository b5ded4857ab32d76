package train

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/data"
	"github.com/FlavioCFOliveira/GoDepth360/internal/net"
	"github.com/FlavioCFOliveira/GoDepth360/internal/npy"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
)

func writeGradient(t *testing.T, path string, shift int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 128, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 128; x++ {
			v := uint8((x*2 + y + shift) % 256)
			img.Set(x, y, color.RGBA{v, 255 - v, v / 2, 255})
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

// smallRun returns a configuration training a slim equirectangular model on
// n generated 64x128 sample pairs.
func smallRun(t *testing.T, n int) config.Config {
	t.Helper()
	dir := t.TempDir()
	var list string
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		writeGradient(t, filepath.Join(dir, "data", data.TopDir, name+".png"), 10*i)
		writeGradient(t, filepath.Join(dir, "data", data.BottomDir, name+".png"), 10*i+3)
		list += name + "\n"
	}
	files := filepath.Join(dir, "files.txt")
	if err := os.WriteFile(files, []byte(list), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Projection = "equirectangular"
	cfg.Height, cfg.Width = 64, 128
	cfg.BatchSize = 2
	cfg.Towers = 2
	cfg.NumEpochs = 1
	cfg.NumThreads = 2
	cfg.LearningRate = 1e-4
	cfg.Model.BaseWidth = 2
	cfg.Model.Blocks = []int{1, 1, 1, 1}
	cfg.Seed = 9
	cfg.DataPath = filepath.Join(dir, "data")
	cfg.FilenamesFile = files
	cfg.LogDirectory = filepath.Join(dir, "logs")
	cfg.ModelName = "slim"
	return cfg
}

func TestTrainerRunAndTest(t *testing.T) {
	cfg := smallRun(t, 3)
	logger := golog.NewTestLogger(t)

	tr, err := NewTrainer(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if tr.TotalSteps() != 2 {
		t.Fatalf("TotalSteps = %d, expected 2", tr.TotalSteps())
	}
	before := append([]float64(nil), tr.Model().Params()[2].Data...)
	if err := tr.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.GlobalStep() != 2 {
		t.Errorf("GlobalStep = %d, expected 2", tr.GlobalStep())
	}
	changed := false
	for i, v := range tr.Model().Params()[2].Data {
		if v != before[i] {
			changed = true
		}
	}
	if !changed {
		t.Error("training did not update the first convolution")
	}
	if mean, _ := tr.Latency(); mean <= 0 {
		t.Errorf("mean latency %v", mean)
	}

	ckpt := net.CheckpointPath(cfg.ModelDir(), 2)
	if _, err := os.Stat(ckpt); err != nil {
		t.Fatalf("final checkpoint missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.ModelDir(), tr.RunID()+"_summary.csv")); err != nil {
		t.Errorf("summary csv missing: %v", err)
	}

	te, err := NewTester(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := te.Restore(""); err != nil {
		t.Fatal(err)
	}
	path, err := te.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(cfg.ModelDir(), DisparitiesFile) {
		t.Errorf("output path %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	values, shape, err := npy.Read(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 3 || shape[0] != 3 || shape[1] != 64 || shape[2] != 128 {
		t.Fatalf("shape %v, expected [3 64 128]", shape)
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || v > 0 {
			t.Fatalf("disparity[%d] = %f, expected a finite non-positive top disparity", i, v)
		}
	}
}

func TestTrainerRestoreKeepsScales(t *testing.T) {
	cfg := smallRun(t, 2)
	logger := golog.NewTestLogger(t)
	src, err := NewTrainer(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	params := src.Model().Params()
	params[1].Data[0] = 3.5
	params[2].Data[0] = 0.125
	path := filepath.Join(t.TempDir(), "model-40.gob")
	if err := net.SaveCheckpoint(path, params, 40, src.RunID()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		retrain bool
		step    int64
	}{
		{false, 40},
		{true, 0},
	}
	for _, tt := range tests {
		cfg.Retrain = tt.retrain
		tr, err := NewTrainer(cfg, logger)
		if err != nil {
			t.Fatal(err)
		}
		if err := tr.Restore(path); err != nil {
			t.Fatal(err)
		}
		if tr.GlobalStep() != tt.step {
			t.Errorf("retrain=%v: step %d, expected %d", tt.retrain, tr.GlobalStep(), tt.step)
		}
		if got := tr.Model().DisparityScale(); got != 1 {
			t.Errorf("disparity scale restored as %f, expected the initial 1", got)
		}
		if got := tr.Model().Params()[2].Data[0]; got != 0.125 {
			t.Errorf("weight = %f, expected 0.125", got)
		}
	}
}

func TestTesterRestoresScales(t *testing.T) {
	cfg := smallRun(t, 1)
	logger := golog.NewTestLogger(t)
	te, err := NewTester(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	params := te.Model().Params()
	params[1].Data[0] = 2.5
	path := net.CheckpointPath(cfg.ModelDir(), 7)
	if err := net.SaveCheckpoint(path, params, 7, "r"); err != nil {
		t.Fatal(err)
	}
	params[1].Data[0] = 1

	if err := te.Restore(""); err != nil {
		t.Fatal(err)
	}
	if got := te.Model().DisparityScale(); got != 2.5 {
		t.Errorf("disparity scale = %f, expected 2.5", got)
	}
}

func TestStepRejectsUnevenTowers(t *testing.T) {
	cfg := smallRun(t, 2)
	tr, err := NewTrainer(cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	img := tensor.Full(3, 64, 128, 3, 0.5)
	if _, _, err := tr.Step(img, img); err == nil {
		t.Error("expected an error for 3 images over 2 towers")
	}
	if tr.GlobalStep() != 0 {
		t.Errorf("step advanced to %d", tr.GlobalStep())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := smallRun(t, 2)
	tr, err := NewTrainer(cfg, golog.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tr.Run(ctx); err == nil {
		t.Error("expected the cancellation error")
	}
}
