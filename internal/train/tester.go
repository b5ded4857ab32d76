package train

import (
	"context"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/data"
	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/net"
	"github.com/FlavioCFOliveira/GoDepth360/internal/npy"
	"github.com/FlavioCFOliveira/GoDepth360/internal/summary"
)

// DisparitiesFile is the name of the inference output.
const DisparitiesFile = "disparities.npy"

// Tester runs the test mode model over every listed sample.
type Tester struct {
	cfg    config.Config
	model  *model.Model
	loader *data.Loader
	logger golog.Logger

	checkpoint string
}

// NewTester builds the test mode model and loader for cfg.
func NewTester(cfg config.Config, logger golog.Logger) (*Tester, error) {
	cfg, err := cfg.Finalize()
	if err != nil {
		return nil, err
	}
	loader, err := data.NewLoader(cfg, true, logger)
	if err != nil {
		return nil, err
	}
	m, err := model.New(cfg, model.Test)
	if err != nil {
		return nil, err
	}
	return &Tester{cfg: cfg, model: m, loader: loader, logger: logger}, nil
}

// Model returns the inference model.
func (t *Tester) Model() *model.Model { return t.model }

// Restore loads every parameter, the learned scales included, from path. An
// empty path selects the latest checkpoint in the model directory.
func (t *Tester) Restore(path string) error {
	if path == "" {
		latest, err := net.LatestCheckpoint(t.cfg.ModelDir())
		if err != nil {
			return err
		}
		path = latest
	}
	info, err := net.RestoreCheckpoint(path, t.model.Params())
	if err != nil {
		return err
	}
	t.checkpoint = path
	t.logger.Infow("restored checkpoint", "path", path, "step", info.Step, "params", info.Restored,
		"depth_scale", t.model.DepthScale(), "disparity_scale", t.model.DisparityScale())
	return nil
}

// OutputPath is where Run writes the disparities: the configured output
// directory, or the directory of the restored checkpoint.
func (t *Tester) OutputPath() string {
	dir := t.cfg.OutputDirectory
	if dir == "" && t.checkpoint != "" {
		dir = filepath.Dir(t.checkpoint)
	}
	return filepath.Join(dir, DisparitiesFile)
}

// Run writes the finest top disparity of every sample as an [N, H, W] float32
// array and returns the output path.
func (t *Tester) Run(ctx context.Context) (string, error) {
	path := t.OutputPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to create file")
	}
	defer f.Close()

	n := t.loader.Len()
	w, err := npy.NewWriter(f, n, t.cfg.Height, t.cfg.Width)
	if err != nil {
		return "", err
	}

	t.logger.Infof("now testing %d files", n)
	var images *summary.ImageWriter
	if t.cfg.FullSummary {
		images = &summary.ImageWriter{Dir: filepath.Join(filepath.Dir(path), "images"), RunID: "test", Logger: t.logger}
	}
	done := 0
	for b := range t.loader.Epoch(ctx, 0) {
		if b.Err != nil {
			return "", b.Err
		}
		out, err := t.model.Forward(b.Top, nil)
		if err != nil {
			return "", errors.Wrapf(err, "sample %s", b.Names[0])
		}
		if err := w.Write(out.DisparityTop[0].Slice(0, 1).Data); err != nil {
			return "", err
		}
		if images != nil {
			if err := images.Write(int64(b.Step), out); err != nil {
				t.logger.Errorw("image summary failed", "sample", b.Names[0], "error", err)
			}
		}
		done++
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if done != n {
		return "", errors.Errorf("tested %d of %d samples", done, n)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	t.logger.Infof("done, disparities written to %s", path)
	return path, nil
}
