// Package godepth exposes the 360° depth model to library users.
package godepth

import (
	"github.com/edaniels/golog"

	"github.com/FlavioCFOliveira/GoDepth360/internal/config"
	"github.com/FlavioCFOliveira/GoDepth360/internal/data"
	"github.com/FlavioCFOliveira/GoDepth360/internal/disparity"
	"github.com/FlavioCFOliveira/GoDepth360/internal/model"
	"github.com/FlavioCFOliveira/GoDepth360/internal/sampler"
	"github.com/FlavioCFOliveira/GoDepth360/internal/tensor"
	"github.com/FlavioCFOliveira/GoDepth360/internal/train"
)

// Aliases of the types library users work with.
type (
	Config     = config.Config
	Projection = config.Projection
	Model      = model.Model
	Mode       = model.Mode
	Outputs    = model.Outputs
	Tensor     = tensor.Tensor
	Trainer    = train.Trainer
	Tester     = train.Tester
)

// Model modes and projections.
const (
	Train           = model.Train
	Test            = model.Test
	Cubic           = config.Cubic
	Equirectangular = config.Equirectangular
)

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// NewModel builds a model with freshly initialised weights.
func NewModel(cfg Config, mode Mode) (*Model, error) { return model.New(cfg, mode) }

// NewTrainer prepares a training run.
func NewTrainer(cfg Config, logger golog.Logger) (*Trainer, error) {
	return train.NewTrainer(cfg, logger)
}

// NewTester prepares inference over the configured filenames.
func NewTester(cfg Config, logger golog.Logger) (*Tester, error) {
	return train.NewTester(cfg, logger)
}

// LoadImage reads an image file into a [1, h, w, 3] tensor in [0, 1].
func LoadImage(path string, h, w int) (*Tensor, error) {
	img, err := data.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return data.ToTensor(img, h, w), nil
}

// Geometry helpers for working with disparity outputs directly.
var (
	SampleTop    = sampler.SampleTop
	SampleBottom = sampler.SampleBottom
	ToAngular    = disparity.ToAngular
	FromAngular  = disparity.FromAngular
)
