// Package config holds the run configuration shared by every component.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// InputMultiple is the factor image and cube face sizes must be divisible by.
const InputMultiple = 64

// Projection selects how the network sees the panorama.
type Projection int

const (
	// Cubic runs the network on six cube faces.
	Cubic Projection = iota
	// Equirectangular runs the network on the whole panorama.
	Equirectangular
)

func (p Projection) String() string {
	if p == Equirectangular {
		return "equirectangular"
	}
	return "cubic"
}

// ParseProjection maps a projection name to its mode. Unknown names select
// Cubic and report fallback so the caller can log it.
func ParseProjection(s string) (p Projection, fallback bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equirectangular":
		return Equirectangular, false
	case "cubic":
		return Cubic, false
	default:
		return Cubic, true
	}
}

// ModelConfig describes the network topology.
type ModelConfig struct {
	BaseWidth int   `yaml:"base_width"`
	Blocks    []int `yaml:"blocks"`
}

// Config is the immutable run configuration. It is built once by Load,
// Override and Finalize and then passed by value.
type Config struct {
	Height       int     `yaml:"height"`
	Width        int     `yaml:"width"`
	BatchSize    int     `yaml:"batch_size"`
	NumEpochs    int     `yaml:"num_epochs"`
	LearningRate float64 `yaml:"learning_rate"`

	Projection string `yaml:"projection"`
	UseDeconv  bool   `yaml:"use_deconv"`

	AlphaImageLoss          float64 `yaml:"alpha_image_loss"`
	DepthGradientLossWeight float64 `yaml:"depth_gradient_loss_weight"`
	TBLossWeight            float64 `yaml:"tb_loss_weight"`

	FullSummary  bool  `yaml:"full_summary"`
	NumThreads   int   `yaml:"num_threads"`
	Towers       int   `yaml:"towers"`
	CubeFaceSize int   `yaml:"cube_face_size"`
	Seed         int64 `yaml:"seed"`

	Model ModelConfig `yaml:"model"`

	DataPath        string `yaml:"data_path"`
	FilenamesFile   string `yaml:"filenames_file"`
	LogDirectory    string `yaml:"log_directory"`
	ModelName       string `yaml:"model_name"`
	OutputDirectory string `yaml:"output_directory"`
	CheckpointPath  string `yaml:"checkpoint_path"`
	Retrain         bool   `yaml:"retrain"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Height:                  256,
		Width:                   512,
		BatchSize:               8,
		NumEpochs:               100,
		LearningRate:            1e-3,
		Projection:              "cubic",
		AlphaImageLoss:          0.75,
		DepthGradientLossWeight: 1e-3,
		TBLossWeight:            1e-3,
		NumThreads:              8,
		Towers:                  1,
		CubeFaceSize:            128,
		Model: ModelConfig{
			BaseWidth: 64,
			Blocks:    []int{3, 4, 6, 3},
		},
		ModelName: "monodepth360",
	}
}

// FromYAML decodes b over the defaults.
func FromYAML(b []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	return c, nil
}

// Load reads a YAML configuration file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config read %s", path)
	}
	return FromYAML(b)
}

// AsYAML renders the configuration.
func (c Config) AsYAML() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# cannot marshal config: %v", err)
	}
	return string(b)
}

// ProjectionMode returns the parsed projection and whether it fell back to
// cubic.
func (c Config) ProjectionMode() (Projection, bool) {
	return ParseProjection(c.Projection)
}

// FaceSize returns the cube face size used in cubic mode.
func (c Config) FaceSize() int { return c.CubeFaceSize }

// ModelDir is the directory checkpoints and summaries of this model go to.
func (c Config) ModelDir() string {
	if c.LogDirectory == "" {
		return c.ModelName
	}
	return strings.TrimRight(c.LogDirectory, "/") + "/" + c.ModelName
}

// Finalize validates the configuration.
func (c Config) Finalize() (Config, error) {
	switch {
	case c.Height <= 0 || c.Width <= 0:
		return c, errors.Errorf("input size %dx%d must be positive", c.Height, c.Width)
	case c.Height%InputMultiple != 0 || c.Width%InputMultiple != 0:
		return c, errors.Errorf("input size %dx%d must be divisible by %d", c.Height, c.Width, InputMultiple)
	case c.BatchSize <= 0:
		return c, errors.Errorf("batch size %d must be positive", c.BatchSize)
	case c.NumEpochs <= 0:
		return c, errors.Errorf("number of epochs %d must be positive", c.NumEpochs)
	case c.LearningRate <= 0:
		return c, errors.Errorf("learning rate %g must be positive", c.LearningRate)
	case c.Towers <= 0:
		return c, errors.Errorf("towers %d must be positive", c.Towers)
	case c.BatchSize%c.Towers != 0:
		return c, errors.Errorf("batch size %d is not divisible by %d towers", c.BatchSize, c.Towers)
	case c.NumThreads <= 0:
		return c, errors.Errorf("num_threads %d must be positive", c.NumThreads)
	case c.AlphaImageLoss < 0 || c.AlphaImageLoss > 1:
		return c, errors.Errorf("alpha_image_loss %g must be in [0, 1]", c.AlphaImageLoss)
	case c.DepthGradientLossWeight < 0 || c.TBLossWeight < 0:
		return c, errors.Errorf("loss weights must be non-negative")
	case c.Model.BaseWidth <= 0:
		return c, errors.Errorf("model base width %d must be positive", c.Model.BaseWidth)
	case len(c.Model.Blocks) != 4:
		return c, errors.Errorf("model needs 4 encoder stages, got %v", c.Model.Blocks)
	case c.ModelName == "":
		return c, errors.New("model_name must not be empty")
	}
	for _, b := range c.Model.Blocks {
		if b <= 0 {
			return c, errors.Errorf("encoder stage block counts %v must be positive", c.Model.Blocks)
		}
	}
	if p, _ := c.ProjectionMode(); p == Cubic {
		if c.CubeFaceSize <= 0 || c.CubeFaceSize%InputMultiple != 0 {
			return c, errors.Errorf("cube face size %d must be a positive multiple of %d", c.CubeFaceSize, InputMultiple)
		}
	}
	c.Model.Blocks = append([]int(nil), c.Model.Blocks...)
	return c, nil
}

// blocksValue is a flag.Value for comma separated stage sizes.
type blocksValue struct{ blocks *[]int }

func (v blocksValue) String() string {
	if v.blocks == nil {
		return ""
	}
	parts := make([]string, len(*v.blocks))
	for i, b := range *v.blocks {
		parts[i] = strconv.Itoa(b)
	}
	return strings.Join(parts, ",")
}

func (v blocksValue) Set(s string) error {
	var out []int
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return errors.Wrapf(err, "bad block count %q", p)
		}
		out = append(out, n)
	}
	*v.blocks = out
	return nil
}

// RegisterFlags binds every configuration key to a flag on fs, writing into c.
func RegisterFlags(fs *flag.FlagSet, c *Config) {
	fs.IntVar(&c.Height, "input_height", c.Height, "input height")
	fs.IntVar(&c.Width, "input_width", c.Width, "input width")
	fs.IntVar(&c.BatchSize, "batch_size", c.BatchSize, "batch size")
	fs.IntVar(&c.NumEpochs, "num_epochs", c.NumEpochs, "number of epochs")
	fs.Float64Var(&c.LearningRate, "learning_rate", c.LearningRate, "initial learning rate")
	fs.StringVar(&c.Projection, "projection", c.Projection, "projection mode - cubic or equirectangular")
	fs.BoolVar(&c.UseDeconv, "use_deconv", c.UseDeconv, "if set, will use transposed convolutions")
	fs.Float64Var(&c.AlphaImageLoss, "alpha_image_loss", c.AlphaImageLoss, "weight between SSIM and L1 in the image loss")
	fs.Float64Var(&c.DepthGradientLossWeight, "depth_gradient_loss_weight", c.DepthGradientLossWeight, "depth smoothness weight")
	fs.Float64Var(&c.TBLossWeight, "tb_loss_weight", c.TBLossWeight, "top-bottom consistency weight")
	fs.BoolVar(&c.FullSummary, "full_summary", c.FullSummary, "if set, will write image summaries as well")
	fs.IntVar(&c.NumThreads, "num_threads", c.NumThreads, "number of goroutines to use for data loading")
	fs.IntVar(&c.Towers, "towers", c.Towers, "number of parallel towers the batch is split across")
	fs.IntVar(&c.CubeFaceSize, "cube_face_size", c.CubeFaceSize, "cube face size in cubic mode")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "random seed for initialisation and data augmentation")
	fs.IntVar(&c.Model.BaseWidth, "base_width", c.Model.BaseWidth, "channel count of the first convolution")
	fs.Var(blocksValue{&c.Model.Blocks}, "blocks", "comma separated residual units per encoder stage")
	fs.StringVar(&c.DataPath, "data_path", c.DataPath, "path to the data")
	fs.StringVar(&c.FilenamesFile, "filenames_file", c.FilenamesFile, "path to the filenames text file")
	fs.StringVar(&c.LogDirectory, "log_directory", c.LogDirectory, "directory to save checkpoints and summaries")
	fs.StringVar(&c.ModelName, "model_name", c.ModelName, "model name")
	fs.StringVar(&c.OutputDirectory, "output_directory", c.OutputDirectory, "output directory for test disparities, if empty outputs to checkpoint folder")
	fs.StringVar(&c.CheckpointPath, "checkpoint_path", c.CheckpointPath, "path to a specific checkpoint to load")
	fs.BoolVar(&c.Retrain, "retrain", c.Retrain, "if used with checkpoint_path, will restart training from step zero")
}

// Override applies the flags explicitly set on fs to c. fs must have been
// parsed; its flags are replayed onto a set bound to c.
func Override(fs *flag.FlagSet, c *Config) error {
	bound := flag.NewFlagSet("override", flag.ContinueOnError)
	RegisterFlags(bound, c)
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil || bound.Lookup(f.Name) == nil {
			return
		}
		err = errors.Wrapf(bound.Set(f.Name, f.Value.String()), "flag -%s", f.Name)
	})
	return err
}
