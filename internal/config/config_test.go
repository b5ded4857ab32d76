package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	c, err := Default().Finalize()
	if err != nil {
		t.Fatalf("Default().Finalize() = %v", err)
	}
	if c.ModelDir() != "monodepth360" {
		t.Errorf("ModelDir() = %q", c.ModelDir())
	}
	if p, fb := c.ProjectionMode(); p != Cubic || fb {
		t.Errorf("ProjectionMode() = %v, %v", p, fb)
	}
}

func TestParseProjection(t *testing.T) {
	tests := []struct {
		in       string
		want     Projection
		fallback bool
	}{
		{"cubic", Cubic, false},
		{"equirectangular", Equirectangular, false},
		{" Equirectangular ", Equirectangular, false},
		{"fisheye", Cubic, true},
		{"", Cubic, true},
	}
	for _, tt := range tests {
		got, fb := ParseProjection(tt.in)
		if got != tt.want || fb != tt.fallback {
			t.Errorf("ParseProjection(%q) = %v, %v, expected %v, %v", tt.in, got, fb, tt.want, tt.fallback)
		}
	}
}

func TestFinalizeRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		substr string
	}{
		{"zero height", func(c *Config) { c.Height = 0 }, "positive"},
		{"not divisible", func(c *Config) { c.Width = 500 }, "divisible"},
		{"batch vs towers", func(c *Config) { c.BatchSize, c.Towers = 6, 4 }, "towers"},
		{"alpha", func(c *Config) { c.AlphaImageLoss = 1.5 }, "alpha_image_loss"},
		{"negative weight", func(c *Config) { c.TBLossWeight = -1 }, "non-negative"},
		{"face size", func(c *Config) { c.CubeFaceSize = 100 }, "cube face"},
		{"blocks", func(c *Config) { c.Model.Blocks = []int{3, 4, 6} }, "4 encoder stages"},
		{"zero block", func(c *Config) { c.Model.Blocks = []int{3, 0, 6, 3} }, "block counts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			_, err := c.Finalize()
			if err == nil || !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("Finalize() = %v, expected error containing %q", err, tt.substr)
			}
		})
	}
}

func TestFaceSizeIgnoredForEquirectangular(t *testing.T) {
	c := Default()
	c.Projection = "equirectangular"
	c.CubeFaceSize = 0
	if _, err := c.Finalize(); err != nil {
		t.Errorf("Finalize() = %v", err)
	}
}

func TestLoadYAMLAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	yml := `
height: 128
width: 256
projection: equirectangular
alpha_image_loss: 0.5
model:
  base_width: 8
  blocks: [1, 1, 2, 1]
data_path: /data
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Height != 128 || c.Width != 256 || c.Model.BaseWidth != 8 || c.DataPath != "/data" {
		t.Errorf("loaded %+v", c)
	}
	// Keys absent from the file keep their defaults.
	if c.BatchSize != 8 || c.TBLossWeight != 1e-3 || c.ModelName != "monodepth360" {
		t.Errorf("defaults lost: %+v", c)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	scratch := Default()
	RegisterFlags(fs, &scratch)
	if err := fs.Parse([]string{"-input_width", "512", "-blocks", "2,2,2,2", "-use_deconv"}); err != nil {
		t.Fatal(err)
	}
	if err := Override(fs, &c); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if c.Width != 512 || !c.UseDeconv {
		t.Errorf("flags not applied: width %d deconv %v", c.Width, c.UseDeconv)
	}
	if c.Height != 128 || c.AlphaImageLoss != 0.5 {
		t.Errorf("unset flags overrode the file: %+v", c)
	}
	if got := (blocksValue{&c.Model.Blocks}).String(); got != "2,2,2,2" {
		t.Errorf("blocks = %s", got)
	}
	if _, err := c.Finalize(); err != nil {
		t.Errorf("Finalize() = %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	if _, err := FromYAML([]byte("heigth: 128\n")); err == nil {
		t.Error("expected error for misspelt key")
	}
}
