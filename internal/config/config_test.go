package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
data:
  root: /datasets/cells
  image_size: 128
  label_map:
    kind: palette
    palette:
      - {color: [0, 0, 0], class: 0}
      - {color: [255, 0, 0], class: 1}
      - {color: [0, 255, 0], class: 2}
model:
  num_classes: 3
  widths: [8, 16, 32, 64, 64]
  bottleneck_width: 128
  decoder_widths: [64, 32, 16, 8, 4]
train:
  epochs: 2
  optimizer: sgd
device: cpu
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/datasets/cells", cfg.Data.Root)
	assert.Equal(t, 128, cfg.Data.ImageSize)
	assert.Equal(t, "train", cfg.Data.TrainSplit)
	assert.Equal(t, 3, cfg.Model.NumClasses)
	assert.Equal(t, [5]int{8, 16, 32, 64, 64}, cfg.Model.Widths)
	assert.Equal(t, "sgd", cfg.Train.Optimizer)
	assert.Equal(t, 4, cfg.Train.BatchSize)
	assert.Equal(t, "cpu", cfg.Device)
	require.Len(t, cfg.Data.LabelMap.Palette, 3)
	assert.Equal(t, [3]uint8{255, 0, 0}, cfg.Data.LabelMap.Palette[1].Color)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "train:\n  epoks: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "epoks")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"image size not multiple of 32", func(c *Config) { c.Data.ImageSize = 100 }},
		{"one class", func(c *Config) { c.Model.NumClasses = 1 }},
		{"zero epochs", func(c *Config) { c.Train.Epochs = 0 }},
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }},
		{"negative lr", func(c *Config) { c.Train.LearningRate = -1 }},
		{"unknown optimizer", func(c *Config) { c.Train.Optimizer = "rmsprop" }},
		{"unknown device", func(c *Config) { c.Device = "tpu" }},
		{"zero width", func(c *Config) { c.Model.Widths[2] = 0 }},
		{"binary with three classes", func(c *Config) { c.Model.NumClasses = 3 }},
		{"gray class out of range", func(c *Config) {
			c.Data.LabelMap = LabelMap{Kind: LabelGray, Gray: map[uint8]int{0: 0, 255: 2}}
		}},
		{"empty palette", func(c *Config) { c.Data.LabelMap = LabelMap{Kind: LabelPalette} }},
		{"unknown label map", func(c *Config) { c.Data.LabelMap.Kind = "rainbow" }},
		{"no root", func(c *Config) { c.Data.Root = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestValidate_SyntheticNeedsNoRoot(t *testing.T) {
	cfg := Default()
	cfg.Data.Root = ""
	cfg.Data.Synthetic = true
	assert.NoError(t, cfg.Validate())
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{
		DataRoot:     "/tmp/data",
		Epochs:       9,
		LearningRate: 0.01,
		Device:       "cpu",
		ImageSize:    64,
		Synthetic:    true,
	})

	assert.Equal(t, "/tmp/data", cfg.Data.Root)
	assert.Equal(t, 9, cfg.Train.Epochs)
	assert.InDelta(t, 0.01, cfg.Train.LearningRate, 1e-12)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 64, cfg.Data.ImageSize)
	assert.True(t, cfg.Data.Synthetic)
	assert.Equal(t, 4, cfg.Train.BatchSize, "zero override keeps the file value")
}
