package main

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/config"
	"github.com/born-ml/unet/internal/serialization"
)

func tinyConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Device = "cpu"
	cfg.Data.Synthetic = true
	cfg.Data.SyntheticSamples = 4
	cfg.Data.ImageSize = 32
	cfg.Model.Widths = [5]int{2, 3, 4, 4, 4}
	cfg.Model.BottleneckWidth = 6
	cfg.Model.DecoderWidths = [5]int{4, 4, 3, 2, 2}
	cfg.Train.Epochs = 1
	cfg.Train.BatchSize = 2
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Checkpoint = true
	cfg.Output.Panels = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRun_WritesArtefacts(t *testing.T) {
	cfg := tinyConfig(t)

	require.NoError(t, run(context.Background(), cfg, "run-1"))

	f, err := os.Open(filepath.Join(cfg.Output.Dir, "panels_epoch01.png"))
	require.NoError(t, err)
	defer f.Close()
	panels, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 3*32+2*4, panels.Bounds().Dx())
	assert.Equal(t, 2*32+4, panels.Bounds().Dy())

	_, err = os.Stat(filepath.Join(cfg.Output.Dir, "history.png"))
	assert.NoError(t, err)

	r, err := serialization.Open(filepath.Join(cfg.Output.Dir, "checkpoint.safetensors"))
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Verify())
	assert.Equal(t, "run-1", r.Metadata()["run_id"])
	assert.Equal(t, "1", r.Metadata()["epoch"])
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := tinyConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx, cfg, "run-2")

	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(cfg.Output.Dir, "checkpoint.safetensors"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_MissingPretrained(t *testing.T) {
	cfg := tinyConfig(t)
	cfg.Model.Pretrained = filepath.Join(t.TempDir(), "missing.safetensors")

	assert.Error(t, run(context.Background(), cfg, "run-3"))
}
