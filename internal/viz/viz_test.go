package viz

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/data"
	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/train"
)

func TestPalette_Color(t *testing.T) {
	pal := Palette{{1, 2, 3, 255}, {4, 5, 6, 255}}

	assert.Equal(t, color.RGBA{4, 5, 6, 255}, pal.Color(1))
	assert.Equal(t, color.RGBA{1, 2, 3, 255}, pal.Color(2), "ids wrap around")
	assert.Equal(t, color.RGBA{A: 255}, pal.Color(-1))
}

func TestDefaultPalette_Distinct(t *testing.T) {
	seen := map[color.RGBA]bool{}
	for _, c := range DefaultPalette {
		assert.False(t, seen[c], "duplicate colour %v", c)
		seen[c] = true
	}
}

func TestColorizeMask(t *testing.T) {
	m := dataset.NewMask(2, 1)
	m.Set(1, 0, 1)

	img := ColorizeMask(m, DefaultPalette)

	assert.Equal(t, DefaultPalette[0], img.RGBAAt(0, 0))
	assert.Equal(t, DefaultPalette[1], img.RGBAAt(1, 0))
}

func TestDenormalize_InvertsCollate(t *testing.T) {
	backend := cpu.New()
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
	}
	src.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	src.SetNRGBA(2, 1, color.NRGBA{R: 12, G: 130, B: 250, A: 255})
	mask := dataset.NewMask(3, 2)

	c := data.NewCollator(backend, data.ImageNetMean, data.ImageNetStd)
	batch, err := c.Collate([]dataset.Sample{{Image: src, Mask: mask}})
	require.NoError(t, err)

	got, err := Denormalize(batch.Images, 0, c.Mean(), c.Std())
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)

	_, err = Denormalize(batch.Images, 1, c.Mean(), c.Std())
	assert.Error(t, err)
}

func TestRenderPanels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 9, G: 8, B: 7, A: 255})
	truth := dataset.NewMask(4, 2)
	pred := dataset.NewMask(4, 2)
	pred.Set(3, 1, 2)

	out, err := RenderPanels(img, truth, pred, DefaultPalette)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 3*4+2*Gutter, 2), out.Bounds())
	assert.Equal(t, color.RGBA{9, 8, 7, 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(4, 0), "gutter")
	assert.Equal(t, DefaultPalette[0], out.RGBAAt(4+Gutter, 0))
	assert.Equal(t, DefaultPalette[2], out.RGBAAt(2*(4+Gutter)+3, 1))

	_, err = RenderPanels(img, dataset.NewMask(3, 2), pred, DefaultPalette)
	assert.Error(t, err)
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.png")
	img := image.NewRGBA(image.Rect(0, 0, 5, 3))

	require.NoError(t, SavePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestPlotHistory(t *testing.T) {
	log := &train.MetricLog{}
	for epoch := 1; epoch <= 2; epoch++ {
		for i := 0; i < 3; i++ {
			log.Append(train.Record{
				Epoch:    epoch,
				Progress: train.Progress(epoch, i, 3),
				Phase:    train.PhaseTrain,
				Values:   map[string]float64{train.KeyLoss: 1 / float64(epoch+i), train.KeyAccuracy: 0.5},
			})
		}
		log.Append(train.Record{
			Epoch:    epoch,
			Progress: float64(epoch),
			Phase:    train.PhaseValid,
			Values:   map[string]float64{train.KeyLoss: 0.8, train.KeyAccuracy: 0.6},
		})
	}

	path := filepath.Join(t.TempDir(), "history.png")
	require.NoError(t, PlotHistory(log, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, PlotHistory(&train.MetricLog{}, path))
}

func TestStackRows(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 3, 2))
	a.SetRGBA(0, 0, color.RGBA{1, 1, 1, 255})
	b := image.NewRGBA(image.Rect(0, 0, 5, 1))
	b.SetRGBA(4, 0, color.RGBA{2, 2, 2, 255})

	out := StackRows([]*image.RGBA{a, b})

	assert.Equal(t, image.Rect(0, 0, 5, 2+Gutter+1), out.Bounds())
	assert.Equal(t, color.RGBA{1, 1, 1, 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(4, 0))
	assert.Equal(t, color.RGBA{2, 2, 2, 255}, out.RGBAAt(4, 2+Gutter))
}
