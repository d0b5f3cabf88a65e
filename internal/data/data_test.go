package data

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/tensor"
)

func graySample(w, h int, v uint8, label int64) dataset.Sample {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	mask := dataset.NewMask(w, h)
	for i := range mask.Labels {
		mask.Labels[i] = label
	}
	return dataset.Sample{Image: img, Mask: mask}
}

func TestCollate_Shapes(t *testing.T) {
	backend := cpu.New()
	c := NewCollator(backend, ImageNetMean, ImageNetStd)

	b, err := c.Collate([]dataset.Sample{graySample(6, 4, 10, 1), graySample(6, 4, 20, 2)})
	require.NoError(t, err)

	assert.Equal(t, 2, b.Size)
	assert.Equal(t, tensor.Shape{2, 3, 4, 6}, b.Images.Shape())
	assert.Equal(t, tensor.Shape{2, 4, 6}, b.Masks.Shape())
	assert.Equal(t, tensor.Int64, b.Masks.DType())
	assert.Equal(t, backend.Device(), b.Images.Device())

	labels := b.Masks.Data()
	assert.Equal(t, int64(1), labels[0])
	assert.Equal(t, int64(2), labels[len(labels)-1])
}

func TestCollate_NormalisesMidGray(t *testing.T) {
	c := NewCollator(cpu.New(), ImageNetMean, ImageNetStd)
	b, err := c.Collate([]dataset.Sample{graySample(2, 2, 128, 0)})
	require.NoError(t, err)

	px := b.Images.Data()
	want := [3]float64{0.07411, 0.20513, 0.42649}
	for ch := 0; ch < 3; ch++ {
		for i := 0; i < 4; i++ {
			v := px[ch*4+i]
			assert.InDelta(t, want[ch], v, 1e-4)
			assert.True(t, v > -2.2 && v < 2.7)
		}
	}
}

func TestCollate_IgnoresAlphaAndSubImageOffset(t *testing.T) {
	full := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	full.SetNRGBA(2, 2, color.NRGBA{R: 255, A: 0})
	sub := full.SubImage(image.Rect(2, 2, 4, 4)).(*image.NRGBA)

	c := NewCollator(cpu.New(), [3]float32{}, [3]float32{1, 1, 1})
	b, err := c.Collate([]dataset.Sample{{Image: sub, Mask: dataset.NewMask(2, 2)}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, b.Images.Data()[0], 1e-6)
}

func TestCollate_Errors(t *testing.T) {
	c := NewCollator(cpu.New(), ImageNetMean, ImageNetStd)

	_, err := c.Collate(nil)
	assert.Error(t, err)

	_, err = c.Collate([]dataset.Sample{graySample(4, 4, 0, 0), graySample(8, 8, 0, 0)})
	assert.Error(t, err)

	s := graySample(4, 4, 0, 0)
	s.Mask = dataset.NewMask(2, 2)
	_, err = c.Collate([]dataset.Sample{s})
	assert.Error(t, err)
}

type fixedDataset []dataset.Sample

func (d fixedDataset) Len() int { return len(d) }

func (d fixedDataset) Get(i int) (dataset.Sample, error) {
	if i < 0 || i >= len(d) {
		return dataset.Sample{}, dataset.ErrIndexOutOfRange
	}
	return d[i], nil
}

func TestLoader_BatchesKeepPartialTail(t *testing.T) {
	ds := make(fixedDataset, 5)
	for i := range ds {
		ds[i] = graySample(2, 2, 0, int64(i))
	}
	l, err := NewLoader(ds, NewCollator(cpu.New(), ImageNetMean, ImageNetStd), 2, false, 1)
	require.NoError(t, err)

	assert.Equal(t, 5, l.Len())
	require.Equal(t, 3, l.NumBatches())

	var seen []int64
	for i := 0; i < l.NumBatches(); i++ {
		b, err := l.Batch(i)
		require.NoError(t, err)
		for j := 0; j < b.Size; j++ {
			seen = append(seen, b.Masks.Data()[j*4])
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen)

	last, err := l.Batch(2)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Size)

	_, err = l.Batch(3)
	assert.True(t, errors.Is(err, dataset.ErrIndexOutOfRange))
}

func TestLoader_ShuffleIsSeededPermutation(t *testing.T) {
	ds := make(fixedDataset, 8)
	for i := range ds {
		ds[i] = graySample(1, 1, 0, int64(i))
	}
	order := func(seed int64) []int64 {
		l, err := NewLoader(ds, NewCollator(cpu.New(), ImageNetMean, ImageNetStd), 8, true, seed)
		require.NoError(t, err)
		b, err := l.Batch(0)
		require.NoError(t, err)
		return append([]int64(nil), b.Masks.Data()...)
	}

	a, b := order(3), order(3)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []int64{0, 1, 2, 3, 4, 5, 6, 7}, a)
}

func TestNewLoader_Errors(t *testing.T) {
	c := NewCollator(cpu.New(), ImageNetMean, ImageNetStd)
	_, err := NewLoader(fixedDataset{graySample(1, 1, 0, 0)}, c, 0, false, 0)
	assert.Error(t, err)
	_, err = NewLoader(fixedDataset{}, c, 1, false, 0)
	assert.Error(t, err)
}
