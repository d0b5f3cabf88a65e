package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unet/internal/config"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// writePair writes a w×h RGB image and a gray mask whose left half is 0 and
// right half is 255.
func writePair(t *testing.T, root, split, stem string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
			if x >= w/2 {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	writePNG(t, filepath.Join(root, split, "images", stem+".png"), img)
	writePNG(t, filepath.Join(root, split, "masks", stem+"_mask.png"), mask)
}

func folderOpts(size int) FolderOptions {
	return FolderOptions{Size: size, MaskSuffix: "_mask", LabelMap: BinaryLabelMap()}
}

func TestFolder_PairsSortedAndResized(t *testing.T) {
	root := t.TempDir()
	writePair(t, root, "train", "b", 40, 30)
	writePair(t, root, "train", "a", 50, 20)
	require.NoError(t, os.WriteFile(filepath.Join(root, "train", "images", "notes.txt"), []byte("x"), 0o600))

	ds, err := NewFolder(root, "train", folderOpts(32))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, "a", ds.Stem(0))
	assert.Equal(t, "b", ds.Stem(1))

	for i := 0; i < ds.Len(); i++ {
		s, err := ds.Get(i)
		require.NoError(t, err)
		assert.Equal(t, 32, s.Image.Bounds().Dx())
		assert.Equal(t, 32, s.Image.Bounds().Dy())
		assert.Equal(t, s.Image.Bounds().Dx(), s.Mask.Width)
		assert.Equal(t, s.Image.Bounds().Dy(), s.Mask.Height)

		assert.Equal(t, int64(0), s.Mask.At(0, 0))
		assert.Equal(t, int64(1), s.Mask.At(31, 31))
		for _, l := range s.Mask.Labels {
			assert.Contains(t, []int64{0, 1}, l)
		}
	}
}

func TestFolder_Errors(t *testing.T) {
	root := t.TempDir()
	writePair(t, root, "train", "a", 8, 8)

	t.Run("missing split", func(t *testing.T) {
		_, err := NewFolder(root, "val", folderOpts(32))
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("image without mask", func(t *testing.T) {
		writePNG(t, filepath.Join(root, "train", "images", "orphan.png"), image.NewGray(image.Rect(0, 0, 4, 4)))
		defer func() { _ = os.Remove(filepath.Join(root, "train", "images", "orphan.png")) }()
		_, err := NewFolder(root, "train", folderOpts(32))
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	ds, err := NewFolder(root, "train", folderOpts(32))
	require.NoError(t, err)

	t.Run("index out of range", func(t *testing.T) {
		_, err := ds.Get(1)
		assert.True(t, errors.Is(err, ErrIndexOutOfRange))
		_, err = ds.Get(-1)
		assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	})

	t.Run("corrupt image", func(t *testing.T) {
		path := filepath.Join(root, "train", "images", "a.png")
		require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o600))
		_, err := ds.Get(0)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotFound))
	})

	t.Run("file removed after indexing", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(root, "train", "images", "a.png")))
		_, err := ds.Get(0)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestFolder_UnmappedLabel(t *testing.T) {
	root := t.TempDir()
	writePair(t, root, "train", "a", 8, 8)

	opts := folderOpts(32)
	opts.LabelMap = GrayLabelMap(map[uint8]int{0: 0}, 2)
	ds, err := NewFolder(root, "train", opts)
	require.NoError(t, err)

	_, err = ds.Get(0)
	assert.True(t, errors.Is(err, ErrUnmappedLabel))
}

func TestLabelMaps(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	img.SetNRGBA(0, 0, color.NRGBA{A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 1, B: 1, A: 255})
	img.SetNRGBA(2, 0, color.NRGBA{R: 2, G: 2, B: 2, A: 255})

	m, err := IndexLabelMap(3).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, m.Labels)

	_, err = IndexLabelMap(2).Apply(img)
	assert.True(t, errors.Is(err, ErrUnmappedLabel))

	m, err = BinaryLabelMap().Apply(img)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 1}, m.Labels)

	pal := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	pal.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	pal.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})
	m, err = PaletteLabelMap(map[[3]uint8]int{{255, 0, 0}: 2, {0, 255, 0}: 1}, 3).Apply(pal)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, m.Labels)

	_, err = PaletteLabelMap(map[[3]uint8]int{{255, 0, 0}: 2}, 3).Apply(pal)
	assert.True(t, errors.Is(err, ErrUnmappedLabel))
}

func TestNewLabelMap_FromConfig(t *testing.T) {
	lm, err := NewLabelMap(config.LabelMap{
		Kind:    config.LabelPalette,
		Palette: []config.PaletteEntry{{Color: [3]uint8{1, 2, 3}, Class: 1}},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, "palette", lm.Name())
	assert.Equal(t, 2, lm.NumClasses())

	_, err = NewLabelMap(config.LabelMap{Kind: "nope"}, 2)
	assert.Error(t, err)
}

func TestMask_ResizeNearest(t *testing.T) {
	m := NewMask(2, 2)
	copy(m.Labels, []int64{0, 1, 2, 3})

	up := m.Resize(4, 4)
	assert.Equal(t, []int64{
		0, 0, 1, 1,
		0, 0, 1, 1,
		2, 2, 3, 3,
		2, 2, 3, 3,
	}, up.Labels)

	down := up.Resize(2, 2)
	assert.Equal(t, m.Labels, down.Labels)
	assert.Equal(t, []int{1, 1, 1, 1}, down.Histogram(4))
}

func TestSynthetic(t *testing.T) {
	ds, err := NewSynthetic(3, 32, 4, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	a, err := ds.Get(1)
	require.NoError(t, err)
	b, err := ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, a.Mask.Labels, b.Mask.Labels)
	assert.Equal(t, a.Image.Pix, b.Image.Pix)

	assert.Equal(t, 32, a.Image.Bounds().Dx())
	assert.Equal(t, 32, a.Mask.Width)
	for _, l := range a.Mask.Labels {
		assert.True(t, l >= 0 && l < 4)
	}

	_, err = ds.Get(3)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))

	_, err = NewSynthetic(0, 32, 4, 7)
	assert.Error(t, err)
}

func TestOpen_SyntheticSplitsDiffer(t *testing.T) {
	cfg := config.Default().Data
	cfg.Synthetic = true
	cfg.ImageSize = 32
	cfg.SyntheticSamples = 2

	train, err := Open(cfg, 2, "train", 1)
	require.NoError(t, err)
	val, err := Open(cfg, 2, "val", 1)
	require.NoError(t, err)

	a, err := train.Get(0)
	require.NoError(t, err)
	b, err := val.Get(0)
	require.NoError(t, err)
	assert.NotEqual(t, a.Image.Pix, b.Image.Pix)
}
