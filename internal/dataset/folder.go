package dataset

import (
	"image"
	"image/draw"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// FolderOptions configures a Folder dataset.
type FolderOptions struct {
	Size       int      // Images and masks are resized to Size×Size.
	MaskSuffix string   // Mask file is <stem><MaskSuffix>.png.
	LabelMap   LabelMap // Mask pixel value to class id.
}

// Folder reads image/mask pairs from
//
//	<root>/<split>/images/<stem>.{png,jpg,jpeg}
//	<root>/<split>/masks/<stem><MaskSuffix>.png
type Folder struct {
	opts   FolderOptions
	stems  []string
	images []string
	masks  []string
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// NewFolder indexes one split. Stems are sorted so indices are stable across
// runs. Every image must have a mask.
func NewFolder(root, split string, opts FolderOptions) (*Folder, error) {
	if opts.Size <= 0 {
		return nil, errors.Errorf("folder: size must be > 0 (got %d)", opts.Size)
	}
	imageDir := filepath.Join(root, split, "images")
	maskDir := filepath.Join(root, split, "masks")

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "split %q: %s", split, imageDir)
		}
		return nil, errors.Wrapf(err, "list %s", imageDir)
	}

	f := &Folder{opts: opts}
	byStem := make(map[string]string, len(entries))
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || !imageExts[strings.ToLower(ext)] {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ext)
		if prev, ok := byStem[stem]; ok {
			return nil, errors.Errorf("split %q: stem %q has two images (%s, %s)", split, stem, prev, e.Name())
		}
		byStem[stem] = e.Name()
		f.stems = append(f.stems, stem)
	}
	sort.Strings(f.stems)

	for _, stem := range f.stems {
		maskPath := filepath.Join(maskDir, stem+opts.MaskSuffix+".png")
		if _, err := os.Stat(maskPath); err != nil {
			return nil, errors.Wrapf(ErrNotFound, "mask for %q: %s", stem, maskPath)
		}
		f.images = append(f.images, filepath.Join(imageDir, byStem[stem]))
		f.masks = append(f.masks, maskPath)
	}
	return f, nil
}

// Len returns the number of pairs.
func (f *Folder) Len() int {
	return len(f.stems)
}

// Stem returns the shared file stem of sample index.
func (f *Folder) Stem(index int) string {
	return f.stems[index]
}

// Get loads, resizes and label-maps sample index.
func (f *Folder) Get(index int) (Sample, error) {
	if index < 0 || index >= len(f.stems) {
		return Sample{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, len %d", index, len(f.stems))
	}
	size := f.opts.Size

	img, err := decodeFile(f.images[index])
	if err != nil {
		return Sample{}, err
	}
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear) //nolint:gosec // G115: size > 0.

	maskImg, err := decodeFile(f.masks[index])
	if err != nil {
		return Sample{}, err
	}
	// Map at native resolution, then resample labels.
	mask, err := f.opts.LabelMap.Apply(maskImg)
	if err != nil {
		return Sample{}, errors.Wrapf(err, "mask %s", f.masks[index])
	}

	return Sample{
		Image: toNRGBA(resized),
		Mask:  mask.Resize(size, size),
	}, nil
}

func decodeFile(path string) (image.Image, error) {
	//nolint:gosec // G304: dataset paths come from the configured root.
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
