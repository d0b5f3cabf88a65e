package dataset

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// LabelMap turns mask pixel values into class ids.
//
// Masks carry no standard encoding: some store the class index as a gray
// level, some use 0/255 for foreground, some use a colour palette. The
// mapping is therefore always explicit.
type LabelMap struct {
	name       string
	numClasses int
	lookup     func(c color.Color) (int, bool)
}

// IndexLabelMap maps gray level v to class v for v < numClasses.
func IndexLabelMap(numClasses int) LabelMap {
	return LabelMap{
		name:       "index",
		numClasses: numClasses,
		lookup: func(c color.Color) (int, bool) {
			v := int(grayOf(c))
			return v, v < numClasses
		},
	}
}

// BinaryLabelMap maps gray level 0 to class 0 and anything else to class 1.
func BinaryLabelMap() LabelMap {
	return LabelMap{
		name:       "binary",
		numClasses: 2,
		lookup: func(c color.Color) (int, bool) {
			if grayOf(c) == 0 {
				return 0, true
			}
			return 1, true
		},
	}
}

// GrayLabelMap maps the listed gray levels to classes.
func GrayLabelMap(table map[uint8]int, numClasses int) LabelMap {
	t := make(map[uint8]int, len(table))
	for k, v := range table {
		t[k] = v
	}
	return LabelMap{
		name:       "gray",
		numClasses: numClasses,
		lookup: func(c color.Color) (int, bool) {
			class, ok := t[grayOf(c)]
			return class, ok
		},
	}
}

// PaletteLabelMap maps the listed RGB colours to classes.
func PaletteLabelMap(table map[[3]uint8]int, numClasses int) LabelMap {
	t := make(map[[3]uint8]int, len(table))
	for k, v := range table {
		t[k] = v
	}
	return LabelMap{
		name:       "palette",
		numClasses: numClasses,
		lookup: func(c color.Color) (int, bool) {
			n := color.NRGBAModel.Convert(c).(color.NRGBA)
			class, ok := t[[3]uint8{n.R, n.G, n.B}]
			return class, ok
		},
	}
}

// Name returns the kind of mapping.
func (lm LabelMap) Name() string {
	return lm.name
}

// NumClasses returns the number of classes the map produces.
func (lm LabelMap) NumClasses() int {
	return lm.numClasses
}

// Apply converts a decoded mask image into class labels. It fails with
// ErrUnmappedLabel on the first pixel without a class.
func (lm LabelMap) Apply(img image.Image) (*Mask, error) {
	if lm.lookup == nil {
		return nil, errors.New("label map not initialised")
	}
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			class, ok := lm.lookup(c)
			if !ok || class < 0 || class >= lm.numClasses {
				return nil, errors.Wrapf(ErrUnmappedLabel, "%s map: pixel (%d,%d) value %v",
					lm.name, x-b.Min.X, y-b.Min.Y, c)
			}
			m.Set(x-b.Min.X, y-b.Min.Y, int64(class))
		}
	}
	return m, nil
}

func grayOf(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}
