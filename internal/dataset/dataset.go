// Package dataset provides indexed access to image/mask pairs for
// segmentation training.
package dataset

import (
	"image"

	"github.com/pkg/errors"
)

// Sentinel errors, checked with errors.Is.
var (
	ErrIndexOutOfRange = errors.New("sample index out of range")
	ErrNotFound        = errors.New("file not found")
	ErrUnmappedLabel   = errors.New("mask value has no class")
)

// Dataset is an indexed collection of samples.
//
// Samples are loaded on every Get; implementations hold no decoded pixels.
type Dataset interface {
	Len() int
	Get(index int) (Sample, error)
}

// Sample is one image with its per-pixel class labels. Image and mask share
// the same spatial size.
type Sample struct {
	Image *image.NRGBA
	Mask  *Mask
}

// Mask holds one class id per pixel in row-major order.
type Mask struct {
	Width, Height int
	Labels        []int64
}

// NewMask returns an all-zero mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Labels: make([]int64, width*height)}
}

// At returns the label at (x, y).
func (m *Mask) At(x, y int) int64 {
	return m.Labels[y*m.Width+x]
}

// Set stores the label at (x, y).
func (m *Mask) Set(x, y int, label int64) {
	m.Labels[y*m.Width+x] = label
}

// Resize returns a width×height copy sampled with nearest-neighbour
// lookup, so labels are never blended.
func (m *Mask) Resize(width, height int) *Mask {
	if width == m.Width && height == m.Height {
		out := NewMask(width, height)
		copy(out.Labels, m.Labels)
		return out
	}
	out := NewMask(width, height)
	for y := 0; y < height; y++ {
		sy := min((2*y+1)*m.Height/(2*height), m.Height-1)
		for x := 0; x < width; x++ {
			sx := min((2*x+1)*m.Width/(2*width), m.Width-1)
			out.Labels[y*width+x] = m.Labels[sy*m.Width+sx]
		}
	}
	return out
}

// Histogram counts pixels per class; labels outside [0, numClasses) are
// ignored.
func (m *Mask) Histogram(numClasses int) []int {
	counts := make([]int, numClasses)
	for _, l := range m.Labels {
		if l >= 0 && int(l) < numClasses {
			counts[l]++
		}
	}
	return counts
}
