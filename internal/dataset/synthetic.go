package dataset

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/pkg/errors"
)

// Synthetic is a deterministic in-memory dataset of filled shapes on a
// noisy background. Class 0 is the background; every other class has its
// own base colour. Sample i depends only on the seed and i.
type Synthetic struct {
	n, size, numClasses int
	seed                int64
}

// NewSynthetic returns n samples of size×size pixels over numClasses classes.
func NewSynthetic(n, size, numClasses int, seed int64) (*Synthetic, error) {
	if n <= 0 || size <= 0 || numClasses < 2 {
		return nil, errors.Errorf("synthetic: invalid n=%d size=%d classes=%d", n, size, numClasses)
	}
	return &Synthetic{n: n, size: size, numClasses: numClasses, seed: seed}, nil
}

// Len returns the number of samples.
func (s *Synthetic) Len() int {
	return s.n
}

// Get renders sample index.
func (s *Synthetic) Get(index int) (Sample, error) {
	if index < 0 || index >= s.n {
		return Sample{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, len %d", index, s.n)
	}
	rng := rand.New(rand.NewSource(s.seed*1_000_003 + int64(index))) //nolint:gosec // G404: reproducible fixtures.

	img := image.NewNRGBA(image.Rect(0, 0, s.size, s.size))
	mask := NewMask(s.size, s.size)

	shapes := 1 + rng.Intn(3)
	for k := 0; k < shapes; k++ {
		class := int64(1 + rng.Intn(s.numClasses-1))
		r := s.size/8 + rng.Intn(s.size/4+1)
		cx, cy := rng.Intn(s.size), rng.Intn(s.size)
		square := rng.Intn(2) == 0
		for y := max(cy-r, 0); y < min(cy+r, s.size); y++ {
			for x := max(cx-r, 0); x < min(cx+r, s.size); x++ {
				dx, dy := x-cx, y-cy
				if square || dx*dx+dy*dy <= r*r {
					mask.Set(x, y, class)
				}
			}
		}
	}

	for y := 0; y < s.size; y++ {
		for x := 0; x < s.size; x++ {
			base := classColor(mask.At(x, y))
			noise := rng.Intn(31) - 15
			img.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(int(base.R) + noise),
				G: clampByte(int(base.G) + noise),
				B: clampByte(int(base.B) + noise),
				A: 255,
			})
		}
	}
	return Sample{Image: img, Mask: mask}, nil
}

func classColor(class int64) color.NRGBA {
	if class == 0 {
		return color.NRGBA{R: 70, G: 70, B: 80, A: 255}
	}
	// Spread hues so neighbouring classes stay apart.
	h := uint8(class * 67)
	return color.NRGBA{R: 128 + h/2, G: 255 - h, B: h, A: 255}
}

func clampByte(v int) uint8 {
	return uint8(min(max(v, 0), 255)) //nolint:gosec // G115: clamped.
}
