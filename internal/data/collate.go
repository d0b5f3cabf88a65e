// Package data turns dataset samples into batched tensors.
package data

import (
	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/dataset"
	"github.com/born-ml/unet/internal/tensor"
)

// ImageNet channel statistics the VGG16 encoder was pretrained with.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Batch is a set of samples stacked for one step.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [N, 3, H, W], normalised
	Masks  *tensor.Tensor[int64, B]   // [N, H, W], class ids
	Size   int
}

// Collator normalises and stacks samples on one backend.
type Collator[B tensor.Backend] struct {
	backend B
	mean    [3]float32
	std     [3]float32
}

// NewCollator creates a collator with per-channel mean and std.
func NewCollator[B tensor.Backend](backend B, mean, std [3]float32) *Collator[B] {
	return &Collator[B]{backend: backend, mean: mean, std: std}
}

// Mean returns the per-channel mean.
func (c *Collator[B]) Mean() [3]float32 {
	return c.mean
}

// Std returns the per-channel standard deviation.
func (c *Collator[B]) Std() [3]float32 {
	return c.std
}

// Collate stacks samples into one batch. Pixels are scaled to [0,1] and
// normalised per channel; masks are copied unchanged. Alpha is ignored.
func (c *Collator[B]) Collate(samples []dataset.Sample) (*Batch[B], error) {
	if len(samples) == 0 {
		return nil, errors.New("collate: no samples")
	}
	first := samples[0].Image.Bounds()
	h, w := first.Dy(), first.Dx()
	for i, s := range samples {
		b := s.Image.Bounds()
		if b.Dx() != w || b.Dy() != h || s.Mask.Width != w || s.Mask.Height != h {
			return nil, errors.Errorf("collate: sample %d is %dx%d (mask %dx%d), want %dx%d",
				i, b.Dx(), b.Dy(), s.Mask.Width, s.Mask.Height, w, h)
		}
	}

	n := len(samples)
	images := tensor.Zeros[float32](tensor.Shape{n, 3, h, w}, c.backend)
	masks := tensor.Zeros[int64](tensor.Shape{n, h, w}, c.backend)
	px, lbl := images.Data(), masks.Data()
	plane := h * w

	var scale [3]float32
	for ch := range scale {
		scale[ch] = 1 / (255 * c.std[ch])
	}
	for i, s := range samples {
		img, origin := s.Image, s.Image.Bounds().Min
		base := i * 3 * plane
		for y := 0; y < h; y++ {
			row := img.Pix[img.PixOffset(origin.X, origin.Y+y):]
			for x := 0; x < w; x++ {
				p := row[4*x:]
				o := base + y*w + x
				px[o] = float32(p[0])*scale[0] - c.mean[0]/c.std[0]
				px[o+plane] = float32(p[1])*scale[1] - c.mean[1]/c.std[1]
				px[o+2*plane] = float32(p[2])*scale[2] - c.mean[2]/c.std[2]
			}
		}
		copy(lbl[i*plane:(i+1)*plane], s.Mask.Labels)
	}

	return &Batch[B]{Images: images, Masks: masks, Size: n}, nil
}
