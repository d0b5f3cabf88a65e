// Package model defines the U-Net segmentation network with a VGG16-shaped
// encoder.
package model

import (
	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/config"
)

// Downsampling factor between the input and the bottleneck.
const Stride = 32

// vggBlockDepths is the number of 3×3 convolutions in each VGG16 block.
var vggBlockDepths = [5]int{2, 2, 3, 3, 3}

// Config describes the network widths.
type Config struct {
	NumClasses      int
	Widths          [5]int // encoder block widths
	BottleneckWidth int
	DecoderWidths   [5]int // deepest stage first
}

// DefaultConfig returns the VGG16 encoder widths with the usual U-Net decoder.
func DefaultConfig(numClasses int) Config {
	return Config{
		NumClasses:      numClasses,
		Widths:          [5]int{64, 128, 256, 512, 512},
		BottleneckWidth: 1024,
		DecoderWidths:   [5]int{512, 256, 128, 64, 32},
	}
}

// FromConfig converts the model section of a run config.
func FromConfig(m config.Model) Config {
	return Config{
		NumClasses:      m.NumClasses,
		Widths:          m.Widths,
		BottleneckWidth: m.BottleneckWidth,
		DecoderWidths:   m.DecoderWidths,
	}
}

// Validate checks that every width is positive and there are at least two
// classes.
func (c Config) Validate() error {
	if c.NumClasses < 2 {
		return errors.Errorf("model: need at least 2 classes, got %d", c.NumClasses)
	}
	if c.BottleneckWidth <= 0 {
		return errors.Errorf("model: invalid bottleneck width %d", c.BottleneckWidth)
	}
	for i := range c.Widths {
		if c.Widths[i] <= 0 || c.DecoderWidths[i] <= 0 {
			return errors.Errorf("model: invalid widths %v / %v", c.Widths, c.DecoderWidths)
		}
	}
	return nil
}
