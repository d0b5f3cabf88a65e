package dataset

import (
	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/config"
)

// NewLabelMap builds the mapping described by cfg.
func NewLabelMap(cfg config.LabelMap, numClasses int) (LabelMap, error) {
	switch cfg.Kind {
	case config.LabelIndex:
		return IndexLabelMap(numClasses), nil
	case config.LabelBinary:
		return BinaryLabelMap(), nil
	case config.LabelGray:
		return GrayLabelMap(cfg.Gray, numClasses), nil
	case config.LabelPalette:
		table := make(map[[3]uint8]int, len(cfg.Palette))
		for _, e := range cfg.Palette {
			table[e.Color] = e.Class
		}
		return PaletteLabelMap(table, numClasses), nil
	default:
		return LabelMap{}, errors.Errorf("unknown label map kind %q", cfg.Kind)
	}
}

// Open returns the dataset for split. Synthetic datasets derive a distinct
// seed per split so training and validation samples differ.
func Open(cfg config.Data, numClasses int, split string, seed int64) (Dataset, error) {
	if cfg.Synthetic {
		splitSeed := seed
		for _, c := range split {
			splitSeed = splitSeed*31 + int64(c)
		}
		return NewSynthetic(cfg.SyntheticSamples, cfg.ImageSize, numClasses, splitSeed)
	}

	lm, err := NewLabelMap(cfg.LabelMap, numClasses)
	if err != nil {
		return nil, err
	}
	return NewFolder(cfg.Root, split, FolderOptions{
		Size:       cfg.ImageSize,
		MaskSuffix: cfg.MaskSuffix,
		LabelMap:   lm,
	})
}
