// Package config holds the runtime knobs of a segmentation training run.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Label map kinds.
const (
	LabelIndex   = "index"
	LabelGray    = "gray"
	LabelPalette = "palette"
	LabelBinary  = "binary"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Data   Data   `yaml:"data"`
	Model  Model  `yaml:"model"`
	Train  Train  `yaml:"train"`
	Device string `yaml:"device"`
	Output Output `yaml:"output"`
}

// Data describes where samples come from.
type Data struct {
	Root             string   `yaml:"root"`
	TrainSplit       string   `yaml:"train_split"`
	ValSplit         string   `yaml:"val_split"`
	ImageSize        int      `yaml:"image_size"`
	MaskSuffix       string   `yaml:"mask_suffix"`
	Synthetic        bool     `yaml:"synthetic"`
	SyntheticSamples int      `yaml:"synthetic_samples"`
	LabelMap         LabelMap `yaml:"label_map"`
}

// LabelMap describes how mask pixel values become class ids.
type LabelMap struct {
	Kind    string         `yaml:"kind"`
	Gray    map[uint8]int  `yaml:"gray,omitempty"`
	Palette []PaletteEntry `yaml:"palette,omitempty"`
}

// PaletteEntry maps one mask colour to a class.
type PaletteEntry struct {
	Color [3]uint8 `yaml:"color"`
	Class int      `yaml:"class"`
}

// Model describes the network.
type Model struct {
	NumClasses      int    `yaml:"num_classes"`
	Widths          [5]int `yaml:"widths"`
	BottleneckWidth int    `yaml:"bottleneck_width"`
	DecoderWidths   [5]int `yaml:"decoder_widths"`
	Pretrained      string `yaml:"pretrained"`
}

// Train describes the optimisation loop.
type Train struct {
	Epochs        int     `yaml:"epochs"`
	BatchSize     int     `yaml:"batch_size"`
	LearningRate  float64 `yaml:"learning_rate"`
	Optimizer     string  `yaml:"optimizer"`
	Momentum      float64 `yaml:"momentum"`
	FreezeEncoder bool    `yaml:"freeze_encoder"`
	Seed          int64   `yaml:"seed"`
	Shuffle       bool    `yaml:"shuffle"`
}

// Output describes what a run writes.
type Output struct {
	Dir        string `yaml:"dir"`
	Checkpoint bool   `yaml:"checkpoint"`
	Panels     int    `yaml:"panels"`
}

// Default returns a config for a two-class run on 224×224 images.
func Default() *Config {
	return &Config{
		Data: Data{
			Root:             "data",
			TrainSplit:       "train",
			ValSplit:         "val",
			ImageSize:        224,
			MaskSuffix:       "_mask",
			SyntheticSamples: 16,
			LabelMap:         LabelMap{Kind: LabelBinary},
		},
		Model: Model{
			NumClasses:      2,
			Widths:          [5]int{64, 128, 256, 512, 512},
			BottleneckWidth: 1024,
			DecoderWidths:   [5]int{512, 256, 128, 64, 32},
		},
		Train: Train{
			Epochs:       5,
			BatchSize:    4,
			LearningRate: 1e-3,
			Optimizer:    "adam",
			Momentum:     0.9,
			Seed:         42,
			Shuffle:      true,
		},
		Device: "auto",
		Output: Output{
			Dir:    "out",
			Panels: 1,
		},
	}
}

// Load reads a YAML file over Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	//nolint:gosec // G304: config path is user supplied.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overrides captures CLI supplied values. Zero values leave the config as is.
type Overrides struct {
	DataRoot     string
	Epochs       int
	BatchSize    int
	LearningRate float64
	Device       string
	ImageSize    int
	NumClasses   int
	Pretrained   string
	OutputDir    string
	Synthetic    bool
	Seed         int64
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataRoot != "" {
		c.Data.Root = o.DataRoot
	}
	if o.Epochs > 0 {
		c.Train.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Train.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.Train.LearningRate = o.LearningRate
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.ImageSize > 0 {
		c.Data.ImageSize = o.ImageSize
	}
	if o.NumClasses > 0 {
		c.Model.NumClasses = o.NumClasses
	}
	if o.Pretrained != "" {
		c.Model.Pretrained = o.Pretrained
	}
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
	if o.Synthetic {
		c.Data.Synthetic = true
	}
	if o.Seed != 0 {
		c.Train.Seed = o.Seed
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.Wrap(ErrInvalid, "config is nil")
	}
	d, m, t := c.Data, c.Model, c.Train

	switch {
	case d.ImageSize <= 0 || d.ImageSize%32 != 0:
		return invalid("data.image_size must be a positive multiple of 32 (got %d)", d.ImageSize)
	case !d.Synthetic && d.Root == "":
		return invalid("data.root must be set unless data.synthetic is true")
	case d.Synthetic && d.SyntheticSamples <= 0:
		return invalid("data.synthetic_samples must be > 0 (got %d)", d.SyntheticSamples)
	case m.NumClasses < 2:
		return invalid("model.num_classes must be >= 2 (got %d)", m.NumClasses)
	case m.BottleneckWidth <= 0:
		return invalid("model.bottleneck_width must be > 0 (got %d)", m.BottleneckWidth)
	case t.Epochs <= 0:
		return invalid("train.epochs must be > 0 (got %d)", t.Epochs)
	case t.BatchSize <= 0:
		return invalid("train.batch_size must be > 0 (got %d)", t.BatchSize)
	case t.LearningRate <= 0:
		return invalid("train.learning_rate must be > 0 (got %g)", t.LearningRate)
	case c.Output.Panels < 0:
		return invalid("output.panels must be >= 0 (got %d)", c.Output.Panels)
	}
	for i := range m.Widths {
		if m.Widths[i] <= 0 || m.DecoderWidths[i] <= 0 {
			return invalid("model widths must be > 0 (got %v / %v)", m.Widths, m.DecoderWidths)
		}
	}

	switch t.Optimizer {
	case "adam", "sgd":
	default:
		return invalid("train.optimizer must be adam or sgd (got %q)", t.Optimizer)
	}
	switch c.Device {
	case "auto", "cpu", "webgpu":
	default:
		return invalid("device must be auto, cpu or webgpu (got %q)", c.Device)
	}
	return c.validateLabelMap()
}

func (c *Config) validateLabelMap() error {
	lm, n := c.Data.LabelMap, c.Model.NumClasses
	switch lm.Kind {
	case LabelIndex:
		return nil
	case LabelBinary:
		if n != 2 {
			return invalid("binary label map needs model.num_classes 2 (got %d)", n)
		}
		return nil
	case LabelGray:
		if len(lm.Gray) == 0 {
			return invalid("gray label map is empty")
		}
		for v, class := range lm.Gray {
			if class < 0 || class >= n {
				return invalid("gray value %d maps to class %d outside [0, %d)", v, class, n)
			}
		}
		return nil
	case LabelPalette:
		if len(lm.Palette) == 0 {
			return invalid("palette label map is empty")
		}
		for _, e := range lm.Palette {
			if e.Class < 0 || e.Class >= n {
				return invalid("colour %v maps to class %d outside [0, %d)", e.Color, e.Class, n)
			}
		}
		return nil
	default:
		return invalid("data.label_map.kind must be index, gray, palette or binary (got %q)", lm.Kind)
	}
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}
