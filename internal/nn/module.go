// Package nn implements the neural network layers used by the segmentation
// model.
//
// This package provides:
//   - Module interface: Forward with an explicit Mode, plus Parameters
//   - Parameter: trainable tensor with gradient and freeze state
//   - Conv2D, ConvTranspose2D, BatchNorm2D, MaxPool2D, ReLU, Sequential
//   - CrossEntropy2D loss and PixelAccuracy metric
package nn

import (
	"github.com/born-ml/unet/internal/tensor"
)

// Mode selects training or evaluation behavior for layers whose forward pass
// differs between the two, such as BatchNorm2D.
type Mode int

// Forward modes.
const (
	Train Mode = iota
	Eval
)

// String returns "train" or "eval".
func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "eval"
}

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	block := nn.NewSequential[B](
//	    nn.NewConv2D(3, 64, 3, 1, 1, true, rng, backend),
//	    nn.NewReLU[B](),
//	)
//	out := block.Forward(x, nn.Train)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module for input in the given mode.
	Forward(input *tensor.Tensor[float32, B], mode Mode) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters, including nested ones.
	Parameters() []*Parameter[B]
}
