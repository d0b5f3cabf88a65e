package nn

import (
	"fmt"

	"github.com/born-ml/unet/internal/tensor"
)

// ReLU applies max(0, x) element-wise. It has no parameters.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	return input.ReLU()
}

// Parameters returns nil.
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return nil
}

// MaxPool2D is a 2D max pooling layer.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, (height-kernel)/stride+1, (width-kernel)/stride+1]
//
// NewMaxPool2D(2, 2, backend) halves the spatial size.
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	backend    B
}

// NewMaxPool2D creates a new 2D max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d or stride %d", kernelSize, stride))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride, backend: backend}
}

// Forward performs max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	if len(input.Shape()) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(input.Shape())))
	}
	return tensor.New[float32](m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride), m.backend)
}

// Parameters returns nil.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// Sequential chains modules; each module's output feeds the next.
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

// Forward applies all modules in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B], mode Mode) *tensor.Tensor[float32, B] {
	out := input
	for _, m := range s.modules {
		out = m.Forward(out, mode)
	}
	return out
}

// Parameters returns the parameters of all modules in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Modules returns the chained modules.
func (s *Sequential[B]) Modules() []Module[B] {
	return s.modules
}
