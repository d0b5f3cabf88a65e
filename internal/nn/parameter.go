package nn

import (
	"github.com/born-ml/unet/internal/tensor"
)

// Parameter represents a trainable tensor in a neural network.
//
// A frozen parameter still takes part in the forward pass and still receives
// a gradient on the tape, but optimizers leave it unchanged.
//
// Example:
//
//	weight := nn.NewParameter("enc1.conv1.weight", w)
//	weight.SetFrozen(true)
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
	frozen bool
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// SetName renames the parameter. Containers use it to prefix nested names.
func (p *Parameter[B]) SetName(name string) {
	p.name = name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the gradient from the last backward pass, or nil.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// Frozen reports whether optimizers skip this parameter.
func (p *Parameter[B]) Frozen() bool {
	return p.frozen
}

// SetFrozen marks the parameter as frozen or trainable.
func (p *Parameter[B]) SetFrozen(frozen bool) {
	p.frozen = frozen
}

// Prefix prepends prefix and a dot to the name of every parameter.
func Prefix[B tensor.Backend](prefix string, params []*Parameter[B]) []*Parameter[B] {
	for _, p := range params {
		p.SetName(prefix + "." + p.Name())
	}
	return params
}
