package optim

import (
	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum.
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// With zero momentum this reduces to param -= lr * gradient.
type SGD[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	lr         float32
	momentum   float32
	velocities map[*nn.Parameter[B]][]float32
	backend    B
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor in [0, 1) (default: 0)
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[B]{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter[B]][]float32),
		backend:    backend,
	}
}

// Step performs a single optimization step.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		g := getGradient(param, grads)
		if g == nil {
			continue
		}
		w := param.Tensor().Data()

		if s.momentum == 0 {
			for i := range w {
				w[i] -= s.lr * g[i]
			}
			continue
		}

		vel, ok := s.velocities[param]
		if !ok {
			vel = make([]float32, len(w))
			s.velocities[param] = vel
		}
		for i := range w {
			vel[i] = s.momentum*vel[i] + g[i]
			w[i] -= s.lr * vel[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}
