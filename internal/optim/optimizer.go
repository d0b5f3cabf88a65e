// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Step, ZeroGrad, GetLR
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 1e-3}, backend)
//
//	backend.Tape().StartRecording()
//	loss := nn.CrossEntropy2D(model.Forward(x, nn.Train), y)
//	grads := autodiff.Backward(loss, backend)
//	optimizer.Step(grads)
//	backend.Tape().Clear()
package optim

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/nn"
	"github.com/born-ml/unet/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates in place to every trainable parameter
	// that has a gradient in grads. Frozen parameters are skipped.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// New creates the optimizer called name ("adam" or "sgd").
func New[B tensor.Backend](name string, params []*nn.Parameter[B], lr, momentum float32, backend B) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "adam", "":
		return NewAdam(params, AdamConfig{LR: lr}, backend), nil
	case "sgd":
		return NewSGD(params, SGDConfig{LR: lr, Momentum: momentum}, backend), nil
	default:
		return nil, errors.Errorf("unknown optimizer %q", name)
	}
}

// getGradient returns the gradient for a trainable parameter, or nil if the
// parameter is frozen or took no part in the computation.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) []float32 {
	if param == nil || param.Frozen() {
		return nil
	}
	g, ok := grads[param.Tensor().Raw()]
	if !ok {
		return nil
	}
	return g.AsFloat32()
}
