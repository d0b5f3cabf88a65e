package autodiff

import (
	"fmt"

	"github.com/born-ml/unet/internal/tensor"
)

// BackwardCapable is a backend that owns a gradient tape.
type BackwardCapable interface {
	tensor.Backend
	Tape() *GradientTape
}

// Backward computes gradients of a scalar tensor using the backend's tape.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := model.Loss(x)
//	grads := autodiff.Backward(loss, backend)
//	dW := grads[weight.Raw()]
func Backward[B BackwardCapable](t *tensor.Tensor[float32, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.Tape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("backward: expected a scalar, got shape %v", t.Shape()))
	}

	outputGrad := tensor.MustNewRaw(t.Shape(), tensor.Float32, backend.Device())
	outputGrad.AsFloat32()[0] = 1
	return tape.Backward(t.Raw(), outputGrad, backend)
}
