// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps any Backend implementation (CPU, WebGPU) and records
// differentiable kernels on a GradientTape while recording is enabled.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := ... // forward pass with tensors bound to backend
//	grads := autodiff.Backward(loss, backend)
//	backend.Tape().Clear()
package autodiff

import (
	"github.com/born-ml/unet/internal/autodiff/ops"
	"github.com/born-ml/unet/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
type AutodiffBackend[B tensor.Backend] struct {
	inner B
	tape  *GradientTape
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	b.tape.Record(ops.NewAddOp(x, y, result))
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(x, y)
	b.tape.Record(ops.NewSubOp(x, y, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	b.tape.Record(ops.NewMulOp(x, y, result))
	return result
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := b.inner.MulScalar(x, scalar)
	b.tape.Record(ops.NewScaleOp(x, result, scalar))
	return result
}

// AddScalar adds a constant and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	result := b.inner.AddScalar(x, scalar)
	b.tape.Record(ops.NewShiftOp(x, result))
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(x, y)
	b.tape.Record(ops.NewMatMulOp(x, y, result))
	return result
}

// Reshape reshapes a tensor and records the operation.
//
// Reshape returns a new RawTensor even though it shares memory, so it must be
// recorded: a bias of shape [C] reshaped to [1,C,1,1] for broadcasting only
// receives its gradient through ReshapeOp.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	b.tape.Record(ops.NewReshapeOp(t, result))
	return result
}

// Cat concatenates tensors and records the operation.
func (b *AutodiffBackend[B]) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	result := b.inner.Cat(tensors, dim)
	inputs := make([]*tensor.RawTensor, len(tensors))
	copy(inputs, tensors)
	b.tape.Record(ops.NewCatOp(inputs, result, dim))
	return result
}

// SumTo is used by backward passes and is not recorded.
func (b *AutodiffBackend[B]) SumTo(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return b.inner.SumTo(x, shape)
}

// Conv2D performs a convolution and records the operation.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	result := b.inner.Conv2D(input, kernel, stride, padding)
	b.tape.Record(ops.NewConv2DOp(input, kernel, result, stride, padding))
	return result
}

// Conv2DInputBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, stride, padding)
}

// Conv2DKernelBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, stride, padding)
}

// ConvTranspose2D performs a transposed convolution and records the operation.
func (b *AutodiffBackend[B]) ConvTranspose2D(input, kernel *tensor.RawTensor, stride int) *tensor.RawTensor {
	result := b.inner.ConvTranspose2D(input, kernel, stride)
	b.tape.Record(ops.NewConvTranspose2DOp(input, kernel, result, stride))
	return result
}

// ConvTranspose2DInputBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) ConvTranspose2DInputBackward(input, kernel, grad *tensor.RawTensor, stride int) *tensor.RawTensor {
	return b.inner.ConvTranspose2DInputBackward(input, kernel, grad, stride)
}

// ConvTranspose2DKernelBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) ConvTranspose2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride int) *tensor.RawTensor {
	return b.inner.ConvTranspose2DKernelBackward(input, kernel, grad, stride)
}

// MaxPool2D performs max pooling and records the operation.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	result := b.inner.MaxPool2D(input, kernelSize, stride)
	if b.tape.IsRecording() {
		b.tape.Record(ops.NewMaxPool2DOp(input, result, kernelSize, stride))
	}
	return result
}

// MaxPool2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, grad, maxIndices, kernelSize, stride)
}

// ReLU applies max(0, x) and records the operation.
func (b *AutodiffBackend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	b.tape.Record(ops.NewReLUOp(x, result))
	return result
}

// ChannelMoments computes batch statistics and records the operation.
func (b *AutodiffBackend[B]) ChannelMoments(x *tensor.RawTensor) (mean, variance *tensor.RawTensor) {
	mean, variance = b.inner.ChannelMoments(x)
	b.tape.Record(ops.NewChannelMomentsOp(x, mean, variance))
	return mean, variance
}

// ChannelMomentsBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) ChannelMomentsBackward(x, mean, gradMean, gradVariance *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.ChannelMomentsBackward(x, mean, gradMean, gradVariance)
}

// BatchNorm2D normalizes x and records the operation.
func (b *AutodiffBackend[B]) BatchNorm2D(x, mean, variance, gamma, beta *tensor.RawTensor, eps float32) *tensor.RawTensor {
	result := b.inner.BatchNorm2D(x, mean, variance, gamma, beta, eps)
	b.tape.Record(ops.NewBatchNorm2DOp(x, mean, variance, gamma, beta, result, eps))
	return result
}

// BatchNorm2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) BatchNorm2DBackward(
	x, mean, variance, gamma, grad *tensor.RawTensor, eps float32,
) (dx, dmean, dvariance, dgamma, dbeta *tensor.RawTensor) {
	return b.inner.BatchNorm2DBackward(x, mean, variance, gamma, grad, eps)
}

// CrossEntropy2D computes the pixel-wise loss and records the operation.
func (b *AutodiffBackend[B]) CrossEntropy2D(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.CrossEntropy2D(logits, targets)
	b.tape.Record(ops.NewCrossEntropy2DOp(logits, targets, result))
	return result
}

// CrossEntropy2DBackward delegates to the wrapped backend.
func (b *AutodiffBackend[B]) CrossEntropy2DBackward(logits, targets, grad *tensor.RawTensor) *tensor.RawTensor {
	return b.inner.CrossEntropy2DBackward(logits, targets, grad)
}

// Argmax is not differentiable and is never recorded.
func (b *AutodiffBackend[B]) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	return b.inner.Argmax(x, dim)
}
