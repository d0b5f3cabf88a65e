// Package ops defines the differentiable operations recorded on a gradient
// tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and delegates the gradient arithmetic to the backend:
//   - AddOp, SubOp, MulOp: element-wise with broadcasting
//   - ScaleOp, ShiftOp: scalar multiply and add
//   - MatMulOp, ReshapeOp, CatOp
//   - Conv2DOp, ConvTranspose2DOp, MaxPool2DOp, ReLUOp
//   - ChannelMomentsOp, BatchNorm2DOp
//   - CrossEntropy2DOp
package ops

import "github.com/born-ml/unet/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// The result is aligned with Inputs(); nil entries receive no gradient.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// MultiOutputOperation represents an operation that produces several outputs.
// The tape collects the gradients of all outputs before calling
// BackwardMulti; outputs that received no gradient are passed as nil.
type MultiOutputOperation interface {
	Operation

	Outputs() []*tensor.RawTensor
	BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}
