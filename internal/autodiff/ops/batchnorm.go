package ops

import "github.com/born-ml/unet/internal/tensor"

// ChannelMomentsOp records the per-channel mean and variance of a batch.
// It has two outputs; gradients reaching either flow back into x.
type ChannelMomentsOp struct {
	input, mean, variance *tensor.RawTensor
}

// NewChannelMomentsOp creates a new ChannelMomentsOp.
func NewChannelMomentsOp(input, mean, variance *tensor.RawTensor) *ChannelMomentsOp {
	return &ChannelMomentsOp{input: input, mean: mean, variance: variance}
}

// Inputs returns [x].
func (op *ChannelMomentsOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the mean.
func (op *ChannelMomentsOp) Output() *tensor.RawTensor { return op.mean }

// Outputs returns [mean, variance].
func (op *ChannelMomentsOp) Outputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.mean, op.variance}
}

// Backward handles a gradient on the mean only.
func (op *ChannelMomentsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return op.BackwardMulti([]*tensor.RawTensor{outputGrad, nil}, backend)
}

// BackwardMulti maps the mean and variance gradients back to x.
func (op *ChannelMomentsOp) BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.ChannelMomentsBackward(op.input, op.mean, outputGrads[0], outputGrads[1]),
	}
}

// BatchNorm2DOp records y = gamma * (x - mean) / sqrt(variance + eps) + beta.
//
// mean and variance are inputs: in training they come from a recorded
// ChannelMomentsOp, so the tape adds their contribution to dx; in evaluation
// they are running statistics that nothing else consumes.
type BatchNorm2DOp struct {
	input, mean, variance, gamma, beta, output *tensor.RawTensor
	eps                                        float32
}

// NewBatchNorm2DOp creates a new BatchNorm2DOp.
func NewBatchNorm2DOp(input, mean, variance, gamma, beta, output *tensor.RawTensor, eps float32) *BatchNorm2DOp {
	return &BatchNorm2DOp{
		input: input, mean: mean, variance: variance,
		gamma: gamma, beta: beta, output: output, eps: eps,
	}
}

// Backward computes gradients for x, mean, variance, gamma and beta.
func (op *BatchNorm2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dx, dmean, dvar, dgamma, dbeta := backend.BatchNorm2DBackward(op.input, op.mean, op.variance, op.gamma, outputGrad, op.eps)
	return []*tensor.RawTensor{dx, dmean, dvar, dgamma, dbeta}
}

// Inputs returns [x, mean, variance, gamma, beta].
func (op *BatchNorm2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input, op.mean, op.variance, op.gamma, op.beta}
}

// Output returns the normalized tensor.
func (op *BatchNorm2DOp) Output() *tensor.RawTensor { return op.output }
