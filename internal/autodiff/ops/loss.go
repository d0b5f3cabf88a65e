package ops

import "github.com/born-ml/unet/internal/tensor"

// CrossEntropy2DOp records the mean pixel-wise cross-entropy of logits
// against integer targets. Targets receive no gradient.
type CrossEntropy2DOp struct {
	logits, targets, output *tensor.RawTensor
}

// NewCrossEntropy2DOp creates a new CrossEntropy2DOp.
func NewCrossEntropy2DOp(logits, targets, output *tensor.RawTensor) *CrossEntropy2DOp {
	return &CrossEntropy2DOp{logits: logits, targets: targets, output: output}
}

// Backward computes (softmax - onehot) * grad / pixels.
func (op *CrossEntropy2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.CrossEntropy2DBackward(op.logits, op.targets, outputGrad)}
}

// Inputs returns [logits].
func (op *CrossEntropy2DOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.logits} }

// Output returns the scalar loss.
func (op *CrossEntropy2DOp) Output() *tensor.RawTensor { return op.output }
