package ops

import "github.com/born-ml/unet/internal/tensor"

// Conv2DOp records a 2D convolution.
//
// Backward delegates to the backend:
//   - d_input:  transposed convolution of d_output with the kernel
//   - d_kernel: correlation of the input with d_output
type Conv2DOp struct {
	input, kernel, output *tensor.RawTensor
	stride, padding       int
}

// NewConv2DOp creates a new Conv2DOp.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{input: input, kernel: kernel, output: output, stride: stride, padding: padding}
}

// Backward computes gradients for the input and the kernel.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.Conv2DInputBackward(op.input, op.kernel, outputGrad, op.stride, op.padding),
		backend.Conv2DKernelBackward(op.input, op.kernel, outputGrad, op.stride, op.padding),
	}
}

// Inputs returns [input, kernel].
func (op *Conv2DOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input, op.kernel} }

// Output returns the convolution result.
func (op *Conv2DOp) Output() *tensor.RawTensor { return op.output }

// ConvTranspose2DOp records a transposed convolution.
type ConvTranspose2DOp struct {
	input, kernel, output *tensor.RawTensor
	stride                int
}

// NewConvTranspose2DOp creates a new ConvTranspose2DOp.
func NewConvTranspose2DOp(input, kernel, output *tensor.RawTensor, stride int) *ConvTranspose2DOp {
	return &ConvTranspose2DOp{input: input, kernel: kernel, output: output, stride: stride}
}

// Backward computes gradients for the input and the kernel.
func (op *ConvTranspose2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.ConvTranspose2DInputBackward(op.input, op.kernel, outputGrad, op.stride),
		backend.ConvTranspose2DKernelBackward(op.input, op.kernel, outputGrad, op.stride),
	}
}

// Inputs returns [input, kernel].
func (op *ConvTranspose2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input, op.kernel}
}

// Output returns the upsampled result.
func (op *ConvTranspose2DOp) Output() *tensor.RawTensor { return op.output }

// MaxPool2DOp records a max pooling operation.
//
// Backward: each output gradient flows only to the input position that held
// the window maximum; all other positions receive zero.
//
//	Input:  [[1, 2],  Output: [4]  Input Grad: [[0, 0],
//	         [3, 4]]                             [0, grad]]
type MaxPool2DOp struct {
	input, output      *tensor.RawTensor
	maxIndices         []int
	kernelSize, stride int
}

// NewMaxPool2DOp creates a new MaxPool2DOp. The max positions are located
// eagerly so the input may be reused after the forward pass.
func NewMaxPool2DOp(input, output *tensor.RawTensor, kernelSize, stride int) *MaxPool2DOp {
	return &MaxPool2DOp{
		input:      input,
		output:     output,
		maxIndices: MaxPoolIndices(input, output.Shape(), kernelSize, stride),
		kernelSize: kernelSize,
		stride:     stride,
	}
}

// MaxPoolIndices returns, for every output element, the flat input index of
// the first maximum in its window.
func MaxPoolIndices(input *tensor.RawTensor, outShape tensor.Shape, kernelSize, stride int) []int {
	in := input.AsFloat32()
	s := input.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]
	hOut, wOut := outShape[2], outShape[3]

	indices := make([]int, n*c*hOut*wOut)
	out := 0
	for plane := 0; plane < n*c; plane++ {
		base := plane * h * w
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				best := base + oh*stride*w + ow*stride
				for kh := 0; kh < kernelSize; kh++ {
					for kw := 0; kw < kernelSize; kw++ {
						idx := base + (oh*stride+kh)*w + ow*stride + kw
						if in[idx] > in[best] {
							best = idx
						}
					}
				}
				indices[out] = best
				out++
			}
		}
	}
	return indices
}

// Backward routes the gradient to the recorded max positions.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices, op.kernelSize, op.stride),
	}
}

// Inputs returns [input].
func (op *MaxPool2DOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the pooled tensor.
func (op *MaxPool2DOp) Output() *tensor.RawTensor { return op.output }
