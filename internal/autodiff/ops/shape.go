package ops

import "github.com/born-ml/unet/internal/tensor"

// MatMulOp records output = a @ b for 2D tensors.
//
// Backward: dA = grad @ B^T, dB = A^T @ grad.
type MatMulOp struct {
	a, b, output *tensor.RawTensor
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{a: a, b: b, output: output}
}

// Backward computes gradients for a and b.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.MatMul(outputGrad, transpose2D(op.b, backend)),
		backend.MatMul(transpose2D(op.a, backend), outputGrad),
	}
}

// Inputs returns [a, b].
func (op *MatMulOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.a, op.b} }

// Output returns a @ b.
func (op *MatMulOp) Output() *tensor.RawTensor { return op.output }

func transpose2D(x *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	rows, cols := x.Shape()[0], x.Shape()[1]
	result := tensor.MustNewRaw(tensor.Shape{cols, rows}, tensor.Float32, backend.Device())
	src, dst := x.AsFloat32(), result.AsFloat32()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return result
}

// ReshapeOp records a reshape. The gradient is reshaped back to the input's
// shape so that it reaches the original tensor.
type ReshapeOp struct {
	input, output *tensor.RawTensor
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// Inputs returns [x].
func (op *ReshapeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the reshaped tensor.
func (op *ReshapeOp) Output() *tensor.RawTensor { return op.output }

// CatOp records a concatenation along dim.
//
// Backward: the output gradient is split along dim at the input boundaries
// and each input receives its own slice.
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{inputs: inputs, output: output, dim: dim}
}

// Backward splits the gradient along dim.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := outputGrad.Shape()
	elem := outputGrad.DType().Size()
	outer := tensor.Shape(shape[:op.dim]).NumElements()
	inner := tensor.Shape(shape[op.dim+1:]).NumElements() * elem
	rowOut := shape[op.dim] * inner
	src := outputGrad.Data()

	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		g := tensor.MustNewRaw(in.Shape(), outputGrad.DType(), backend.Device())
		dst := g.Data()
		block := in.Shape()[op.dim] * inner
		for o := 0; o < outer; o++ {
			copy(dst[o*block:(o+1)*block], src[o*rowOut+offset:o*rowOut+offset+block])
		}
		offset += block
		grads[i] = g
	}
	return grads
}

// Inputs returns the concatenated tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output returns the concatenation.
func (op *CatOp) Output() *tensor.RawTensor { return op.output }
