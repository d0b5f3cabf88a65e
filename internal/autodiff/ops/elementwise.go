package ops

import "github.com/born-ml/unet/internal/tensor"

// AddOp records output = a + b.
//
// Backward: both inputs receive the output gradient, reduced over any
// broadcast dimensions.
type AddOp struct {
	a, b, output *tensor.RawTensor
}

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{a: a, b: b, output: output}
}

// Backward computes gradients for a and b.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.SumTo(outputGrad, op.a.Shape()),
		backend.SumTo(outputGrad, op.b.Shape()),
	}
}

// Inputs returns [a, b].
func (op *AddOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.a, op.b} }

// Output returns a + b.
func (op *AddOp) Output() *tensor.RawTensor { return op.output }

// SubOp records output = a - b.
type SubOp struct {
	a, b, output *tensor.RawTensor
}

// NewSubOp creates a new SubOp.
func NewSubOp(a, b, output *tensor.RawTensor) *SubOp {
	return &SubOp{a: a, b: b, output: output}
}

// Backward computes gradients for a and b: grad and -grad.
func (op *SubOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.SumTo(outputGrad, op.a.Shape()),
		backend.SumTo(backend.MulScalar(outputGrad, -1), op.b.Shape()),
	}
}

// Inputs returns [a, b].
func (op *SubOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.a, op.b} }

// Output returns a - b.
func (op *SubOp) Output() *tensor.RawTensor { return op.output }

// MulOp records output = a * b.
//
// Backward: d(a*b)/da = b, d(a*b)/db = a.
type MulOp struct {
	a, b, output *tensor.RawTensor
}

// NewMulOp creates a new MulOp.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{a: a, b: b, output: output}
}

// Backward computes gradients for a and b.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.SumTo(backend.Mul(outputGrad, op.b), op.a.Shape()),
		backend.SumTo(backend.Mul(outputGrad, op.a), op.b.Shape()),
	}
}

// Inputs returns [a, b].
func (op *MulOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.a, op.b} }

// Output returns a * b.
func (op *MulOp) Output() *tensor.RawTensor { return op.output }

// ScaleOp records output = x * scalar.
type ScaleOp struct {
	input, output *tensor.RawTensor
	scalar        float32
}

// NewScaleOp creates a new ScaleOp.
func NewScaleOp(input, output *tensor.RawTensor, scalar float32) *ScaleOp {
	return &ScaleOp{input: input, output: output, scalar: scalar}
}

// Backward returns grad * scalar.
func (op *ScaleOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// Inputs returns [x].
func (op *ScaleOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns x * scalar.
func (op *ScaleOp) Output() *tensor.RawTensor { return op.output }

// ShiftOp records output = x + scalar. The gradient passes through unchanged.
type ShiftOp struct {
	input, output *tensor.RawTensor
}

// NewShiftOp creates a new ShiftOp.
func NewShiftOp(input, output *tensor.RawTensor) *ShiftOp {
	return &ShiftOp{input: input, output: output}
}

// Backward returns the output gradient.
func (op *ShiftOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad}
}

// Inputs returns [x].
func (op *ShiftOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns x + scalar.
func (op *ShiftOp) Output() *tensor.RawTensor { return op.output }

// ReLUOp records output = max(0, x).
//
// Backward: d(ReLU(x))/dx = 1 if x > 0, else 0.
type ReLUOp struct {
	input, output *tensor.RawTensor
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{input: input, output: output}
}

// Backward masks the output gradient with x > 0.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	mask := tensor.MustNewRaw(op.input.Shape(), tensor.Float32, backend.Device())
	m := mask.AsFloat32()
	for i, v := range op.input.AsFloat32() {
		if v > 0 {
			m[i] = 1
		}
	}
	return []*tensor.RawTensor{backend.Mul(outputGrad, mask)}
}

// Inputs returns [x].
func (op *ReLUOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns max(0, x).
func (op *ReLUOp) Output() *tensor.RawTensor { return op.output }
