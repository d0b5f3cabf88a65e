// Package cpu implements the pure Go compute backend.
package cpu

import (
	"fmt"

	"github.com/born-ml/unet/internal/parallel"
	"github.com/born-ml/unet/internal/tensor"
)

// CPUBackend implements tensor kernels on the CPU.
//
// Convolutions are lowered to matrix products through a GEMM function;
// other backends reuse these kernels and substitute their own GEMM.
type CPUBackend struct {
	device tensor.Device
	gemm   GEMM
	par    parallel.Config
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithGEMM replaces the matrix product used by MatMul and the convolutions.
func WithGEMM(g GEMM) Option {
	return func(cpu *CPUBackend) {
		cpu.gemm = g
	}
}

// WithDevice sets the device tag stamped on results.
func WithDevice(d tensor.Device) Option {
	return func(cpu *CPUBackend) {
		cpu.device = d
	}
}

// WithParallel sets the parallelism used by the kernels.
func WithParallel(cfg parallel.Config) Option {
	return func(cpu *CPUBackend) {
		cpu.par = cfg
	}
}

// New creates a new CPU backend.
func New(opts ...Option) *CPUBackend {
	cpu := &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
	cpu.gemm = NewGEMM(cpu.par)
	for _, opt := range opts {
		opt(cpu)
	}
	return cpu
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

func (cpu *CPUBackend) alloc(shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	return tensor.MustNewRaw(shape, dtype, cpu.device)
}

func requireFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: unsupported dtype %s (float32 only)", op, t.DType()))
		}
	}
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

func (cpu *CPUBackend) binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	requireFloat32(op, a, b)
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	result := cpu.alloc(outShape, tensor.Float32)
	out := result.AsFloat32()
	ad, bd := a.AsFloat32(), b.AsFloat32()

	if !needsBroadcast {
		for i := range out {
			out[i] = f(ad[i], bd[i])
		}
		return result
	}

	sa := broadcastStrides(a.Shape(), outShape)
	sb := broadcastStrides(b.Shape(), outShape)
	walkBroadcast(outShape, sa, sb, func(o, ia, ib, n, da, db int) {
		for i := 0; i < n; i++ {
			out[o+i] = f(ad[ia+i*da], bd[ib+i*db])
		}
	})
	return result
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	requireFloat32("mul_scalar", x)
	result := cpu.alloc(x.Shape(), tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	for i, v := range in {
		out[i] = v * scalar
	}
	return result
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	requireFloat32("add_scalar", x)
	result := cpu.alloc(x.Shape(), tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	for i, v := range in {
		out[i] = v + scalar
	}
	return result
}

// Reshape returns a view with a new shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return t.View(newShape)
}

// ReLU computes max(0, x).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("relu", x)
	result := cpu.alloc(x.Shape(), tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	for i, v := range in {
		if v > 0 {
			out[i] = v
		}
	}
	return result
}

// Cat concatenates tensors along dim. All other dimensions must match.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	if dim < 0 || dim >= len(first) {
		panic(fmt.Sprintf("cat: dim %d out of range for %dD tensor", dim, len(first)))
	}

	outShape := first.Clone()
	outShape[dim] = 0
	for _, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) || t.DType() != tensors[0].DType() {
			panic(fmt.Sprintf("cat: incompatible tensors %v and %v", first, s))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: shape mismatch at dim %d: %v vs %v", d, first, s))
			}
		}
		outShape[dim] += s[dim]
	}

	result := cpu.alloc(outShape, tensors[0].DType())
	elem := tensors[0].DType().Size()
	outer := tensor.Shape(first[:dim]).NumElements()
	inner := tensor.Shape(first[dim+1:]).NumElements() * elem
	dst := result.Data()
	rowOut := outShape[dim] * inner

	offset := 0
	for _, t := range tensors {
		src := t.Data()
		block := t.Shape()[dim] * inner
		for o := 0; o < outer; o++ {
			copy(dst[o*rowOut+offset:o*rowOut+offset+block], src[o*block:(o+1)*block])
		}
		offset += block
	}
	return result
}

// SumTo sums x over the dimensions that were broadcast to reach x's shape.
func (cpu *CPUBackend) SumTo(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	requireFloat32("sum_to", x)
	if x.Shape().Equal(shape) {
		return x
	}
	if _, _, err := tensor.BroadcastShapes(shape, x.Shape()); err != nil {
		panic(fmt.Sprintf("sum_to: %v", err))
	}
	result := cpu.alloc(shape, tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	st := broadcastStrides(shape, x.Shape())
	walkBroadcast(x.Shape(), st, st, func(o, it, _, n, dt, _ int) {
		for i := 0; i < n; i++ {
			out[it+i*dt] += in[o+i]
		}
	})
	return result
}
