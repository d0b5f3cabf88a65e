package cpu

import (
	"fmt"

	"github.com/born-ml/unet/internal/tensor"
)

// transposeGeometry describes ConvTranspose2D as the adjoint of a convolution
// whose input is the transposed convolution's output.
//
// The returned geometry's "input" is the [C_out, H_out, W_out] output image
// and its "output" spatial size is the transposed convolution's input size.
func transposeGeometry(op string, inputShape, kernelShape tensor.Shape, stride int) (g convGeometry, cIn int) {
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_in,C_out,K_h,K_w], got %dD", op, len(kernelShape)))
	}
	if inputShape[1] != kernelShape[0] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, inputShape[1], kernelShape[0]))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("%s: invalid stride %d", op, stride))
	}

	cIn = inputShape[1]
	g = convGeometry{
		N: inputShape[0], C: kernelShape[1],
		KH: kernelShape[2], KW: kernelShape[3],
		HOut: inputShape[2], WOut: inputShape[3],
		Stride: stride,
	}
	g.H = (g.HOut-1)*stride + g.KH
	g.W = (g.WOut-1)*stride + g.KW
	g.O = cIn
	g.colRows = g.C * g.KH * g.KW
	g.colSz = g.colRows * g.HOut * g.WOut
	return g, cIn
}

// ConvTranspose2D performs a transposed (fractionally strided) convolution
// without padding.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_in, C_out, K_h, K_w]
// Output shape: [N, C_out, (H-1)*stride+K_h, (W-1)*stride+K_w]
//
//	out[n] = col2im(kernel^T @ x[n])
func (cpu *CPUBackend) ConvTranspose2D(input, kernel *tensor.RawTensor, stride int) *tensor.RawTensor {
	requireFloat32("conv_transpose2d", input, kernel)
	g, cIn := transposeGeometry("conv_transpose2d", input.Shape(), kernel.Shape(), stride)

	output := cpu.alloc(tensor.Shape{g.N, g.C, g.H, g.W}, tensor.Float32)
	in, w, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	col := make([]float32, g.colSz)
	inSize, outSize := cIn*g.HOut*g.WOut, g.C*g.H*g.W

	for n := 0; n < g.N; n++ {
		clear(col)
		cpu.gemm(g.colRows, g.HOut*g.WOut, cIn, w, true, in[n*inSize:(n+1)*inSize], false, col)
		col2im(out[n*outSize:(n+1)*outSize], col, g)
	}
	return output
}

// ConvTranspose2DInputBackward computes the gradient w.r.t. the input:
//
//	dx[n] = kernel[C_in, C_out*K_h*K_w] @ im2col(grad[n])
func (cpu *CPUBackend) ConvTranspose2DInputBackward(input, kernel, grad *tensor.RawTensor, stride int) *tensor.RawTensor {
	requireFloat32("conv_transpose2d_input_backward", input, kernel, grad)
	g, cIn := transposeGeometry("conv_transpose2d_input_backward", input.Shape(), kernel.Shape(), stride)

	result := cpu.alloc(input.Shape(), tensor.Float32)
	w, dy, dx := kernel.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	col := make([]float32, g.colSz)
	inSize, outSize := cIn*g.HOut*g.WOut, g.C*g.H*g.W

	for n := 0; n < g.N; n++ {
		im2col(col, dy[n*outSize:(n+1)*outSize], g)
		cpu.gemm(cIn, g.HOut*g.WOut, g.colRows, w, false, col, false, dx[n*inSize:(n+1)*inSize])
	}
	return result
}

// ConvTranspose2DKernelBackward computes the gradient w.r.t. the kernel,
// summed over the batch:
//
//	dW = Σ_n x[n] @ im2col(grad[n])^T
func (cpu *CPUBackend) ConvTranspose2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride int) *tensor.RawTensor {
	requireFloat32("conv_transpose2d_kernel_backward", input, kernel, grad)
	g, cIn := transposeGeometry("conv_transpose2d_kernel_backward", input.Shape(), kernel.Shape(), stride)

	result := cpu.alloc(kernel.Shape(), tensor.Float32)
	in, dy, dw := input.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	col := make([]float32, g.colSz)
	inSize, outSize := cIn*g.HOut*g.WOut, g.C*g.H*g.W

	for n := 0; n < g.N; n++ {
		im2col(col, dy[n*outSize:(n+1)*outSize], g)
		cpu.gemm(cIn, g.colRows, g.HOut*g.WOut, in[n*inSize:(n+1)*inSize], false, col, true, dw)
	}
	return result
}
