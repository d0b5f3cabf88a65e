package cpu

import (
	"fmt"

	"github.com/born-ml/unet/internal/tensor"
)

// convGeometry holds the dimensions of a convolution over [N,C,H,W].
type convGeometry struct {
	N, C, H, W     int // input
	O, KH, KW      int // output channels and kernel
	HOut, WOut     int
	Stride, Pad    int
	colRows, colSz int // im2col matrix is colRows × (HOut*WOut)
}

func newConvGeometry(op string, inputShape, kernelShape tensor.Shape, stride, padding int) convGeometry {
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", op, len(kernelShape)))
	}
	if inputShape[1] != kernelShape[1] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, inputShape[1], kernelShape[1]))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("%s: invalid stride %d or padding %d", op, stride, padding))
	}

	g := convGeometry{
		N: inputShape[0], C: inputShape[1], H: inputShape[2], W: inputShape[3],
		O: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		Stride: stride, Pad: padding,
	}
	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.HOut, g.WOut))
	}
	g.colRows = g.C * g.KH * g.KW
	g.colSz = g.colRows * g.HOut * g.WOut
	return g
}

// im2col unrolls one [C,H,W] image into a [C*KH*KW, HOut*WOut] matrix.
// Positions that fall into the padding are written as zero.
func im2col(col, img []float32, g convGeometry) {
	spatial := g.HOut * g.WOut
	for c := 0; c < g.C; c++ {
		plane := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := col[((c*g.KH+kh)*g.KW+kw)*spatial:]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.Stride - g.Pad + kh
					dst := row[oh*g.WOut : (oh+1)*g.WOut]
					if ih < 0 || ih >= g.H {
						clear(dst)
						continue
					}
					src := plane[ih*g.W : (ih+1)*g.W]
					for ow := range dst {
						iw := ow*g.Stride - g.Pad + kw
						if iw < 0 || iw >= g.W {
							dst[ow] = 0
						} else {
							dst[ow] = src[iw]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates the matrix back into a
// [C,H,W] image. Contributions that fall into the padding are dropped.
func col2im(img, col []float32, g convGeometry) {
	spatial := g.HOut * g.WOut
	for c := 0; c < g.C; c++ {
		plane := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				row := col[((c*g.KH+kh)*g.KW+kw)*spatial:]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.Stride - g.Pad + kh
					if ih < 0 || ih >= g.H {
						continue
					}
					dst := plane[ih*g.W : (ih+1)*g.W]
					src := row[oh*g.WOut : (oh+1)*g.WOut]
					for ow, v := range src {
						iw := ow*g.Stride - g.Pad + kw
						if iw >= 0 && iw < g.W {
							dst[iw] += v
						}
					}
				}
			}
		}
	}
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Each sample is unrolled into columns and multiplied by the kernel matrix:
//
//	out[n] = kernel[C_out, C_in*K_h*K_w] @ im2col(x[n])
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d", input, kernel)
	g := newConvGeometry("conv2d", input.Shape(), kernel.Shape(), stride, padding)

	output := cpu.alloc(tensor.Shape{g.N, g.O, g.HOut, g.WOut}, tensor.Float32)
	in, w, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	col := make([]float32, g.colSz)
	imgSize, outSize := g.C*g.H*g.W, g.O*g.HOut*g.WOut

	for n := 0; n < g.N; n++ {
		im2col(col, in[n*imgSize:(n+1)*imgSize], g)
		cpu.gemm(g.O, g.HOut*g.WOut, g.colRows, w, false, col, false, out[n*outSize:(n+1)*outSize])
	}
	return output
}

// Conv2DInputBackward computes the gradient w.r.t. the input:
//
//	dx[n] = col2im(kernel^T @ grad[n])
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d_input_backward", input, kernel, grad)
	g := newConvGeometry("conv2d_input_backward", input.Shape(), kernel.Shape(), stride, padding)

	result := cpu.alloc(input.Shape(), tensor.Float32)
	w, dy, dx := kernel.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	col := make([]float32, g.colSz)
	imgSize, outSize := g.C*g.H*g.W, g.O*g.HOut*g.WOut

	for n := 0; n < g.N; n++ {
		clear(col)
		cpu.gemm(g.colRows, g.HOut*g.WOut, g.O, w, true, dy[n*outSize:(n+1)*outSize], false, col)
		col2im(dx[n*imgSize:(n+1)*imgSize], col, g)
	}
	return result
}

// Conv2DKernelBackward computes the gradient w.r.t. the kernel, summed over
// the batch:
//
//	dW = Σ_n grad[n] @ im2col(x[n])^T
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d_kernel_backward", input, kernel, grad)
	g := newConvGeometry("conv2d_kernel_backward", input.Shape(), kernel.Shape(), stride, padding)

	result := cpu.alloc(kernel.Shape(), tensor.Float32)
	in, dy, dw := input.AsFloat32(), grad.AsFloat32(), result.AsFloat32()
	col := make([]float32, g.colSz)
	imgSize, outSize := g.C*g.H*g.W, g.O*g.HOut*g.WOut

	for n := 0; n < g.N; n++ {
		im2col(col, in[n*imgSize:(n+1)*imgSize], g)
		cpu.gemm(g.O, g.colRows, g.HOut*g.WOut, dy[n*outSize:(n+1)*outSize], false, col, true, dw)
	}
	return result
}
