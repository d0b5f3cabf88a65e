package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/unet/internal/parallel"
	"github.com/born-ml/unet/internal/tensor"
)

// MaxPool2D performs 2D max pooling.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[4,6],
//	        [5,6,7,8],             [12,14]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	requireFloat32("maxpool2d", input)
	n, c, h, w, hOut, wOut := poolDims(input.Shape(), kernelSize, stride)

	output := cpu.alloc(tensor.Shape{n, c, hOut, wOut}, tensor.Float32)
	in, out := input.AsFloat32(), output.AsFloat32()

	parallel.For(n*c, func(plane int) {
		src := in[plane*h*w : (plane+1)*h*w]
		dst := out[plane*hOut*wOut : (plane+1)*hOut*wOut]
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				best := float32(math.Inf(-1))
				for kh := 0; kh < kernelSize; kh++ {
					row := src[(oh*stride+kh)*w:]
					for kw := 0; kw < kernelSize; kw++ {
						if v := row[ow*stride+kw]; v > best {
							best = v
						}
					}
				}
				dst[oh*wOut+ow] = best
			}
		}
	}, cpu.par)
	return output
}

// MaxPool2DBackward routes each output gradient to the input position that
// produced the maximum. maxIndices holds one flat input index per output
// element; overlapping windows accumulate.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride int) *tensor.RawTensor {
	requireFloat32("maxpool2d_backward", input, grad)
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d_backward: %d indices for %d gradient elements", len(maxIndices), grad.NumElements()))
	}

	result := cpu.alloc(input.Shape(), tensor.Float32)
	dx, dy := result.AsFloat32(), grad.AsFloat32()
	for i, idx := range maxIndices {
		dx[idx] += dy[i]
	}
	return result
}

func poolDims(shape tensor.Shape, kernelSize, stride int) (n, c, h, w, hOut, wOut int) {
	if len(shape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d or stride %d", kernelSize, stride))
	}
	n, c, h, w = shape[0], shape[1], shape[2], shape[3]
	if kernelSize > h || kernelSize > w {
		panic(fmt.Sprintf("maxpool2d: kernel size %d too large for input %dx%d", kernelSize, h, w))
	}
	hOut = (h-kernelSize)/stride + 1
	wOut = (w-kernelSize)/stride + 1
	return n, c, h, w, hOut, wOut
}
