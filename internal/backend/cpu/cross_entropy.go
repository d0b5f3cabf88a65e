package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/unet/internal/tensor"
)

// CrossEntropy2D computes the mean pixel-wise cross-entropy.
//
//	loss = 1/(N*H*W) Σ_{n,h,w} [logsumexp(logits[n,:,h,w]) - logits[n,target,h,w]]
//
// logits are [N,C,H,W] float32 and targets [N,H,W] int64 with every value in
// [0, C). The result is a scalar.
func (cpu *CPUBackend) CrossEntropy2D(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	n, c, hw := crossEntropyDims("cross_entropy2d", logits, targets)
	x, t := logits.AsFloat32(), targets.AsInt64()

	var total float64
	for b := 0; b < n; b++ {
		base := b * c * hw
		for p := 0; p < hw; p++ {
			label := checkLabel(t[b*hw+p], c)
			maxVal := math.Inf(-1)
			for k := 0; k < c; k++ {
				maxVal = math.Max(maxVal, float64(x[base+k*hw+p]))
			}
			var sum float64
			for k := 0; k < c; k++ {
				sum += math.Exp(float64(x[base+k*hw+p]) - maxVal)
			}
			total += maxVal + math.Log(sum) - float64(x[base+int(label)*hw+p])
		}
	}

	result := cpu.alloc(tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(total / float64(n*hw))
	return result
}

// CrossEntropy2DBackward computes the gradient w.r.t. the logits:
//
//	dlogits = grad * (softmax(logits) - onehot(targets)) / (N*H*W)
func (cpu *CPUBackend) CrossEntropy2DBackward(logits, targets, grad *tensor.RawTensor) *tensor.RawTensor {
	n, c, hw := crossEntropyDims("cross_entropy2d_backward", logits, targets)
	requireFloat32("cross_entropy2d_backward", grad)
	if grad.NumElements() != 1 {
		panic(fmt.Sprintf("cross_entropy2d_backward: expected scalar gradient, got %v", grad.Shape()))
	}

	x, t := logits.AsFloat32(), targets.AsInt64()
	result := cpu.alloc(logits.Shape(), tensor.Float32)
	dx := result.AsFloat32()
	scale := float64(grad.AsFloat32()[0]) / float64(n*hw)

	for b := 0; b < n; b++ {
		base := b * c * hw
		for p := 0; p < hw; p++ {
			label := int(checkLabel(t[b*hw+p], c))
			maxVal := math.Inf(-1)
			for k := 0; k < c; k++ {
				maxVal = math.Max(maxVal, float64(x[base+k*hw+p]))
			}
			var sum float64
			for k := 0; k < c; k++ {
				sum += math.Exp(float64(x[base+k*hw+p]) - maxVal)
			}
			for k := 0; k < c; k++ {
				prob := math.Exp(float64(x[base+k*hw+p])-maxVal) / sum
				if k == label {
					prob--
				}
				dx[base+k*hw+p] = float32(prob * scale)
			}
		}
	}
	return result
}

func crossEntropyDims(op string, logits, targets *tensor.RawTensor) (n, c, hw int) {
	requireFloat32(op, logits)
	if targets.DType() != tensor.Int64 {
		panic(fmt.Sprintf("%s: targets must be int64, got %s", op, targets.DType()))
	}
	n, c, hw = nchw(op, logits.Shape())
	ls, ts := logits.Shape(), targets.Shape()
	if len(ts) != 3 || ts[0] != ls[0] || ts[1] != ls[2] || ts[2] != ls[3] {
		panic(fmt.Sprintf("%s: targets shape %v does not match logits %v", op, ts, ls))
	}
	return n, c, hw
}

func checkLabel(label int64, numClasses int) int64 {
	if label < 0 || label >= int64(numClasses) {
		panic(fmt.Sprintf("cross_entropy2d: label %d out of range [0, %d)", label, numClasses))
	}
	return label
}

// Argmax returns the int64 index of the maximum along dim, removing dim.
// Ties resolve to the lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("argmax", x)
	shape := x.Shape()
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("argmax: dim %d out of range for %dD tensor", dim, len(shape)))
	}

	outer := tensor.Shape(shape[:dim]).NumElements()
	inner := tensor.Shape(shape[dim+1:]).NumElements()
	size := shape[dim]

	outShape := append(shape[:dim:dim].Clone(), shape[dim+1:]...)
	result := cpu.alloc(outShape, tensor.Int64)
	in, out := x.AsFloat32(), result.AsInt64()

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := in[o*size*inner+i]
			for k := 1; k < size; k++ {
				if v := in[(o*size+k)*inner+i]; v > bestVal {
					best, bestVal = k, v
				}
			}
			out[o*inner+i] = int64(best)
		}
	}
	return result
}
