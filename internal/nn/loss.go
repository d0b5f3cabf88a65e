package nn

import (
	"fmt"

	"github.com/born-ml/unet/internal/tensor"
)

// CrossEntropy2D computes the mean pixel-wise cross-entropy between logits
// [N,C,H,W] and integer class targets [N,H,W].
//
//	loss = mean_{n,h,w} [logsumexp(logits[n,:,h,w]) - logits[n,target,h,w]]
//
// The result is a scalar. With an autodiff backend the operation is recorded
// on the tape.
func CrossEntropy2D[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int64, B]) *tensor.Tensor[float32, B] {
	ls, ts := logits.Shape(), targets.Shape()
	if len(ls) != 4 || len(ts) != 3 || ls[0] != ts[0] || ls[2] != ts[1] || ls[3] != ts[2] {
		panic(fmt.Sprintf("cross_entropy2d: logits %v incompatible with targets %v", ls, ts))
	}
	b := logits.Backend()
	return tensor.New[float32](b.CrossEntropy2D(logits.Raw(), targets.Raw()), b)
}

// PixelAccuracy returns the fraction of positions where pred equals target.
// Both tensors must have the same shape. Returns 0 for empty input.
func PixelAccuracy[B tensor.Backend](pred, target *tensor.Tensor[int64, B]) float64 {
	if !pred.Shape().Equal(target.Shape()) {
		panic(fmt.Sprintf("pixel_accuracy: shape mismatch %v vs %v", pred.Shape(), target.Shape()))
	}
	p, t := pred.Data(), target.Data()
	if len(p) == 0 {
		return 0
	}
	correct := 0
	for i := range p {
		if p[i] == t[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(p))
}
