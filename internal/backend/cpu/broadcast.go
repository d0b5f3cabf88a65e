package cpu

import "github.com/born-ml/unet/internal/tensor"

// broadcastStrides returns src's strides aligned to out, with 0 for every
// dimension src is broadcast along.
func broadcastStrides(src, out tensor.Shape) []int {
	strides := make([]int, len(out))
	srcStrides := src.ComputeStrides()
	offset := len(out) - len(src)
	for d := range out {
		sd := d - offset
		if sd < 0 || src[sd] == 1 {
			continue
		}
		strides[d] = srcStrides[sd]
	}
	return strides
}

// walkBroadcast visits every innermost row of out. visit receives the flat
// start of the row in out, the start in each operand, the row length and the
// per-element step of each operand.
func walkBroadcast(out tensor.Shape, sa, sb []int, visit func(o, a, b, n, da, db int)) {
	rank := len(out)
	if rank == 0 {
		visit(0, 0, 0, 1, 0, 0)
		return
	}

	inner := out[rank-1]
	rows := out.NumElements() / inner
	counter := make([]int, rank-1)
	a, b := 0, 0
	for r := 0; r < rows; r++ {
		visit(r*inner, a, b, inner, sa[rank-1], sb[rank-1])
		for d := rank - 2; d >= 0; d-- {
			counter[d]++
			a += sa[d]
			b += sb[d]
			if counter[d] < out[d] {
				break
			}
			a -= sa[d] * out[d]
			b -= sb[d] * out[d]
			counter[d] = 0
		}
	}
}
