package cpu

import (
	"fmt"

	"github.com/born-ml/unet/internal/parallel"
	"github.com/born-ml/unet/internal/tensor"
)

// GEMM accumulates op(A)·op(B) into C, where C is m×n row-major.
//
// op(A) is m×k: A is stored m×k, or k×m when transA is set.
// op(B) is k×n: B is stored k×n, or n×k when transB is set.
// C is not cleared first.
type GEMM func(m, n, k int, a []float32, transA bool, b []float32, transB bool, c []float32)

// NewGEMM returns a CPU GEMM that splits the rows of C across workers.
func NewGEMM(par parallel.Config) GEMM {
	return func(m, n, k int, a []float32, transA bool, b []float32, transB bool, c []float32) {
		parallel.ForChunks(m, func(start, end int) {
			gemmRows(start, end, m, n, k, a, transA, b, transB, c)
		}, par)
	}
}

func gemmRows(start, end, m, n, k int, a []float32, transA bool, b []float32, transB bool, c []float32) {
	at := func(i, p int) float32 {
		if transA {
			return a[p*m+i]
		}
		return a[i*k+p]
	}

	if !transB {
		// i-p-j order keeps the inner loop on contiguous rows of B and C.
		for i := start; i < end; i++ {
			row := c[i*n : (i+1)*n]
			for p := 0; p < k; p++ {
				v := at(i, p)
				if v == 0 {
					continue
				}
				brow := b[p*n : (p+1)*n]
				for j := range row {
					row[j] += v * brow[j]
				}
			}
		}
		return
	}

	for i := start; i < end; i++ {
		row := c[i*n : (i+1)*n]
		if !transA {
			arow := a[i*k : (i+1)*k]
			for j := range row {
				bcol := b[j*k : (j+1)*k]
				var sum float32
				for p, v := range arow {
					sum += v * bcol[p]
				}
				row[j] += sum
			}
			continue
		}
		for j := range row {
			bcol := b[j*k : (j+1)*k]
			var sum float32
			for p := 0; p < k; p++ {
				sum += a[p*m+i] * bcol[p]
			}
			row[j] += sum
		}
	}
}

// MatMul performs matrix multiplication [M,K] @ [K,N] → [M,N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a, b)
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", as, bs))
	}
	if as[1] != bs[0] {
		panic(fmt.Sprintf("matmul: inner dimensions mismatch: %v @ %v", as, bs))
	}

	m, k, n := as[0], as[1], bs[1]
	result := cpu.alloc(tensor.Shape{m, n}, tensor.Float32)
	cpu.gemm(m, n, k, a.AsFloat32(), false, b.AsFloat32(), false, result.AsFloat32())
	return result
}
