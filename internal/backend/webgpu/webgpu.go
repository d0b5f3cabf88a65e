// Package webgpu implements a GPU-assisted backend. Element-wise kernels run
// on the CPU; the matrix products behind MatMul and the convolutions are
// dispatched to the GPU through WebGPU (github.com/go-webgpu/webgpu).
package webgpu

import "github.com/pkg/errors"

// ErrUnavailable is returned when no WebGPU adapter can be used.
var ErrUnavailable = errors.New("webgpu: not available")

// gpuMinWork is the smallest m*n*k product worth a GPU round trip; smaller
// products run on the CPU.
const gpuMinWork = 1 << 18
