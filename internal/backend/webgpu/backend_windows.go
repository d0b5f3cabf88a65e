//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/parallel"
	"github.com/born-ml/unet/internal/tensor"
)

// Backend runs the CPU kernels with matrix products offloaded to the GPU.
type Backend struct {
	*cpu.CPUBackend

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	pipeline *wgpu.ComputePipeline
	fallback cpu.GEMM

	// The queue is shared; one GEMM is in flight at a time.
	mu sync.Mutex
}

// New creates a new WebGPU backend.
// Returns an error wrapping ErrUnavailable if initialization fails.
func New() (backend *Backend, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = errors.Wrapf(ErrUnavailable, "native library: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request adapter: %v", adapterErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request device: %v", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(ErrUnavailable, "no queue")
	}

	shader := device.CreateShaderModuleWGSL(gemmShader)
	b := &Backend{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		pipeline: device.CreateComputePipelineSimple(nil, shader, "main"),
		fallback: cpu.NewGEMM(parallel.DefaultConfig()),
	}
	b.CPUBackend = cpu.New(cpu.WithGEMM(b.gemm), cpu.WithDevice(tensor.WebGPU))
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "WebGPU"
}

// Release frees the GPU resources.
func (b *Backend) Release() {
	b.pipeline.Release()
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}

// gemm implements cpu.GEMM on the GPU. C is uploaded, accumulated into and
// read back.
func (b *Backend) gemm(m, n, k int, a []float32, transA bool, bm []float32, transB bool, c []float32) {
	if m*n*k < gpuMinWork {
		b.fallback(m, n, k, a, transA, bm, transB, c)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bufA := b.createBuffer(floatBytes(a), wgpu.BufferUsageStorage)
	defer bufA.Release()
	bufB := b.createBuffer(floatBytes(bm), wgpu.BufferUsageStorage)
	defer bufB.Release()
	bufC := b.createBuffer(floatBytes(c), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufC.Release()

	// Params: M, K, N, flags (bit 0 transA, bit 1 transB).
	params := make([]byte, 16)
	//nolint:gosec // G115: matrix dimensions are non-negative
	binary.LittleEndian.PutUint32(params[0:4], uint32(m))
	//nolint:gosec // G115: matrix dimensions are non-negative
	binary.LittleEndian.PutUint32(params[4:8], uint32(k))
	//nolint:gosec // G115: matrix dimensions are non-negative
	binary.LittleEndian.PutUint32(params[8:12], uint32(n))
	var flags uint32
	if transA {
		flags |= 1
	}
	if transB {
		flags |= 2
	}
	binary.LittleEndian.PutUint32(params[12:16], flags)
	bufParams := b.createBuffer(params, wgpu.BufferUsageUniform)
	defer bufParams.Release()

	sizeC := uint64(len(c) * 4)
	bindGroup := b.device.CreateBindGroupSimple(b.pipeline.GetBindGroupLayout(0), []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufA, 0, uint64(len(a)*4)),
		wgpu.BufferBindingEntry(1, bufB, 0, uint64(len(bm)*4)),
		wgpu.BufferBindingEntry(2, bufC, 0, sizeC),
		wgpu.BufferBindingEntry(3, bufParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(b.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: workgroup counts are non-negative
	pass.DispatchWorkgroups(uint32((n+15)/16), uint32((m+15)/16), 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	out, err := b.readBuffer(bufC, sizeC)
	if err != nil {
		panic(fmt.Sprintf("webgpu: gemm readback: %v", err))
	}
	copy(floatBytes(c), out)
}

func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := (uint64(len(data)) + 15) &^ 15
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	buffer.Unmap()
	return buffer
}

// readBuffer copies a storage buffer back through a staging buffer.
func (b *Backend) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, errors.Wrap(err, "map staging buffer")
	}
	mappedPtr := staging.GetMappedRange(0, size)
	result := make([]byte, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(result, unsafe.Slice((*byte)(mappedPtr), size))
	staging.Unmap()
	return result, nil
}

func floatBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	//nolint:gosec // reinterpretation of a float32 slice as bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

// gemmShader accumulates C += op(A) @ op(B) on 16x16 workgroups.
const gemmShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> c: array<f32>;

struct Params {
    M: u32,
    K: u32,
    N: u32,
    flags: u32, // bit 0: A stored [K,M]; bit 1: B stored [N,K]
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;
    if (row >= params.M || col >= params.N) {
        return;
    }

    let trans_a = (params.flags & 1u) != 0u;
    let trans_b = (params.flags & 2u) != 0u;

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.K; k = k + 1u) {
        var a_idx = row * params.K + k;
        if (trans_a) {
            a_idx = k * params.M + row;
        }
        var b_idx = k * params.N + col;
        if (trans_b) {
            b_idx = col * params.K + k;
        }
        sum = sum + a[a_idx] * b[b_idx];
    }

    let c_idx = row * params.N + col;
    c[c_idx] = c[c_idx] + sum;
}
`
