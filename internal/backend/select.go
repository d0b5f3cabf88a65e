// Package backend resolves a device preference to a compute backend.
package backend

import (
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/unet/internal/backend/cpu"
	"github.com/born-ml/unet/internal/backend/webgpu"
	"github.com/born-ml/unet/internal/tensor"
)

// Device preferences accepted by Select.
const (
	Auto   = "auto"
	CPU    = "cpu"
	WebGPU = "webgpu"
)

// ErrUnknownDevice is returned for a preference Select does not recognize.
var ErrUnknownDevice = errors.New("unknown device")

// Select returns the backend for pref.
//
// "auto" prefers the GPU and falls back to the CPU when no adapter is
// available. An explicit "webgpu" request fails instead of falling back.
func Select(pref string) (tensor.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(pref)) {
	case CPU:
		return cpu.New(), nil
	case WebGPU:
		b, err := webgpu.New()
		if err != nil {
			return nil, errors.Wrap(err, "select webgpu backend")
		}
		return b, nil
	case Auto, "":
		b, err := webgpu.New()
		if err != nil {
			klog.V(1).InfoS("GPU unavailable, using CPU", "reason", err)
			return cpu.New(), nil
		}
		return b, nil
	default:
		return nil, errors.Wrapf(ErrUnknownDevice, "%q (want auto, cpu or webgpu)", pref)
	}
}

// Release frees device resources held by b, if any.
func Release(b tensor.Backend) {
	if r, ok := b.(interface{ Release() }); ok {
		r.Release()
	}
}
