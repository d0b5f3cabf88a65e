//go:build !windows

package webgpu

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/backend/cpu"
)

// Backend is unavailable on this platform.
type Backend struct {
	*cpu.CPUBackend
}

// New always fails outside Windows, where the native WebGPU library is not
// bundled.
func New() (*Backend, error) {
	return nil, errors.Wrapf(ErrUnavailable, "unsupported platform %s", runtime.GOOS)
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "WebGPU"
}

// Release is a no-op.
func (b *Backend) Release() {}
