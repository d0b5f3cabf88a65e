package serialization

import "github.com/pkg/errors"

// Common errors.
var (
	ErrTensorNotFound   = errors.New("tensor not found")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrHeaderTooLarge   = errors.New("header exceeds maximum size")
	ErrOutOfBounds      = errors.New("tensor extends beyond data section")
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")
	ErrNoChecksum       = errors.New("file carries no checksum")
)
