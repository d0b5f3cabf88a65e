// Package serialization reads and writes model weights in the SafeTensors
// format.
//
// File layout:
//
//	[8 bytes: header size, uint64 little-endian]
//	[header size bytes: JSON header]
//	[tensor data: raw little-endian bytes]
//
// The header maps tensor names to {dtype, shape, data_offsets}; offsets are
// relative to the start of the data section. An optional "__metadata__" entry
// holds string key/value pairs. Files written by this package store a SHA-256
// of the data section under the "sha256" metadata key, which Reader.Verify
// checks.
//
// Pretrained encoders exported from PyTorch are usually F32, but F16 and BF16
// files are accepted and widened to float32 on load.
package serialization
