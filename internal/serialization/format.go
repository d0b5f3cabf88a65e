package serialization

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/tensor"
)

// DType is a SafeTensors dtype string.
type DType string

// SafeTensors dtypes understood by this package.
const (
	F16  DType = "F16"
	BF16 DType = "BF16"
	F32  DType = "F32"
	I32  DType = "I32"
	I64  DType = "I64"
	U8   DType = "U8"
)

const (
	metadataKey = "__metadata__"
	checksumKey = "sha256"

	// maxHeaderSize bounds the JSON header read from untrusted files.
	maxHeaderSize = 100 << 20
)

// TensorInfo describes one tensor in a SafeTensors header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Size returns the byte length of the tensor data.
func (ti TensorInfo) Size() int64 {
	return ti.DataOffsets[1] - ti.DataOffsets[0]
}

func elemSize(dt DType) (int, error) {
	switch dt {
	case F16, BF16:
		return 2, nil
	case F32, I32:
		return 4, nil
	case I64:
		return 8, nil
	case U8:
		return 1, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%q", dt)
	}
}

func fromDataType(dt tensor.DataType) (DType, error) {
	switch dt {
	case tensor.Float32:
		return F32, nil
	case tensor.Int32:
		return I32, nil
	case tensor.Int64:
		return I64, nil
	case tensor.Uint8:
		return U8, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDType, "%s", dt)
	}
}

// toDataType returns the in-memory type a file dtype is loaded as.
func toDataType(dt DType) (tensor.DataType, error) {
	switch dt {
	case F16, BF16, F32:
		return tensor.Float32, nil
	case I32:
		return tensor.Int32, nil
	case I64:
		return tensor.Int64, nil
	case U8:
		return tensor.Uint8, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%q", dt)
	}
}

// widen converts 16-bit floats to float32 in dst.
func widen(dt DType, src []byte, dst []float32) {
	for i := range dst {
		h := binary.LittleEndian.Uint16(src[2*i:])
		if dt == BF16 {
			dst[i] = math.Float32frombits(uint32(h) << 16)
		} else {
			dst[i] = halfToFloat(h)
		}
	}
}

// halfToFloat decodes an IEEE 754 binary16 value.
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: renormalise into a float32 exponent.
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	case exp == 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}
