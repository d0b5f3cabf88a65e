package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/tensor"
)

// Reader reads tensors from a SafeTensors file.
type Reader struct {
	file       *os.File
	tensors    map[string]TensorInfo
	metadata   map[string]string
	dataOffset int64
	dataSize   int64
}

// Open opens a SafeTensors file and parses its header.
func Open(path string) (*Reader, error) {
	//nolint:gosec // G304: weights path is user supplied.
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open safetensors")
	}
	r, err := newReader(file)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return r, nil
}

func newReader(file *os.File) (*Reader, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "header size")
	}
	if headerSize > maxHeaderSize || int64(headerSize)+8 > stat.Size() { //nolint:gosec // G115: bounded above.
		return nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "header")
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &entries); err != nil {
		return nil, errors.Wrap(err, "parse header")
	}

	r := &Reader{
		file:       file,
		tensors:    make(map[string]TensorInfo, len(entries)),
		dataOffset: 8 + int64(headerSize), //nolint:gosec // G115: bounded above.
	}
	r.dataSize = stat.Size() - r.dataOffset

	for name, raw := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &r.metadata); err != nil {
				return nil, errors.Wrap(err, "parse metadata")
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, errors.Wrapf(err, "parse tensor %s", name)
		}
		if err := r.validate(name, info); err != nil {
			return nil, err
		}
		r.tensors[name] = info
	}
	return r, nil
}

func (r *Reader) validate(name string, info TensorInfo) error {
	size, err := elemSize(info.DType)
	if err != nil {
		return errors.Wrapf(err, "tensor %s", name)
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > r.dataSize {
		return errors.Wrapf(ErrOutOfBounds, "tensor %s: [%d, %d) of %d", name, start, end, r.dataSize)
	}
	if want := int64(tensor.Shape(info.Shape).NumElements() * size); want != end-start {
		return errors.Errorf("tensor %s: shape %v needs %d bytes, header says %d", name, info.Shape, want, end-start)
	}
	return nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Metadata returns the "__metadata__" map (nil if absent).
func (r *Reader) Metadata() map[string]string {
	return r.metadata
}

// TensorNames returns all tensor names in sorted order.
func (r *Reader) TensorNames() []string {
	names := make([]string, 0, len(r.tensors))
	for name := range r.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns the header entry for name.
func (r *Reader) TensorInfo(name string) (TensorInfo, error) {
	info, ok := r.tensors[name]
	if !ok {
		return TensorInfo{}, errors.Wrap(ErrTensorNotFound, name)
	}
	return info, nil
}

// ReadTensorData returns the raw bytes stored for name.
func (r *Reader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	data := make([]byte, info.Size())
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(err, "read tensor %s", name)
	}
	return data, nil
}

// Load reads name into a new RawTensor on device. F16 and BF16 data are
// widened to float32.
func (r *Reader) Load(name string, device tensor.Device) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	dt, err := toDataType(info.DType)
	if err != nil {
		return nil, err
	}
	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}
	raw, err := tensor.NewRaw(tensor.Shape(info.Shape), dt, device)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	switch info.DType {
	case F16, BF16:
		widen(info.DType, data, raw.AsFloat32())
	default:
		copy(raw.Data(), data)
	}
	return raw, nil
}

// Verify recomputes the SHA-256 of the data section and compares it with
// the checksum stored in the metadata.
func (r *Reader) Verify() error {
	stored, ok := r.metadata[checksumKey]
	if !ok {
		return ErrNoChecksum
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r.file, r.dataOffset, r.dataSize)); err != nil {
		return errors.Wrap(err, "hash data section")
	}
	if hex.EncodeToString(h.Sum(nil)) != stored {
		return ErrChecksumMismatch
	}
	return nil
}
