package serialization

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/unet/internal/tensor"
)

// Write stores tensors in a SafeTensors file at path.
//
// Tensors are laid out in alphabetical order by name. The data section's
// SHA-256 is added to metadata under "sha256". The file is written to a
// temporary sibling and renamed into place, so readers never see a partial
// checkpoint.
func Write(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	hash := sha256.New()
	var offset int64
	for _, name := range names {
		raw := tensors[name]
		dt, err := fromDataType(raw.DType())
		if err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}
		size := int64(raw.ByteSize())
		header[name] = TensorInfo{
			DType:       dt,
			Shape:       raw.Shape().Clone(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		_, _ = hash.Write(raw.Data())
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[checksumKey] = hex.EncodeToString(hash.Sum(nil))
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	// Pad with spaces so the data section starts 8-byte aligned.
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	if err := writeBody(w, headerJSON, names, tensors); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename checkpoint")
}

func writeBody(w *bufio.Writer, headerJSON []byte, names []string, tensors map[string]*tensor.RawTensor) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return err
	}
	if _, err := w.Write(headerJSON); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Data()); err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}
	}
	return w.Flush()
}
