package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/born-ml/zymctrl/internal/tensor"
)

// Write encodes a state dict and header as a .born v2 stream.
//
// Tensor metadata in h is replaced with the layout of sd. FormatVersion and
// Producer are filled in; CreatedAt is set to now when zero.
func Write(w io.Writer, sd tensor.StateDict, h Header) error {
	headerJSON, data, err := encode(sd, &h)
	if err != nil {
		return err
	}

	var fixed [FixedHeaderSize]byte
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flagsFor(&h))
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	sum := ComputeChecksum(headerJSON, data)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], sum[:])

	pos := int64(FixedHeaderSize + len(headerJSON))
	padding := alignUp(pos) - pos

	for _, chunk := range [][]byte{fixed[:], headerJSON, make([]byte, padding), data} {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("failed to write .born stream: %w", err)
		}
	}
	return nil
}

func encode(sd tensor.StateDict, h *Header) ([]byte, []byte, error) {
	h.FormatVersion = FormatVersion
	h.Producer = Producer
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	var data bytes.Buffer
	h.Tensors = make([]TensorMeta, 0, len(sd))
	for _, name := range sd.Names() {
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		t := sd[name]
		raw := t.Bytes()
		h.Tensors = append(h.Tensors, TensorMeta{
			Name:   name,
			DType:  DTypeFloat32,
			Shape:  []int(t.Shape()),
			Offset: int64(data.Len()),
			Size:   int64(len(raw)),
		})
		data.Write(raw)
	}

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}
	return headerJSON, data.Bytes(), nil
}

func flagsFor(h *Header) uint32 {
	var flags uint32
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if h.Kind == KindCheckpoint {
		flags |= FlagHasOptimizer
	}
	return flags
}
