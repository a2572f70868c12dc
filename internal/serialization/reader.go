package serialization

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/zymctrl/internal/tensor"
)

// Read decodes a .born v2 stream. The checksum and the tensor table are
// verified before any tensor is returned.
func Read(r io.Reader) (tensor.StateDict, Header, error) {
	var h Header

	var fixed [FixedHeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, h, truncated("fixed header", err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, h, fmt.Errorf("%w: expected %q, got %q", ErrInvalidMagic, MagicBytes, string(fixed[0:4]))
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	if headerSize > MaxHeaderSize {
		return nil, h, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, h, truncated("header", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	pos := int64(FixedHeaderSize) + int64(headerSize)
	if _, err := io.CopyN(io.Discard, r, alignUp(pos)-pos); err != nil {
		return nil, h, truncated("padding", err)
	}

	data, err := readData(r, dataSize)
	if err != nil {
		return nil, h, err
	}

	if err := ValidateChecksum(ComputeChecksum(headerJSON, data), stored); err != nil {
		return nil, h, err
	}

	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, h, &ValidationError{Type: "invalid_header", Details: err.Error()}
	}
	if err := ValidateHeader(&h, int64(len(data))); err != nil {
		return nil, h, err
	}

	sd := make(tensor.StateDict, len(h.Tensors))
	for _, meta := range h.Tensors {
		t, err := tensor.FromBytes(tensor.Shape(meta.Shape), data[meta.Offset:meta.Offset+meta.Size])
		if err != nil {
			return nil, h, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		sd[meta.Name] = t
	}
	return sd, h, nil
}

// ReadFile opens path and decodes it with Read.
func ReadFile(path string) (tensor.StateDict, Header, error) {
	//nolint:gosec // G304: reading a user-supplied artifact path is the point
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// readData grows the buffer as bytes arrive instead of trusting dataSize for
// a single allocation.
func readData(r io.Reader, dataSize uint64) ([]byte, error) {
	const maxPrealloc = 64 << 20
	buf := make([]byte, 0, min(dataSize, maxPrealloc))
	//nolint:gosec // G115: dataSize fits in int64 for any file we could read
	n, err := io.CopyN(sliceWriter{&buf}, r, int64(dataSize))
	if err != nil {
		return nil, truncated(fmt.Sprintf("tensor data (%d of %d bytes)", n, dataSize), err)
	}
	return buf, nil
}

type sliceWriter struct{ b *[]byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s", ErrTruncated, what)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}
