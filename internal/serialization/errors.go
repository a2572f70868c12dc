package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrUnsupportedDType   = errors.New("unsupported dtype")
	ErrTruncated          = errors.New("file truncated")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // Type of error (e.g., "offset_overlap", "out_of_bounds")
	Tensor  string // Primary tensor name involved
	Tensor2 string // Secondary tensor name (for overlap errors)
	Details string // Additional details
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// IsCorrupt reports whether err means the bytes cannot be trusted, as opposed
// to an I/O failure while reading them.
func IsCorrupt(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrUnsupportedDType) ||
		errors.Is(err, ErrHeaderTooLarge) ||
		errors.Is(err, ErrTruncated) ||
		errors.As(err, &ve)
}
