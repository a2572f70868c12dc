package serialization

import (
	"crypto/sha256"
)

// ComputeChecksum returns the SHA-256 of the header JSON followed by the
// tensor data section.
func ComputeChecksum(headerJSON, data []byte) [32]byte {
	h := sha256.New()
	h.Write(headerJSON)
	h.Write(data)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ValidateChecksum compares computed checksum against stored checksum.
// Returns ErrChecksumMismatch if they don't match.
func ValidateChecksum(computed, stored [32]byte) error {
	if computed != stored {
		return ErrChecksumMismatch
	}
	return nil
}
