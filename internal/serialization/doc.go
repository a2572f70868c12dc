// Package serialization reads and writes the .born tensor container used for
// model artifacts and training checkpoints.
//
//	Format Structure (v2):
//	  [0x00 4 bytes: Magic "BORN"]
//	  [0x04 4 bytes: Version (uint32 LE)]
//	  [0x08 4 bytes: Flags (uint32 LE)]
//	  [0x0C 4 bytes: Reserved]
//	  [0x10 8 bytes: Header Size (uint64 LE)]
//	  [0x18 8 bytes: Data Size (uint64 LE)]
//	  [0x20 32 bytes: SHA-256 of header JSON followed by tensor data]
//	  [Header: JSON metadata]
//	  [Padding to 64 bytes]
//	  [Tensor data: little-endian float32, in sorted tensor-name order]
//
// Tensors are written in sorted name order, so encoding the same state dict
// with the same header always yields the same bytes. Any change to the header
// or the data is detected by the checksum on read.
//
// Example usage:
//
//	var buf bytes.Buffer
//	err := serialization.Write(&buf, stateDict, serialization.Header{Kind: serialization.KindModel})
//
//	stateDict, header, err := serialization.Read(&buf)
package serialization
