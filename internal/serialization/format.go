package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes      = "BORN"
	FormatVersion   = 2    // SHA-256 over header and data
	HeaderAlignment = 64   // Tensor data starts on a 64-byte boundary
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
)

// DTypeFloat32 is the only element type stored by this package.
const DTypeFloat32 = "float32"

// Flags for the .born format.
const (
	FlagHasOptimizer uint32 = 1 << 1 // bit 1: optimizer state included
	FlagHasMetadata  uint32 = 1 << 2 // bit 2: custom metadata included
)

// Kinds of payload a .born file can hold.
const (
	KindModel      = "model"
	KindCheckpoint = "checkpoint"
)

// Producer is recorded in every header written by this package.
const Producer = "zymctrl"

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	Kind          string            `json:"kind"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Checkpoint    *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// CheckpointMeta contains training state information for checkpoints.
type CheckpointMeta struct {
	RunID             string             `json:"run_id"`
	Epoch             int                `json:"epoch"`
	Step              int64              `json:"step"`
	HeldOutPerplexity float64            `json:"held_out_perplexity"`
	OptimizerType     string             `json:"optimizer_type"`
	OptimizerConfig   map[string]float64 `json:"optimizer_config,omitempty"`
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // e.g. "model.bigram"
	DType  string `json:"dtype"`  // always "float32"
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Bytes from start of tensor data
	Size   int64  `json:"size"`   // Size in bytes
}

func alignUp(n int64) int64 {
	return (n + HeaderAlignment - 1) / HeaderAlignment * HeaderAlignment
}
