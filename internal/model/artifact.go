package model

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/zymctrl/internal/fsutil"
	"github.com/born-ml/zymctrl/internal/serialization"
	"github.com/born-ml/zymctrl/internal/tensor"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Artifact metadata keys.
const (
	MetaArchitecture = "architecture"
	MetaVocabulary   = "vocabulary"
)

// VocabularyMetadata encodes v for a .born header.
func VocabularyMetadata(v *vocab.Vocabulary) (string, error) {
	b, err := json.Marshal(v.Symbols())
	if err != nil {
		return "", fmt.Errorf("encode vocabulary: %w", err)
	}
	return string(b), nil
}

// VocabularyFromMetadata decodes a vocabulary stored by VocabularyMetadata.
// A missing entry yields the default vocabulary.
func VocabularyFromMetadata(meta map[string]string) (*vocab.Vocabulary, error) {
	raw, ok := meta[MetaVocabulary]
	if !ok {
		return vocab.Default(), nil
	}
	var symbols []string
	if err := json.Unmarshal([]byte(raw), &symbols); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	return vocab.New(symbols)
}

// Save writes m as a model artifact.
func Save(w io.Writer, m *ContextModel) error {
	vm, err := VocabularyMetadata(m.vocab)
	if err != nil {
		return err
	}
	return serialization.Write(w, m.params, serialization.Header{
		Kind: serialization.KindModel,
		Metadata: map[string]string{
			MetaArchitecture: Architecture,
			MetaVocabulary:   vm,
		},
	})
}

// Load reads a model artifact written by Save.
func Load(r io.Reader) (*ContextModel, error) {
	sd, h, err := serialization.Read(r)
	if err != nil {
		return nil, err
	}
	return FromArtifact(sd, h)
}

// FromArtifact builds a model from decoded tensors and header.
func FromArtifact(sd tensor.StateDict, h serialization.Header) (*ContextModel, error) {
	if arch, ok := h.Metadata[MetaArchitecture]; ok && arch != Architecture {
		return nil, fmt.Errorf("%w: architecture %q", ErrIncompatible, arch)
	}
	v, err := VocabularyFromMetadata(h.Metadata)
	if err != nil {
		return nil, err
	}
	return FromStateDict(v, sd)
}

// SaveFile writes m to path atomically.
func SaveFile(path string, m *ContextModel) error {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, func(f *os.File) error {
		return Save(f, m)
	})
}

// LoadFile reads a model artifact from path.
func LoadFile(path string) (*ContextModel, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	sd, h, err := serialization.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return FromArtifact(sd, h)
}
