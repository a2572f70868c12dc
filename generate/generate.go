// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package generate samples enzyme sequences conditioned on EC codes.
//
// This package wraps the internal generation engine and exposes the pieces
// needed to drive it from Go code: the vocabulary, the control-tag prompt,
// the sampling configuration and the model artifact loader.
//
// Example usage:
//
//	import "github.com/born-ml/zymctrl/generate"
//
//	m, err := generate.LoadModel("base.born")
//	if err != nil { ... }
//
//	cfg := generate.DefaultConfig()
//	cfg.TopK = 9
//	cfg.RepeatPenalty = 1.2
//	cfg.Seed = 42
//
//	cands, err := generate.Sequences(ctx, m, "1.1.1.1", 20, cfg)
//	for _, c := range cands {
//	    fmt.Println(c.Symbols(m.Vocabulary()), c.StopReason)
//	}
package generate

import (
	"context"

	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Vocabulary

// Vocabulary maps amino-acid, digit and control symbols to token ids.
type Vocabulary = vocab.Vocabulary

// DefaultVocabulary returns the built-in vocabulary.
func DefaultVocabulary() *Vocabulary {
	return vocab.Default()
}

// Prompts

// ECCode is a parsed EC classification code.
type ECCode = prompt.ECCode

// Prompt is the control-tag token sequence for one EC code.
type Prompt = prompt.Prompt

// ErrInvalidCodeFormat is returned for EC codes that are not four
// dot-separated fields of integers or "-".
var ErrInvalidCodeFormat = prompt.ErrInvalidCodeFormat

// ParseEC parses a code such as "3.2.1.-".
func ParseEC(s string) (ECCode, error) {
	return prompt.ParseEC(s)
}

// BuildPrompt encodes code as a prompt.
func BuildPrompt(v *Vocabulary, code string) (Prompt, error) {
	return prompt.Build(v, code)
}

// Models

// LanguageModel is the interface the engine samples from.
type LanguageModel = model.LanguageModel

// Model is the built-in context model.
type Model = model.ContextModel

// NewModel returns an untrained model over v.
func NewModel(v *Vocabulary) *Model {
	return model.NewContextModel(v)
}

// LoadModel reads a model artifact written by SaveModel or a fine-tuning run.
func LoadModel(path string) (*Model, error) {
	return model.LoadFile(path)
}

// SaveModel writes m as a model artifact.
func SaveModel(path string, m *Model) error {
	return model.SaveFile(path, m)
}

// Generation

// Config controls sampling and length limits.
//
// Parameters:
//   - Temperature: Softmax temperature, must be > 0
//   - TopK: Keep the K most likely tokens (0 = disabled)
//   - TopP: Nucleus threshold (1.0 = disabled)
//   - MinP: Drop tokens below max_prob * MinP (0 = disabled)
//   - RepeatPenalty: Penalty for already generated tokens (1.0 = none)
//   - MaxLength: Bound on prompt plus generated tokens
//   - BatchSize: Candidates per forward pass
//   - Seed: Sampling seed (negative picks one at random)
type Config = generate.Config

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return generate.DefaultConfig()
}

// Candidate is one generated sequence with its token log-probabilities.
type Candidate = generate.Candidate

// StopReason records why a candidate ended.
type StopReason = generate.StopReason

// Stop reasons.
const (
	StopToken     = generate.StopToken
	StopEOS       = generate.StopEOS
	StopMaxLength = generate.StopMaxLength
)

// Engine samples batches of candidates.
type Engine = generate.Engine

// Stream yields candidates lazily, one batch at a time.
type Stream = generate.Stream

// Option configures an Engine.
type Option = generate.Option

// NewEngine creates an engine over v.
func NewEngine(v *Vocabulary, opts ...Option) *Engine {
	return generate.NewEngine(v, opts...)
}

// Sequences samples count candidates for code and collects them. If ctx is
// canceled the candidates finished so far are returned with ctx's error.
func Sequences(ctx context.Context, m *Model, code string, count int, cfg Config) ([]Candidate, error) {
	p, err := prompt.Build(m.Vocabulary(), code)
	if err != nil {
		return nil, err
	}
	stream, err := generate.NewEngine(m.Vocabulary()).Generate(ctx, m, p, count, cfg)
	if err != nil {
		return nil, err
	}
	cands := stream.Collect()
	if err := stream.Err(); err != nil {
		return cands, err
	}
	if stream.Incomplete() {
		return cands, ctx.Err()
	}
	return cands, nil
}
