// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package finetune adapts a model to EC-labelled sequences.
//
// Training state is checkpointed to a directory; a run can resume from any
// checkpoint and continues exactly where the interrupted run left off.
//
// Example usage:
//
//	import (
//	    "github.com/born-ml/zymctrl/finetune"
//	    "github.com/born-ml/zymctrl/generate"
//	)
//
//	m, _ := generate.LoadModel("base.born")
//	records, _ := finetune.LoadDataset("family.fasta", "1.1.1.1")
//
//	ckpt, _ := finetune.OpenCheckpoints("checkpoints", finetune.WithKeep(2))
//	cfg := finetune.DefaultConfig()
//	cfg.Epochs = 3
//
//	t, _ := finetune.New(m, ckpt, cfg)
//	res, err := t.Fit(ctx, records)
//	fmt.Println(res.Handle, res.BestPerplexity)
package finetune

import (
	"context"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/train"
)

// Datasets

// Record is one labelled training sequence.
type Record = dataset.Record

// LoadDataset reads a FASTA, TSV or CSV dataset. defaultEC labels FASTA
// records whose header carries no EC tag.
func LoadDataset(path, defaultEC string) ([]Record, error) {
	return dataset.Load(path, dataset.Options{DefaultEC: defaultEC})
}

// Checkpoints

// Checkpoints manages a checkpoint directory.
type Checkpoints = checkpoint.Manager

// Checkpoint is a complete training state snapshot.
type Checkpoint = checkpoint.Checkpoint

// Handle names a saved checkpoint.
type Handle = checkpoint.Handle

// CheckpointOption configures OpenCheckpoints.
type CheckpointOption = checkpoint.Option

// ErrCheckpointUnavailable is returned for missing or corrupt checkpoints.
var ErrCheckpointUnavailable = checkpoint.ErrCheckpointUnavailable

// WithKeep keeps only the newest n checkpoints (0 keeps all).
func WithKeep(n int) CheckpointOption {
	return checkpoint.WithKeep(n)
}

// OpenCheckpoints opens (creating if needed) a checkpoint directory.
func OpenCheckpoints(dir string, opts ...CheckpointOption) (*Checkpoints, error) {
	return checkpoint.Open(dir, opts...)
}

// Training

// Config configures fine-tuning.
//
// Parameters:
//   - LearningRate: Optimizer step size
//   - Optimizer: "adam" or "sgd"
//   - BatchSize / EffectiveBatchSize: Micro-batch and accumulated batch
//   - Epochs: Passes over the training split
//   - HeldOutFraction: Share of records used for perplexity evaluation
//   - CheckpointInterval: Optimizer steps between evaluations
//   - SavePolicy: SaveBest or SaveAlways
//   - Patience: Evaluations without improvement before stopping (0 = never)
type Config = train.Config

// DefaultConfig returns the fine-tuning defaults.
func DefaultConfig() Config {
	return train.DefaultConfig()
}

// Save policies.
const (
	SaveBest   = train.SaveBest
	SaveAlways = train.SaveAlways
)

// Trainer runs fine-tuning.
type Trainer = train.Trainer

// Result summarizes a run.
type Result = train.Result

// Evaluation is one held-out evaluation.
type Evaluation = train.Evaluation

// Option configures a Trainer.
type Option = train.Option

// FitOption configures one Fit call.
type FitOption = train.FitOption

// Errors returned by training.
var (
	ErrEmptyDataset   = train.ErrEmptyDataset
	ErrResumeMismatch = train.ErrResumeMismatch
)

// WithEvalHook calls fn after every evaluation.
func WithEvalHook(fn func(context.Context, Evaluation)) Option {
	return train.WithEvalHook(fn)
}

// WithResume continues from c.
func WithResume(c *Checkpoint) FitOption {
	return train.WithResume(c)
}

// New creates a trainer starting from m's weights.
func New(m *model.ContextModel, ckpt *Checkpoints, cfg Config, opts ...Option) (*Trainer, error) {
	return train.New(m.Vocabulary(), m, ckpt, cfg, opts...)
}
