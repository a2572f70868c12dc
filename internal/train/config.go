package train

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/zymctrl/internal/optim"
)

// Errors returned by the trainer.
var (
	ErrEmptyDataset    = errors.New("empty dataset")
	ErrDatasetTooNoisy = errors.New("too many invalid dataset records")
	ErrInvalidConfig   = errors.New("invalid training config")
	ErrResumeMismatch  = errors.New("checkpoint does not match training config")
)

// SavePolicy decides when an evaluation writes a checkpoint.
type SavePolicy string

// Save policies.
const (
	SaveBest   SavePolicy = "best"   // only when held-out perplexity improves
	SaveAlways SavePolicy = "always" // at every evaluation
)

// Config configures fine-tuning.
type Config struct {
	LearningRate       float32
	Optimizer          string // adam or sgd
	BatchSize          int    // examples per micro-batch
	EffectiveBatchSize int    // examples per optimizer step
	Epochs             int
	HeldOutFraction    float64
	CheckpointInterval int // optimizer steps between evaluations
	MaxSkipRate        float64
	SavePolicy         SavePolicy
	Patience           int // evaluations without improvement before stopping; 0 = never
	Workers            int // gradient shards per micro-batch
	Seed               int64
}

// DefaultConfig returns the fine-tuning defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate:       0.8e-4,
		Optimizer:          optim.TypeAdam,
		BatchSize:          1,
		EffectiveBatchSize: 4,
		Epochs:             28,
		HeldOutFraction:    0.1,
		CheckpointInterval: 10,
		MaxSkipRate:        0.1,
		SavePolicy:         SaveBest,
		Workers:            1,
		Seed:               0,
	}
}

// AccumulationSteps returns the micro-batches per optimizer step.
func (c Config) AccumulationSteps() int {
	return max(1, (c.EffectiveBatchSize+c.BatchSize-1)/c.BatchSize)
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	switch {
	case !(c.LearningRate > 0):
		return fmt.Errorf("%w: learning_rate must be > 0", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be > 0", ErrInvalidConfig)
	case c.EffectiveBatchSize < c.BatchSize:
		return fmt.Errorf("%w: effective_batch_size %d < batch_size %d", ErrInvalidConfig, c.EffectiveBatchSize, c.BatchSize)
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be > 0", ErrInvalidConfig)
	case c.HeldOutFraction < 0 || c.HeldOutFraction >= 1:
		return fmt.Errorf("%w: held_out_fraction must be in [0, 1)", ErrInvalidConfig)
	case c.CheckpointInterval <= 0:
		return fmt.Errorf("%w: checkpoint_interval must be > 0", ErrInvalidConfig)
	case c.MaxSkipRate < 0 || c.MaxSkipRate > 1:
		return fmt.Errorf("%w: max_skip_rate must be in [0, 1]", ErrInvalidConfig)
	case c.SavePolicy != SaveBest && c.SavePolicy != SaveAlways:
		return fmt.Errorf("%w: save_policy %q", ErrInvalidConfig, c.SavePolicy)
	case c.Patience < 0:
		return fmt.Errorf("%w: patience must be >= 0", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be > 0", ErrInvalidConfig)
	}
	if _, err := optim.New(c.Optimizer, c.LearningRate); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func sameOptimizer(a, b string) bool {
	return strings.EqualFold(a, b)
}
