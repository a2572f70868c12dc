package generate

import (
	"errors"
	"fmt"

	"github.com/born-ml/zymctrl/internal/vocab"
)

// Errors returned by the engine.
var (
	ErrInvalidConfig = errors.New("invalid generation config")
	ErrPromptTooLong = errors.New("prompt too long")
)

// Config configures one generation call.
type Config struct {
	Temperature      float32
	TopK             int
	TopP             float32
	MinP             float32
	RepeatPenalty    float32
	FrequencyPenalty float32
	PresencePenalty  float32
	RepeatWindow     int

	// MaxLength bounds prompt plus generated tokens.
	MaxLength int

	// StopToken ends a candidate; it is kept as the last generated token.
	StopToken string

	// BatchSize is the number of candidates sampled per batched forward pass.
	BatchSize int

	// Seed for reproducibility. Negative picks a random seed, which the
	// stream reports through Seed().
	Seed int64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:   1.0,
		TopK:          0,
		TopP:          1.0,
		MinP:          0,
		RepeatPenalty: 1.0,
		MaxLength:     1024,
		StopToken:     vocab.EndSymbol,
		BatchSize:     20,
		Seed:          -1,
	}
}

// Validate checks the numeric ranges.
func (c Config) Validate() error {
	switch {
	case !(c.Temperature > 0):
		return fmt.Errorf("%w: temperature must be > 0, got %v", ErrInvalidConfig, c.Temperature)
	case !(c.TopP > 0 && c.TopP <= 1):
		return fmt.Errorf("%w: top_p must be in (0, 1], got %v", ErrInvalidConfig, c.TopP)
	case c.TopK < 0:
		return fmt.Errorf("%w: top_k must be >= 0, got %d", ErrInvalidConfig, c.TopK)
	case c.MinP < 0 || c.MinP > 1:
		return fmt.Errorf("%w: min_p must be in [0, 1], got %v", ErrInvalidConfig, c.MinP)
	case !(c.RepeatPenalty > 0):
		return fmt.Errorf("%w: repeat_penalty must be > 0, got %v", ErrInvalidConfig, c.RepeatPenalty)
	case c.RepeatWindow < 0:
		return fmt.Errorf("%w: repeat_window must be >= 0, got %d", ErrInvalidConfig, c.RepeatWindow)
	case c.MaxLength <= 0:
		return fmt.Errorf("%w: max_length must be > 0, got %d", ErrInvalidConfig, c.MaxLength)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be > 0, got %d", ErrInvalidConfig, c.BatchSize)
	case c.StopToken == "":
		return fmt.Errorf("%w: stop_token is empty", ErrInvalidConfig)
	}
	return nil
}

// sampling returns the per-candidate sampler configuration.
func (c Config) sampling(seed int64) SamplingConfig {
	return SamplingConfig{
		Temperature:      c.Temperature,
		TopK:             c.TopK,
		TopP:             c.TopP,
		MinP:             c.MinP,
		RepeatPenalty:    c.RepeatPenalty,
		FrequencyPenalty: c.FrequencyPenalty,
		PresencePenalty:  c.PresencePenalty,
		RepeatWindow:     c.RepeatWindow,
		Seed:             seed,
	}
}
