package filter

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned for out-of-range filter settings.
var ErrInvalidConfig = errors.New("invalid filter config")

// Policy combines model likelihood with an external predictor score.
type Policy string

// Ranking policies.
const (
	PolicyModel     Policy = "model"
	PolicyWeighted  Policy = "weighted"
	PolicyThreshold Policy = "threshold"
)

// Config controls FilterAndRank.
type Config struct {
	Policy        Policy
	DropTruncated bool // drop candidates that hit max_length

	ModelWeight       float64 // weighted policy
	PredictorWeight   float64 // weighted policy
	MinPredictorScore float64 // threshold policy

	PredictorTimeout  time.Duration // per attempt
	PredictorAttempts int

	// Limit keeps only the best Limit candidates. 0 keeps all.
	Limit int
}

// DefaultConfig ranks by model likelihood and drops truncated candidates.
func DefaultConfig() Config {
	return Config{
		Policy:            PolicyModel,
		DropTruncated:     true,
		ModelWeight:       1,
		PredictorWeight:   1,
		PredictorTimeout:  30 * time.Second,
		PredictorAttempts: 3,
	}
}

// Validate checks the policy name and ranges.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyModel, PolicyWeighted, PolicyThreshold:
	default:
		return fmt.Errorf("%w: policy %q", ErrInvalidConfig, c.Policy)
	}
	switch {
	case c.PredictorTimeout <= 0:
		return fmt.Errorf("%w: predictor_timeout must be > 0", ErrInvalidConfig)
	case c.PredictorAttempts <= 0:
		return fmt.Errorf("%w: predictor_attempts must be > 0", ErrInvalidConfig)
	case c.Limit < 0:
		return fmt.Errorf("%w: limit must be >= 0", ErrInvalidConfig)
	}
	return nil
}
