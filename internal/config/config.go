// Package config loads zymctrl invocation parameters from YAML, JSON or
// TOML files and converts them to component configs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/train"
)

// ErrInvalidConfig is returned by Load and Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every invocation parameter. Fields missing from a file keep
// their Default values.
type Config struct {
	Model    Model    `json:"model" yaml:"model" toml:"model"`
	Generate Generate `json:"generate" yaml:"generate" toml:"generate"`
	Filter   Filter   `json:"filter" yaml:"filter" toml:"filter"`
	Train    Train    `json:"train" yaml:"train" toml:"train"`
	Output   Output   `json:"output" yaml:"output" toml:"output"`
	Log      Log      `json:"log" yaml:"log" toml:"log"`
	Metrics  Metrics  `json:"metrics" yaml:"metrics" toml:"metrics"`
}

// Model locates weights.
type Model struct {
	Path          string `json:"path" yaml:"path" toml:"path"`                               // base .born artifact
	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"` // fine-tuning checkpoints
	Checkpoint    string `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint"`             // handle, "latest" or empty
	Workers       int    `json:"workers" yaml:"workers" toml:"workers"`                      // forward-pass fan-out, 0 = NumCPU
}

// Generate holds sampling parameters.
type Generate struct {
	ECCodes           []string `json:"ec_codes" yaml:"ec_codes" toml:"ec_codes"`
	NumSequences      int      `json:"num_sequences" yaml:"num_sequences" toml:"num_sequences"`
	BatchSize         int      `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	Temperature       float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK              int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP              float32  `json:"top_p" yaml:"top_p" toml:"top_p"`
	MinP              float32  `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepetitionPenalty float32  `json:"repetition_penalty" yaml:"repetition_penalty" toml:"repetition_penalty"`
	MaxLength         int      `json:"max_length" yaml:"max_length" toml:"max_length"`
	Seed              int64    `json:"seed" yaml:"seed" toml:"seed"`
}

// Filter holds ranking parameters.
type Filter struct {
	Policy            string   `json:"policy" yaml:"policy" toml:"policy"`
	DropTruncated     bool     `json:"drop_truncated" yaml:"drop_truncated" toml:"drop_truncated"`
	ModelWeight       float64  `json:"model_weight" yaml:"model_weight" toml:"model_weight"`
	PredictorWeight   float64  `json:"predictor_weight" yaml:"predictor_weight" toml:"predictor_weight"`
	MinPredictorScore float64  `json:"min_predictor_score" yaml:"min_predictor_score" toml:"min_predictor_score"`
	PredictorCommand  []string `json:"predictor_command" yaml:"predictor_command" toml:"predictor_command"`
	PredictorTimeout  float64  `json:"predictor_timeout_seconds" yaml:"predictor_timeout_seconds" toml:"predictor_timeout_seconds"`
	PredictorAttempts int      `json:"predictor_attempts" yaml:"predictor_attempts" toml:"predictor_attempts"`
	Limit             int      `json:"limit" yaml:"limit" toml:"limit"`
}

// Train holds fine-tuning parameters.
type Train struct {
	DatasetPath        string  `json:"fine_tune_dataset_path" yaml:"fine_tune_dataset_path" toml:"fine_tune_dataset_path"`
	DefaultEC          string  `json:"default_ec" yaml:"default_ec" toml:"default_ec"`
	Resume             string  `json:"resume" yaml:"resume" toml:"resume"` // checkpoint handle or "latest"
	LearningRate       float32 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate"`
	Optimizer          string  `json:"optimizer" yaml:"optimizer" toml:"optimizer"`
	BatchSize          int     `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	EffectiveBatchSize int     `json:"effective_batch_size" yaml:"effective_batch_size" toml:"effective_batch_size"`
	Epochs             int     `json:"epochs" yaml:"epochs" toml:"epochs"`
	HeldOutFraction    float64 `json:"held_out_fraction" yaml:"held_out_fraction" toml:"held_out_fraction"`
	CheckpointInterval int     `json:"checkpoint_interval" yaml:"checkpoint_interval" toml:"checkpoint_interval"`
	KeepCheckpoints    int     `json:"keep_checkpoints" yaml:"keep_checkpoints" toml:"keep_checkpoints"`
	MaxSkipRate        float64 `json:"max_skip_rate" yaml:"max_skip_rate" toml:"max_skip_rate"`
	SavePolicy         string  `json:"save_policy" yaml:"save_policy" toml:"save_policy"`
	Patience           int     `json:"patience" yaml:"patience" toml:"patience"`
	Workers            int     `json:"workers" yaml:"workers" toml:"workers"`
	Seed               int64   `json:"seed" yaml:"seed" toml:"seed"`
}

// Output names the result sink.
type Output struct {
	Path   string `json:"output_path" yaml:"output_path" toml:"output_path"`
	Ledger string `json:"ledger" yaml:"ledger" toml:"ledger"` // optional run ledger kept alongside Path
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Metrics configures metric export.
type Metrics struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	Textfile string `json:"textfile" yaml:"textfile" toml:"textfile"`
}

// Default returns the defaults of the original generation and fine-tuning
// workflow.
func Default() Config {
	g := generate.DefaultConfig()
	f := filter.DefaultConfig()
	t := train.DefaultConfig()
	return Config{
		Model: Model{CheckpointDir: "checkpoints"},
		Generate: Generate{
			NumSequences:      20,
			BatchSize:         g.BatchSize,
			Temperature:       g.Temperature,
			TopK:              9,
			TopP:              g.TopP,
			MinP:              g.MinP,
			RepetitionPenalty: 1.2,
			MaxLength:         g.MaxLength,
			Seed:              g.Seed,
		},
		Filter: Filter{
			Policy:            string(f.Policy),
			DropTruncated:     f.DropTruncated,
			ModelWeight:       f.ModelWeight,
			PredictorWeight:   f.PredictorWeight,
			PredictorTimeout:  f.PredictorTimeout.Seconds(),
			PredictorAttempts: f.PredictorAttempts,
		},
		Train: Train{
			LearningRate:       t.LearningRate,
			Optimizer:          t.Optimizer,
			BatchSize:          t.BatchSize,
			EffectiveBatchSize: t.EffectiveBatchSize,
			Epochs:             t.Epochs,
			HeldOutFraction:    t.HeldOutFraction,
			CheckpointInterval: t.CheckpointInterval,
			KeepCheckpoints:    2,
			MaxSkipRate:        t.MaxSkipRate,
			SavePolicy:         string(t.SavePolicy),
			Patience:           t.Patience,
			Workers:            t.Workers,
			Seed:               t.Seed,
		},
		Log: Log{Level: "info", Format: "console"},
	}
}

// Load reads a configuration file based on its extension on top of
// Default. Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("%w: empty config path", ErrInvalidConfig)
	}
	b, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config extension: %s", ErrInvalidConfig, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// Validate checks every section that a command uses.
func (c Config) Validate() error {
	for _, ec := range c.Generate.ECCodes {
		if _, err := prompt.ParseEC(ec); err != nil {
			return err
		}
	}
	if c.Generate.NumSequences < 0 {
		return fmt.Errorf("%w: num_sequences must be >= 0", ErrInvalidConfig)
	}
	if err := c.GenerateConfig().Validate(); err != nil {
		return fmt.Errorf("%w: generate: %w", ErrInvalidConfig, err)
	}
	if err := c.FilterConfig().Validate(); err != nil {
		return fmt.Errorf("%w: filter: %w", ErrInvalidConfig, err)
	}
	if c.Train.KeepCheckpoints < 0 {
		return fmt.Errorf("%w: keep_checkpoints must be >= 0", ErrInvalidConfig)
	}
	if err := c.TrainConfig().Validate(); err != nil {
		return fmt.Errorf("%w: train: %w", ErrInvalidConfig, err)
	}
	if c.Model.Workers < 0 {
		return fmt.Errorf("%w: model.workers must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// GenerateConfig converts the generate section.
func (c Config) GenerateConfig() generate.Config {
	g := generate.DefaultConfig()
	g.Temperature = c.Generate.Temperature
	g.TopK = c.Generate.TopK
	g.TopP = c.Generate.TopP
	g.MinP = c.Generate.MinP
	g.RepeatPenalty = c.Generate.RepetitionPenalty
	g.MaxLength = c.Generate.MaxLength
	g.BatchSize = c.Generate.BatchSize
	g.Seed = c.Generate.Seed
	return g
}

// FilterConfig converts the filter section.
func (c Config) FilterConfig() filter.Config {
	return filter.Config{
		Policy:            filter.Policy(c.Filter.Policy),
		DropTruncated:     c.Filter.DropTruncated,
		ModelWeight:       c.Filter.ModelWeight,
		PredictorWeight:   c.Filter.PredictorWeight,
		MinPredictorScore: c.Filter.MinPredictorScore,
		PredictorTimeout:  time.Duration(c.Filter.PredictorTimeout * float64(time.Second)),
		PredictorAttempts: c.Filter.PredictorAttempts,
		Limit:             c.Filter.Limit,
	}
}

// Predictor returns the configured external predictor, or nil.
func (c Config) Predictor() filter.Predictor {
	if len(c.Filter.PredictorCommand) == 0 {
		return nil
	}
	return filter.ExecPredictor{Command: c.Filter.PredictorCommand[0], Args: c.Filter.PredictorCommand[1:]}
}

// TrainConfig converts the train section.
func (c Config) TrainConfig() train.Config {
	return train.Config{
		LearningRate:       c.Train.LearningRate,
		Optimizer:          c.Train.Optimizer,
		BatchSize:          c.Train.BatchSize,
		EffectiveBatchSize: c.Train.EffectiveBatchSize,
		Epochs:             c.Train.Epochs,
		HeldOutFraction:    c.Train.HeldOutFraction,
		CheckpointInterval: c.Train.CheckpointInterval,
		MaxSkipRate:        c.Train.MaxSkipRate,
		SavePolicy:         train.SavePolicy(c.Train.SavePolicy),
		Patience:           c.Train.Patience,
		Workers:            c.Train.Workers,
		Seed:               c.Train.Seed,
	}
}
