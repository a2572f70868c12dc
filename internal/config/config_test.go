package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/prompt"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9, cfg.Generate.TopK)
	assert.Equal(t, float32(1.2), cfg.Generate.RepetitionPenalty)
	assert.Equal(t, 1024, cfg.Generate.MaxLength)
	assert.Equal(t, 2, cfg.Train.KeepCheckpoints)
	assert.True(t, cfg.Filter.DropTruncated)
	assert.Nil(t, cfg.Predictor())
}

func TestLoadFormats(t *testing.T) {
	d := t.TempDir()
	files := map[string]string{
		"cfg.yaml": "generate:\n  ec_codes: [\"1.1.1.1\", \"3.2.1.-\"]\n  num_sequences: 5\n  top_k: 0\ntrain:\n  epochs: 3\n",
		"cfg.json": `{"generate":{"ec_codes":["1.1.1.1","3.2.1.-"],"num_sequences":5,"top_k":0},"train":{"epochs":3}}`,
		"cfg.toml": "[generate]\nec_codes = [\"1.1.1.1\", \"3.2.1.-\"]\nnum_sequences = 5\ntop_k = 0\n[train]\nepochs = 3\n",
	}
	for name, content := range files {
		cfg, err := Load(writeTempFile(t, d, name, content))
		require.NoError(t, err, name)
		assert.Equal(t, []string{"1.1.1.1", "3.2.1.-"}, cfg.Generate.ECCodes, name)
		assert.Equal(t, 5, cfg.Generate.NumSequences, name)
		assert.Equal(t, 0, cfg.Generate.TopK, name)
		assert.Equal(t, 3, cfg.Train.Epochs, name)
		// Untouched fields keep their defaults.
		assert.Equal(t, float32(0.8e-4), cfg.Train.LearningRate, name)
		assert.True(t, cfg.Filter.DropTruncated, name)
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	d := t.TempDir()
	_, err = Load(writeTempFile(t, d, "cfg.txt", "not supported"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(writeTempFile(t, d, "bad.yaml", "generate: [1, 2"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(d, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Generate.ECCodes = []string{"1.1.1"}
	assert.ErrorIs(t, cfg.Validate(), prompt.ErrInvalidCodeFormat)

	cfg = Default()
	cfg.Generate.Temperature = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Generate.NumSequences = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Train.SavePolicy = "never"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = Default()
	cfg.Filter.Policy = "vote"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Filter.PredictorCommand = []string{"score.sh", "--fast"}
	cfg.Filter.PredictorTimeout = 1.5

	fc := cfg.FilterConfig()
	assert.Equal(t, 1500*time.Millisecond, fc.PredictorTimeout)
	assert.Equal(t, filter.PolicyModel, fc.Policy)
	assert.Equal(t, filter.ExecPredictor{Command: "score.sh", Args: []string{"--fast"}}, cfg.Predictor())

	gc := cfg.GenerateConfig()
	assert.Equal(t, 9, gc.TopK)
	assert.Equal(t, "<end>", gc.StopToken)

	tc := cfg.TrainConfig()
	assert.Equal(t, 28, tc.Epochs)
}
