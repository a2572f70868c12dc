package filter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/zoobzio/pipz"
)

// Predictor scores a candidate sequence with an external property model.
// Higher is better.
type Predictor interface {
	Score(ctx context.Context, sequence string) (float64, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, sequence string) (float64, error)

// Score calls f.
func (f PredictorFunc) Score(ctx context.Context, sequence string) (float64, error) {
	return f(ctx, sequence)
}

// ExecPredictor runs Command once per sequence. The sequence is written to
// stdin and stdout must hold a single float.
type ExecPredictor struct {
	Command string
	Args    []string
}

// Score runs the command.
func (e ExecPredictor) Score(ctx context.Context, sequence string) (float64, error) {
	//nolint:gosec // the command is operator configuration
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = strings.NewReader(sequence + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("predictor %s: %w: %s", e.Command, err, strings.TrimSpace(stderr.String()))
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("predictor %s: bad output: %w", e.Command, err)
	}
	return v, nil
}

type scoreRequest struct {
	sequence string
	score    float64
}

// predictorPipeline wraps p with a per-attempt timeout inside a retry.
func predictorPipeline(p Predictor, cfg Config) pipz.Chainable[scoreRequest] {
	call := pipz.Apply("predictor-call", func(ctx context.Context, req scoreRequest) (scoreRequest, error) {
		s, err := p.Score(ctx, req.sequence)
		if err != nil {
			return req, err
		}
		req.score = s
		return req, nil
	})
	var pipeline pipz.Chainable[scoreRequest] = pipz.NewTimeout("predictor-timeout", call, cfg.PredictorTimeout)
	if cfg.PredictorAttempts > 1 {
		pipeline = pipz.NewRetry("predictor-retry", pipeline, cfg.PredictorAttempts)
	}
	return pipeline
}
