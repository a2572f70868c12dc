// Package model defines the sequence model oracle used by generation,
// fine-tuning and scoring, plus the one concrete implementation shipped with
// zymctrl.
//
// Consumers only see LanguageModel (next-token logits for a batch of
// prefixes) or Trainable (adds parameters and gradients). Weights live in a
// tensor.StateDict so they can be checkpointed and published as immutable
// snapshots through a Store.
package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/zymctrl/internal/tensor"
)

// Errors returned by models.
var (
	ErrEmptySequence   = errors.New("empty input sequence")
	ErrTokenOutOfRange = errors.New("token id out of range")
	ErrIncompatible    = errors.New("incompatible model weights")
)

// LanguageModel is the interface for autoregressive models used in generation.
type LanguageModel interface {
	// VocabSize returns the vocabulary size.
	VocabSize() int

	// Forward returns next-token logits for every sequence in the batch.
	// Output shape: [len(batch)][VocabSize()].
	Forward(batch [][]int32) ([][]float32, error)
}

// Example is one supervised sequence: the model conditions on Prompt and is
// trained to emit Target token by token.
type Example struct {
	Prompt []int32
	Target []int32
}

// Trainable is a LanguageModel whose weights can be optimized.
type Trainable interface {
	LanguageModel

	// Params returns the live parameter tensors. Callers that mutate them
	// own the model.
	Params() tensor.StateDict

	// Gradients accumulates d(sum NLL)/d(params) over every target token of
	// examples into grads, which must be shaped like Params(). It returns the
	// summed negative log-likelihood and the number of target tokens.
	Gradients(examples []Example, grads tensor.StateDict) (nll float64, tokens int, err error)

	// Clone returns a deep copy that shares no memory with the receiver.
	Clone() Trainable
}

// LogSoftmax converts logits to log-probabilities using the log-sum-exp trick.
func LogSoftmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	var sum float64
	for _, l := range logits {
		sum += math.Exp(float64(l) - maxLogit)
	}
	logSum := maxLogit + math.Log(sum)

	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = float64(l) - logSum
	}
	return out
}

// TokenLogProbs returns log p(target[t] | prompt, target[:t]) for every t
// under the plain softmax of m, with one batched forward pass.
func TokenLogProbs(m LanguageModel, prompt, target []int32) ([]float64, error) {
	if len(target) == 0 {
		return nil, nil
	}
	seq := make([]int32, 0, len(prompt)+len(target))
	seq = append(seq, prompt...)
	seq = append(seq, target...)

	batch := make([][]int32, len(target))
	for t := range target {
		batch[t] = seq[:len(prompt)+t]
	}
	logits, err := m.Forward(batch)
	if err != nil {
		return nil, err
	}
	if len(logits) != len(batch) {
		return nil, fmt.Errorf("model returned %d rows for %d prefixes", len(logits), len(batch))
	}

	out := make([]float64, len(target))
	for t, tok := range target {
		if int(tok) < 0 || int(tok) >= len(logits[t]) {
			return nil, fmt.Errorf("%w: %d", ErrTokenOutOfRange, tok)
		}
		out[t] = LogSoftmax(logits[t])[tok]
	}
	return out, nil
}

// Perplexity returns exp(mean NLL) of target given prompt.
func Perplexity(m LanguageModel, prompt, target []int32) (float64, error) {
	lps, err := TokenLogProbs(m, prompt, target)
	if err != nil {
		return 0, err
	}
	if len(lps) == 0 {
		return math.NaN(), nil
	}
	var sum float64
	for _, lp := range lps {
		sum += lp
	}
	return math.Exp(-sum / float64(len(lps))), nil
}
