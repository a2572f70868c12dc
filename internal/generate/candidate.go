package generate

import (
	"github.com/born-ml/zymctrl/internal/vocab"
)

// StopReason records why a candidate ended.
type StopReason string

// Stop reasons.
const (
	StopToken     StopReason = "stop_token"
	StopEOS       StopReason = "eos"
	StopMaxLength StopReason = "max_length"
)

// Candidate is one sampled sequence.
type Candidate struct {
	// Index is the position in the generation order, starting at 0.
	Index int

	// Batch is the index of the batch the candidate was sampled in.
	Batch int

	// Tokens holds generated tokens only, including a final stop token.
	Tokens []int32

	// LogProbs are per-token log-probabilities under the sampling distribution.
	LogProbs []float64

	// Score is the sum of LogProbs.
	Score float64

	StopReason StopReason
}

// Symbols decodes the amino-acid part of the candidate.
func (c Candidate) Symbols(v *vocab.Vocabulary) string {
	return v.DecodeSequence(c.Tokens)
}

// Truncated reports whether the candidate hit the length limit.
func (c Candidate) Truncated() bool {
	return c.StopReason == StopMaxLength
}
