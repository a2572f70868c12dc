// Package generate samples enzyme sequences from a language model
// conditioned on a control-code prompt.
//
// The Engine produces candidates lazily, one batch at a time, through a
// Stream. Every candidate owns a Sampler seeded from the run seed and its
// index, so a fixed seed reproduces the same candidates in the same order
// regardless of batch size.
package generate

import (
	"math"
	"math/rand"
	"sort"
)

// SamplingConfig configures the sampling strategy for one candidate.
type SamplingConfig struct {
	// Temperature controls randomness. Must be > 0; 1 = unmodified.
	Temperature float32

	// TopK limits sampling to top K tokens. 0 = disabled.
	TopK int

	// TopP (nucleus sampling) limits to tokens with cumulative prob < P. 1.0 = disabled.
	TopP float32

	// MinP filters tokens with prob < max_prob * MinP. 0 = disabled.
	MinP float32

	// Repetition control
	RepeatPenalty    float32 // Penalty for repeated tokens. 1.0 = no penalty.
	FrequencyPenalty float32 // Penalty based on frequency. 0 = disabled.
	PresencePenalty  float32 // Penalty for presence. 0 = disabled.
	RepeatWindow     int     // Number of tokens to consider. 0 = all.

	// Seed for reproducibility. -1 = random.
	Seed int64
}

// DefaultSamplingConfig returns the neutral configuration: plain softmax
// sampling with no filtering or penalties.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:      1.0,
		TopK:             0,
		TopP:             1.0,
		MinP:             0.0,
		RepeatPenalty:    1.0,
		FrequencyPenalty: 0.0,
		PresencePenalty:  0.0,
		RepeatWindow:     0,
		Seed:             -1,
	}
}

// Sampler samples tokens from logits using configurable strategies.
// It is not safe for concurrent use.
type Sampler struct {
	config SamplingConfig
	rng    *rand.Rand
}

// NewSampler creates a new sampler with the given configuration.
func NewSampler(config SamplingConfig) *Sampler {
	var rng *rand.Rand
	if config.Seed >= 0 {
		rng = rand.New(rand.NewSource(config.Seed)) //nolint:gosec // Intentional deterministic seed for reproducibility
	} else {
		rng = rand.New(rand.NewSource(rand.Int63())) //nolint:gosec // User requested random seed
	}

	return &Sampler{
		config: config,
		rng:    rng,
	}
}

// Sample returns the next token ID and its log-probability under the final
// (penalized, tempered, filtered) distribution.
//
// The sampling process:
//  1. Apply repetition penalty
//  2. Apply frequency/presence penalties
//  3. Apply temperature scaling
//  4. Apply Top-K filtering
//  5. Apply Top-P (nucleus) filtering
//  6. Apply Min-P filtering
//  7. Sample from distribution
func (s *Sampler) Sample(logits []float32, previousTokens []int32) (int32, float64) {
	// Make a copy to avoid modifying original
	logits = append([]float32{}, logits...)

	if s.config.RepeatPenalty != 1.0 && s.config.RepeatPenalty > 0 && len(previousTokens) > 0 {
		s.applyRepetitionPenalty(logits, previousTokens)
	}

	if s.config.FrequencyPenalty != 0 || s.config.PresencePenalty != 0 {
		s.applyFrequencyPenalty(logits, previousTokens)
	}

	if s.config.Temperature > 0 && s.config.Temperature != 1.0 {
		for i := range logits {
			logits[i] /= s.config.Temperature
		}
	}

	if s.config.TopK > 0 && s.config.TopK < len(logits) {
		logits = s.topKFilter(logits)
	}

	if s.config.TopP < 1.0 && s.config.TopP > 0 {
		logits = s.topPFilter(logits)
	}

	if s.config.MinP > 0 {
		logits = s.minPFilter(logits)
	}

	probs := softmax(logits)
	tok := s.multinomial(probs)
	return tok, math.Log(float64(probs[tok]))
}

// recent returns the tail of prev covered by the repeat window.
func (s *Sampler) recent(prev []int32) []int32 {
	window := s.config.RepeatWindow
	if window > 0 && len(prev) > window {
		return prev[len(prev)-window:]
	}
	return prev
}

// applyRepetitionPenalty penalizes tokens that appeared recently.
func (s *Sampler) applyRepetitionPenalty(logits []float32, prev []int32) {
	penalty := s.config.RepeatPenalty

	seen := make(map[int32]bool)
	for _, tok := range s.recent(prev) {
		seen[tok] = true
	}

	for tok := range seen {
		if tok >= 0 && int(tok) < len(logits) {
			if logits[tok] > 0 {
				logits[tok] /= penalty
			} else {
				logits[tok] *= penalty
			}
		}
	}
}

// applyFrequencyPenalty penalizes based on token frequency.
func (s *Sampler) applyFrequencyPenalty(logits []float32, prev []int32) {
	freqPen := s.config.FrequencyPenalty
	presPen := s.config.PresencePenalty

	freq := make(map[int32]int)
	for _, tok := range s.recent(prev) {
		freq[tok]++
	}

	for tok, count := range freq {
		if tok >= 0 && int(tok) < len(logits) {
			logits[tok] -= freqPen * float32(count)
			logits[tok] -= presPen
		}
	}
}

// topKFilter keeps only top K logits, sets rest to -inf. Ties at the
// threshold are kept.
func (s *Sampler) topKFilter(logits []float32) []float32 {
	k := s.config.TopK

	sorted := append([]float32{}, logits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	threshold := sorted[k-1]

	for i := range logits {
		if logits[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}

	return logits
}

// topPFilter implements nucleus sampling: the smallest set of most likely
// tokens whose cumulative probability exceeds P.
func (s *Sampler) topPFilter(logits []float32) []float32 {
	p := s.config.TopP
	probs := softmax(logits)

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	keep := make([]bool, len(probs))
	cumSum := float32(0)
	for _, idx := range order {
		keep[idx] = true
		cumSum += probs[idx]
		if cumSum > p {
			break
		}
	}

	for i := range logits {
		if !keep[i] {
			logits[i] = float32(math.Inf(-1))
		}
	}

	return logits
}

// minPFilter keeps tokens with prob >= max_prob * minP.
func (s *Sampler) minPFilter(logits []float32) []float32 {
	probs := softmax(logits)

	maxProb := float32(0)
	for _, p := range probs {
		maxProb = max(maxProb, p)
	}
	threshold := maxProb * s.config.MinP

	for i := range logits {
		if probs[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}

	return logits
}

// multinomial samples from a categorical distribution. Zero-probability
// tokens are never returned.
func (s *Sampler) multinomial(probs []float32) int32 {
	r := s.rng.Float32()

	cumSum := float32(0)
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		last = i
		cumSum += p
		if r < cumSum {
			return int32(i) //nolint:gosec // vocab size is bounded by model architecture
		}
	}

	// Rounding left r above the total mass.
	return int32(last) //nolint:gosec // vocab size is bounded by model architecture
}

// softmax converts logits to probabilities.
func softmax(logits []float32) []float32 {
	maxVal := float32(math.Inf(-1))
	for _, v := range logits {
		maxVal = max(maxVal, v)
	}

	probs := make([]float32, len(logits))
	sum := float32(0)
	for i, v := range logits {
		if math.IsInf(float64(v), -1) {
			continue
		}
		probs[i] = float32(math.Exp(float64(v - maxVal)))
		sum += probs[i]
	}

	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}

	return probs
}
