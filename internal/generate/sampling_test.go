package generate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TopK 1 makes a sampler deterministic without a greedy special case.
func pickMax(config SamplingConfig) *Sampler {
	config.TopK = 1
	if config.Temperature == 0 {
		config.Temperature = 1
	}
	return NewSampler(config)
}

func TestTopOneIsArgmax(t *testing.T) {
	sampler := pickMax(SamplingConfig{Seed: 1})

	logits := make([]float32, 5000)
	for i := range logits {
		logits[i] = float32(i) * 0.001
	}
	logits[1234] = 100.0

	for range 10 {
		token, lp := sampler.Sample(logits, nil)
		assert.Equal(t, int32(1234), token)
		assert.Equal(t, 0.0, lp, "a single surviving token has probability 1")
	}
}

func TestTopKSampling(t *testing.T) {
	sampler := NewSampler(SamplingConfig{Temperature: 1.0, TopK: 2, Seed: 42})
	logits := []float32{1, 2, 3, 4, 5}

	counts := make(map[int32]int)
	for range 100 {
		token, lp := sampler.Sample(logits, nil)
		counts[token]++
		assert.Less(t, lp, 0.0)
	}

	assert.Equal(t, 0, counts[0]+counts[1]+counts[2], "Should not sample from filtered tokens")
	assert.Greater(t, counts[3], 0)
	assert.Greater(t, counts[4], counts[3])
}

func TestTopPSampling(t *testing.T) {
	sampler := NewSampler(SamplingConfig{Temperature: 1.0, TopP: 0.5, Seed: 42})

	// Token 4 alone covers more than half the mass.
	logits := []float32{-10, -10, -10, 0, 5}

	for range 50 {
		token, lp := sampler.Sample(logits, nil)
		assert.Equal(t, int32(4), token)
		assert.Equal(t, 0.0, lp)
	}
}

func TestMinPSampling(t *testing.T) {
	sampler := NewSampler(SamplingConfig{Temperature: 1.0, MinP: 0.5, Seed: 42})
	logits := []float32{0, 0, 0, 0, 10}

	counts := make(map[int32]int)
	for range 100 {
		token, _ := sampler.Sample(logits, nil)
		counts[token]++
	}
	assert.Equal(t, 100, counts[4])
}

func TestTemperatureSampling(t *testing.T) {
	t.Run("low temperature", func(t *testing.T) {
		sampler := NewSampler(SamplingConfig{Temperature: 0.1, Seed: 42})
		logits := []float32{1, 2, 3}

		counts := make(map[int32]int)
		for range 100 {
			token, _ := sampler.Sample(logits, nil)
			counts[token]++
		}
		assert.Greater(t, counts[2], 90, "Low temp should favor max")
	})

	t.Run("high temperature", func(t *testing.T) {
		sampler := NewSampler(SamplingConfig{Temperature: 2.0, Seed: 42})
		logits := []float32{1, 2, 3}

		counts := make(map[int32]int)
		for range 100 {
			token, _ := sampler.Sample(logits, nil)
			counts[token]++
		}
		assert.Greater(t, counts[0]+counts[1], 5, "High temp should distribute samples")
	})
}

func TestLogProbMatchesDistribution(t *testing.T) {
	sampler := NewSampler(SamplingConfig{Temperature: 1.0, Seed: 7})
	logits := []float32{0, float32(math.Log(3))}

	for range 20 {
		token, lp := sampler.Sample(logits, nil)
		want := math.Log(0.25)
		if token == 1 {
			want = math.Log(0.75)
		}
		assert.InDelta(t, want, lp, 1e-6)
	}
}

func TestRepetitionPenalty(t *testing.T) {
	sampler := pickMax(SamplingConfig{RepeatPenalty: 2.0, Seed: 3})

	logits := []float32{1.0, 1.0, 1.0}
	prev := []int32{0, 0, 0}

	for range 10 {
		token, _ := sampler.Sample(logits, prev)
		assert.NotEqual(t, int32(0), token, "Penalized token should not be chosen")
	}
}

func TestFrequencyPenalty(t *testing.T) {
	sampler := pickMax(SamplingConfig{RepeatPenalty: 1.0, FrequencyPenalty: 2.0})

	// 1.5 - (2.0 * 5) = -8.5, token 1 stays at 1.0
	logits := []float32{1.5, 1.0, 0.5}
	prev := []int32{0, 0, 0, 0, 0}

	token, _ := sampler.Sample(logits, prev)
	assert.Equal(t, int32(1), token, "Frequency penalized token should not be chosen")
}

func TestPresencePenalty(t *testing.T) {
	sampler := pickMax(SamplingConfig{RepeatPenalty: 1.0, PresencePenalty: 5.0})

	// Token 0: 2.0 - 5.0 = -3.0, token 1: 1.9
	logits := []float32{2.0, 1.9, 1.0}

	token, _ := sampler.Sample(logits, []int32{0})
	assert.Equal(t, int32(1), token, "Presence penalty should make token 1 win")
}

func TestRepeatWindow(t *testing.T) {
	sampler := pickMax(SamplingConfig{RepeatPenalty: 10.0, RepeatWindow: 3})

	logits := []float32{5.0, 1.0, 1.0}
	// Token 0 appeared early but outside window
	prev := []int32{0, 1, 2, 1, 2}

	token, _ := sampler.Sample(logits, prev)
	assert.Equal(t, int32(0), token)
}

func TestDeterministicWithSeed(t *testing.T) {
	config := SamplingConfig{Temperature: 1.0, TopK: 10, Seed: 12345}

	logits := make([]float32, 1000)
	for i := range logits {
		logits[i] = float32(i) * 0.01
	}

	sampler1 := NewSampler(config)
	sampler2 := NewSampler(config)

	for range 10 {
		t1, lp1 := sampler1.Sample(logits, nil)
		t2, lp2 := sampler2.Sample(logits, nil)
		assert.Equal(t, t1, t2, "Same seed should give same results")
		assert.Equal(t, lp1, lp2)
	}
}

func TestSoftmax(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		probs := softmax([]float32{0, 0, 0})
		for _, p := range probs {
			assert.InDelta(t, 1.0/3.0, p, 0.001)
		}
	})

	t.Run("numerical stability", func(t *testing.T) {
		probs := softmax([]float32{1000, 1001, 1002})

		sum := float32(0)
		for _, p := range probs {
			assert.False(t, math.IsNaN(float64(p)), "Should not be NaN")
			assert.False(t, math.IsInf(float64(p), 0), "Should not be Inf")
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 0.001, "Should sum to 1")
	})

	t.Run("with negative infinity", func(t *testing.T) {
		probs := softmax([]float32{float32(math.Inf(-1)), 0, 0})

		assert.Equal(t, float32(0), probs[0])
		assert.InDelta(t, 0.5, probs[1], 0.001)
		assert.InDelta(t, 0.5, probs[2], 0.001)
	})
}

func TestMultinomialSkipsZeroMass(t *testing.T) {
	sampler := NewSampler(SamplingConfig{Temperature: 1, Seed: 9})
	for range 100 {
		assert.Equal(t, int32(1), sampler.multinomial([]float32{0, 1, 0}))
	}
}

func TestDefaultSamplingConfig(t *testing.T) {
	config := DefaultSamplingConfig()

	assert.Equal(t, float32(1.0), config.Temperature)
	assert.Equal(t, 0, config.TopK)
	assert.Equal(t, float32(1.0), config.TopP)
	assert.Equal(t, float32(0.0), config.MinP)
	assert.Equal(t, float32(1.0), config.RepeatPenalty)
	assert.Equal(t, 0, config.RepeatWindow)
	assert.Equal(t, int64(-1), config.Seed)
}

func TestCombinedSampling(t *testing.T) {
	sampler := NewSampler(SamplingConfig{
		Temperature:   0.8,
		TopK:          5,
		TopP:          0.9,
		RepeatPenalty: 1.1,
		Seed:          42,
	})

	logits := make([]float32, 100)
	for i := range logits {
		logits[i] = float32(i) * 0.1
	}
	prev := []int32{95, 96, 97, 98, 99}

	token, lp := sampler.Sample(logits, prev)
	require.GreaterOrEqual(t, token, int32(90))
	require.Less(t, token, int32(100))
	assert.LessOrEqual(t, lp, 0.0)
}

func BenchmarkSampling(b *testing.B) {
	sampler := NewSampler(SamplingConfig{
		Temperature:   1.0,
		TopK:          9,
		RepeatPenalty: 1.2,
		Seed:          42,
	})

	logits := make([]float32, 43)
	for i := range logits {
		logits[i] = float32(i) * 0.01
	}
	prev := make([]int32, 300)
	for i := range prev {
		prev[i] = int32(18 + i%25)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sampler.Sample(logits, prev)
	}
}
