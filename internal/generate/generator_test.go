package generate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// mockModel returns fixed logits and counts calls.
type mockModel struct {
	vocabSize int
	logits    func(seq []int32) []float32
	calls     atomic.Int32
	maxBatch  atomic.Int32
	err       error
}

func (m *mockModel) VocabSize() int { return m.vocabSize }

func (m *mockModel) Forward(batch [][]int32) ([][]float32, error) {
	m.calls.Add(1)
	if int32(len(batch)) > m.maxBatch.Load() {
		m.maxBatch.Store(int32(len(batch)))
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(batch))
	for i, seq := range batch {
		out[i] = m.logits(seq)
	}
	return out, nil
}

// aminoOnly puts all mass on amino acids, so candidates only stop at the
// length limit.
func aminoOnly(v *vocab.Vocabulary) *mockModel {
	return &mockModel{vocabSize: v.Size(), logits: func([]int32) []float32 {
		l := make([]float32, v.Size())
		for id := range l {
			if !v.IsAminoAcid(int32(id)) {
				l[id] = -1e9
			}
		}
		return l
	}}
}

func testPrompt(t *testing.T, v *vocab.Vocabulary) prompt.Prompt {
	t.Helper()
	p, err := prompt.Build(v, "1.1.1.1")
	require.NoError(t, err)
	return p
}

func TestGenerateZeroCountMakesNoModelCalls(t *testing.T) {
	v := vocab.Default()
	m := aminoOnly(v)

	s, err := NewEngine(v).Generate(context.Background(), m, testPrompt(t, v), 0, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, s.Collect())
	assert.False(t, s.Incomplete())
	assert.Zero(t, m.calls.Load())
}

func TestGenerateRejectsBadArguments(t *testing.T) {
	v := vocab.Default()
	e := NewEngine(v)
	p := testPrompt(t, v)
	m := aminoOnly(v)

	mutate := func(f func(*Config)) Config {
		c := DefaultConfig()
		f(&c)
		return c
	}
	tests := []struct {
		name  string
		cfg   Config
		count int
		want  error
	}{
		{"zero temperature", mutate(func(c *Config) { c.Temperature = 0 }), 1, ErrInvalidConfig},
		{"top_p zero", mutate(func(c *Config) { c.TopP = 0 }), 1, ErrInvalidConfig},
		{"top_p above one", mutate(func(c *Config) { c.TopP = 1.5 }), 1, ErrInvalidConfig},
		{"negative top_k", mutate(func(c *Config) { c.TopK = -1 }), 1, ErrInvalidConfig},
		{"zero batch", mutate(func(c *Config) { c.BatchSize = 0 }), 1, ErrInvalidConfig},
		{"zero max_length", mutate(func(c *Config) { c.MaxLength = 0 }), 1, ErrInvalidConfig},
		{"unknown stop token", mutate(func(c *Config) { c.StopToken = "<nope>" }), 1, ErrInvalidConfig},
		{"negative count", DefaultConfig(), -1, ErrInvalidConfig},
		{"prompt fills max_length", mutate(func(c *Config) { c.MaxLength = p.Len() }), 1, ErrPromptTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Generate(context.Background(), m, p, tt.count, tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, m.calls.Load())
}

func TestCandidatesRespectMaxLength(t *testing.T) {
	v := vocab.Default()
	p := testPrompt(t, v)
	cfg := DefaultConfig()
	cfg.MaxLength = p.Len() + 6
	cfg.Seed = 1

	s, err := NewEngine(v).Generate(context.Background(), aminoOnly(v), p, 7, cfg)
	require.NoError(t, err)
	cands := s.Collect()
	require.Len(t, cands, 7)

	for i, c := range cands {
		assert.Equal(t, i, c.Index)
		assert.Len(t, c.Tokens, 6)
		assert.LessOrEqual(t, p.Len()+len(c.Tokens), cfg.MaxLength)
		assert.Equal(t, StopMaxLength, c.StopReason)
		assert.True(t, c.Truncated())
		assert.Len(t, c.LogProbs, len(c.Tokens))
		assert.Len(t, c.Symbols(v), 6)
	}
}

func TestStopTokenEndsCandidate(t *testing.T) {
	v := vocab.Default()
	m := &mockModel{vocabSize: v.Size(), logits: func(seq []int32) []float32 {
		l := make([]float32, v.Size())
		for id := range l {
			l[id] = -1e9
		}
		// Two residues, then <end>.
		if seq[len(seq)-1] == v.Start() || v.IsAminoAcid(seq[len(seq)-1]) && !v.IsAminoAcid(seq[len(seq)-2]) {
			mID, _ := v.ID("M")
			l[mID] = 0
		} else {
			l[v.End()] = 0
		}
		return l
	}}

	cfg := DefaultConfig()
	cfg.Seed = 3
	s, err := NewEngine(v).Generate(context.Background(), m, testPrompt(t, v), 3, cfg)
	require.NoError(t, err)

	for _, c := range s.Collect() {
		assert.Equal(t, StopToken, c.StopReason)
		assert.Equal(t, v.End(), c.Tokens[len(c.Tokens)-1])
		assert.Equal(t, "MM", c.Symbols(v))
		assert.InDelta(t, 0, c.Score, 1e-9)
	}
}

func TestEOSStopsCandidate(t *testing.T) {
	v := vocab.Default()
	m := &mockModel{vocabSize: v.Size(), logits: func([]int32) []float32 {
		l := make([]float32, v.Size())
		for id := range l {
			l[id] = -1e9
		}
		l[v.EOS()] = 0
		return l
	}}

	s, err := NewEngine(v).Generate(context.Background(), m, testPrompt(t, v), 2, DefaultConfig())
	require.NoError(t, err)
	for _, c := range s.Collect() {
		assert.Equal(t, StopEOS, c.StopReason)
		assert.Empty(t, c.Symbols(v))
	}
}

func TestSameSeedSameCandidatesAcrossBatchSizes(t *testing.T) {
	v := vocab.Default()
	p := testPrompt(t, v)

	run := func(batch int) []Candidate {
		cfg := DefaultConfig()
		cfg.Seed = 42
		cfg.TopK = 9
		cfg.RepeatPenalty = 1.2
		cfg.MaxLength = p.Len() + 12
		cfg.BatchSize = batch
		s, err := NewEngine(v).Generate(context.Background(), aminoOnly(v), p, 10, cfg)
		require.NoError(t, err)
		assert.Equal(t, int64(42), s.Seed())
		return s.Collect()
	}

	tokens := func(cs []Candidate) [][]int32 {
		out := make([][]int32, len(cs))
		for i, c := range cs {
			out[i] = c.Tokens
		}
		return out
	}

	a := run(10)
	assert.Equal(t, a, run(10))
	assert.Equal(t, tokens(a), tokens(run(3)))
	assert.NotEqual(t, a[0].Tokens, a[1].Tokens, "candidates use independent streams")
}

func TestStreamIsLazyAndBatched(t *testing.T) {
	v := vocab.Default()
	p := testPrompt(t, v)
	m := aminoOnly(v)
	cfg := DefaultConfig()
	cfg.MaxLength = p.Len() + 4
	cfg.BatchSize = 5

	var infos []BatchInfo
	e := NewEngine(v, WithBatchHook(func(_ context.Context, info BatchInfo) { infos = append(infos, info) }))
	s, err := e.Generate(context.Background(), m, p, 12, cfg)
	require.NoError(t, err)
	assert.Zero(t, m.calls.Load(), "nothing is sampled before the first Next")

	_, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, int32(4), m.calls.Load(), "one forward pass per step for the first batch")
	assert.Equal(t, 7, s.Remaining())

	rest := s.Collect()
	assert.Len(t, rest, 11)
	assert.Equal(t, int32(5), m.maxBatch.Load())
	require.Len(t, infos, 3)
	assert.Equal(t, []int{5, 5, 2}, []int{infos[0].Size, infos[1].Size, infos[2].Size})
	assert.Equal(t, 2, rest[len(rest)-1].Batch)

	_, ok = s.Next()
	assert.False(t, ok, "streams are not restartable")
}

func TestCancellationEndsStreamAtBatchBoundary(t *testing.T) {
	v := vocab.Default()
	p := testPrompt(t, v)
	cfg := DefaultConfig()
	cfg.MaxLength = p.Len() + 3
	cfg.BatchSize = 4

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := NewEngine(v).Generate(ctx, aminoOnly(v), p, 20, cfg)
	require.NoError(t, err)

	var got []Candidate
	for {
		c, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, c)
		if len(got) == 6 {
			cancel()
		}
	}
	assert.Len(t, got, 8, "the buffered batch is still delivered")
	assert.True(t, s.Incomplete())
	assert.NoError(t, s.Err())
}

func TestModelErrorEndsStream(t *testing.T) {
	v := vocab.Default()
	m := aminoOnly(v)
	m.err = errors.New("oracle down")

	s, err := NewEngine(v).Generate(context.Background(), m, testPrompt(t, v), 3, DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, s.Collect())
	assert.ErrorIs(t, s.Err(), m.err)
	assert.False(t, s.Incomplete())
}

func TestWorksWithContextModel(t *testing.T) {
	v := vocab.Default()
	p := testPrompt(t, v)
	cfg := DefaultConfig()
	cfg.MaxLength = 40
	cfg.Seed = 5

	s, err := NewEngine(v).Generate(context.Background(), model.NewContextModel(v), p, 4, cfg)
	require.NoError(t, err)
	cands := s.Collect()
	require.Len(t, cands, 4)
	for _, c := range cands {
		assert.LessOrEqual(t, p.Len()+len(c.Tokens), cfg.MaxLength)
	}
}
