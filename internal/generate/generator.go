package generate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/born-ml/zymctrl/internal/metrics"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// BatchInfo describes one finished batch.
type BatchInfo struct {
	Code     string
	Batch    int
	Size     int
	Steps    int
	Duration time.Duration
}

// Engine samples candidates from a language model.
type Engine struct {
	vocab   *vocab.Vocabulary
	logger  zerolog.Logger
	onBatch func(context.Context, BatchInfo)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBatchHook registers a callback run after every batch.
func WithBatchHook(fn func(context.Context, BatchInfo)) Option {
	return func(e *Engine) { e.onBatch = fn }
}

// NewEngine creates an engine for vocabulary v.
func NewEngine(v *vocab.Vocabulary, opts ...Option) *Engine {
	e := &Engine{vocab: v, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate prepares a stream of count candidates for p. Nothing is sampled
// until the stream is read; invalid arguments fail here, before any model
// call.
func (e *Engine) Generate(ctx context.Context, m model.LanguageModel, p prompt.Prompt, count int, cfg Config) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: count must be >= 0, got %d", ErrInvalidConfig, count)
	}
	stop, ok := e.vocab.ID(cfg.StopToken)
	if !ok {
		return nil, fmt.Errorf("%w: stop token %q not in vocabulary", ErrInvalidConfig, cfg.StopToken)
	}
	if p.Len() >= cfg.MaxLength {
		return nil, fmt.Errorf("%w: %d prompt tokens, max_length %d", ErrPromptTooLong, p.Len(), cfg.MaxLength)
	}
	if m.VocabSize() != e.vocab.Size() {
		return nil, fmt.Errorf("%w: model vocabulary %d, codec %d", ErrInvalidConfig, m.VocabSize(), e.vocab.Size())
	}

	seed := cfg.Seed
	if seed < 0 {
		seed = rand.Int63() //nolint:gosec // seed choice, not security
	}

	return &Stream{
		engine: e,
		ctx:    ctx,
		model:  m,
		prompt: p,
		cfg:    cfg,
		stop:   stop,
		eos:    e.vocab.EOS(),
		count:  count,
		seed:   seed,
		done:   count == 0,
	}, nil
}

// Stream yields candidates lazily. It is single-use and not safe for
// concurrent use.
type Stream struct {
	engine *Engine
	ctx    context.Context
	model  model.LanguageModel
	prompt prompt.Prompt
	cfg    Config
	stop   int32
	eos    int32
	count  int
	seed   int64

	produced   int
	batch      int
	buf        []Candidate
	done       bool
	incomplete bool
	err        error
}

// Next returns the next candidate. It returns false once count candidates
// have been yielded, the context is canceled, or the model fails; check
// Err and Incomplete to tell these apart.
func (s *Stream) Next() (Candidate, bool) {
	if len(s.buf) == 0 && !s.done {
		s.fill()
	}
	if len(s.buf) == 0 {
		return Candidate{}, false
	}
	c := s.buf[0]
	s.buf = s.buf[1:]
	return c, true
}

// Collect drains the remaining candidates.
func (s *Stream) Collect() []Candidate {
	var out []Candidate
	for {
		c, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// Incomplete reports whether the stream stopped early on cancellation.
func (s *Stream) Incomplete() bool { return s.incomplete }

// Err returns the model error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// Seed returns the effective seed.
func (s *Stream) Seed() int64 { return s.seed }

// Remaining returns how many candidates have not been sampled yet.
func (s *Stream) Remaining() int { return s.count - s.produced }

func (s *Stream) fill() {
	if err := s.ctx.Err(); err != nil {
		s.incomplete, s.done = true, true
		return
	}
	n := min(s.cfg.BatchSize, s.count-s.produced)
	start := time.Now()
	cands, steps, err := s.sampleBatch(s.produced, n)
	switch {
	case err != nil && s.ctx.Err() != nil:
		s.incomplete, s.done = true, true
		return
	case err != nil:
		s.err, s.done = err, true
		s.engine.logger.Error().Err(err).Str("ec", s.prompt.Code().String()).Int("batch", s.batch).Msg("generation batch failed")
		return
	}

	info := BatchInfo{
		Code:     s.prompt.Code().String(),
		Batch:    s.batch,
		Size:     n,
		Steps:    steps,
		Duration: time.Since(start),
	}
	metrics.ObserveGenerationBatch(info.Duration)
	for _, c := range cands {
		metrics.ObserveCandidate(string(c.StopReason))
	}
	s.engine.logger.Debug().
		Str("ec", info.Code).
		Int("batch", info.Batch).
		Int("size", info.Size).
		Int("steps", info.Steps).
		Dur("duration", info.Duration).
		Msg("generated batch")
	if s.engine.onBatch != nil {
		s.engine.onBatch(s.ctx, info)
	}

	s.buf = cands
	s.produced += n
	s.batch++
	s.done = s.produced >= s.count
}

// sampleBatch decodes candidates [first, first+n) together, one batched
// forward pass per step over the sequences still running.
func (s *Stream) sampleBatch(first, n int) ([]Candidate, int, error) {
	promptTokens := s.prompt.Tokens()
	maxNew := s.cfg.MaxLength - len(promptTokens)

	type running struct {
		seq     []int32
		sampler *Sampler
		cand    Candidate
	}
	rows := make([]*running, n)
	for i := range rows {
		idx := first + i
		rows[i] = &running{
			seq:     append(make([]int32, 0, s.cfg.MaxLength), promptTokens...),
			sampler: NewSampler(s.cfg.sampling(candidateSeed(s.seed, idx))),
			cand:    Candidate{Index: idx, Batch: s.batch},
		}
	}

	active := rows
	steps := 0
	for len(active) > 0 {
		if err := s.ctx.Err(); err != nil {
			return nil, steps, err
		}
		batch := make([][]int32, len(active))
		for i, r := range active {
			batch[i] = r.seq
		}
		logits, err := s.model.Forward(batch)
		if err != nil {
			return nil, steps, fmt.Errorf("forward step %d: %w", steps, err)
		}
		if len(logits) != len(batch) {
			return nil, steps, fmt.Errorf("forward step %d: model returned %d rows for %d sequences", steps, len(logits), len(batch))
		}
		steps++

		next := active[:0]
		for i, r := range active {
			tok, lp := r.sampler.Sample(logits[i], r.cand.Tokens)
			r.seq = append(r.seq, tok)
			r.cand.Tokens = append(r.cand.Tokens, tok)
			r.cand.LogProbs = append(r.cand.LogProbs, lp)
			r.cand.Score += lp

			switch {
			case tok == s.stop:
				r.cand.StopReason = StopToken
			case tok == s.eos:
				r.cand.StopReason = StopEOS
			case len(r.cand.Tokens) >= maxNew:
				r.cand.StopReason = StopMaxLength
			default:
				next = append(next, r)
			}
		}
		active = next
	}

	out := make([]Candidate, n)
	for i, r := range rows {
		out[i] = r.cand
	}
	return out, steps, nil
}

// candidateSeed derives an independent seed for candidate i (splitmix64).
func candidateSeed(seed int64, i int) int64 {
	z := uint64(seed) + uint64(i+1)*0x9E3779B97F4A7C15 //nolint:gosec // bit mixing
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z ^= z >> 31
	return int64(z >> 1) //nolint:gosec // top bit cleared, fits int64
}
