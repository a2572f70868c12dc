// Package filter deduplicates, rescores and ranks generated candidates.
//
// Every surviving candidate is rescored with the plain softmax of the
// model (no temperature, top-k or top-p), so rankings do not depend on the
// sampling settings used to produce them. An optional Predictor adds an
// external score that is combined according to the configured Policy.
package filter

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/metrics"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Drop reasons, also used as metric outcomes.
const (
	OutcomeRetained       = "retained"
	OutcomeDuplicate      = "duplicate"
	OutcomeTruncated      = "truncated"
	OutcomeEmpty          = "empty"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeOverLimit      = "over_limit"
)

// Ranked is one retained candidate.
type Ranked struct {
	Candidate generate.Candidate

	// Sequence holds the amino-acid symbols of the candidate.
	Sequence string

	// MeanLogProb is the mean per-token log-probability under the model.
	MeanLogProb float64
	Perplexity  float64

	PredictorScore float64
	HasPredictor   bool

	// Combined is the ranking key, higher is better.
	Combined float64

	// Rank starts at 1.
	Rank int
}

// Ranking is the output of FilterAndRank.
type Ranking struct {
	Code  prompt.ECCode
	Items []Ranked

	// Dropped counts removed candidates by outcome.
	Dropped map[string]int

	// Degraded is set when the predictor failed and the call fell back to
	// model-only ranking.
	Degraded bool
}

// Summary is passed to the completion hook.
type Summary struct {
	Code     string
	Input    int
	Retained int
	Dropped  map[string]int
	Degraded bool
}

// Filter ranks candidates. It is safe for concurrent use.
type Filter struct {
	vocab     *vocab.Vocabulary
	predictor Predictor
	logger    zerolog.Logger
	onDone    func(context.Context, Summary)
}

// Option configures a Filter.
type Option func(*Filter)

// WithPredictor sets the external property predictor.
func WithPredictor(p Predictor) Option {
	return func(f *Filter) { f.predictor = p }
}

// WithLogger sets the filter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Filter) { f.logger = l }
}

// WithHook registers a callback run after every FilterAndRank.
func WithHook(fn func(context.Context, Summary)) Option {
	return func(f *Filter) { f.onDone = fn }
}

// New returns a filter for candidates encoded with v.
func New(v *vocab.Vocabulary, opts ...Option) *Filter {
	f := &Filter{vocab: v, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FilterAndRank drops duplicates (first occurrence wins, even when it is
// later dropped as empty or truncated), then empty and optionally truncated
// candidates, rescores the rest under m and sorts them by combined score,
// best first. Ties keep generation order.
func (f *Filter) FilterAndRank(ctx context.Context, cands []generate.Candidate, p prompt.Prompt, m model.LanguageModel, cfg Config) (*Ranking, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Ranking{Code: p.Code(), Dropped: map[string]int{}}

	seen := make(map[string]struct{}, len(cands))
	prefix := p.Tokens()
	for _, c := range cands {
		seq := c.Symbols(f.vocab)
		if _, dup := seen[seq]; dup {
			r.Dropped[OutcomeDuplicate]++
			continue
		}
		seen[seq] = struct{}{}

		switch {
		case seq == "":
			r.Dropped[OutcomeEmpty]++
			continue
		case cfg.DropTruncated && c.Truncated():
			r.Dropped[OutcomeTruncated]++
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lps, err := model.TokenLogProbs(m, prefix, c.Tokens)
		if err != nil {
			return nil, err
		}
		var sum float64
		for _, lp := range lps {
			sum += lp
		}
		mean := sum / float64(len(lps))
		r.Items = append(r.Items, Ranked{
			Candidate:   c,
			Sequence:    seq,
			MeanLogProb: mean,
			Perplexity:  math.Exp(-mean),
			Combined:    mean,
		})
	}

	if f.predictor != nil && len(r.Items) > 0 {
		if err := f.applyPredictor(ctx, r, cfg); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if a.Combined != b.Combined {
			return a.Combined > b.Combined
		}
		return a.Candidate.Index < b.Candidate.Index
	})
	if cfg.Limit > 0 && len(r.Items) > cfg.Limit {
		r.Dropped[OutcomeOverLimit] += len(r.Items) - cfg.Limit
		r.Items = r.Items[:cfg.Limit]
	}
	for i := range r.Items {
		r.Items[i].Rank = i + 1
	}

	metrics.ObserveFilter(OutcomeRetained, len(r.Items))
	for outcome, n := range r.Dropped {
		metrics.ObserveFilter(outcome, n)
	}
	f.logger.Debug().
		Str("ec", r.Code.String()).
		Int("input", len(cands)).
		Int("retained", len(r.Items)).
		Interface("dropped", r.Dropped).
		Bool("degraded", r.Degraded).
		Msg("candidates ranked")
	if f.onDone != nil {
		f.onDone(ctx, Summary{
			Code:     r.Code.String(),
			Input:    len(cands),
			Retained: len(r.Items),
			Dropped:  r.Dropped,
			Degraded: r.Degraded,
		})
	}
	return r, nil
}

// applyPredictor scores every item. A predictor failure after retries
// degrades the call to model-only ranking; cancellation is returned.
func (f *Filter) applyPredictor(ctx context.Context, r *Ranking, cfg Config) error {
	pipeline := predictorPipeline(f.predictor, cfg)
	scores := make([]float64, len(r.Items))
	for i, item := range r.Items {
		out, err := pipeline.Process(ctx, scoreRequest{sequence: item.Sequence})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.IncPredictorFailure()
			f.logger.Warn().Err(err).Str("ec", r.Code.String()).Msg("predictor failed, ranking by model likelihood only")
			r.Degraded = true
			return nil
		}
		scores[i] = out.score
	}

	kept := r.Items[:0]
	for i, item := range r.Items {
		item.PredictorScore, item.HasPredictor = scores[i], true
		switch cfg.Policy {
		case PolicyWeighted:
			item.Combined = cfg.ModelWeight*item.MeanLogProb + cfg.PredictorWeight*item.PredictorScore
		case PolicyThreshold:
			if item.PredictorScore < cfg.MinPredictorScore {
				r.Dropped[OutcomeBelowThreshold]++
				continue
			}
		}
		kept = append(kept, item)
	}
	r.Items = kept
	return nil
}
