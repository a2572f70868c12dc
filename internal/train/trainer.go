// Package train fine-tunes a model on EC-labelled sequences.
//
// Training minimizes the next-token negative log-likelihood of
// "<control code> <sep> <start> sequence <end>" over the training split,
// evaluates held-out perplexity every CheckpointInterval optimizer steps and
// writes checkpoints through a checkpoint.Manager. The working weights are
// private to the trainer; other readers only ever see published clones.
package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/metrics"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/optim"
	"github.com/born-ml/zymctrl/internal/parallel"
	"github.com/born-ml/zymctrl/internal/tensor"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Evaluation is one held-out measurement.
type Evaluation struct {
	RunID      string
	Step       int64
	Epoch      int
	Perplexity float64
	Improved   bool
	Saved      bool
	Handle     checkpoint.Handle
}

// Result summarizes a Fit call.
type Result struct {
	RunID string

	// Checkpoint is the best state seen, nil if no evaluation beat the
	// baseline. Handle is set when that state was written to disk.
	Checkpoint *checkpoint.Checkpoint
	Handle     checkpoint.Handle
	Saved      bool

	// Model holds the weights of Checkpoint, or the starting weights when
	// Checkpoint is nil.
	Model model.Trainable

	Step               int64
	Skipped            int
	Total              int
	BaselinePerplexity float64
	BestPerplexity     float64
	Evaluations        []Evaluation

	// Incomplete is set when the context was canceled before the last step.
	Incomplete bool
}

// Trainer runs fine-tuning. A Trainer may be reused; Fit calls must not
// overlap.
type Trainer struct {
	vocab  *vocab.Vocabulary
	base   model.Trainable
	ckpt   *checkpoint.Manager
	cfg    Config
	store  *model.Store
	logger zerolog.Logger
	onEval func(context.Context, Evaluation)
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the trainer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithStore publishes a clone of the weights after every evaluation.
func WithStore(s *model.Store) Option {
	return func(t *Trainer) { t.store = s }
}

// WithEvalHook registers a callback run after every evaluation.
func WithEvalHook(fn func(context.Context, Evaluation)) Option {
	return func(t *Trainer) { t.onEval = fn }
}

// New validates cfg and returns a trainer. base is never mutated.
func New(v *vocab.Vocabulary, base model.Trainable, ckpt *checkpoint.Manager, cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base.VocabSize() != v.Size() {
		return nil, fmt.Errorf("%w: model vocabulary %d, codec %d", ErrInvalidConfig, base.VocabSize(), v.Size())
	}
	t := &Trainer{vocab: v, base: base, ckpt: ckpt, cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type fitOptions struct {
	resume *checkpoint.Checkpoint
	runID  string
}

// FitOption configures one Fit call.
type FitOption func(*fitOptions)

// WithResume continues from c: weights, optimizer state and step counter.
func WithResume(c *checkpoint.Checkpoint) FitOption {
	return func(o *fitOptions) { o.resume = c }
}

// WithRunID sets the id recorded in checkpoints. Default: a new UUID.
func WithRunID(id string) FitOption {
	return func(o *fitOptions) { o.runID = id }
}

// run is the mutable state of one Fit call.
type run struct {
	*Trainer
	id      string
	data    *prepared
	sched   schedule
	work    model.Trainable
	opt     optim.Optimizer
	step    int64
	total   int64
	res     *Result
	stale   int
	extra   map[string]string
	started time.Time
}

// Fit trains on records and returns the best checkpoint.
func (t *Trainer) Fit(ctx context.Context, records []dataset.Record, opts ...FitOption) (*Result, error) {
	fo := fitOptions{runID: uuid.NewString()}
	for _, opt := range opts {
		opt(&fo)
	}

	data, err := prepare(t.vocab, records, t.cfg)
	if err != nil {
		return nil, err
	}
	metrics.AddSkippedRecords(data.skipped)
	if data.skipped > 0 {
		t.logger.Warn().Int("skipped", data.skipped).Int("total", data.total).Msg("skipped invalid dataset records")
	}

	r := &run{
		Trainer: t,
		id:      fo.runID,
		data:    data,
		sched:   newSchedule(len(data.train), t.cfg),
		work:    t.base.Clone(),
		started: time.Now(),
	}
	r.total = int64(r.sched.stepsPerEpoch * t.cfg.Epochs)
	r.opt, err = optim.New(t.cfg.Optimizer, t.cfg.LearningRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if r.extra, err = checkpointMetadata(t.vocab, t.base); err != nil {
		return nil, err
	}
	if fo.resume != nil {
		if err := r.restore(fo.resume); err != nil {
			return nil, err
		}
	}

	baseline, err := r.evaluate()
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation: %w", err)
	}
	r.res = &Result{
		RunID:              r.id,
		Model:              r.work.Clone(),
		Step:               r.step,
		Skipped:            data.skipped,
		Total:              data.total,
		BaselinePerplexity: baseline,
		BestPerplexity:     baseline,
	}
	metrics.SetHeldOutPerplexity(baseline)
	t.logger.Info().
		Str("run_id", r.id).
		Int("train", len(data.train)).
		Int("held_out", len(data.heldOut)).
		Int64("start_step", r.step).
		Int64("total_steps", r.total).
		Float64("baseline_ppl", baseline).
		Msg("fine-tuning started")

	var start *model.Snapshot
	if t.store != nil {
		start = t.store.Current()
	}
	if err := r.loop(ctx); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			// Intermediate weights published by evaluations are withdrawn.
			if start != nil && t.store.Current().Version != start.Version {
				t.store.Publish(start.Model, start.Source)
			}
			return nil, err
		}
		r.res.Incomplete = true
		t.logger.Warn().Str("run_id", r.id).Int64("step", r.step).Msg("fine-tuning canceled, returning best checkpoint so far")
	}
	r.res.Step = r.step

	t.logger.Info().
		Str("run_id", r.id).
		Int64("step", r.step).
		Float64("baseline_ppl", r.res.BaselinePerplexity).
		Float64("best_ppl", r.res.BestPerplexity).
		Bool("incomplete", r.res.Incomplete).
		Dur("elapsed", time.Since(r.started)).
		Msg("fine-tuning finished")
	return r.res, nil
}

func checkpointMetadata(v *vocab.Vocabulary, m model.Trainable) (map[string]string, error) {
	vm, err := model.VocabularyMetadata(v)
	if err != nil {
		return nil, err
	}
	extra := map[string]string{model.MetaVocabulary: vm}
	if _, ok := m.(*model.ContextModel); ok {
		extra[model.MetaArchitecture] = model.Architecture
	}
	return extra, nil
}

func (r *run) restore(c *checkpoint.Checkpoint) error {
	if !sameOptimizer(c.Meta.OptimizerType, r.cfg.Optimizer) {
		return fmt.Errorf("%w: checkpoint optimizer %q, config %q", ErrResumeMismatch, c.Meta.OptimizerType, r.cfg.Optimizer)
	}
	params := r.work.Params()
	if err := c.Weights.CheckLike(params); err != nil {
		return fmt.Errorf("%w: %w", ErrResumeMismatch, err)
	}
	for name, t := range c.Weights {
		copy(params[name].Data(), t.Data())
	}
	if err := r.opt.LoadStateDict(c.Optimizer); err != nil {
		return fmt.Errorf("%w: %w", ErrResumeMismatch, err)
	}
	r.step = c.Step
	if c.Meta.RunID != "" {
		r.id = c.Meta.RunID
	}
	return nil
}

func (r *run) loop(ctx context.Context) error {
	var order []int
	epoch := -1
	for r.step < r.total {
		if e := r.sched.epochOf(r.step); e != epoch {
			epoch = e
			order = r.sched.order(epoch)
		}
		if err := r.optimizerStep(ctx, order); err != nil {
			return err
		}
		r.step++
		metrics.ObserveTrainingStep()

		if r.step%int64(r.cfg.CheckpointInterval) == 0 || r.step == r.total {
			stop, err := r.checkpoint(ctx, epoch)
			if err != nil {
				return err
			}
			if stop {
				r.logger.Info().Int64("step", r.step).Int("patience", r.cfg.Patience).Msg("early stopping")
				return nil
			}
		}
	}
	return nil
}

// optimizerStep accumulates gradients over the step's micro-batches and
// applies one update. The context is checked before every micro-batch.
func (r *run) optimizerStep(ctx context.Context, order []int) error {
	params := r.work.Params()
	grads := params.ZerosLike()
	tokens := 0

	for _, mb := range r.sched.microBatches(r.step, order) {
		if err := ctx.Err(); err != nil {
			return err
		}
		examples := make([]model.Example, len(mb))
		for i, idx := range mb {
			examples[i] = r.data.train[idx]
		}
		n, err := r.shardGradients(examples, grads)
		if err != nil {
			return err
		}
		tokens += n
	}
	if tokens == 0 {
		return nil
	}
	grads.Scale(1 / float32(tokens))
	return r.opt.Step(params, grads)
}

// shardGradients splits examples across workers and sums the shard
// gradients into grads in shard order.
func (r *run) shardGradients(examples []model.Example, grads tensor.StateDict) (int, error) {
	shards := parallel.Shards(len(examples), r.cfg.Workers)
	partial := make([]tensor.StateDict, len(shards))
	counts := make([]int, len(shards))
	errs := make([]error, len(shards))

	parallel.For(len(shards), func(i int) {
		partial[i] = grads.ZerosLike()
		_, counts[i], errs[i] = r.work.Gradients(examples[shards[i].Start:shards[i].End], partial[i])
	}, parallel.Config{Enabled: len(shards) > 1, NumWorkers: len(shards), MinChunkSize: 1})

	total := 0
	for i := range shards {
		if errs[i] != nil {
			return 0, errs[i]
		}
		if err := grads.Add(partial[i]); err != nil {
			return 0, err
		}
		total += counts[i]
	}
	return total, nil
}

// evaluate returns exp(mean NLL) over every held-out target token.
func (r *run) evaluate() (float64, error) {
	var nll float64
	var count int
	for _, ex := range r.data.heldOut {
		lps, err := model.TokenLogProbs(r.work, ex.Prompt, ex.Target)
		if err != nil {
			return 0, err
		}
		for _, lp := range lps {
			nll -= lp
		}
		count += len(lps)
	}
	return math.Exp(nll / float64(count)), nil
}

// checkpoint evaluates, saves according to policy and publishes the
// weights. It reports whether patience ran out.
func (r *run) checkpoint(ctx context.Context, epoch int) (bool, error) {
	ppl, err := r.evaluate()
	if err != nil {
		return false, fmt.Errorf("evaluation at step %d: %w", r.step, err)
	}
	metrics.SetHeldOutPerplexity(ppl)

	ev := Evaluation{RunID: r.id, Step: r.step, Epoch: epoch, Perplexity: ppl, Improved: ppl < r.res.BestPerplexity}
	c := &checkpoint.Checkpoint{
		Step:      r.step,
		Weights:   r.work.Params().Clone(),
		Optimizer: r.opt.StateDict(),
		Meta: checkpoint.Meta{
			CreatedAt:         time.Now().UTC(),
			HeldOutPerplexity: ppl,
			RunID:             r.id,
			Epoch:             epoch,
			OptimizerType:     r.opt.Type(),
			OptimizerConfig:   r.opt.Hyperparameters(),
			Extra:             r.extra,
		},
	}

	if r.ckpt != nil && (ev.Improved || r.cfg.SavePolicy == SaveAlways) {
		h, err := r.ckpt.Save(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			r.logger.Error().Err(err).Int64("step", r.step).Msg("checkpoint save failed, continuing")
		} else {
			ev.Saved, ev.Handle = true, h
		}
	}

	if ev.Improved {
		r.res.BestPerplexity = ppl
		r.res.Checkpoint = c
		r.res.Handle = ev.Handle
		r.res.Saved = ev.Saved
		r.res.Model = r.work.Clone()
		r.stale = 0
	} else {
		r.stale++
	}
	r.res.Evaluations = append(r.res.Evaluations, ev)

	if r.store != nil {
		r.store.Publish(r.work.Clone(), fmt.Sprintf("train:%s:step-%d", r.id, r.step))
	}
	r.logger.Info().
		Int64("step", r.step).
		Int("epoch", epoch).
		Float64("held_out_ppl", ppl).
		Bool("improved", ev.Improved).
		Bool("saved", ev.Saved).
		Msg("evaluated")
	if r.onEval != nil {
		r.onEval(ctx, ev)
	}

	return r.cfg.Patience > 0 && r.stale >= r.cfg.Patience, nil
}
