// Package pipeline runs the zymctrl workflow: optional fine-tuning, then
// generation, filtering and output for every requested EC code.
//
// The pipeline owns the weight store. Weights are resolved once through a
// fallback chain (requested checkpoint, latest checkpoint, base artifact,
// untrained model), replaced by the best fine-tuned weights when training
// runs, and bound per EC code for generation and rescoring.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/config"
	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/ledger"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/output"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/train"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Result is the outcome of Run or Generate.
type Result struct {
	RunID string

	// Source names the weights used for generation.
	Source string

	// Groups holds one ranking per EC code, in request order.
	Groups []output.Group

	// Train is set when fine-tuning ran.
	Train *train.Result

	// Incomplete is set when the run was canceled. Groups then hold what
	// was ranked before cancellation.
	Incomplete bool
}

// Pipeline is one configured invocation. It is not safe for concurrent use.
type Pipeline struct {
	cfg       config.Config
	logger    zerolog.Logger
	runID     string
	predictor filter.Predictor

	ckpt   *checkpoint.Manager
	store  *model.Store
	vocab  *vocab.Vocabulary
	ledger *ledger.Ledger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger, shared with every component.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithPredictor overrides the predictor built from the config.
func WithPredictor(pr filter.Predictor) Option {
	return func(p *Pipeline) { p.predictor = pr }
}

// WithRunID sets the run id. Default: a new UUID.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// New validates cfg and resolves the starting weights.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, logger: zerolog.Nop(), runID: uuid.NewString(), predictor: cfg.Predictor()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("run_id", p.runID).Logger()

	if dir := cfg.Model.CheckpointDir; dir != "" {
		m, err := checkpoint.Open(dir,
			checkpoint.WithKeep(cfg.Train.KeepCheckpoints),
			checkpoint.WithLogger(p.logger),
			checkpoint.WithSaveHook(saveHook(p.runID)),
		)
		if err != nil {
			return nil, err
		}
		p.ckpt = m
	}

	w, err := p.loadWeights(ctx)
	if err != nil {
		return nil, err
	}
	w.Model.SetParallel(parallelConfig(cfg.Model.Workers))
	p.vocab = w.Model.Vocabulary()
	p.store = model.NewStore(w.Model, w.Source)
	p.logger.Info().Str("source", w.Source).Int("vocab_size", p.vocab.Size()).Msg("weights loaded")

	// Prompt lengths depend on the loaded vocabulary; reject them before
	// any training work.
	if _, err := p.prompts(); err != nil {
		return nil, err
	}

	if path := cfg.Output.Ledger; path != "" {
		if p.ledger, err = ledger.Open(ctx, path); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Close releases the ledger.
func (p *Pipeline) Close() error {
	if p.ledger != nil {
		return p.ledger.Close()
	}
	return nil
}

// RunID returns the run id.
func (p *Pipeline) RunID() string { return p.runID }

// Store returns the weight store.
func (p *Pipeline) Store() *model.Store { return p.store }

// Source names the current weights.
func (p *Pipeline) Source() string { return p.store.Current().Source }

// Checkpoints returns the checkpoint manager, nil without a checkpoint dir.
func (p *Pipeline) Checkpoints() *checkpoint.Manager { return p.ckpt }

// Vocabulary returns the codec of the loaded weights.
func (p *Pipeline) Vocabulary() *vocab.Vocabulary { return p.vocab }

// Run fine-tunes when a dataset is configured, then generates, ranks and
// writes the output. A canceled run still writes what it has.
func (p *Pipeline) Run(ctx context.Context) (_ *Result, err error) {
	kind := "generate"
	if p.cfg.Train.DatasetPath != "" {
		kind = "finetune+generate"
	}
	if err := p.beginLedgerRun(context.WithoutCancel(ctx), kind); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			p.abortLedgerRun(ctx, err)
		}
	}()

	res := &Result{RunID: p.runID}
	if p.cfg.Train.DatasetPath != "" {
		records, err := p.LoadDataset()
		if err != nil {
			return nil, err
		}
		tr, err := p.FineTune(ctx, records)
		if err != nil {
			return nil, err
		}
		res.Train = tr
		res.Incomplete = tr.Incomplete
	}

	if !res.Incomplete {
		gen, err := p.Generate(ctx)
		if err != nil {
			return nil, err
		}
		res.Groups, res.Incomplete = gen.Groups, gen.Incomplete
	}
	res.Source = p.store.Current().Source

	// Partial results are written even after cancellation.
	wctx := context.WithoutCancel(ctx)
	run := output.Run{ID: p.runID, Kind: kind, Incomplete: res.Incomplete}
	if path := p.cfg.Output.Path; path != "" {
		if err := output.Write(wctx, path, run, res.Groups); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
	}
	if p.ledger != nil {
		if err := output.ToLedger(wctx, p.ledger, run, res.Groups); err != nil {
			return nil, fmt.Errorf("write ledger: %w", err)
		}
	}

	emitRunCompleted(ctx, res)
	p.logger.Info().
		Str("source", res.Source).
		Int("ec_codes", len(res.Groups)).
		Bool("incomplete", res.Incomplete).
		Msg("run finished")
	return res, nil
}

// DefaultEC returns the EC label for dataset records without one: the
// configured default, or the only requested EC code.
func (p *Pipeline) DefaultEC() string {
	if p.cfg.Train.DefaultEC != "" {
		return p.cfg.Train.DefaultEC
	}
	if len(p.cfg.Generate.ECCodes) == 1 {
		return p.cfg.Generate.ECCodes[0]
	}
	return ""
}

// LoadDataset reads the configured fine-tuning dataset.
func (p *Pipeline) LoadDataset() ([]dataset.Record, error) {
	return dataset.Load(p.cfg.Train.DatasetPath, dataset.Options{DefaultEC: p.DefaultEC()})
}

// FineTune trains on records starting from the current weights and
// publishes the best weights. Without an improving checkpoint the starting
// weights stay current.
func (p *Pipeline) FineTune(ctx context.Context, records []dataset.Record) (*train.Result, error) {
	snap := p.store.Current()
	base, ok := snap.Model.(model.Trainable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNotTrainable, snap.Source)
	}

	trainer, err := train.New(p.vocab, base, p.ckpt, p.cfg.TrainConfig(),
		train.WithLogger(p.logger),
		train.WithStore(p.store),
		train.WithEvalHook(p.onEvaluation),
	)
	if err != nil {
		return nil, err
	}

	fitOpts := []train.FitOption{train.WithRunID(p.runID)}
	resumed, from := p.resumeCheckpoint(ctx)
	if resumed != nil {
		fitOpts = append(fitOpts, train.WithResume(resumed))
	}
	res, err := trainer.Fit(ctx, records, fitOpts...)
	if err != nil {
		return nil, err
	}

	switch {
	case res.Checkpoint == nil && resumed != nil:
		p.store.Publish(res.Model, "resume:"+string(from))
		p.logger.Info().
			Str("checkpoint", string(from)).
			Float64("baseline_ppl", res.BaselinePerplexity).
			Msg("no improvement over resumed checkpoint, keeping its weights")
	case res.Checkpoint == nil:
		p.store.Publish(base, snap.Source)
		p.logger.Info().
			Float64("baseline_ppl", res.BaselinePerplexity).
			Msg("no improvement over starting weights, keeping them")
	case res.Saved:
		p.store.Publish(res.Model, "checkpoint:"+string(res.Handle))
	default:
		p.store.Publish(res.Model, fmt.Sprintf("train:%s:step-%d", res.RunID, res.Checkpoint.Step))
	}
	return res, nil
}

// resumeCheckpoint loads the checkpoint named by train.resume. An
// unavailable checkpoint is logged and training starts fresh.
func (p *Pipeline) resumeCheckpoint(ctx context.Context) (*checkpoint.Checkpoint, checkpoint.Handle) {
	want := p.cfg.Train.Resume
	if want == "" || p.ckpt == nil {
		return nil, ""
	}
	var (
		c   *checkpoint.Checkpoint
		h   = checkpoint.Handle(want)
		err error
	)
	if want == LatestCheckpoint {
		c, h, err = p.ckpt.LoadLatest()
	} else {
		c, err = p.ckpt.Load(h)
	}
	if err != nil {
		p.fallback(ctx, "resume:"+want, err)
		return nil, ""
	}
	return c, h
}

func (p *Pipeline) onEvaluation(ctx context.Context, ev train.Evaluation) {
	evalHook(p.runID)(ctx, ev)
	if p.ledger == nil {
		return
	}
	err := p.ledger.AddEvaluation(context.WithoutCancel(ctx), p.runID, ledger.Evaluation{
		Step:       ev.Step,
		Epoch:      ev.Epoch,
		Perplexity: ev.Perplexity,
		Improved:   ev.Improved,
		Saved:      ev.Saved,
		Handle:     string(ev.Handle),
	})
	if err != nil {
		p.logger.Warn().Err(err).Int64("step", ev.Step).Msg("ledger evaluation insert failed")
	}
}

// Generate samples and ranks candidates for every configured EC code. All
// prompts are validated before the first model call.
func (p *Pipeline) Generate(ctx context.Context) (*Result, error) {
	if len(p.cfg.Generate.ECCodes) == 0 {
		return nil, fmt.Errorf("%w: no ec_code given", config.ErrInvalidConfig)
	}
	prompts, err := p.prompts()
	if err != nil {
		return nil, err
	}
	gcfg := p.cfg.GenerateConfig()

	engine := generate.NewEngine(p.vocab,
		generate.WithLogger(p.logger),
		generate.WithBatchHook(batchHook(p.runID)),
	)
	flt := filter.New(p.vocab,
		filter.WithPredictor(p.predictor),
		filter.WithLogger(p.logger),
		filter.WithHook(filterHook(p.runID)),
	)
	fcfg := p.cfg.FilterConfig()

	res := &Result{RunID: p.runID}
	for _, pr := range prompts {
		snap := p.store.Current()
		res.Source = snap.Source

		stream, err := engine.Generate(ctx, snap.Model, pr, p.cfg.Generate.NumSequences, gcfg)
		if err != nil {
			return nil, err
		}
		cands := stream.Collect()
		if err := stream.Err(); err != nil {
			return nil, fmt.Errorf("generate %s: %w", pr.Code(), err)
		}

		fctx := ctx
		if stream.Incomplete() {
			fctx = context.WithoutCancel(ctx)
		}
		ranking, err := flt.FilterAndRank(fctx, cands, pr, snap.Model, fcfg)
		if err != nil {
			return nil, fmt.Errorf("rank %s: %w", pr.Code(), err)
		}
		res.Groups = append(res.Groups, output.Group{
			Code:       pr.Code().String(),
			Items:      ranking.Items,
			Incomplete: stream.Incomplete(),
		})
		p.logger.Info().
			Str("ec", pr.Code().String()).
			Int("sampled", len(cands)).
			Int("retained", len(ranking.Items)).
			Int64("seed", stream.Seed()).
			Bool("degraded", ranking.Degraded).
			Msg("ec code done")

		if stream.Incomplete() {
			res.Incomplete = true
			break
		}
	}
	return res, nil
}

// prompts builds the prompt of every configured EC code and checks that
// each leaves room for at least one generated token.
func (p *Pipeline) prompts() ([]prompt.Prompt, error) {
	maxLength := p.cfg.Generate.MaxLength
	out := make([]prompt.Prompt, len(p.cfg.Generate.ECCodes))
	for i, code := range p.cfg.Generate.ECCodes {
		pr, err := prompt.Build(p.vocab, code)
		if err != nil {
			return nil, err
		}
		if pr.Len() >= maxLength {
			return nil, fmt.Errorf("%w: %s needs %d tokens, max_length is %d", generate.ErrPromptTooLong, code, pr.Len(), maxLength)
		}
		out[i] = pr
	}
	return out, nil
}

func (p *Pipeline) beginLedgerRun(ctx context.Context, kind string) error {
	if p.ledger == nil {
		return nil
	}
	return p.ledger.BeginRun(ctx, ledger.Run{ID: p.runID, Kind: kind})
}

// abortLedgerRun closes a ledger run that ended with err.
func (p *Pipeline) abortLedgerRun(ctx context.Context, err error) {
	if p.ledger == nil {
		return
	}
	if ferr := p.ledger.FinishRun(context.WithoutCancel(ctx), p.runID, true); ferr != nil {
		p.logger.Warn().Err(ferr).Msg("ledger finish failed")
	}
	p.logger.Debug().Err(err).Msg("ledger run closed as incomplete")
}

// Train fine-tunes on the configured dataset and records the run in the
// ledger. It does not generate.
func (p *Pipeline) Train(ctx context.Context) (_ *train.Result, err error) {
	if p.cfg.Train.DatasetPath == "" {
		return nil, fmt.Errorf("%w: fine_tune_dataset_path is empty", config.ErrInvalidConfig)
	}
	if err := p.beginLedgerRun(context.WithoutCancel(ctx), "finetune"); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			p.abortLedgerRun(ctx, err)
		}
	}()
	records, err := p.LoadDataset()
	if err != nil {
		return nil, err
	}
	res, err := p.FineTune(ctx, records)
	if err != nil {
		return nil, err
	}
	if p.ledger != nil {
		if err := p.ledger.FinishRun(context.WithoutCancel(ctx), p.runID, res.Incomplete); err != nil {
			p.logger.Warn().Err(err).Msg("ledger finish failed")
		}
	}
	return res, nil
}

// Score ranks existing sequences for one EC code with the current weights.
// Every record becomes a complete candidate ending in <end>; records with
// symbols outside the alphabet fail the call.
func (p *Pipeline) Score(ctx context.Context, code string, records []dataset.Record) (*filter.Ranking, error) {
	pr, err := prompt.Build(p.vocab, code)
	if err != nil {
		return nil, err
	}
	cands := make([]generate.Candidate, len(records))
	for i, rec := range records {
		ids, err := p.vocab.Encode(dataset.Normalize(rec.Sequence))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		cands[i] = generate.Candidate{
			Index:      i,
			Tokens:     append(ids, p.vocab.End()),
			StopReason: generate.StopToken,
		}
	}
	flt := filter.New(p.vocab,
		filter.WithPredictor(p.predictor),
		filter.WithLogger(p.logger),
		filter.WithHook(filterHook(p.runID)),
	)
	fcfg := p.cfg.FilterConfig()
	fcfg.DropTruncated = false
	return flt.FilterAndRank(ctx, cands, pr, p.store.Current().Model, fcfg)
}
