package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/parallel"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// LatestCheckpoint selects the checkpoint LATEST points to.
const LatestCheckpoint = "latest"

// Weights is a loaded model and where it came from.
type Weights struct {
	Model  *model.ContextModel
	Source string
	// Checkpoint is set when the weights came from a checkpoint.
	Checkpoint *checkpoint.Checkpoint
}

// ModelFromCheckpoint rebuilds the model stored in c.
func ModelFromCheckpoint(c *checkpoint.Checkpoint) (*model.ContextModel, error) {
	if arch, ok := c.Meta.Extra[model.MetaArchitecture]; ok && arch != model.Architecture {
		return nil, fmt.Errorf("%w: architecture %q", model.ErrIncompatible, arch)
	}
	v, err := model.VocabularyFromMetadata(c.Meta.Extra)
	if err != nil {
		return nil, err
	}
	return model.FromStateDict(v, c.Weights)
}

// loadWeights walks the fallback chain: requested checkpoint, latest
// checkpoint, base artifact, untrained model. Every skipped link is logged
// and emitted as WeightsFallback. Only cancellation stops the chain.
func (p *Pipeline) loadWeights(ctx context.Context) (*Weights, error) {
	want := p.cfg.Model.Checkpoint
	if want != "" && p.ckpt != nil {
		if want != LatestCheckpoint {
			w, err := p.fromCheckpoint(checkpoint.Handle(want))
			if err == nil {
				return w, nil
			}
			p.fallback(ctx, "checkpoint:"+want, err)
		}
		h, ok, err := p.ckpt.Latest()
		switch {
		case err != nil:
			p.fallback(ctx, "checkpoint:latest", err)
		case !ok:
			p.fallback(ctx, "checkpoint:latest", fmt.Errorf("%w: no checkpoint in %s", checkpoint.ErrCheckpointUnavailable, p.ckpt.Dir()))
		default:
			w, err := p.fromCheckpoint(h)
			if err == nil {
				return w, nil
			}
			p.fallback(ctx, "checkpoint:"+string(h), err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if path := p.cfg.Model.Path; path != "" {
		m, err := model.LoadFile(path)
		if err == nil {
			return &Weights{Model: m, Source: "artifact:" + path}, nil
		}
		p.fallback(ctx, "artifact:"+path, err)
	}
	return &Weights{Model: model.NewContextModel(vocab.Default()), Source: "untrained"}, nil
}

func (p *Pipeline) fromCheckpoint(h checkpoint.Handle) (*Weights, error) {
	c, err := p.ckpt.Load(h)
	if err != nil {
		return nil, err
	}
	m, err := ModelFromCheckpoint(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", checkpoint.ErrCheckpointUnavailable, h, err)
	}
	return &Weights{Model: m, Source: "checkpoint:" + string(h), Checkpoint: c}, nil
}

func (p *Pipeline) fallback(ctx context.Context, source string, err error) {
	reason := err.Error()
	p.logger.Warn().Err(err).Str("source", source).Msg("weights unavailable, falling back")
	emitFallback(ctx, p.runID, source, reason)
}

// parallelConfig turns a worker count into a fan-out config; 0 means one
// worker per CPU.
func parallelConfig(workers int) parallel.Config {
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers == 1 {
		return parallel.Sequential()
	}
	cfg := parallel.DefaultConfig()
	cfg.Enabled = true
	cfg.NumWorkers = workers
	return cfg
}

var errNotTrainable = errors.New("current weights are not trainable")
