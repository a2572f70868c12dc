package pipeline

import (
	"context"

	"github.com/zoobzio/capitan"

	"github.com/born-ml/zymctrl/internal/checkpoint"
	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/train"
)

// Signals for hook events.
const (
	BatchGenerated  = capitan.Signal("zymctrl.generate.batch")
	TrainEvaluated  = capitan.Signal("zymctrl.train.evaluated")
	CheckpointSaved = capitan.Signal("zymctrl.checkpoint.saved")
	FilterCompleted = capitan.Signal("zymctrl.filter.completed")
	WeightsFallback = capitan.Signal("zymctrl.weights.fallback")
	RunCompleted    = capitan.Signal("zymctrl.run.completed")
)

// Keys for hook event fields.
var (
	RunIDKey = capitan.NewStringKey("zymctrl.run.id")
	ECKey    = capitan.NewStringKey("zymctrl.ec")

	// Generation.
	BatchKey      = capitan.NewIntKey("zymctrl.batch")
	BatchSizeKey  = capitan.NewIntKey("zymctrl.batch.size")
	StepsKey      = capitan.NewIntKey("zymctrl.batch.steps")
	DurationMsKey = capitan.NewIntKey("zymctrl.duration.ms")

	// Training and checkpoints.
	StepKey       = capitan.NewIntKey("zymctrl.train.step")
	EpochKey      = capitan.NewIntKey("zymctrl.train.epoch")
	PerplexityKey = capitan.NewFloat64Key("zymctrl.train.perplexity")
	ImprovedKey   = capitan.NewIntKey("zymctrl.train.improved")
	HandleKey     = capitan.NewStringKey("zymctrl.checkpoint.handle")
	PrunedKey     = capitan.NewIntKey("zymctrl.checkpoint.pruned")

	// Filtering.
	InputKey    = capitan.NewIntKey("zymctrl.filter.input")
	RetainedKey = capitan.NewIntKey("zymctrl.filter.retained")
	DegradedKey = capitan.NewIntKey("zymctrl.filter.degraded")

	// Weights and runs.
	SourceKey     = capitan.NewStringKey("zymctrl.weights.source")
	ReasonKey     = capitan.NewStringKey("zymctrl.weights.reason")
	IncompleteKey = capitan.NewIntKey("zymctrl.run.incomplete")
	CandidatesKey = capitan.NewIntKey("zymctrl.run.candidates")
)

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func batchHook(runID string) func(context.Context, generate.BatchInfo) {
	return func(ctx context.Context, b generate.BatchInfo) {
		capitan.Emit(ctx, BatchGenerated,
			RunIDKey.Field(runID),
			ECKey.Field(b.Code),
			BatchKey.Field(b.Batch),
			BatchSizeKey.Field(b.Size),
			StepsKey.Field(b.Steps),
			DurationMsKey.Field(int(b.Duration.Milliseconds())),
		)
	}
}

func evalHook(runID string) func(context.Context, train.Evaluation) {
	return func(ctx context.Context, ev train.Evaluation) {
		capitan.Emit(ctx, TrainEvaluated,
			RunIDKey.Field(runID),
			StepKey.Field(int(ev.Step)),
			EpochKey.Field(ev.Epoch),
			PerplexityKey.Field(ev.Perplexity),
			ImprovedKey.Field(flag(ev.Improved)),
			HandleKey.Field(string(ev.Handle)),
		)
	}
}

func saveHook(runID string) func(context.Context, checkpoint.SaveInfo) {
	return func(ctx context.Context, s checkpoint.SaveInfo) {
		capitan.Emit(ctx, CheckpointSaved,
			RunIDKey.Field(runID),
			HandleKey.Field(string(s.Handle)),
			StepKey.Field(int(s.Step)),
			PerplexityKey.Field(s.HeldOutPerplexity),
			PrunedKey.Field(len(s.Pruned)),
		)
	}
}

func filterHook(runID string) func(context.Context, filter.Summary) {
	return func(ctx context.Context, s filter.Summary) {
		capitan.Emit(ctx, FilterCompleted,
			RunIDKey.Field(runID),
			ECKey.Field(s.Code),
			InputKey.Field(s.Input),
			RetainedKey.Field(s.Retained),
			DegradedKey.Field(flag(s.Degraded)),
		)
	}
}

func emitFallback(ctx context.Context, runID, source, reason string) {
	capitan.Emit(ctx, WeightsFallback,
		RunIDKey.Field(runID),
		SourceKey.Field(source),
		ReasonKey.Field(reason),
	)
}

func emitRunCompleted(ctx context.Context, r *Result) {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Items)
	}
	capitan.Emit(ctx, RunCompleted,
		RunIDKey.Field(r.RunID),
		SourceKey.Field(r.Source),
		CandidatesKey.Field(n),
		IncompleteKey.Field(flag(r.Incomplete)),
	)
}
