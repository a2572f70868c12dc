package train

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/model"
	"github.com/born-ml/zymctrl/internal/prompt"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// prepared is the validated dataset split.
type prepared struct {
	train   []model.Example
	heldOut []model.Example
	skipped int
	total   int
}

// prepare encodes records, drops invalid ones and splits off the held-out
// tail.
func prepare(v *vocab.Vocabulary, records []dataset.Record, cfg Config) (*prepared, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	p := &prepared{total: len(records)}
	var examples []model.Example
	for _, rec := range records {
		ex, err := encode(v, rec)
		if err != nil {
			p.skipped++
			continue
		}
		examples = append(examples, ex)
	}

	if rate := float64(p.skipped) / float64(p.total); rate > cfg.MaxSkipRate {
		return nil, fmt.Errorf("%w: skipped %d of %d (%.1f%% > %.1f%%)",
			ErrDatasetTooNoisy, p.skipped, p.total, 100*rate, 100*cfg.MaxSkipRate)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: no valid records", ErrEmptyDataset)
	}

	if len(examples) == 1 {
		p.train, p.heldOut = examples, examples
		return p, nil
	}
	held := min(max(1, int(float64(len(examples))*cfg.HeldOutFraction)), len(examples)-1)
	p.train = examples[:len(examples)-held]
	p.heldOut = examples[len(examples)-held:]
	return p, nil
}

func encode(v *vocab.Vocabulary, rec dataset.Record) (model.Example, error) {
	ec, err := prompt.ParseEC(rec.ECCode)
	if err != nil {
		return model.Example{}, err
	}
	seq, err := v.Encode(rec.Sequence)
	if err != nil {
		return model.Example{}, err
	}
	if len(seq) == 0 {
		return model.Example{}, fmt.Errorf("record %q: empty sequence", rec.ID)
	}
	return model.Example{
		Prompt: prompt.FromCode(v, ec).Tokens(),
		Target: append(seq, v.End()),
	}, nil
}

// schedule maps global optimizer steps to micro-batches. It depends only on
// the training set size, the config and the seed, so a resumed run replays
// the same batches.
type schedule struct {
	n             int
	batchSize     int
	accum         int
	microPerEpoch int
	stepsPerEpoch int
	seed          int64
}

func newSchedule(n int, cfg Config) schedule {
	micro := (n + cfg.BatchSize - 1) / cfg.BatchSize
	accum := cfg.AccumulationSteps()
	return schedule{
		n:             n,
		batchSize:     cfg.BatchSize,
		accum:         accum,
		microPerEpoch: micro,
		stepsPerEpoch: (micro + accum - 1) / accum,
		seed:          cfg.Seed,
	}
}

func (s schedule) epochOf(step int64) int {
	return int(step / int64(s.stepsPerEpoch))
}

func (s schedule) order(epoch int) []int {
	//nolint:gosec // deterministic shuffle
	rng := rand.New(rand.NewSource(s.seed*1_000_003 + int64(epoch)))
	return rng.Perm(s.n)
}

// microBatches returns the example indices for each micro-batch of step.
func (s schedule) microBatches(step int64, order []int) [][]int {
	k := int(step % int64(s.stepsPerEpoch))
	first := k * s.accum
	last := min(first+s.accum, s.microPerEpoch)

	out := make([][]int, 0, last-first)
	for mb := first; mb < last; mb++ {
		lo := mb * s.batchSize
		hi := min(lo+s.batchSize, s.n)
		out = append(out, order[lo:hi])
	}
	return out
}
