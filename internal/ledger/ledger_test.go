package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)

	require.NoError(t, l.BeginRun(ctx, Run{ID: "r1", Kind: "generate", Note: "1.1.1.1"}))
	r, err := l.Run(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "generate", r.Kind)
	assert.True(t, r.FinishedAt.IsZero())

	require.NoError(t, l.FinishRun(ctx, "r1", true))
	r, err = l.Run(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, r.FinishedAt.IsZero())
	assert.True(t, r.Incomplete)

	assert.ErrorIs(t, l.FinishRun(ctx, "nope", false), ErrUnknownRun)
	_, err = l.Run(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestCandidatesRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	require.NoError(t, l.BeginRun(ctx, Run{ID: "r1", Kind: "generate"}))

	score := 0.75
	rows := []Candidate{
		{EC: "1.1.1.1", Rank: 2, Index: 4, Batch: 0, Sequence: "MKW", Combined: -2, Perplexity: 7.4, MeanLogProb: -2, StopReason: "stop_token"},
		{EC: "1.1.1.1", Rank: 1, Index: 1, Batch: 0, Sequence: "MKA", Combined: -1, Perplexity: 2.7, MeanLogProb: -1, PredictorScore: &score, StopReason: "stop_token"},
	}
	require.NoError(t, l.AddCandidates(ctx, "r1", rows))

	got, err := l.Candidates(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows[1], got[0])
	assert.Equal(t, rows[0], got[1])
}

func TestEvaluations(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	require.NoError(t, l.BeginRun(ctx, Run{ID: "t1", Kind: "finetune"}))

	require.NoError(t, l.AddEvaluation(ctx, "t1", Evaluation{Step: 20, Epoch: 1, Perplexity: 9, Improved: false}))
	require.NoError(t, l.AddEvaluation(ctx, "t1", Evaluation{Step: 10, Epoch: 0, Perplexity: 8, Improved: true, Saved: true, Handle: "step-00000010-abcd1234.born"}))

	evs, err := l.Evaluations(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(10), evs[0].Step)
	assert.True(t, evs[0].Saved)
	assert.Equal(t, "step-00000010-abcd1234.born", evs[0].Handle)
	assert.Empty(t, evs[1].Handle)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	l, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, l.BeginRun(ctx, Run{ID: "r1", Kind: "generate"}))
	require.NoError(t, l.Close())

	l, err = Open(ctx, path)
	require.NoError(t, err)
	defer l.Close()
	_, err = l.Run(ctx, "r1")
	assert.NoError(t, err)
}
