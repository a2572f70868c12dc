package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/zymctrl/internal/dataset"
	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/generate"
	"github.com/born-ml/zymctrl/internal/ledger"
)

func sampleGroups() []Group {
	item := func(rank, index, batch int, seq string, ppl float64) filter.Ranked {
		return filter.Ranked{
			Candidate:  generate.Candidate{Index: index, Batch: batch, StopReason: generate.StopToken},
			Sequence:   seq,
			Perplexity: ppl,
			Combined:   -ppl,
			Rank:       rank,
		}
	}
	withPred := item(3, 0, 0, "MKWWW", 9)
	withPred.PredictorScore, withPred.HasPredictor = 0.5, true
	return []Group{{
		Code: "1.1.1.1",
		Items: []filter.Ranked{
			item(1, 3, 1, "MKAAA", 2.5),
			item(2, 1, 0, "MKTAY", 4),
			withPred,
		},
	}}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"out.fasta", FormatFASTA},
		{"out.FA", FormatFASTA},
		{"out.tsv", FormatTSV},
		{"out.csv", FormatCSV},
		{"runs.db", FormatLedger},
		{"out/", FormatDir},
	}
	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
	_, err := FormatFor("out.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRowsNumberWithinBatch(t *testing.T) {
	rows := Rows(sampleGroups())
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"1.1.1.1_1_0", "1.1.1.1_0_0", "1.1.1.1_0_1"}, ids)
	assert.Nil(t, rows[0].PredictorScore)
	require.NotNil(t, rows[2].PredictorScore)
	assert.Equal(t, 0.5, *rows[2].PredictorScore)
}

func TestFASTAReadsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFASTA(&buf, Rows(sampleGroups())))
	assert.True(t, strings.HasPrefix(buf.String(), ">1.1.1.1_1_0\t1.1.1.1\t-2.500000\t2.500000\n"))

	recs, err := dataset.ReadFASTA(&buf, "")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "1.1.1.1_1_0", recs[0].ID)
	assert.Equal(t, "MKAAA", recs[0].Sequence)
}

func TestWriteTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tsv")
	require.NoError(t, Write(context.Background(), path, Run{ID: "r"}, sampleGroups()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = '\t'
	lines, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, tableHeader, lines[0])
	assert.Equal(t, []string{"1.1.1.1_1_0", "1.1.1.1", "1", "MKAAA", "-2.500000", "2.500000", ""}, lines[1])
	assert.Equal(t, "0.500000", lines[3][6])
}

func TestWriteDir(t *testing.T) {
	dir := t.TempDir() + "/seqs/"
	require.NoError(t, Write(context.Background(), dir, Run{ID: "r"}, sampleGroups()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"1.1.1.1_0_0.fasta", "1.1.1.1_0_1.fasta", "1.1.1.1_1_0.fasta"}, names)
}

func TestWriteLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	require.NoError(t, Write(ctx, path, Run{ID: "run-1", Incomplete: true}, sampleGroups()))

	l, err := ledger.Open(ctx, path)
	require.NoError(t, err)
	defer l.Close()

	run, err := l.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.Incomplete)

	cands, err := l.Candidates(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.Equal(t, "MKAAA", cands[0].Sequence)
	assert.Equal(t, 3, cands[0].Index)
	assert.Equal(t, "stop_token", cands[0].StopReason)
}
