// Package output writes ranked candidates to the sink named by an output
// path: a FASTA file, a TSV or CSV table, a SQLite ledger, or a directory
// with one FASTA file per candidate.
package output

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/koeng101/dnadesign/lib/bio/fasta"

	"github.com/born-ml/zymctrl/internal/filter"
	"github.com/born-ml/zymctrl/internal/fsutil"
	"github.com/born-ml/zymctrl/internal/ledger"
)

// ErrUnsupportedFormat is returned for output paths with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Format is an output sink kind.
type Format string

// Output formats.
const (
	FormatFASTA  Format = "fasta"
	FormatTSV    Format = "tsv"
	FormatCSV    Format = "csv"
	FormatLedger Format = "ledger"
	FormatDir    Format = "dir"
)

// FormatFor picks the format from path. A trailing separator selects the
// per-candidate directory layout.
func FormatFor(path string) (Format, error) {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(os.PathSeparator)) {
		return FormatDir, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fasta", ".fa", ".faa":
		return FormatFASTA, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".csv":
		return FormatCSV, nil
	case ".db", ".sqlite", ".sqlite3":
		return FormatLedger, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Group is the ranking for one EC code.
type Group struct {
	Code       string
	Items      []filter.Ranked
	Incomplete bool
}

// Run identifies the invocation that produced the groups.
type Run struct {
	ID         string
	Kind       string // ledger run kind, default "generate"
	Incomplete bool
}

// Row is one output record.
type Row struct {
	ID             string // <ec>_<batch>_<position in batch>
	EC             string
	Rank           int
	Sequence       string
	Combined       float64
	Perplexity     float64
	PredictorScore *float64
	Item           filter.Ranked
}

// Rows flattens groups in order. Within a batch, candidates are numbered by
// their rank.
func Rows(groups []Group) []Row {
	var out []Row
	for _, g := range groups {
		inBatch := map[int]int{}
		for _, it := range g.Items {
			b := it.Candidate.Batch
			row := Row{
				ID:         fmt.Sprintf("%s_%d_%d", g.Code, b, inBatch[b]),
				EC:         g.Code,
				Rank:       it.Rank,
				Sequence:   it.Sequence,
				Combined:   it.Combined,
				Perplexity: it.Perplexity,
				Item:       it,
			}
			inBatch[b]++
			if it.HasPredictor {
				s := it.PredictorScore
				row.PredictorScore = &s
			}
			out = append(out, row)
		}
	}
	return out
}

// Write sends groups to path.
func Write(ctx context.Context, path string, run Run, groups []Group) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if path, err = fsutil.ExpandHome(path); err != nil {
		return err
	}
	switch format {
	case FormatDir:
		return writeDir(path, Rows(groups))
	case FormatLedger:
		return writeLedger(ctx, path, run, groups)
	}
	rows := Rows(groups)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, func(f *os.File) error {
		switch format {
		case FormatFASTA:
			return WriteFASTA(f, rows)
		case FormatTSV:
			return WriteTable(f, rows, '\t')
		default:
			return WriteTable(f, rows, ',')
		}
	})
}

func fastaRecord(r Row) fasta.Record {
	return fasta.Record{
		Identifier: fmt.Sprintf("%s\t%s\t%s\t%s", r.ID, r.EC, formatFloat(r.Combined), formatFloat(r.Perplexity)),
		Sequence:   r.Sequence,
	}
}

// WriteFASTA writes one record per row with header "ID<TAB>EC<TAB>score<TAB>ppl".
func WriteFASTA(w io.Writer, rows []Row) error {
	for _, r := range rows {
		rec := fastaRecord(r)
		if _, err := rec.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

var tableHeader = []string{"id", "ec_code", "rank", "sequence", "combined_score", "model_perplexity", "predictor_score"}

// WriteTable writes rows as a delimited table with a header line.
func WriteTable(w io.Writer, rows []Row, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(tableHeader); err != nil {
		return err
	}
	for _, r := range rows {
		pred := ""
		if r.PredictorScore != nil {
			pred = formatFloat(*r.PredictorScore)
		}
		if err := cw.Write([]string{
			r.ID, r.EC, strconv.Itoa(r.Rank), r.Sequence,
			formatFloat(r.Combined), formatFloat(r.Perplexity), pred,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeDir writes <dir>/<ID>.fasta per row.
func writeDir(dir string, rows []Row) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for _, r := range rows {
		path := filepath.Join(dir, r.ID+".fasta")
		if err := fsutil.WriteFileAtomic(path, func(f *os.File) error {
			return WriteFASTA(f, []Row{r})
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeLedger(ctx context.Context, path string, run Run, groups []Group) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	l, err := ledger.Open(ctx, path)
	if err != nil {
		return err
	}
	defer l.Close()
	return ToLedger(ctx, l, run, groups)
}

// ToLedger records run and its candidates in l and marks the run finished.
func ToLedger(ctx context.Context, l *ledger.Ledger, run Run, groups []Group) error {
	kind := run.Kind
	if kind == "" {
		kind = "generate"
	}
	if err := l.BeginRun(ctx, ledger.Run{ID: run.ID, Kind: kind}); err != nil {
		return err
	}
	rows := Rows(groups)
	out := make([]ledger.Candidate, len(rows))
	for i, r := range rows {
		out[i] = ledger.Candidate{
			EC:             r.EC,
			Rank:           r.Rank,
			Index:          r.Item.Candidate.Index,
			Batch:          r.Item.Candidate.Batch,
			Sequence:       r.Sequence,
			Combined:       r.Combined,
			Perplexity:     r.Perplexity,
			MeanLogProb:    r.Item.MeanLogProb,
			PredictorScore: r.PredictorScore,
			StopReason:     string(r.Item.Candidate.StopReason),
		}
	}
	if err := l.AddCandidates(ctx, run.ID, out); err != nil {
		return err
	}
	return l.FinishRun(ctx, run.ID, run.Incomplete)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
