// Package dataset reads EC-labelled protein sequences for fine-tuning.
//
// FASTA files carry the EC code in the header (EC=1.1.1.1 or ec:1.1.1.1)
// or take a default label for the whole file. TSV and CSV files need a
// header row with a sequence column (sequence, seq) and an EC column
// (ec_code, ec, ec_number); an id column is optional.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/zymctrl/internal/fsutil"
)

// Errors returned by the readers.
var (
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrMissingColumn     = errors.New("missing dataset column")
)

// Record is one labelled sequence. It is passed by value and never mutated
// after loading.
type Record struct {
	ID       string
	Sequence string
	ECCode   string
}

// Options configure Load.
type Options struct {
	// DefaultEC labels FASTA records whose header has no EC tag.
	DefaultEC string
}

// Load reads a dataset file, choosing the parser by extension.
func Load(path string, opts Options) ([]Record, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // G304: dataset path is user input by design
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var records []Record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".fasta", ".fa", ".faa", ".fas":
		records, err = ReadFASTA(f, opts.DefaultEC)
	case ".tsv", ".tab":
		records, err = ReadDelimited(f, '\t')
	case ".csv":
		records, err = ReadDelimited(f, ',')
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return records, nil
}

// Normalize upper-cases a sequence and strips whitespace and a trailing
// stop symbol.
func Normalize(seq string) string {
	var sb strings.Builder
	sb.Grow(len(seq))
	for _, r := range seq {
		switch r {
		case ' ', '\t', '\r', '\n':
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimRight(strings.ToUpper(sb.String()), "*")
}
