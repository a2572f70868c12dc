package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	sequenceColumns = []string{"sequence", "seq"}
	ecColumns       = []string{"ec_code", "ec", "ec_number"}
	idColumns       = []string{"id", "name", "identifier"}
)

// ReadDelimited parses a TSV (comma '\t') or CSV (',') file with a header row.
func ReadDelimited(r io.Reader, comma rune) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = comma == '\t'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seqCol := column(header, sequenceColumns)
	ecCol := column(header, ecColumns)
	idCol := column(header, idColumns)
	if seqCol < 0 {
		return nil, fmt.Errorf("%w: one of %v", ErrMissingColumn, sequenceColumns)
	}
	if ecCol < 0 {
		return nil, fmt.Errorf("%w: one of %v", ErrMissingColumn, ecColumns)
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if blank(row) {
			continue
		}

		rec := Record{
			Sequence: Normalize(field(row, seqCol)),
			ECCode:   strings.TrimSpace(field(row, ecCol)),
			ID:       strings.TrimSpace(field(row, idCol)),
		}
		if rec.ID == "" {
			rec.ID = "row" + strconv.Itoa(line)
		}
		out = append(out, rec)
	}
}

func column(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
