package dataset

import (
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/koeng101/dnadesign/lib/bio"
)

var ecTag = regexp.MustCompile(`(?i)(?:^|[\s|;])(?:ec=|ec:)\s*([0-9n-]+\.[0-9n-]+\.[0-9n-]+\.[0-9n-]+)`)

// ReadFASTA parses FASTA records. The record ID is the first word of the
// header; records without an EC tag get defaultEC.
func ReadFASTA(r io.Reader, defaultEC string) ([]Record, error) {
	parser := bio.NewFastaParser(r)
	var out []Record
	for {
		rec, err := parser.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		id, ec := parseHeader(rec.Identifier)
		if ec == "" {
			ec = defaultEC
		}
		if id == "" {
			id = "seq" + strconv.Itoa(len(out)+1)
		}
		out = append(out, Record{ID: id, Sequence: Normalize(rec.Sequence), ECCode: ec})
	}
}

func parseHeader(header string) (id, ec string) {
	header = strings.TrimSpace(header)
	if fields := strings.Fields(header); len(fields) > 0 {
		id = fields[0]
	}
	if m := ecTag.FindStringSubmatch(header); m != nil {
		ec = m[1]
	}
	return id, ec
}
