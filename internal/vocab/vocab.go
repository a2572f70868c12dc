// Package vocab maps protein sequence symbols and control tokens to integer ids.
//
// The vocabulary is character level: every amino acid is one token, EC code
// digits are one token each, and a handful of control tokens frame prompts
// and generated sequences:
//
//	<pad> <|endoftext|> <start> <end> <sep> <unk> - . 0-9 ACDEFGHIKLMNPQRSTVWYUOBXZ
//
// A Vocabulary is immutable once built and safe for concurrent use.
package vocab

import (
	"errors"
	"fmt"
	"strings"
)

// Control token symbols.
const (
	PadSymbol      = "<pad>"
	EOSSymbol      = "<|endoftext|>"
	StartSymbol    = "<start>"
	EndSymbol      = "<end>"
	SepSymbol      = "<sep>"
	UnkSymbol      = "<unk>"
	WildcardSymbol = "-"
	DotSymbol      = "."
)

// AminoAcids is the sequence alphabet: the 20 standard residues, U (selenocysteine),
// O (pyrrolysine) and the ambiguity codes B, X and Z.
const AminoAcids = "ACDEFGHIKLMNPQRSTVWYUOBXZ"

// Errors returned by the codec.
var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrUnknownID     = errors.New("unknown token id")
	ErrInvalidTable  = errors.New("invalid vocabulary table")
)

// Vocabulary is a fixed, ordered symbol table.
type Vocabulary struct {
	symbols []string
	ids     map[string]int32
	amino   []bool

	pad, eos, start, end, sep, unk, wildcard, dot int32
	digits                                        [10]int32
}

// Default returns the standard vocabulary.
func Default() *Vocabulary {
	v, err := New(DefaultSymbols())
	if err != nil {
		panic(err) // the built-in table is always valid
	}
	return v
}

// DefaultSymbols returns the symbol table used by Default, in id order.
func DefaultSymbols() []string {
	symbols := []string{
		PadSymbol, EOSSymbol, StartSymbol, EndSymbol, SepSymbol, UnkSymbol,
		WildcardSymbol, DotSymbol,
	}
	for d := '0'; d <= '9'; d++ {
		symbols = append(symbols, string(d))
	}
	for _, aa := range AminoAcids {
		symbols = append(symbols, string(aa))
	}
	return symbols
}

// New builds a vocabulary from an ordered symbol list. The list must contain
// every control token, the ten digits and at least one amino acid, without
// duplicates. Model artifacts store this list so ids stay stable across runs.
func New(symbols []string) (*Vocabulary, error) {
	v := &Vocabulary{
		symbols: append([]string(nil), symbols...),
		ids:     make(map[string]int32, len(symbols)),
		amino:   make([]bool, len(symbols)),
	}
	for i, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("%w: empty symbol at %d", ErrInvalidTable, i)
		}
		if _, dup := v.ids[s]; dup {
			return nil, fmt.Errorf("%w: duplicate symbol %q", ErrInvalidTable, s)
		}
		v.ids[s] = int32(i) //nolint:gosec // vocabulary size is tiny
		if len(s) == 1 && strings.Contains(AminoAcids, s) {
			v.amino[i] = true
		}
	}

	required := []struct {
		symbol string
		dst    *int32
	}{
		{PadSymbol, &v.pad},
		{EOSSymbol, &v.eos},
		{StartSymbol, &v.start},
		{EndSymbol, &v.end},
		{SepSymbol, &v.sep},
		{UnkSymbol, &v.unk},
		{WildcardSymbol, &v.wildcard},
		{DotSymbol, &v.dot},
	}
	for _, r := range required {
		id, ok := v.ids[r.symbol]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidTable, r.symbol)
		}
		*r.dst = id
	}
	for d := 0; d < 10; d++ {
		id, ok := v.ids[string(rune('0'+d))]
		if !ok {
			return nil, fmt.Errorf("%w: missing digit %d", ErrInvalidTable, d)
		}
		v.digits[d] = id
	}

	hasAmino := false
	for _, a := range v.amino {
		hasAmino = hasAmino || a
	}
	if !hasAmino {
		return nil, fmt.Errorf("%w: no amino-acid symbols", ErrInvalidTable)
	}
	return v, nil
}

// Size returns the number of tokens.
func (v *Vocabulary) Size() int { return len(v.symbols) }

// Symbols returns a copy of the symbol table in id order.
func (v *Vocabulary) Symbols() []string { return append([]string(nil), v.symbols...) }

// ID returns the id of a symbol.
func (v *Vocabulary) ID(symbol string) (int32, bool) {
	id, ok := v.ids[symbol]
	return id, ok
}

// Symbol returns the symbol for an id.
func (v *Vocabulary) Symbol(id int32) (string, error) {
	if id < 0 || int(id) >= len(v.symbols) {
		return "", fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	return v.symbols[id], nil
}

// Digit returns the token id of decimal digit d (0-9).
func (v *Vocabulary) Digit(d int) int32 { return v.digits[d] }

// Pad returns the padding token id.
func (v *Vocabulary) Pad() int32 { return v.pad }

// EOS returns the end-of-text token id.
func (v *Vocabulary) EOS() int32 { return v.eos }

// Start returns the sequence start token id.
func (v *Vocabulary) Start() int32 { return v.start }

// End returns the sequence end token id.
func (v *Vocabulary) End() int32 { return v.end }

// Sep returns the separator placed between control code and sequence.
func (v *Vocabulary) Sep() int32 { return v.sep }

// Unk returns the unknown token id.
func (v *Vocabulary) Unk() int32 { return v.unk }

// Wildcard returns the EC wildcard token id.
func (v *Vocabulary) Wildcard() int32 { return v.wildcard }

// Dot returns the EC field separator token id.
func (v *Vocabulary) Dot() int32 { return v.dot }

// IsAminoAcid reports whether id is a sequence symbol.
func (v *Vocabulary) IsAminoAcid(id int32) bool {
	return id >= 0 && int(id) < len(v.amino) && v.amino[id]
}

// Encode converts an amino-acid string to token ids. Control tokens and
// symbols outside the alphabet are rejected.
func (v *Vocabulary) Encode(seq string) ([]int32, error) {
	ids := make([]int32, 0, len(seq))
	for i, r := range seq {
		id, ok := v.ids[string(r)]
		if !ok || !v.amino[id] {
			return nil, fmt.Errorf("%w %q at position %d", ErrUnknownSymbol, r, i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode converts token ids back to their concatenated symbols.
func (v *Vocabulary) Decode(ids []int32) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		s, err := v.Symbol(id)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// DecodeSequence keeps only amino-acid tokens, dropping control tokens the
// way generated outputs are cleaned before they are written.
func (v *Vocabulary) DecodeSequence(ids []int32) string {
	var sb strings.Builder
	for _, id := range ids {
		if v.IsAminoAcid(id) {
			sb.WriteString(v.symbols[id])
		}
	}
	return sb.String()
}

// Equal reports whether two vocabularies have the same symbol table.
func (v *Vocabulary) Equal(other *Vocabulary) bool {
	if v == nil || other == nil {
		return v == other
	}
	if len(v.symbols) != len(other.symbols) {
		return false
	}
	for i := range v.symbols {
		if v.symbols[i] != other.symbols[i] {
			return false
		}
	}
	return true
}
