package prompt

import (
	"fmt"
	"strings"

	"github.com/born-ml/zymctrl/internal/vocab"
)

// Prompt is the token prefix for one EC code. It is immutable: accessors
// return copies.
type Prompt struct {
	code   ECCode
	tokens []int32
}

// Build encodes code as a prompt. The result depends only on the code
// string and the vocabulary.
func Build(v *vocab.Vocabulary, code string) (Prompt, error) {
	ec, err := ParseEC(code)
	if err != nil {
		return Prompt{}, err
	}
	return FromCode(v, ec), nil
}

// FromCode encodes an already parsed code.
func FromCode(v *vocab.Vocabulary, ec ECCode) Prompt {
	tokens := make([]int32, 0, len(ec.String())+2)
	for i, f := range ec.fields {
		if i > 0 {
			tokens = append(tokens, v.Dot())
		}
		if f == Wildcard {
			tokens = append(tokens, v.Wildcard())
			continue
		}
		for _, r := range f {
			tokens = append(tokens, v.Digit(int(r-'0')))
		}
	}
	tokens = append(tokens, v.Sep(), v.Start())
	return Prompt{code: ec, tokens: tokens}
}

// Code returns the EC code the prompt was built from.
func (p Prompt) Code() ECCode { return p.code }

// Tokens returns a copy of the prompt token ids.
func (p Prompt) Tokens() []int32 { return append([]int32(nil), p.tokens...) }

// Len returns the number of prompt tokens.
func (p Prompt) Len() int { return len(p.tokens) }

// ControlTokens returns the tokens that encode the EC code itself, without
// the trailing <sep> and <start>.
func (p Prompt) ControlTokens() []int32 {
	if len(p.tokens) < 2 {
		return nil
	}
	return append([]int32(nil), p.tokens[:len(p.tokens)-2]...)
}

// DecodeCode reads the EC code back from the leading tokens of a sequence
// that starts with a prompt. Decoding stops at <sep>.
func DecodeCode(v *vocab.Vocabulary, tokens []int32) (string, error) {
	var sb strings.Builder
	for _, id := range tokens {
		if id == v.Sep() {
			code := sb.String()
			if _, err := ParseEC(code); err != nil {
				return "", err
			}
			return code, nil
		}
		s, err := v.Symbol(id)
		if err != nil {
			return "", err
		}
		if id != v.Dot() && id != v.Wildcard() && !isDigit(s) {
			return "", fmt.Errorf("%w: unexpected token %q in control code", ErrInvalidCodeFormat, s)
		}
		sb.WriteString(s)
	}
	return "", fmt.Errorf("%w: missing %s after control code", ErrInvalidCodeFormat, vocab.SepSymbol)
}

func isDigit(s string) bool {
	return len(s) == 1 && s[0] >= '0' && s[0] <= '9'
}
