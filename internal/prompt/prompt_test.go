package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/zymctrl/internal/vocab"
)

func TestBuildRoundTrip(t *testing.T) {
	v := vocab.Default()

	codes := []string{"1.1.1.1", "1.1.1.-", "3.2.-.-", "-.-.-.-", "2.7.11.24", "4.2.1.001", "6.5.1.10"}
	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			p, err := Build(v, code)
			require.NoError(t, err)

			decoded, err := DecodeCode(v, p.Tokens())
			require.NoError(t, err)
			assert.Equal(t, code, decoded)
			assert.Equal(t, code, p.Code().String())

			tokens := p.Tokens()
			assert.Equal(t, v.Start(), tokens[len(tokens)-1])
			assert.Equal(t, v.Sep(), tokens[len(tokens)-2])
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	v := vocab.Default()

	a, err := Build(v, "1.1.1.1")
	require.NoError(t, err)
	b, err := Build(v, "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, a.Tokens(), b.Tokens())
}

func TestWildcardUsesDistinctToken(t *testing.T) {
	v := vocab.Default()

	p, err := Build(v, "1.1.1.-")
	require.NoError(t, err)
	assert.Contains(t, p.Tokens(), v.Wildcard())
	assert.Equal(t, []int32{v.Digit(1), v.Dot(), v.Digit(1), v.Dot(), v.Digit(1), v.Dot(), v.Wildcard()}, p.ControlTokens())
}

func TestBuildRejectsMalformed(t *testing.T) {
	v := vocab.Default()

	bad := []string{"", "1", "1.1.1", "1.1.1.1.1", "1.1.1.", "1..1.1", "1.1.1.x", "a.b.c.d", "1.1.1.-1", "1.1.1.*", " 1.1.1.1", "1.1.1.1 ", "1.-.2.+3"}
	for _, code := range bad {
		t.Run(code, func(t *testing.T) {
			p, err := Build(v, code)
			require.ErrorIs(t, err, ErrInvalidCodeFormat)
			assert.Equal(t, 0, p.Len())
		})
	}
}

func TestPromptTokensAreCopies(t *testing.T) {
	v := vocab.Default()
	p, err := Build(v, "1.1.1.1")
	require.NoError(t, err)

	tokens := p.Tokens()
	tokens[0] = v.Pad()
	assert.Equal(t, v.Digit(1), p.Tokens()[0])
}

func TestDecodeCodeErrors(t *testing.T) {
	v := vocab.Default()

	_, err := DecodeCode(v, []int32{v.Digit(1), v.Dot()})
	assert.ErrorIs(t, err, ErrInvalidCodeFormat, "missing separator")

	aa, err := v.Encode("M")
	require.NoError(t, err)
	_, err = DecodeCode(v, []int32{aa[0], v.Sep()})
	assert.ErrorIs(t, err, ErrInvalidCodeFormat, "amino acid in control code")
}

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, code string
		want          bool
	}{
		{"1.1.1.-", "1.1.1.1", true},
		{"1.1.1.-", "1.1.2.1", false},
		{"-.-.-.-", "6.5.1.10", true},
		{"1.1.1.1", "1.1.1.01", true},
		{"1.1.1.1", "1.1.1.-", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MustParseEC(tt.pattern).Matches(MustParseEC(tt.code)), "%s vs %s", tt.pattern, tt.code)
	}
	assert.True(t, MustParseEC("1.1.-.-").IsPartial())
	assert.False(t, MustParseEC("1.1.1.1").IsPartial())
}
