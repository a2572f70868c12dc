package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayout(t *testing.T) {
	v := Default()

	assert.Equal(t, int32(0), v.Pad())
	assert.Equal(t, int32(1), v.EOS())
	assert.Equal(t, int32(2), v.Start())
	assert.Equal(t, int32(3), v.End())
	assert.Equal(t, int32(4), v.Sep())
	assert.Equal(t, 8+10+len(AminoAcids), v.Size())

	for d := 0; d < 10; d++ {
		s, err := v.Symbol(v.Digit(d))
		require.NoError(t, err)
		assert.Equal(t, string(rune('0'+d)), s)
	}
}

func TestEncodeDecode(t *testing.T) {
	v := Default()

	ids, err := v.Encode("MKVLAW")
	require.NoError(t, err)
	require.Len(t, ids, 6)
	for _, id := range ids {
		assert.True(t, v.IsAminoAcid(id))
	}

	text, err := v.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "MKVLAW", text)
}

func TestEncodeRejectsUnknown(t *testing.T) {
	v := Default()

	for _, seq := range []string{"MKJ", "mk", "MK*", "1AB", "A-B"} {
		_, err := v.Encode(seq)
		assert.ErrorIs(t, err, ErrUnknownSymbol, seq)
	}
}

func TestDecodeSequenceDropsControlTokens(t *testing.T) {
	v := Default()
	ids, err := v.Encode("MKV")
	require.NoError(t, err)

	withControls := append([]int32{v.Start()}, ids...)
	withControls = append(withControls, v.End(), v.EOS(), v.Pad())

	assert.Equal(t, "MKV", v.DecodeSequence(withControls))
}

func TestDecodeUnknownID(t *testing.T) {
	v := Default()
	_, err := v.Decode([]int32{int32(v.Size())})
	assert.ErrorIs(t, err, ErrUnknownID)
}

func TestNewValidatesTable(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
	}{
		{"duplicate", append(DefaultSymbols(), "A")},
		{"empty", append(DefaultSymbols(), "")},
		{"missing sep", without(DefaultSymbols(), SepSymbol)},
		{"missing digit", without(DefaultSymbols(), "7")},
		{"no amino acids", DefaultSymbols()[:18]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.symbols)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestEqual(t *testing.T) {
	a := Default()
	b, err := New(a.Symbols())
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	swapped := a.Symbols()
	n := len(swapped)
	swapped[n-1], swapped[n-2] = swapped[n-2], swapped[n-1]
	c, err := New(swapped)
	require.NoError(t, err)
	assert.False(t, a.Equal(c))
}

func without(symbols []string, drop string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}
