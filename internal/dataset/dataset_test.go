package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fastaInput = `>sp|P00330|ADH1 alcohol dehydrogenase EC=1.1.1.1
MSIPETQKGV IAAEH
KLVD*
>custom ec:2.7.-.-
mkvl
>unlabelled
ACDE
`

func TestReadFASTA(t *testing.T) {
	got, err := ReadFASTA(strings.NewReader(fastaInput), "3.1.1.1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, Record{ID: "sp|P00330|ADH1", Sequence: "MSIPETQKGVIAAEHKLVD", ECCode: "1.1.1.1"}, got[0])
	assert.Equal(t, Record{ID: "custom", Sequence: "MKVL", ECCode: "2.7.-.-"}, got[1])
	assert.Equal(t, "3.1.1.1", got[2].ECCode)
}

func TestReadDelimited(t *testing.T) {
	tsv := "ID\tSequence\tEC_number\n" +
		"a\tmkv lg\t1.1.1.1\n" +
		"\t\t\n" +
		"\tACD\t4.2.1.1\n"
	got, err := ReadDelimited(strings.NewReader(tsv), '\t')
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Record{ID: "a", Sequence: "MKVLG", ECCode: "1.1.1.1"}, got[0])
	assert.Equal(t, "row4", got[1].ID)

	csvIn := "seq,ec\nMKV,1.1.1.1\n"
	got, err = ReadDelimited(strings.NewReader(csvIn), ',')
	require.NoError(t, err)
	assert.Equal(t, []Record{{ID: "row2", Sequence: "MKV", ECCode: "1.1.1.1"}}, got)
}

func TestReadDelimitedMissingColumns(t *testing.T) {
	_, err := ReadDelimited(strings.NewReader("id,ec\nx,1.1.1.1\n"), ',')
	assert.ErrorIs(t, err, ErrMissingColumn)

	_, err = ReadDelimited(strings.NewReader("id,sequence\nx,MKV\n"), ',')
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()

	fa := filepath.Join(dir, "train.fasta")
	require.NoError(t, os.WriteFile(fa, []byte(fastaInput), 0o600))
	got, err := Load(fa, Options{DefaultEC: "1.1.1.1"})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	csvPath := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("sequence,ec_code\nMKV,1.1.1.1\n"), 0o600))
	got, err = Load(csvPath, Options{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = Load(filepath.Join(dir, "train.parquet"), Options{})
	assert.Error(t, err)

	bad := filepath.Join(dir, "train.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0o600))
	_, err = Load(bad, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "MKVL", Normalize(" mk\tv\nl** "))
}
