package model

import (
	"bytes"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/zymctrl/internal/parallel"
	"github.com/born-ml/zymctrl/internal/tensor"
	"github.com/born-ml/zymctrl/internal/vocab"
)

func example(t *testing.T, v *vocab.Vocabulary, seq string) Example {
	t.Helper()
	target, err := v.Encode(seq)
	require.NoError(t, err)
	prompt := []int32{v.Digit(1), v.Dot(), v.Digit(2), v.Dot(), v.Digit(3), v.Dot(), v.Digit(4), v.Sep(), v.Start()}
	return Example{Prompt: prompt, Target: append(target, v.End())}
}

func TestZeroModelIsUniform(t *testing.T) {
	v := vocab.Default()
	m := NewContextModel(v)

	logits, err := m.Forward([][]int32{{v.Start()}, {v.Digit(1), v.Sep(), v.Start()}})
	require.NoError(t, err)
	require.Len(t, logits, 2)

	for _, row := range logits {
		lp := LogSoftmax(row)
		for _, x := range lp {
			assert.InDelta(t, -math.Log(float64(v.Size())), x, 1e-9)
		}
	}
}

func TestForwardRejectsBadInput(t *testing.T) {
	m := NewContextModel(vocab.Default())

	_, err := m.Forward([][]int32{{}})
	assert.ErrorIs(t, err, ErrEmptySequence)

	_, err = m.Forward([][]int32{{int32(m.VocabSize())}})
	assert.ErrorIs(t, err, ErrTokenOutOfRange)
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	v := vocab.Default()
	m := NewContextModel(v)
	// Non-trivial starting point.
	for i, name := range m.Params().Names() {
		data := m.Params()[name].Data()
		for j := range data {
			data[j] = float32(math.Sin(float64(i*7919+j))) * 0.1
		}
	}
	ex := []Example{example(t, v, "MKV")}

	grads := m.Params().ZerosLike()
	_, count, err := m.Gradients(ex, grads)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	nll := func() float64 {
		var sum float64
		for _, e := range ex {
			lps, err := TokenLogProbs(m, e.Prompt, e.Target)
			require.NoError(t, err)
			for _, lp := range lps {
				sum -= lp
			}
		}
		return sum
	}

	const eps = 1e-2
	probe := func(name string, idx int) {
		p := m.Params()[name].Data()
		orig := p[idx]
		p[idx] = orig + eps
		up := nll()
		p[idx] = orig - eps
		down := nll()
		p[idx] = orig
		numeric := (up - down) / (2 * eps)
		assert.InDelta(t, numeric, grads[name].Data()[idx], 2e-3, "%s[%d]", name, idx)
	}

	n := v.Size()
	mID, _ := v.ID("M")
	kID, _ := v.ID("K")
	probe(ParamBias, int(kID))
	probe(ParamBigram, int(mID)*n+int(kID))
	probe(ParamTrigram, (int(v.Start())*n+int(mID))*n+int(kID))
	probe(ParamControl, int(v.Digit(1))*n+int(mID))
}

func TestSGDOnGradientsLowersNLL(t *testing.T) {
	v := vocab.Default()
	m := NewContextModel(v)
	m.SetParallel(parallel.Sequential())
	ex := []Example{example(t, v, "MKVLAAG"), example(t, v, "MKVLSTG")}

	before, _, err := m.Gradients(ex, m.Params().ZerosLike())
	require.NoError(t, err)

	for range 20 {
		grads := m.Params().ZerosLike()
		_, _, err := m.Gradients(ex, grads)
		require.NoError(t, err)
		grads.Scale(-0.5)
		require.NoError(t, m.Params().Add(grads))
	}

	after, _, err := m.Gradients(ex, m.Params().ZerosLike())
	require.NoError(t, err)
	assert.Less(t, after, before)
}

func TestCloneSharesNothing(t *testing.T) {
	m := NewContextModel(vocab.Default())
	c := m.Clone()
	c.Params()[ParamBias].Data()[0] = 3
	assert.Equal(t, float32(0), m.Params()[ParamBias].Data()[0])
}

func TestPerplexityOfUniformModel(t *testing.T) {
	v := vocab.Default()
	ex := example(t, v, "ACD")
	ppl, err := Perplexity(NewContextModel(v), ex.Prompt, ex.Target)
	require.NoError(t, err)
	assert.InDelta(t, float64(v.Size()), ppl, 1e-6)
}

func TestStorePublish(t *testing.T) {
	v := vocab.Default()
	s := NewStore(NewContextModel(v), "base")
	first := s.Current()
	assert.Equal(t, uint64(1), first.Version)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Publish(NewContextModel(v), "step")
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(9), s.Current().Version)
	assert.Equal(t, "base", first.Source, "bound snapshots never change")
}

func TestArtifactRoundTrip(t *testing.T) {
	v := vocab.Default()
	m := NewContextModel(v)
	m.Params()[ParamControl].Data()[5] = 1.25

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, m))
	got, err := Load(&buf)
	require.NoError(t, err)
	assert.True(t, got.Params().Equal(m.Params()))
	assert.True(t, got.Vocabulary().Equal(v))

	path := filepath.Join(t.TempDir(), "base.born")
	require.NoError(t, SaveFile(path, m))
	got, err = LoadFile(path)
	require.NoError(t, err)
	assert.True(t, got.Params().Equal(m.Params()))
}

func TestFromStateDictRejectsWrongShapes(t *testing.T) {
	_, err := FromStateDict(vocab.Default(), tensor.StateDict{ParamBias: tensor.MustZeros(tensor.Shape{3})})
	assert.ErrorIs(t, err, ErrIncompatible)
}
