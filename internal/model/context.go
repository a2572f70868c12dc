package model

import (
	"fmt"
	"math"

	"github.com/born-ml/zymctrl/internal/parallel"
	"github.com/born-ml/zymctrl/internal/tensor"
	"github.com/born-ml/zymctrl/internal/vocab"
)

// Parameter names of ContextModel.
const (
	ParamBias    = "bias"    // [V]
	ParamBigram  = "bigram"  // [V, V]: previous token -> next
	ParamTrigram = "trigram" // [V*V, V]: two previous tokens -> next
	ParamControl = "control" // [V, V]: control token -> next, averaged over the code
)

// Architecture is recorded in artifact metadata.
const Architecture = "context-ngram"

// ContextModel predicts the next token from the last two tokens plus the
// control code that precedes <sep>. Logits are the sum of four lookup tables:
//
//	logit[j] = bias[j] + bigram[p1][j] + trigram[p2*V+p1][j] + mean_c control[c][j]
//
// With all tables at zero the next-token distribution is uniform.
type ContextModel struct {
	vocab  *vocab.Vocabulary
	params tensor.StateDict
	par    parallel.Config
}

// NewContextModel creates a model with zero weights for v.
func NewContextModel(v *vocab.Vocabulary) *ContextModel {
	n := v.Size()
	return &ContextModel{
		vocab: v,
		params: tensor.StateDict{
			ParamBias:    tensor.MustZeros(tensor.Shape{n}),
			ParamBigram:  tensor.MustZeros(tensor.Shape{n, n}),
			ParamTrigram: tensor.MustZeros(tensor.Shape{n * n, n}),
			ParamControl: tensor.MustZeros(tensor.Shape{n, n}),
		},
		par: parallel.DefaultConfig(),
	}
}

// FromStateDict builds a model from existing weights. The weights are used
// as is, not copied.
func FromStateDict(v *vocab.Vocabulary, sd tensor.StateDict) (*ContextModel, error) {
	m := NewContextModel(v)
	if err := sd.CheckLike(m.params); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncompatible, err)
	}
	m.params = sd
	return m, nil
}

// SetParallel overrides the fan-out used by Forward and Gradients.
func (m *ContextModel) SetParallel(cfg parallel.Config) { m.par = cfg }

// Vocabulary returns the symbol table the model was built for.
func (m *ContextModel) Vocabulary() *vocab.Vocabulary { return m.vocab }

// VocabSize implements LanguageModel.
func (m *ContextModel) VocabSize() int { return m.vocab.Size() }

// Params implements Trainable.
func (m *ContextModel) Params() tensor.StateDict { return m.params }

// Clone implements Trainable.
func (m *ContextModel) Clone() Trainable {
	return &ContextModel{vocab: m.vocab, params: m.params.Clone(), par: m.par}
}

// Forward implements LanguageModel. Rows are computed in parallel.
func (m *ContextModel) Forward(batch [][]int32) ([][]float32, error) {
	for i, seq := range batch {
		if err := m.check(seq); err != nil {
			return nil, fmt.Errorf("batch row %d: %w", i, err)
		}
	}
	out := make([][]float32, len(batch))
	parallel.For(len(batch), func(i int) {
		out[i] = make([]float32, m.vocab.Size())
		m.logits(m.features(batch[i]), out[i])
	}, m.par)
	return out, nil
}

// Gradients implements Trainable.
func (m *ContextModel) Gradients(examples []Example, grads tensor.StateDict) (float64, int, error) {
	if err := grads.CheckLike(m.params); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrIncompatible, err)
	}

	n := m.vocab.Size()
	logits := make([]float32, n)
	var nll float64
	var count int

	for i, ex := range examples {
		seq := make([]int32, 0, len(ex.Prompt)+len(ex.Target))
		seq = append(seq, ex.Prompt...)
		seq = append(seq, ex.Target...)
		if err := m.check(seq); err != nil {
			return 0, 0, fmt.Errorf("example %d: %w", i, err)
		}
		if len(ex.Prompt) == 0 {
			return 0, 0, fmt.Errorf("example %d: %w", i, ErrEmptySequence)
		}

		for t, target := range ex.Target {
			f := m.features(seq[:len(ex.Prompt)+t])
			m.logits(f, logits)
			lp := LogSoftmax(logits)
			nll -= lp[target]
			count++
			m.backward(f, lp, target, grads)
		}
	}
	return nll, count, nil
}

// features are the table rows one prefix touches.
type features struct {
	prev1, prev2 int32 // prev2 < 0 when the prefix has one token
	control      []int32
}

func (m *ContextModel) features(prefix []int32) features {
	f := features{prev1: prefix[len(prefix)-1], prev2: -1}
	if len(prefix) > 1 {
		f.prev2 = prefix[len(prefix)-2]
	}
	sep := m.vocab.Sep()
	for i, tok := range prefix {
		if tok == sep {
			f.control = prefix[:i]
			break
		}
	}
	return f
}

func (m *ContextModel) logits(f features, out []float32) {
	n := m.vocab.Size()
	copy(out, m.params[ParamBias].Data())
	addRow(out, m.params[ParamBigram].Row(int(f.prev1)), 1)
	if f.prev2 >= 0 {
		addRow(out, m.params[ParamTrigram].Row(int(f.prev2)*n+int(f.prev1)), 1)
	}
	if len(f.control) > 0 {
		w := 1 / float32(len(f.control))
		control := m.params[ParamControl]
		for _, c := range f.control {
			addRow(out, control.Row(int(c)), w)
		}
	}
}

// backward adds softmax(logits) - onehot(target) into every touched row.
func (m *ContextModel) backward(f features, logProbs []float64, target int32, grads tensor.StateDict) {
	n := m.vocab.Size()
	delta := make([]float32, n)
	for j, lp := range logProbs {
		delta[j] = float32(math.Exp(lp))
	}
	delta[target]--

	addRow(grads[ParamBias].Data(), delta, 1)
	addRow(grads[ParamBigram].Row(int(f.prev1)), delta, 1)
	if f.prev2 >= 0 {
		addRow(grads[ParamTrigram].Row(int(f.prev2)*n+int(f.prev1)), delta, 1)
	}
	if len(f.control) > 0 {
		w := 1 / float32(len(f.control))
		control := grads[ParamControl]
		for _, c := range f.control {
			addRow(control.Row(int(c)), delta, w)
		}
	}
}

func (m *ContextModel) check(seq []int32) error {
	if len(seq) == 0 {
		return ErrEmptySequence
	}
	n := int32(m.vocab.Size())
	for _, tok := range seq {
		if tok < 0 || tok >= n {
			return fmt.Errorf("%w: %d (vocab size %d)", ErrTokenOutOfRange, tok, n)
		}
	}
	return nil
}

func addRow(dst, src []float32, w float32) {
	for j, v := range src {
		dst[j] += w * v
	}
}
