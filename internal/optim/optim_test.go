package optim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/zymctrl/internal/optim"
	"github.com/born-ml/zymctrl/internal/tensor"
)

func scalar(t *testing.T, v float32) tensor.StateDict {
	t.Helper()
	x, err := tensor.FromData(tensor.Shape{1}, []float32{v})
	require.NoError(t, err)
	return tensor.StateDict{"x": x}
}

func TestSGD_SimpleUpdate(t *testing.T) {
	params := scalar(t, 2.0)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1})

	require.NoError(t, opt.Step(params, scalar(t, 1.0)))

	// x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0
	assert.InDelta(t, 1.9, params["x"].Data()[0], 1e-6)
	assert.Empty(t, opt.StateDict())
}

func TestSGD_WithMomentum(t *testing.T) {
	params := scalar(t, 1.0)
	opt := optim.NewSGD(optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	require.NoError(t, opt.Step(params, scalar(t, 1.0)))
	// v = 1, x = 1 - 0.1
	assert.InDelta(t, 0.9, params["x"].Data()[0], 1e-6)

	require.NoError(t, opt.Step(params, scalar(t, 1.0)))
	// v = 0.9 + 1 = 1.9, x = 0.9 - 0.19
	assert.InDelta(t, 0.71, params["x"].Data()[0], 1e-6)
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	params := scalar(t, 1.0)
	opt := optim.NewAdam(optim.AdamConfig{LR: 0.01})

	require.NoError(t, opt.Step(params, scalar(t, 5.0)))

	// With bias correction the first update is lr * sign(grad).
	assert.InDelta(t, 0.99, params["x"].Data()[0], 1e-5)
	assert.Equal(t, 1, opt.Timestep())
}

func TestStepRejectsMismatchedGradients(t *testing.T) {
	params := scalar(t, 1.0)
	for _, opt := range []optim.Optimizer{optim.NewAdam(optim.AdamConfig{}), optim.NewSGD(optim.SGDConfig{})} {
		err := opt.Step(params, tensor.StateDict{"y": tensor.MustZeros(tensor.Shape{1})})
		assert.Error(t, err, opt.Type())

		err = opt.Step(params, tensor.StateDict{"x": tensor.MustZeros(tensor.Shape{2})})
		assert.Error(t, err, opt.Type())
	}
}

// Restoring exported state must continue the trajectory bit for bit.
func TestStateDictResumeIsExact(t *testing.T) {
	for _, name := range []string{optim.TypeAdam, optim.TypeSGD} {
		t.Run(name, func(t *testing.T) {
			newOpt := func() optim.Optimizer {
				if name == optim.TypeSGD {
					return optim.NewSGD(optim.SGDConfig{LR: 0.05, Momentum: 0.5})
				}
				return optim.NewAdam(optim.AdamConfig{LR: 0.05})
			}
			grads := []float32{0.3, -1.2, 0.7, 2.0}

			straight := scalar(t, 1.0)
			a := newOpt()
			for _, g := range grads {
				require.NoError(t, a.Step(straight, scalar(t, g)))
			}

			resumed := scalar(t, 1.0)
			b := newOpt()
			for _, g := range grads[:2] {
				require.NoError(t, b.Step(resumed, scalar(t, g)))
			}
			state := b.StateDict()
			c := newOpt()
			require.NoError(t, c.LoadStateDict(state))
			for _, g := range grads[2:] {
				require.NoError(t, c.Step(resumed, scalar(t, g)))
			}

			assert.True(t, straight.Equal(resumed))
		})
	}
}

func TestNew(t *testing.T) {
	opt, err := optim.New("Adam", 0.8e-4)
	require.NoError(t, err)
	assert.Equal(t, optim.TypeAdam, opt.Type())
	assert.InDelta(t, 0.8e-4, opt.LR(), 1e-12)

	_, err = optim.New("lbfgs", 1)
	assert.ErrorIs(t, err, optim.ErrUnknownOptimizer)

	err = optim.NewAdam(optim.AdamConfig{}).LoadStateDict(tensor.StateDict{})
	assert.ErrorIs(t, err, optim.ErrStateMismatch)
}
