// Package optim implements the optimizers used by fine-tuning.
//
// Optimizers work on named parameters (tensor.StateDict) and keep their own
// moment buffers keyed by the same names. Their state is exported as a
// StateDict too, so a checkpoint can restore an optimizer exactly.
//
// Example usage:
//
//	opt := optim.NewAdam(optim.AdamConfig{LR: 0.8e-4})
//
//	for step := range steps {
//	    grads := computeGradients(params, batch)
//	    if err := opt.Step(params, grads); err != nil {
//	        return err
//	    }
//	}
package optim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/zymctrl/internal/tensor"
)

// Optimizer type names as stored in checkpoints.
const (
	TypeAdam = "adam"
	TypeSGD  = "sgd"
)

var (
	// ErrUnknownOptimizer is returned by New for an unrecognized type name.
	ErrUnknownOptimizer = errors.New("unknown optimizer")
	// ErrStateMismatch is returned when restoring state that does not fit.
	ErrStateMismatch = errors.New("optimizer state mismatch")
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Type returns the name recorded in checkpoints ("adam", "sgd").
	Type() string

	// Step applies one update to params in place. grads must have the same
	// names and shapes as params; names missing from grads are skipped.
	Step(params, grads tensor.StateDict) error

	// LR returns the current learning rate.
	LR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)

	// Hyperparameters reports the configuration for checkpoint metadata.
	Hyperparameters() map[string]float64

	// StateDict exports a deep copy of the internal buffers.
	StateDict() tensor.StateDict

	// LoadStateDict replaces the internal buffers with a copy of sd.
	LoadStateDict(sd tensor.StateDict) error
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// New returns an optimizer by type name with default hyperparameters.
func New(name string, lr float32) (Optimizer, error) {
	switch strings.ToLower(name) {
	case TypeAdam:
		return NewAdam(AdamConfig{LR: lr}), nil
	case TypeSGD:
		return NewSGD(SGDConfig{LR: lr}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, name)
	}
}

// buffer returns the named moment buffer, allocating it like param.
func buffer(state tensor.StateDict, key string, param *tensor.Tensor) *tensor.Tensor {
	b, ok := state[key]
	if !ok {
		b = tensor.MustZeros(param.Shape())
		state[key] = b
	}
	return b
}

func checkGrad(name string, param, grad *tensor.Tensor) error {
	if !param.Shape().Equal(grad.Shape()) {
		return fmt.Errorf("gradient %q: shape %v, parameter %v", name, grad.Shape(), param.Shape())
	}
	return nil
}
