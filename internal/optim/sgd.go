package optim

import (
	"fmt"
	"strings"

	"github.com/born-ml/zymctrl/internal/tensor"
)

const sgdVelocityPrefix = "velocity."

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	lr         float32
	momentum   float32
	velocities tensor.StateDict
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD{
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(tensor.StateDict),
	}
}

// Type implements Optimizer.
func (s *SGD) Type() string { return TypeSGD }

// Step performs a single optimization step.
func (s *SGD) Step(params, grads tensor.StateDict) error {
	for _, name := range grads.Names() {
		param, ok := params[name]
		if !ok {
			return fmt.Errorf("gradient %q has no parameter", name)
		}
		if err := checkGrad(name, param, grads[name]); err != nil {
			return err
		}
	}

	for _, name := range grads.Names() {
		p := params[name].Data()
		g := grads[name].Data()

		if s.momentum == 0 {
			for i := range p {
				p[i] -= s.lr * g[i]
			}
			continue
		}

		vel := buffer(s.velocities, name, params[name]).Data()
		for i := range p {
			vel[i] = s.momentum*vel[i] + g[i]
			p[i] -= s.lr * vel[i]
		}
	}
	return nil
}

// LR returns the current learning rate.
func (s *SGD) LR() float32 { return s.lr }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float32) { s.lr = lr }

// Hyperparameters implements Optimizer.
func (s *SGD) Hyperparameters() map[string]float64 {
	return map[string]float64{"lr": float64(s.lr), "momentum": float64(s.momentum)}
}

// StateDict returns the optimizer state for serialization.
//
// Without momentum there is no state and the map is empty.
func (s *SGD) StateDict() tensor.StateDict {
	out := make(tensor.StateDict, len(s.velocities))
	for name, t := range s.velocities {
		out[sgdVelocityPrefix+name] = t.Clone()
	}
	return out
}

// LoadStateDict restores velocity buffers exported by StateDict.
func (s *SGD) LoadStateDict(sd tensor.StateDict) error {
	vel := make(tensor.StateDict, len(sd))
	for name, t := range sd {
		if !strings.HasPrefix(name, sgdVelocityPrefix) {
			return fmt.Errorf("%w: unexpected sgd tensor %q", ErrStateMismatch, name)
		}
		vel[strings.TrimPrefix(name, sgdVelocityPrefix)] = t.Clone()
	}
	s.velocities = vel
	return nil
}
