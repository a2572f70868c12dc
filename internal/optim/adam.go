package optim

import (
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/zymctrl/internal/tensor"
)

const (
	adamFirstPrefix  = "m."
	adamSecondPrefix = "v."
	adamStepKey      = "t"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	lr    float32
	beta1 float32
	beta2 float32
	eps   float32
	t     int              // Timestep for bias correction
	m     tensor.StateDict // First moment estimates
	v     tensor.StateDict // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer, filling zero fields with defaults.
func NewAdam(config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		lr:    config.LR,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
		m:     make(tensor.StateDict),
		v:     make(tensor.StateDict),
	}
}

// Type implements Optimizer.
func (a *Adam) Type() string { return TypeAdam }

// Step performs a single optimization step using Adam algorithm.
func (a *Adam) Step(params, grads tensor.StateDict) error {
	for _, name := range grads.Names() {
		param, ok := params[name]
		if !ok {
			return fmt.Errorf("gradient %q has no parameter", name)
		}
		if err := checkGrad(name, param, grads[name]); err != nil {
			return err
		}
	}

	a.t++
	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, name := range grads.Names() {
		param := params[name]
		m := buffer(a.m, name, param).Data()
		v := buffer(a.v, name, param).Data()
		p := param.Data()

		for i, g := range grads[name].Data() {
			m[i] = a.beta1*m[i] + (1.0-a.beta1)*g
			v[i] = a.beta2*v[i] + (1.0-a.beta2)*g*g
			mHat := m[i] / biasCorrection1
			vHat := v[i] / biasCorrection2
			p[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
	return nil
}

// LR returns the current learning rate.
func (a *Adam) LR() float32 { return a.lr }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float32) { a.lr = lr }

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int { return a.t }

// Hyperparameters implements Optimizer.
func (a *Adam) Hyperparameters() map[string]float64 {
	return map[string]float64{
		"lr":    float64(a.lr),
		"beta1": float64(a.beta1),
		"beta2": float64(a.beta2),
		"eps":   float64(a.eps),
	}
}

// StateDict exports moments as "m.<param>", "v.<param>" and the timestep as "t".
func (a *Adam) StateDict() tensor.StateDict {
	out := make(tensor.StateDict, 2*len(a.m)+1)
	for name, t := range a.m {
		out[adamFirstPrefix+name] = t.Clone()
	}
	for name, t := range a.v {
		out[adamSecondPrefix+name] = t.Clone()
	}
	step, _ := tensor.FromData(tensor.Shape{1}, []float32{float32(a.t)})
	out[adamStepKey] = step
	return out
}

// LoadStateDict restores state exported by StateDict.
func (a *Adam) LoadStateDict(sd tensor.StateDict) error {
	step, ok := sd[adamStepKey]
	if !ok || step.NumElements() != 1 {
		return fmt.Errorf("%w: adam state has no timestep", ErrStateMismatch)
	}
	m := make(tensor.StateDict)
	v := make(tensor.StateDict)
	for name, t := range sd {
		switch {
		case name == adamStepKey:
		case strings.HasPrefix(name, adamFirstPrefix):
			m[strings.TrimPrefix(name, adamFirstPrefix)] = t.Clone()
		case strings.HasPrefix(name, adamSecondPrefix):
			v[strings.TrimPrefix(name, adamSecondPrefix)] = t.Clone()
		default:
			return fmt.Errorf("%w: unexpected adam tensor %q", ErrStateMismatch, name)
		}
	}
	if err := v.CheckLike(m); err != nil {
		return fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	a.t = int(step.Data()[0])
	a.m, a.v = m, v
	return nil
}
