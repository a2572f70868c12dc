package tensor

import (
	"fmt"
	"sort"
)

// StateDict maps parameter names to tensors.
type StateDict map[string]*Tensor

// Names returns the keys in sorted order. Serialization and reductions
// iterate in this order so results are reproducible.
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies every tensor.
func (sd StateDict) Clone() StateDict {
	out := make(StateDict, len(sd))
	for name, t := range sd {
		out[name] = t.Clone()
	}
	return out
}

// ZerosLike allocates zero tensors with the same names and shapes.
func (sd StateDict) ZerosLike() StateDict {
	out := make(StateDict, len(sd))
	for name, t := range sd {
		out[name] = MustZeros(t.shape)
	}
	return out
}

// Zero resets every tensor.
func (sd StateDict) Zero() {
	for _, t := range sd {
		t.Zero()
	}
}

// Add accumulates other into sd. Both must have the same names and shapes.
func (sd StateDict) Add(other StateDict) error {
	for name, t := range other {
		dst, ok := sd[name]
		if !ok {
			return fmt.Errorf("state dict has no tensor %q", name)
		}
		if err := dst.AddInPlace(t); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
	}
	return nil
}

// Scale multiplies every tensor by s.
func (sd StateDict) Scale(s float32) {
	for _, t := range sd {
		t.Scale(s)
	}
}

// Equal reports whether both dicts hold bitwise identical tensors.
func (sd StateDict) Equal(other StateDict) bool {
	if len(sd) != len(other) {
		return false
	}
	for name, t := range sd {
		if !t.Equal(other[name]) {
			return false
		}
	}
	return true
}

// CheckLike verifies that sd has exactly the names and shapes of want.
func (sd StateDict) CheckLike(want StateDict) error {
	if len(sd) != len(want) {
		return fmt.Errorf("expected %d tensors, got %d", len(want), len(sd))
	}
	for name, w := range want {
		t, ok := sd[name]
		if !ok {
			return fmt.Errorf("missing tensor %q", name)
		}
		if !t.shape.Equal(w.shape) {
			return fmt.Errorf("tensor %q: shape %v, want %v", name, t.shape, w.shape)
		}
	}
	return nil
}
