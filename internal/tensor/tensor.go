// Package tensor holds the dense float32 arrays that make up model weights,
// gradients and optimizer moments.
//
// Tensors here are plain row-major buffers: there is no device abstraction
// and no lazy evaluation. Parameters are addressed by name through a
// StateDict, which is also the unit of serialization.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor is a row-major float32 array.
type Tensor struct {
	shape Shape
	data  []float32
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Tensor{shape: shape.Clone(), data: make([]float32, shape.NumElements())}, nil
}

// MustZeros is Zeros for shapes known to be valid.
func MustZeros(shape Shape) *Tensor {
	t, err := Zeros(shape)
	if err != nil {
		panic(err)
	}
	return t
}

// FromData wraps data (not copied) with the given shape.
func FromData(shape Shape, data []float32) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, shape.NumElements(), len(data))
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Shape returns a copy of the tensor shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// Data returns the underlying buffer. Writes are visible to the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// NumElements returns the element count.
func (t *Tensor) NumElements() int { return len(t.data) }

// Row returns row i of a 2-D tensor as a slice into the buffer.
func (t *Tensor) Row(i int) []float32 {
	cols := t.shape[len(t.shape)-1]
	return t.data[i*cols : (i+1)*cols]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), data: append([]float32(nil), t.data...)}
}

// Zero resets every element to 0.
func (t *Tensor) Zero() {
	clear(t.data)
}

// AddInPlace adds other element-wise into t.
func (t *Tensor) AddInPlace(other *Tensor) error {
	if !t.shape.Equal(other.shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.shape, other.shape)
	}
	for i, v := range other.data {
		t.data[i] += v
	}
	return nil
}

// Scale multiplies every element by s.
func (t *Tensor) Scale(s float32) {
	for i := range t.data {
		t.data[i] *= s
	}
}

// Bytes encodes the data as little-endian float32 values.
func (t *Tensor) Bytes() []byte {
	out := make([]byte, 4*len(t.data))
	for i, v := range t.data {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// FromBytes decodes little-endian float32 values into a tensor of the given shape.
func FromBytes(shape Shape, b []byte) (*Tensor, error) {
	if len(b) != 4*shape.NumElements() {
		return nil, fmt.Errorf("shape %v needs %d bytes, got %d", shape, 4*shape.NumElements(), len(b))
	}
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return FromData(shape, data)
}

// Equal reports bitwise equality of shape and data.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) || len(t.data) != len(other.data) {
		return false
	}
	for i := range t.data {
		if math.Float32bits(t.data[i]) != math.Float32bits(other.data[i]) {
			return false
		}
	}
	return true
}
