// Package tensor holds raw float32 network outputs together with their shape.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow reports a shape whose element count does not fit in an int.
var ErrOverflow = errors.New("tensor shape overflows")

// Tensor is a flat float32 buffer with explicit shape metadata.
// Data layout is row-major over Shape (last dimension varies fastest).
type Tensor struct {
	Name  string    `json:"name,omitempty"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// New builds a tensor over data, which must hold exactly prod(shape) values.
// The data slice is borrowed, not copied.
func New(data []float32, shape ...int) (Tensor, error) {
	if data == nil {
		return Tensor{}, errors.New("nil data")
	}
	t := Tensor{Data: data, Shape: append([]int(nil), shape...)}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// Named returns a copy of t carrying the given output name.
func (t Tensor) Named(name string) Tensor {
	t.Name = name
	return t
}

// Validate checks that every dimension is positive and that the data length
// matches the shape.
func (t Tensor) Validate() error {
	want, err := Volume(t.Shape)
	if err != nil {
		return err
	}
	if len(t.Data) != want {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), want, t.Shape)
	}
	return nil
}

// Dims3 returns the three trailing dimensions of a rank-3 tensor, or of a
// rank-4 tensor whose leading batch dimension is 1.
func (t Tensor) Dims3() (int, int, int, error) {
	if err := t.Validate(); err != nil {
		return 0, 0, 0, err
	}
	shape := t.Shape
	if len(shape) == 4 {
		if shape[0] != 1 {
			return 0, 0, 0, fmt.Errorf("batch dimension must be 1, got %d", shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return 0, 0, 0, fmt.Errorf("shape rank %d != 3", len(t.Shape))
	}
	return shape[0], shape[1], shape[2], nil
}

// At3 returns the element at (i, j, k) of a rank-3 view of t. It returns an
// error instead of panicking when the index falls outside the shape.
func (t Tensor) At3(i, j, k int) (float32, error) {
	d0, d1, d2, err := t.Dims3()
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= d0 || j < 0 || j >= d1 || k < 0 || k >= d2 {
		return 0, fmt.Errorf("index (%d,%d,%d) out of range for dims (%d,%d,%d)", i, j, k, d0, d1, d2)
	}
	return t.Data[(i*d1+j)*d2+k], nil
}

// Volume returns the product of dims. An empty shape, a non-positive
// dimension or a product past math.MaxInt is an error.
func Volume(dims []int) (int, error) {
	if len(dims) == 0 {
		return 0, errors.New("empty shape")
	}
	n := 1
	for i, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
		if n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: %v", ErrOverflow, dims)
		}
		n *= d
	}
	return n, nil
}

// ChannelsLast converts a channel-major [C,H,W] (or [1,C,H,W]) tensor into a
// packed [H,W,C] tensor where each cell's values are contiguous.
func (t Tensor) ChannelsLast() (Tensor, error) {
	c, h, w, err := t.Dims3()
	if err != nil {
		return Tensor{}, err
	}
	out := make([]float32, len(t.Data))
	plane := h * w
	for ch := range c {
		for cell := range plane {
			out[cell*c+ch] = t.Data[ch*plane+cell]
		}
	}
	return Tensor{Name: t.Name, Shape: []int{h, w, c}, Data: out}, nil
}
