package detector

import "errors"

var (
	// ErrShapeMismatch reports output tensors whose dimensions do not match
	// the layout the selected decoder expects.
	ErrShapeMismatch = errors.New("tensor shape mismatch")

	// ErrInvalidGeometry reports a model input size that is not an exact,
	// equal multiple of the output grid on both axes.
	ErrInvalidGeometry = errors.New("invalid grid geometry")
)
