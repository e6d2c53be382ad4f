// Package mock provides an in-memory inference engine for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
)

// Engine returns canned outputs for every Run call.
type Engine struct {
	Outputs []tensor.Tensor
	Err     error

	mu     sync.Mutex
	calls  int
	inputs []tensor.Tensor
	closed bool
}

// NewEngine returns an Engine that always yields outputs.
func NewEngine(outputs ...tensor.Tensor) *Engine {
	return &Engine{Outputs: outputs}
}

// Run records the input and returns copies of the canned outputs.
func (e *Engine) Run(ctx context.Context, input tensor.Tensor) ([]tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("engine is closed")
	}
	e.calls++
	e.inputs = append(e.inputs, input)
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([]tensor.Tensor, len(e.Outputs))
	for i, t := range e.Outputs {
		out[i] = tensor.Tensor{
			Name:  t.Name,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		}
	}
	return out, nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls returns the number of Run invocations.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Inputs returns the inputs seen so far.
func (e *Engine) Inputs() []tensor.Tensor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]tensor.Tensor(nil), e.inputs...)
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
