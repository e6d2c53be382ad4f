package pipeline

import (
	"time"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
)

// Result is the decoded and suppressed output for one frame.
type Result struct {
	Variant  detector.Variant `json:"variant"`
	Original detector.Size    `json:"original"`
	Boxes    []detector.Box   `json:"boxes"`
	// Candidates counts boxes before suppression.
	Candidates int           `json:"candidates"`
	Duration   time.Duration `json:"duration_ns"`
}

// Kept returns the number of boxes that survived suppression.
func (r *Result) Kept() int { return len(r.Boxes) }

// Frame is one unit of batch work. When Input is set the engine runs first
// and Outputs is ignored.
type Frame struct {
	Input    *tensor.Tensor
	Outputs  []tensor.Tensor
	Original detector.Size
}
