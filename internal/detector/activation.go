package detector

import (
	"math"

	"github.com/chewxy/math32"
)

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func tanh(x float32) float32 {
	// Saturate early; exp overflows float32 past ~88.
	if x > 20 {
		return 1
	}
	if x < -20 {
		return -1
	}
	return 1 - 2/(math32.Exp(2*x)+1)
}

func finite(x float32) bool {
	return !math32.IsNaN(x) && !math32.IsInf(x, 0)
}

// truncate converts a pixel coordinate to int toward zero, saturating at the
// int32 range so that overflowing regressions cannot wrap around.
func truncate(v float32) int {
	switch {
	case math32.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int(v)
}
