package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/stretchr/testify/require"
)

// GridHit places one detection into a synthetic single-grid map.
type GridHit struct {
	Row, Col   int
	Class      int
	Obj        float32
	ClassScore float32
	// Raw regressions for channels 1-4 (x, y, w, h before activation).
	Box [4]float32
}

// SingleGridTensor builds a zeroed [5+numClasses, gridH, gridW] channel-major
// map with the given hits written in.
func SingleGridTensor(t *testing.T, numClasses, gridH, gridW int, hits ...GridHit) tensor.Tensor {
	t.Helper()
	out, err := BuildSingleGrid(numClasses, gridH, gridW, hits...)
	require.NoError(t, err)
	return out
}

// BuildSingleGrid is SingleGridTensor for callers without a *testing.T.
func BuildSingleGrid(numClasses, gridH, gridW int, hits ...GridHit) (tensor.Tensor, error) {
	channels := 5 + numClasses
	plane := gridH * gridW
	data := make([]float32, channels*plane)
	for _, h := range hits {
		cell := h.Row*gridW + h.Col
		data[cell] = h.Obj
		for i, v := range h.Box {
			data[(1+i)*plane+cell] = v
		}
		data[(5+h.Class)*plane+cell] = h.ClassScore
	}
	return tensor.New(data, channels, gridH, gridW)
}

// AnchorHit places one detection into a synthetic packed anchor map.
type AnchorHit struct {
	Row, Col   int
	Anchor     int
	Class      int
	Obj        float32
	ClassScore float32
	// Raw regressions for the anchor (x, y, w, h).
	Box [4]float32
}

// CenteredAnchorBox gives raw regressions with zero center offset and a box
// exactly the anchor size.
var CenteredAnchorBox = [4]float32{0.25, 0.25, 0.5, 0.5}

// AnchorTensor builds a zeroed packed [gridH, gridW, 15+numClasses] map with
// the given hits written in.
func AnchorTensor(t *testing.T, numClasses, gridH, gridW int, hits ...AnchorHit) tensor.Tensor {
	t.Helper()
	out, err := BuildAnchor(numClasses, gridH, gridW, hits...)
	require.NoError(t, err)
	return out
}

// BuildAnchor is AnchorTensor for callers without a *testing.T.
func BuildAnchor(numClasses, gridH, gridW int, hits ...AnchorHit) (tensor.Tensor, error) {
	perCell := 15 + numClasses
	data := make([]float32, gridH*gridW*perCell)
	for _, h := range hits {
		base := (h.Row*gridW + h.Col) * perCell
		copy(data[base+h.Anchor*4:], h.Box[:])
		data[base+12+h.Anchor] = h.Obj
		data[base+15+h.Class] = h.ClassScore
	}
	return tensor.New(data, gridH, gridW, perCell)
}

// WriteTensorJSON writes ten as a JSON envelope under dir and returns its path.
func WriteTensorJSON(t *testing.T, dir, name string, ten tensor.Tensor) string {
	t.Helper()

	path := filepath.Join(dir, name+".json")
	f, err := os.Create(path) //nolint:gosec // G304: test-controlled path
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	require.NoError(t, tensor.WriteJSON(f, ten))
	return path
}

// WriteTensorRaw writes ten as raw little-endian float32 under dir and returns its path.
func WriteTensorRaw(t *testing.T, dir, name string, ten tensor.Tensor) string {
	t.Helper()

	path := filepath.Join(dir, name+".bin")
	f, err := os.Create(path) //nolint:gosec // G304: test-controlled path
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	require.NoError(t, tensor.WriteRaw(f, ten))
	return path
}
