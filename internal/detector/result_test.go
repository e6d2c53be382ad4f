package detector

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceNamer []string

func (s sliceNamer) Name(i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}
	return s[i]
}

func TestBoxJSONFields(t *testing.T) {
	b := Box{X1: 1, Y1: 2, X2: 3, Y2: 4, Score: 0.5, Class: 7}
	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x1":1,"y1":2,"x2":3,"y2":4,"score":0.5,"class":7}`, string(data))

	var back Box
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, b, back)
}

func TestBoxesToJSON(t *testing.T) {
	boxes := []Box{
		{X1: 1, Y1: 2, X2: 30, Y2: 40, Score: 0.91, Class: 0},
		{X1: 5, Y1: 6, X2: 7, Y2: 8, Score: 0.42, Class: 5},
	}

	data, err := BoxesToJSON(boxes, Size{Width: 640, Height: 480}, sliceNamer{"person", "bicycle"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.InDelta(t, 640, raw["width"], 0)
	list, ok := raw["boxes"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first, ok := list[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "person", first["label"])
	second, ok := list[1].(map[string]any)
	require.True(t, ok)
	_, hasLabel := second["label"]
	assert.False(t, hasLabel, "out-of-range class has no label")

	back, size, err := BoxesFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, boxes, back)
	assert.Equal(t, Size{Width: 640, Height: 480}, size)
}

func TestBoxesFromJSONErrors(t *testing.T) {
	_, _, err := BoxesFromJSON(nil)
	require.Error(t, err)

	_, _, err = BoxesFromJSON([]byte("{"))
	require.Error(t, err)
}

func TestLabelNilNamer(t *testing.T) {
	out := Label([]Box{{Class: 3}}, nil)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Label)
}
