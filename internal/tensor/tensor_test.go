package tensor

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    []float32
		shape   []int
		wantErr bool
	}{
		{name: "nil data", data: nil, shape: []int{1, 2, 3}, wantErr: true},
		{name: "empty shape", data: []float32{1}, shape: nil, wantErr: true},
		{name: "zero dimension", data: []float32{}, shape: []int{0, 2}, wantErr: true},
		{name: "data too short", data: make([]float32, 5), shape: []int{2, 3}, wantErr: true},
		{name: "data too long", data: make([]float32, 7), shape: []int{2, 3}, wantErr: true},
		{name: "overflow wraps to zero", data: []float32{}, shape: []int{6, 1 << 62, 4}, wantErr: true},
		{name: "overflow wraps to length", data: make([]float32, 4), shape: []int{1 << 62, 1 << 62, 4}, wantErr: true},
		{name: "valid", data: make([]float32, 6), shape: []int{2, 3}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.data, tt.shape...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVolume(t *testing.T) {
	n, err := Volume([]int{2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	_, err = Volume(nil)
	assert.Error(t, err)

	_, err = Volume([]int{3, -1})
	assert.Error(t, err)

	_, err = Volume([]int{9, 1 << 62, 4})
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Volume([]int{math.MaxInt, 2})
	assert.ErrorIs(t, err, ErrOverflow)

	n, err = Volume([]int{math.MaxInt, 1})
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, n)
}

func TestDims3(t *testing.T) {
	ten, err := New(make([]float32, 24), 2, 3, 4)
	require.NoError(t, err)
	c, h, w, err := ten.Dims3()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, []int{c, h, w})

	batched, err := New(make([]float32, 24), 1, 2, 3, 4)
	require.NoError(t, err)
	c, h, w, err = batched.Dims3()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, []int{c, h, w})

	batch2, err := New(make([]float32, 48), 2, 2, 3, 4)
	require.NoError(t, err)
	_, _, _, err = batch2.Dims3()
	assert.Error(t, err)

	rank2, err := New(make([]float32, 6), 2, 3)
	require.NoError(t, err)
	_, _, _, err = rank2.Dims3()
	assert.Error(t, err)
}

func TestAt3(t *testing.T) {
	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(i)
	}
	ten, err := New(data, 2, 3, 4)
	require.NoError(t, err)

	v, err := ten.At3(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, float32(23), v)

	v, err = ten.At3(1, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(14), v)

	_, err = ten.At3(2, 0, 0)
	assert.Error(t, err)
	_, err = ten.At3(0, -1, 0)
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := Stats([]float32{1, 2, 3, 4})
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, float32(1), s.Min)
	assert.Equal(t, float32(4), s.Max)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, 1.25, s.Variance, 1e-9)

	assert.Equal(t, Summary{}, Stats(nil))
}

func TestFirstRow(t *testing.T) {
	ten, err := New(make([]float32, 24), 2, 3, 4)
	require.NoError(t, err)
	assert.Len(t, ten.FirstRow(), 12)

	bad := Tensor{Shape: []int{2, 3}, Data: make([]float32, 6)}
	assert.Nil(t, bad.FirstRow())
}

func TestRawRoundTrip(t *testing.T) {
	ten, err := New([]float32{0, 1.5, -2, 3.25, 4, 5}, 1, 2, 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, ten))
	assert.Equal(t, 24, buf.Len())

	got, err := ReadRaw(&buf, []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, ten.Data, got.Data)
}

func TestReadRawShortPayload(t *testing.T) {
	_, err := ReadRaw(bytes.NewReader(make([]byte, 10)), []int{2, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short tensor payload")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	ten, err := New([]float32{1, 2, 3, 4}, 1, 2, 2)
	require.NoError(t, err)

	jsonPath := filepath.Join(dir, "794.json")
	f, err := os.Create(jsonPath)
	require.NoError(t, err)
	require.NoError(t, WriteJSON(f, ten))
	require.NoError(t, f.Close())

	got, err := LoadFile(jsonPath, nil)
	require.NoError(t, err)
	assert.Equal(t, "794", got.Name)
	assert.Equal(t, []int{1, 2, 2}, got.Shape)

	rawPath := filepath.Join(dir, "796.bin")
	f, err = os.Create(rawPath)
	require.NoError(t, err)
	require.NoError(t, WriteRaw(f, ten))
	require.NoError(t, f.Close())

	_, err = LoadFile(rawPath, nil)
	assert.Error(t, err, "raw tensors need a shape")

	got, err = LoadFile(rawPath, []int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, "796", got.Name)
	assert.Equal(t, ten.Data, got.Data)

	_, err = LoadFile(rawPath, []int{1, 1, 4_000_000_000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file holds 16 bytes")

	_, err = LoadFile(rawPath, []int{1 << 62, 8})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestParseShape(t *testing.T) {
	dims, err := ParseShape("22,22,95")
	require.NoError(t, err)
	assert.Equal(t, []int{22, 22, 95}, dims)

	dims, err = ParseShape("85x22x22")
	require.NoError(t, err)
	assert.Equal(t, []int{85, 22, 22}, dims)

	for _, bad := range []string{"", "a,b", "3,0,2", "-1"} {
		_, err := ParseShape(bad)
		assert.Error(t, err, bad)
	}
}

func TestChannelsLast(t *testing.T) {
	// Two channels over a 1x3 grid.
	ten, err := New([]float32{1, 2, 3, 10, 20, 30}, 1, 2, 1, 3)
	require.NoError(t, err)

	packed, err := ten.Named("out").ChannelsLast()
	require.NoError(t, err)
	assert.Equal(t, "out", packed.Name)
	assert.Equal(t, []int{1, 3, 2}, packed.Shape)
	assert.Equal(t, []float32{1, 10, 2, 20, 3, 30}, packed.Data)

	_, err = Tensor{Shape: []int{6}, Data: make([]float32, 6)}.ChannelsLast()
	assert.Error(t, err)
}
