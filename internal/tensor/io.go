package tensor

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadRawInto fills dst with little-endian float32 values read from r.
// It fails if r ends before dst is full.
func ReadRawInto(r io.Reader, dst []float32) error {
	br := bufio.NewReader(r)
	var buf [4]byte
	for i := range dst {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("short tensor payload: read %d of %d values", i, len(dst))
			}
			return fmt.Errorf("failed to read tensor payload: %w", err)
		}
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
	}
	return nil
}

// ReadRaw reads a little-endian float32 tensor of the given shape from r.
func ReadRaw(r io.Reader, shape []int) (Tensor, error) {
	n, err := Volume(shape)
	if err != nil {
		return Tensor{}, fmt.Errorf("invalid shape %v: %w", shape, err)
	}
	data := make([]float32, n)
	if err := ReadRawInto(r, data); err != nil {
		return Tensor{}, err
	}
	return New(data, shape...)
}

// WriteRaw writes t.Data to w as little-endian float32.
func WriteRaw(w io.Writer, t Tensor) error {
	bw := bufio.NewWriter(w)
	var buf [4]byte
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeJSON reads a tensor envelope {"name","shape","data"} from r.
func DecodeJSON(r io.Reader) (Tensor, error) {
	var t Tensor
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return Tensor{}, fmt.Errorf("failed to decode tensor JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// WriteJSON writes t as a JSON envelope.
func WriteJSON(w io.Writer, t Tensor) error {
	return json.NewEncoder(w).Encode(t)
}

// LoadFile loads a tensor dump from disk. Files ending in .json are read as
// JSON envelopes; anything else is treated as raw float32 and requires shape.
// The file base name (without extension) becomes the tensor name when the
// dump does not carry one.
func LoadFile(path string, shape []int) (Tensor, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-supplied tensor dump
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to open tensor file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var t Tensor
	if strings.EqualFold(filepath.Ext(path), ".json") {
		t, err = DecodeJSON(f)
	} else {
		if len(shape) == 0 {
			return Tensor{}, fmt.Errorf("raw tensor %s needs an explicit shape", path)
		}
		if err := checkRawSize(f, shape); err != nil {
			return Tensor{}, fmt.Errorf("%s: %w", path, err)
		}
		t, err = ReadRaw(f, shape)
	}
	if err != nil {
		return Tensor{}, fmt.Errorf("%s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

// ParseShape parses "22,22,95" or "22x22x95" into a dimension list.
func ParseShape(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty shape")
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == 'x' || r == 'X' })
	dims := make([]int, 0, len(fields))
	for _, f := range fields {
		d, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid shape %q: %w", s, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid shape %q: dimension %d must be > 0", s, d)
		}
		dims = append(dims, d)
	}
	return dims, nil
}

// checkRawSize rejects a shape that needs more bytes than a regular file
// holds, before any buffer is allocated for it.
func checkRawSize(f *os.File, shape []int) error {
	n, err := Volume(shape)
	if err != nil {
		return fmt.Errorf("invalid shape %v: %w", shape, err)
	}
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if int64(n) > info.Size()/4 {
		return fmt.Errorf("shape %v needs %d values, file holds %d bytes", shape, n, info.Size())
	}
	return nil
}
