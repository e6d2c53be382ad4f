package detector

import (
	"fmt"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
)

const (
	anchorsPerCell = 3
	anchorBoxVals  = 4
	anchorScales   = 2

	// Offsets inside one packed cell: 3x4 box regressions, 3 objectness
	// scores, then the shared class scores.
	anchorObjOffset   = anchorsPerCell * anchorBoxVals
	anchorClassOffset = anchorObjOffset + anchorsPerCell

	// AnchorTableLen is the number of floats in a multi-scale anchor table.
	AnchorTableLen = anchorScales * anchorsPerCell * 2
)

// defaultAnchors is the Yolo-FastestV2 anchor table, scale-major then
// anchor-major, (w,h) pairs in network-input pixels. Read only.
var defaultAnchors = [AnchorTableLen]float32{
	12.64, 19.39, 37.88, 51.48, 55.71, 138.31,
	126.91, 78.23, 131.57, 214.55, 279.92, 258.87,
}

// DefaultAnchorTable returns a fresh copy of the Yolo-FastestV2 anchor table.
func DefaultAnchorTable() []float32 {
	out := make([]float32, AnchorTableLen)
	copy(out, defaultAnchors[:])
	return out
}

// PerCellValues returns the packed value count per grid cell for numClasses.
func PerCellValues(numClasses int) int {
	return anchorClassOffset + numClasses
}

// DecodeMultiScale decodes the two packed [gridH, gridW, perCell] outputs of
// a multi-scale anchor model (optionally with a leading batch of 1). Output i
// uses anchors[i*6 : i*6+6]. Candidates of both scales are concatenated in
// output order.
func DecodeMultiScale(
	outputs []tensor.Tensor,
	input, original Size,
	numClasses int,
	anchors []float32,
	threshold float32,
) ([]Box, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: num classes must be > 0, got %d", ErrShapeMismatch, numClasses)
	}
	if len(outputs) != anchorScales {
		return nil, fmt.Errorf("%w: multi-scale decoder needs %d outputs, got %d",
			ErrShapeMismatch, anchorScales, len(outputs))
	}
	if len(anchors) != AnchorTableLen {
		return nil, fmt.Errorf("%w: anchor table has %d values, want %d",
			ErrShapeMismatch, len(anchors), AnchorTableLen)
	}
	if !input.Valid() {
		return nil, fmt.Errorf("%w: model input size %s", ErrInvalidGeometry, input)
	}

	// Validate every output before decoding any of them.
	grids := make([]scaleGrid, len(outputs))
	for i, out := range outputs {
		g, err := checkScale(out, i, input, numClasses)
		if err != nil {
			return nil, err
		}
		grids[i] = g
	}

	scaleW := float32(original.Width) / float32(input.Width)
	scaleH := float32(original.Height) / float32(input.Height)

	boxes := make([]Box, 0)
	for i, out := range outputs {
		boxes = decodeScale(boxes, out.Data, grids[i], anchors[i*anchorsPerCell*2:(i+1)*anchorsPerCell*2],
			numClasses, scaleW, scaleH, threshold)
	}
	return boxes, nil
}

type scaleGrid struct {
	h, w, perCell, stride int
}

func checkScale(out tensor.Tensor, i int, input Size, numClasses int) (scaleGrid, error) {
	gridH, gridW, perCell, err := out.Dims3()
	if err != nil {
		return scaleGrid{}, fmt.Errorf("%w: output %d: %w", ErrShapeMismatch, i, err)
	}
	if want := PerCellValues(numClasses); perCell != want {
		return scaleGrid{}, fmt.Errorf("%w: output %d has %d values per cell, want %d for %d classes",
			ErrShapeMismatch, i, perCell, want, numClasses)
	}
	if input.Width%gridW != 0 || input.Height%gridH != 0 {
		return scaleGrid{}, fmt.Errorf("%w: output %d grid %dx%d does not divide input %s",
			ErrInvalidGeometry, i, gridW, gridH, input)
	}
	strideX, strideY := input.Width/gridW, input.Height/gridH
	if strideX != strideY {
		return scaleGrid{}, fmt.Errorf("%w: output %d stride %dx%d differs between axes",
			ErrInvalidGeometry, i, strideX, strideY)
	}
	return scaleGrid{h: gridH, w: gridW, perCell: perCell, stride: strideX}, nil
}

func decodeScale(
	boxes []Box,
	data []float32,
	g scaleGrid,
	anchors []float32,
	numClasses int,
	scaleW, scaleH, threshold float32,
) []Box {
	stride := float32(g.stride)
	for row := range g.h {
		for col := range g.w {
			v := data[(row*g.w+col)*g.perCell : (row*g.w+col+1)*g.perCell]
			for b := range anchorsPerCell {
				class, score, ok := bestClass(v, b, numClasses)
				if !ok || score <= threshold {
					continue
				}

				r := v[b*anchorBoxVals : (b+1)*anchorBoxVals]
				bcx := (r[0]*2 - 0.5 + float32(col)) * stride
				bcy := (r[1]*2 - 0.5 + float32(row)) * stride
				bw := (r[2] * 2) * (r[2] * 2) * anchors[b*2]
				bh := (r[3] * 2) * (r[3] * 2) * anchors[b*2+1]

				boxes = append(boxes, Box{
					X1:    truncate((bcx - 0.5*bw) * scaleW),
					Y1:    truncate((bcy - 0.5*bh) * scaleH),
					X2:    truncate((bcx + 0.5*bw) * scaleW),
					Y2:    truncate((bcy + 0.5*bh) * scaleH),
					Score: score,
					Class: class,
				})
			}
		}
	}
	return boxes
}

// bestClass returns the class with the highest objectness*class product for
// anchor b. Non-finite products never win; ok is false when none is finite.
func bestClass(v []float32, b, numClasses int) (int, float32, bool) {
	obj := v[anchorObjOffset+b]
	best, class, ok := float32(0), 0, false
	for c := range numClasses {
		s := obj * v[anchorClassOffset+c]
		if !finite(s) {
			continue
		}
		if !ok || s > best {
			best, class, ok = s, c, true
		}
	}
	return class, best, ok
}
