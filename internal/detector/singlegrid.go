package detector

import (
	"fmt"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/chewxy/math32"
)

// Channel layout of a single-grid (FastestDet) output map.
const (
	singleGridObjChannel   = 0
	singleGridBoxChannel   = 1
	singleGridClassChannel = 5

	singleGridClassExp = 0.4
	singleGridObjExp   = 0.6
)

// DecodeSingleGrid decodes a channel-major [C,H,W] output map (optionally with
// a leading batch of 1) where C = 5 + numClasses. Channel 0 is objectness,
// channels 1-4 are box regressions, and the remaining channels are class
// scores. Boxes whose calibrated score exceeds threshold are returned in
// row-major cell order, scaled to original.
func DecodeSingleGrid(t tensor.Tensor, numClasses int, original Size, threshold float32) ([]Box, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("%w: num classes must be > 0, got %d", ErrShapeMismatch, numClasses)
	}
	channels, gridH, gridW, err := t.Dims3()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	if want := singleGridClassChannel + numClasses; channels != want {
		return nil, fmt.Errorf("%w: single-grid output has %d channels, want %d for %d classes",
			ErrShapeMismatch, channels, want, numClasses)
	}

	plane := gridH * gridW
	if channels*plane > len(t.Data) {
		return nil, fmt.Errorf("%w: single-grid output %v holds %d values", ErrShapeMismatch, t.Shape, len(t.Data))
	}
	at := func(ch, cell int) float32 { return t.Data[ch*plane+cell] }
	imgW, imgH := float32(original.Width), float32(original.Height)

	boxes := make([]Box, 0)
	for row := range gridH {
		for col := range gridW {
			cell := row*gridW + col
			obj := at(singleGridObjChannel, cell)

			best, class := float32(0), 0
			for c := range numClasses {
				if v := at(singleGridClassChannel+c, cell); v > best {
					best, class = v, c
				}
			}

			score := math32.Pow(best, singleGridClassExp) * math32.Pow(obj, singleGridObjExp)
			if !finite(score) || score <= threshold {
				continue
			}

			xo := tanh(at(singleGridBoxChannel, cell))
			yo := tanh(at(singleGridBoxChannel+1, cell))
			bw := sigmoid(at(singleGridBoxChannel+2, cell))
			bh := sigmoid(at(singleGridBoxChannel+3, cell))

			cx := (float32(col) + xo) / float32(gridW)
			cy := (float32(row) + yo) / float32(gridH)

			boxes = append(boxes, Box{
				X1:    truncate((cx - 0.5*bw) * imgW),
				Y1:    truncate((cy - 0.5*bh) * imgH),
				X2:    truncate((cx + 0.5*bw) * imgW),
				Y2:    truncate((cy + 0.5*bh) * imgH),
				Score: score,
				Class: class,
			})
		}
	}
	return boxes, nil
}
