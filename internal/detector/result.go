package detector

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LabeledBox is the serialized form of a Box with an optional class name.
type LabeledBox struct {
	Box
	Label string `json:"label,omitempty"`
}

// Namer resolves class indices to names.
type Namer interface {
	Name(class int) string
}

// Label attaches names to boxes. A nil namer leaves labels empty.
func Label(boxes []Box, names Namer) []LabeledBox {
	out := make([]LabeledBox, len(boxes))
	for i, b := range boxes {
		out[i].Box = b
		if names != nil {
			out[i].Label = names.Name(b.Class)
		}
	}
	return out
}

// DetectionJSON is a serializable detection result.
type DetectionJSON struct {
	Width  int          `json:"width"`
	Height int          `json:"height"`
	Boxes  []LabeledBox `json:"boxes"`
}

// BoxesToJSON converts boxes to JSON with the given image dimensions.
func BoxesToJSON(boxes []Box, original Size, names Namer) ([]byte, error) {
	out := DetectionJSON{Width: original.Width, Height: original.Height, Boxes: Label(boxes, names)}
	return json.Marshal(out)
}

// BoxesFromJSON parses a DetectionJSON payload back into boxes.
func BoxesFromJSON(data []byte) ([]Box, Size, error) {
	if len(data) == 0 {
		return nil, Size{}, errors.New("empty JSON")
	}
	var in DetectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, Size{}, fmt.Errorf("failed to parse detection JSON: %w", err)
	}
	boxes := make([]Box, len(in.Boxes))
	for i, lb := range in.Boxes {
		boxes[i] = lb.Box
	}
	return boxes, Size{Width: in.Width, Height: in.Height}, nil
}
