package detector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
)

// Variant names a supported output layout.
type Variant string

const (
	// VariantSingleGrid is the anchor-free FastestDet layout.
	VariantSingleGrid Variant = "single-grid"
	// VariantMultiScaleAnchor is the two-output Yolo-FastestV2 layout.
	VariantMultiScaleAnchor Variant = "multi-scale-anchor"
)

// Variants lists the supported variants.
func Variants() []Variant {
	return []Variant{VariantSingleGrid, VariantMultiScaleAnchor}
}

// Outputs returns how many output tensors one frame of v consists of,
// or 0 for an unknown variant.
func (v Variant) Outputs() int {
	switch v {
	case VariantSingleGrid:
		return 1
	case VariantMultiScaleAnchor:
		return anchorScales
	}
	return 0
}

// ParseVariant accepts the canonical names plus the model family aliases.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(VariantSingleGrid), "singlegrid", "fastestdet":
		return VariantSingleGrid, nil
	case string(VariantMultiScaleAnchor), "multiscale", "anchor", "yolo-fastestv2", "yolofastestv2":
		return VariantMultiScaleAnchor, nil
	}
	return "", fmt.Errorf("unknown decoder variant %q", s)
}

// Decoder turns raw network outputs into candidate boxes.
// Implementations are stateless after construction and safe for concurrent use.
type Decoder interface {
	Variant() Variant
	Decode(outputs []tensor.Tensor, original Size) ([]Box, error)
}

// DecoderConfig holds the parameters needed to build a Decoder.
type DecoderConfig struct {
	Variant       Variant
	NumClasses    int
	InputSize     Size
	ConfThreshold float32
	// Anchors is only used by the multi-scale variant; nil means DefaultAnchorTable().
	Anchors []float32
}

// DefaultDecoderConfig returns the Yolo-FastestV2 COCO defaults.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{
		Variant:       VariantMultiScaleAnchor,
		NumClasses:    80,
		InputSize:     Size{Width: 352, Height: 352},
		ConfThreshold: 0.3,
	}
}

// Validate checks the configuration for the selected variant.
func (c DecoderConfig) Validate() error {
	if c.NumClasses <= 0 {
		return fmt.Errorf("num classes must be > 0, got %d", c.NumClasses)
	}
	switch c.Variant {
	case VariantSingleGrid:
	case VariantMultiScaleAnchor:
		if !c.InputSize.Valid() {
			return fmt.Errorf("input size must be positive, got %s", c.InputSize)
		}
		if c.Anchors != nil && len(c.Anchors) != AnchorTableLen {
			return fmt.Errorf("anchor table must have %d values, got %d", AnchorTableLen, len(c.Anchors))
		}
	default:
		return fmt.Errorf("unknown decoder variant %q", c.Variant)
	}
	return nil
}

// NewDecoder builds the decoder selected by cfg.Variant.
func NewDecoder(cfg DecoderConfig) (Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decoder config: %w", err)
	}
	switch cfg.Variant {
	case VariantSingleGrid:
		return &singleGridDecoder{numClasses: cfg.NumClasses, threshold: cfg.ConfThreshold}, nil
	case VariantMultiScaleAnchor:
		anchors := DefaultAnchorTable()
		if cfg.Anchors != nil {
			copy(anchors, cfg.Anchors)
		}
		return &multiScaleDecoder{
			numClasses: cfg.NumClasses,
			input:      cfg.InputSize,
			anchors:    anchors,
			threshold:  cfg.ConfThreshold,
		}, nil
	}
	return nil, errors.New("unreachable")
}

type singleGridDecoder struct {
	numClasses int
	threshold  float32
}

func (d *singleGridDecoder) Variant() Variant { return VariantSingleGrid }

func (d *singleGridDecoder) Decode(outputs []tensor.Tensor, original Size) ([]Box, error) {
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%w: single-grid decoder needs 1 output, got %d", ErrShapeMismatch, len(outputs))
	}
	return DecodeSingleGrid(outputs[0], d.numClasses, original, d.threshold)
}

type multiScaleDecoder struct {
	numClasses int
	input      Size
	anchors    []float32
	threshold  float32
}

func (d *multiScaleDecoder) Variant() Variant { return VariantMultiScaleAnchor }

func (d *multiScaleDecoder) Decode(outputs []tensor.Tensor, original Size) ([]Box, error) {
	return DecodeMultiScale(outputs, d.input, original, d.numClasses, d.anchors, d.threshold)
}
