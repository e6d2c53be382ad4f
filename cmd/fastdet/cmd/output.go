package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// FrameOutput is the serialized result of one decoded frame.
type FrameOutput struct {
	Frame      int                   `json:"frame"`
	Sources    []string              `json:"sources"`
	Variant    detector.Variant      `json:"variant"`
	Width      int                   `json:"width"`
	Height     int                   `json:"height"`
	Candidates int                   `json:"candidates"`
	DurationMs float64               `json:"duration_ms"`
	Boxes      []detector.LabeledBox `json:"boxes"`
}

func newFrameOutput(index int, sources []string, res *pipeline.Result, names labels.List) FrameOutput {
	var namer detector.Namer
	if names != nil {
		namer = names
	}
	return FrameOutput{
		Frame:      index,
		Sources:    sources,
		Variant:    res.Variant,
		Width:      res.Original.Width,
		Height:     res.Original.Height,
		Candidates: res.Candidates,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
		Boxes:      detector.Label(res.Boxes, namer),
	}
}

// writeFrames renders frames to the --output file, or w when none is set.
func writeFrames(w io.Writer, outputFile, format string, frames []FrameOutput) error {
	if outputFile != "" {
		f, err := os.Create(outputFile) //nolint:gosec // G304: user-chosen output path
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(frames)
	case formatText, "":
		for _, fr := range frames {
			if err := writeFrameText(w, fr); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeFrameText(w io.Writer, fr FrameOutput) error {
	if _, err := fmt.Fprintf(w, "Frame %d %v (%dx%d, %s): %d boxes from %d candidates in %.2fms\n",
		fr.Frame, fr.Sources, fr.Width, fr.Height, fr.Variant, len(fr.Boxes), fr.Candidates, fr.DurationMs); err != nil {
		return err
	}
	for _, b := range fr.Boxes {
		name := b.Label
		if name == "" {
			name = fmt.Sprintf("class %d", b.Class)
		}
		if _, err := fmt.Fprintf(w, "  %-16s %.3f  [%d, %d, %d, %d]\n", name, b.Score, b.X1, b.Y1, b.X2, b.Y2); err != nil {
			return err
		}
	}
	return nil
}
