package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
)

var errPipelineNotInitialized = errors.New("pipeline not initialized")

// Process decodes raw network outputs for an image of the given original size
// and suppresses overlapping same-class boxes.
func (p *Pipeline) Process(outputs []tensor.Tensor, original detector.Size) (*Result, error) {
	if p == nil || p.decoder == nil {
		return nil, errPipelineNotInitialized
	}
	variant := p.decoder.Variant()
	if p.cfg.LogTensorStats {
		logTensorStats(outputs)
	}

	start := time.Now()
	candidates, err := p.decoder.Decode(outputs, original)
	if err != nil {
		decodeErrors.WithLabelValues(string(variant), errorKind(err)).Inc()
		slog.Debug("Decode failed", "variant", variant, "error", err)
		return nil, fmt.Errorf("decode %s outputs: %w", variant, err)
	}
	kept := detector.Suppress(candidates, p.cfg.NMSThreshold)
	elapsed := time.Since(start)

	decodeDuration.WithLabelValues(string(variant)).Observe(elapsed.Seconds())
	candidateBoxes.WithLabelValues(string(variant)).Observe(float64(len(candidates)))
	keptBoxes.WithLabelValues(string(variant)).Observe(float64(len(kept)))

	slog.Debug("Decoded detections",
		"variant", variant,
		"original", original.String(),
		"candidates", len(candidates),
		"kept", len(kept),
		"duration", elapsed)

	return &Result{
		Variant:    variant,
		Original:   original,
		Boxes:      kept,
		Candidates: len(candidates),
		Duration:   elapsed,
	}, nil
}

// Infer runs the engine on a preprocessed input and processes its outputs.
func (p *Pipeline) Infer(ctx context.Context, input tensor.Tensor, original detector.Size) (*Result, error) {
	if p == nil || p.decoder == nil {
		return nil, errPipelineNotInitialized
	}
	if p.engine == nil {
		return nil, ErrNoEngine
	}

	start := time.Now()
	outputs, err := p.engine.Run(ctx, input)
	if err != nil {
		decodeErrors.WithLabelValues(string(p.decoder.Variant()), "engine").Inc()
		return nil, fmt.Errorf("inference: %w", err)
	}
	inferenceDuration.Observe(time.Since(start).Seconds())

	res, err := p.Process(outputs, original)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// processFrame runs Infer or Process depending on what the frame carries.
func (p *Pipeline) processFrame(ctx context.Context, f Frame) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Input != nil {
		return p.Infer(ctx, *f.Input, f.Original)
	}
	return p.Process(f.Outputs, f.Original)
}

func logTensorStats(outputs []tensor.Tensor) {
	for i, t := range outputs {
		s := tensor.Stats(t.FirstRow())
		slog.Debug("Output tensor stats",
			"index", i,
			"name", t.Name,
			"shape", t.Shape,
			"count", s.Count,
			"min", s.Min,
			"max", s.Max,
			"mean", s.Mean,
			"variance", s.Variance)
	}
}
