// Package pipeline wires an optional inference engine, a detection decoder and
// non-maximum suppression into a single processing entry point.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/models"
	"github.com/MeKo-Tech/fastdet/internal/onnx"
)

// DefaultNMSThreshold is the IoU above which same-class boxes are suppressed.
const DefaultNMSThreshold float32 = 0.25

// Config holds configuration for the detection pipeline.
type Config struct {
	ModelsDir    string
	Decoder      detector.DecoderConfig
	NMSThreshold float32
	// Engine is only used when no engine is injected and Engine.ModelPath is set.
	Engine   onnx.Config
	Parallel ParallelConfig
	// LogTensorStats logs first-row statistics of every output at debug level.
	LogTensorStats bool
}

// DefaultConfig returns the Yolo-FastestV2 COCO defaults without an engine.
func DefaultConfig() Config {
	return Config{
		ModelsDir:    models.GetModelsDir(""),
		Decoder:      detector.DefaultDecoderConfig(),
		NMSThreshold: DefaultNMSThreshold,
		Parallel:     DefaultParallelConfig(),
	}
}

// Validate checks the decoder and suppression settings.
func (c Config) Validate() error {
	if err := c.Decoder.Validate(); err != nil {
		return err
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold must be in [0,1], got %v", c.NMSThreshold)
	}
	if c.Parallel.MaxWorkers < 0 {
		return fmt.Errorf("max workers must be >= 0, got %d", c.Parallel.MaxWorkers)
	}
	return nil
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg    Config
	engine onnx.Engine
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithModelsDir sets the directory used to resolve relative model files.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
	}
	return b
}

// WithVariant selects the output layout to decode.
func (b *Builder) WithVariant(v detector.Variant) *Builder {
	b.cfg.Decoder.Variant = v
	return b
}

// WithNumClasses sets the number of classes the model predicts.
func (b *Builder) WithNumClasses(n int) *Builder {
	if n > 0 {
		b.cfg.Decoder.NumClasses = n
	}
	return b
}

// WithInputSize sets the network input size used for multi-scale strides.
func (b *Builder) WithInputSize(size detector.Size) *Builder {
	if size.Valid() {
		b.cfg.Decoder.InputSize = size
	}
	return b
}

// WithThresholds sets the confidence and NMS IoU thresholds.
func (b *Builder) WithThresholds(conf, nms float32) *Builder {
	b.cfg.Decoder.ConfThreshold = conf
	b.cfg.NMSThreshold = nms
	return b
}

// WithAnchors overrides the anchor table for the multi-scale variant.
func (b *Builder) WithAnchors(anchors []float32) *Builder {
	if len(anchors) > 0 {
		b.cfg.Decoder.Anchors = append([]float32(nil), anchors...)
	}
	return b
}

// WithEngine injects a ready engine. It takes precedence over WithModelPath.
func (b *Builder) WithEngine(e onnx.Engine) *Builder {
	b.engine = e
	return b
}

// WithModelPath sets the ONNX model loaded by Build. Bare file names are
// resolved against the models directory.
func (b *Builder) WithModelPath(path string) *Builder {
	b.cfg.Engine.ModelPath = path
	return b
}

// WithModel configures variant, classes, input size and model file from a
// catalog entry.
func (b *Builder) WithModel(info models.ModelInfo) *Builder {
	b.cfg.Decoder.Variant = info.Variant
	b.cfg.Decoder.NumClasses = info.NumClasses
	b.cfg.Decoder.InputSize = info.InputSize
	b.cfg.Engine.ModelPath = info.Filename
	b.cfg.Engine.ChannelsLast = info.ChannelsLast
	return b
}

// WithThreads sets intra-op threads for the ONNX session.
func (b *Builder) WithThreads(n int) *Builder {
	if n >= 0 {
		b.cfg.Engine.NumThreads = n
	}
	return b
}

// WithGPU enables the CUDA execution provider on the given device.
func (b *Builder) WithGPU(enabled bool, deviceID int) *Builder {
	b.cfg.Engine.GPU.UseGPU = enabled
	b.cfg.Engine.GPU.DeviceID = deviceID
	return b
}

// WithParallelWorkers sets the number of workers used by ProcessBatch.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the progress callback for batch processing.
func (b *Builder) WithProgressCallback(cb ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = cb
	return b
}

// WithTensorStats toggles debug statistics of decoder inputs.
func (b *Builder) WithTensorStats(enabled bool) *Builder {
	b.cfg.LogTensorStats = enabled
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Build validates the configuration, constructs the decoder and, when a model
// path is configured, opens an ONNX session.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	dec, err := detector.NewDecoder(b.cfg.Decoder)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: b.cfg, decoder: dec, engine: b.engine}

	if p.engine == nil && b.cfg.Engine.ModelPath != "" {
		engCfg := b.cfg.Engine
		engCfg.ModelPath = resolveModelPath(b.cfg.ModelsDir, engCfg.ModelPath)
		if err := models.ValidateModelExists(engCfg.ModelPath); err != nil {
			return nil, err
		}
		sess, err := onnx.NewSession(engCfg)
		if err != nil {
			return nil, fmt.Errorf("init engine: %w", err)
		}
		p.cfg.Engine = engCfg
		p.engine = sess
		p.ownsEngine = true
	}

	slog.Debug("Pipeline ready",
		"variant", dec.Variant(),
		"num_classes", b.cfg.Decoder.NumClasses,
		"conf_threshold", b.cfg.Decoder.ConfThreshold,
		"nms_threshold", b.cfg.NMSThreshold,
		"engine", p.engine != nil)
	return p, nil
}

// resolveModelPath keeps explicit paths and looks bare file names up in the
// models directory.
func resolveModelPath(modelsDir, path string) string {
	if filepath.IsAbs(path) || strings.ContainsRune(path, filepath.Separator) {
		return path
	}
	return models.ResolveModelPath(modelsDir, path)
}

// Pipeline decodes network outputs into suppressed boxes. It is safe for
// concurrent use when the engine is.
type Pipeline struct {
	cfg        Config
	decoder    detector.Decoder
	engine     onnx.Engine
	ownsEngine bool
}

// ErrNoEngine is returned by Infer when the pipeline was built without one.
var ErrNoEngine = errors.New("pipeline has no inference engine")

// Close releases the engine if the pipeline opened it.
func (p *Pipeline) Close() error {
	if p == nil || p.engine == nil || !p.ownsEngine {
		return nil
	}
	err := p.engine.Close()
	p.engine = nil
	return err
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Variant returns the decoder variant in use.
func (p *Pipeline) Variant() detector.Variant { return p.decoder.Variant() }

// HasEngine reports whether Infer can run.
func (p *Pipeline) HasEngine() bool { return p.engine != nil }

// Info returns a map with key pipeline properties.
func (p *Pipeline) Info() map[string]any {
	info := map[string]any{
		"variant":        p.decoder.Variant(),
		"num_classes":    p.cfg.Decoder.NumClasses,
		"input_size":     p.cfg.Decoder.InputSize.String(),
		"conf_threshold": p.cfg.Decoder.ConfThreshold,
		"nms_threshold":  p.cfg.NMSThreshold,
		"engine":         p.engine != nil,
	}
	if p.cfg.Engine.ModelPath != "" {
		info["model_path"] = p.cfg.Engine.ModelPath
	}
	return info
}
