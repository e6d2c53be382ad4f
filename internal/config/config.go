package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/models"
	"github.com/MeKo-Tech/fastdet/internal/onnx"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
)

// DefaultConfig returns a configuration with the Yolo-FastestV2 COCO defaults.
func DefaultConfig() Config {
	dec := detector.DefaultDecoderConfig()
	anchors := make([]float64, 0, detector.AnchorTableLen)
	for _, a := range detector.DefaultAnchorTable() {
		anchors = append(anchors, float64(a))
	}
	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Detector: DetectorConfig{
			Variant:       string(dec.Variant),
			NumClasses:    dec.NumClasses,
			InputWidth:    dec.InputSize.Width,
			InputHeight:   dec.InputSize.Height,
			ConfThreshold: float64(dec.ConfThreshold),
			NMSThreshold:  float64(pipeline.DefaultNMSThreshold),
			Anchors:       anchors,
		},
		Engine: EngineConfig{
			GPU: GPUConfig{MemoryLimit: "auto"},
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     16,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Parallel: ParallelConfig{
			MaxWorkers: pipeline.DefaultParallelConfig().MaxWorkers,
		},
	}
}

// Validate validates the configuration and returns the first error found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if _, err := detector.ParseVariant(c.Detector.Variant); err != nil {
		return fmt.Errorf("invalid detector.variant: %w", err)
	}
	if c.Detector.NumClasses <= 0 {
		return fmt.Errorf("invalid detector.num_classes: %d (must be positive)", c.Detector.NumClasses)
	}
	if c.Detector.InputWidth <= 0 || c.Detector.InputHeight <= 0 {
		return fmt.Errorf("invalid detector input size: %dx%d (must be positive)", c.Detector.InputWidth, c.Detector.InputHeight)
	}
	if err := validateThreshold(c.Detector.ConfThreshold, "detector.conf_threshold"); err != nil {
		return err
	}
	if err := validateThreshold(c.Detector.NMSThreshold, "detector.nms_threshold"); err != nil {
		return err
	}
	if n := len(c.Detector.Anchors); n != 0 && n != detector.AnchorTableLen {
		return fmt.Errorf("invalid detector.anchors: %d values (must be %d)", n, detector.AnchorTableLen)
	}

	if c.Engine.NumThreads < 0 {
		return fmt.Errorf("invalid engine.num_threads: %d (must be >= 0)", c.Engine.NumThreads)
	}
	if c.Engine.GPU.Device < 0 {
		return fmt.Errorf("invalid engine.gpu.device: %d (must be >= 0)", c.Engine.GPU.Device)
	}
	if _, err := ParseMemoryLimit(c.Engine.GPU.MemoryLimit); err != nil {
		return fmt.Errorf("invalid GPU memory limit: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Parallel.MaxWorkers <= 0 {
		return fmt.Errorf("invalid parallel max workers: %d (must be positive)", c.Parallel.MaxWorkers)
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration format.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	dec, err := c.ToDecoderConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	eng, err := c.toEngineConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	par := pipeline.DefaultParallelConfig()
	if c.Parallel.MaxWorkers > 0 {
		par.MaxWorkers = c.Parallel.MaxWorkers
	}
	return pipeline.Config{
		ModelsDir:      models.GetModelsDir(c.ModelsDir),
		Decoder:        dec,
		NMSThreshold:   float32(c.Detector.NMSThreshold),
		Engine:         eng,
		Parallel:       par,
		LogTensorStats: c.Detector.TensorStats,
	}, nil
}

// ToDecoderConfig converts the detector section to a decoder configuration.
func (c *Config) ToDecoderConfig() (detector.DecoderConfig, error) {
	variant, err := detector.ParseVariant(c.Detector.Variant)
	if err != nil {
		return detector.DecoderConfig{}, err
	}
	cfg := detector.DecoderConfig{
		Variant:       variant,
		NumClasses:    c.Detector.NumClasses,
		InputSize:     detector.Size{Width: c.Detector.InputWidth, Height: c.Detector.InputHeight},
		ConfThreshold: float32(c.Detector.ConfThreshold),
	}
	if len(c.Detector.Anchors) > 0 {
		cfg.Anchors = make([]float32, len(c.Detector.Anchors))
		for i, a := range c.Detector.Anchors {
			cfg.Anchors[i] = float32(a)
		}
	}
	return cfg, nil
}

// toEngineConfig converts the engine section to an ONNX session config.
func (c *Config) toEngineConfig() (onnx.Config, error) {
	limit, err := ParseMemoryLimit(c.Engine.GPU.MemoryLimit)
	if err != nil {
		return onnx.Config{}, err
	}
	return onnx.Config{
		ModelPath:    c.Engine.ModelPath,
		InputName:    c.Engine.InputName,
		OutputNames:  append([]string(nil), c.Engine.OutputNames...),
		NumThreads:   c.Engine.NumThreads,
		ChannelsLast: c.Engine.ChannelsLast,
		GPU: onnx.GPUConfig{
			UseGPU:      c.Engine.GPU.Enabled,
			DeviceID:    c.Engine.GPU.Device,
			GPUMemLimit: limit,
		},
	}, nil
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

// ParseMemoryLimit converts a GPU memory limit such as "512MB" or "2GB" to
// bytes. Empty and "auto" mean unlimited (0).
func ParseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || strings.EqualFold(limit, "auto") {
		return 0, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(limit))
	units := []struct {
		suffix string
		factor float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.factor), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB (got %s)", limit)
}
