package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/yalue/onnxruntime_go"
)

// Engine runs a detection network on a preprocessed input tensor and returns
// its raw outputs in a fixed order.
type Engine interface {
	Run(ctx context.Context, input tensor.Tensor) ([]tensor.Tensor, error)
	Close() error
}

// Config describes an ONNX model session.
type Config struct {
	ModelPath string
	// InputName defaults to the model's first input.
	InputName string
	// OutputNames fixes output order; empty means all model outputs in
	// declaration order.
	OutputNames []string
	NumThreads  int
	GPU         GPUConfig
	// ChannelsLast converts [1,C,H,W] outputs to packed [H,W,C] maps.
	ChannelsLast bool
}

// Validate checks the session configuration without touching the runtime.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is empty")
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num threads must be >= 0, got %d", c.NumThreads)
	}
	return ValidateGPUConfig(c.GPU)
}

// Session is an Engine backed by an ONNX Runtime dynamic session.
type Session struct {
	cfg         Config
	session     *onnxruntime_go.DynamicAdvancedSession
	inputName   string
	outputNames []string
	mu          sync.RWMutex
}

// NewSession loads the model at cfg.ModelPath.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if err := InitRuntime(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	inputName, outputNames, err := resolveNames(cfg, inputs, outputs)
	if err != nil {
		return nil, err
	}

	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()
	if err := configureGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	sess, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath, []string{inputName}, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("ONNX session ready",
		"model_path", cfg.ModelPath, "input", inputName, "outputs", outputNames, "gpu", cfg.GPU.UseGPU)
	return &Session{cfg: cfg, session: sess, inputName: inputName, outputNames: outputNames}, nil
}

func resolveNames(cfg Config, inputs, outputs []onnxruntime_go.InputOutputInfo) (string, []string, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", nil, errors.New("model has no inputs or outputs")
	}
	inputName := cfg.InputName
	if inputName == "" {
		inputName = inputs[0].Name
	}

	known := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		known[o.Name] = true
	}
	if len(cfg.OutputNames) == 0 {
		names := make([]string, len(outputs))
		for i, o := range outputs {
			names[i] = o.Name
		}
		return inputName, names, nil
	}
	for _, n := range cfg.OutputNames {
		if !known[n] {
			return "", nil, fmt.Errorf("model has no output named %q", n)
		}
	}
	return inputName, append([]string(nil), cfg.OutputNames...), nil
}

// OutputNames returns the output order produced by Run.
func (s *Session) OutputNames() []string {
	return append([]string(nil), s.outputNames...)
}

// Run executes the model. The context is checked before inference starts;
// a running inference is not interrupted.
func (s *Session) Run(ctx context.Context, input tensor.Tensor) ([]tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("invalid input tensor: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	in, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(int64Shape(input.Shape)...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer destroy(in)

	outs := make([]onnxruntime_go.Value, len(s.outputNames))
	if err := s.session.Run([]onnxruntime_go.Value{in}, outs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outs {
			if o != nil {
				destroy(o)
			}
		}
	}()

	result := make([]tensor.Tensor, len(outs))
	for i, o := range outs {
		t, err := toTensor(o, s.outputNames[i])
		if err != nil {
			return nil, err
		}
		if s.cfg.ChannelsLast {
			if t, err = t.ChannelsLast(); err != nil {
				return nil, fmt.Errorf("output %s: %w", s.outputNames[i], err)
			}
		}
		result[i] = t
	}
	return result, nil
}

// Close destroys the session. The runtime environment stays initialized.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

func toTensor(v onnxruntime_go.Value, name string) (tensor.Tensor, error) {
	ft, ok := v.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("output %s: expected float32 tensor, got %T", name, v)
	}
	shape := make([]int, len(v.GetShape()))
	for i, d := range v.GetShape() {
		shape[i] = int(d)
	}
	// Output memory belongs to the runtime and is freed on Destroy.
	data := append([]float32(nil), ft.GetData()...)
	t, err := tensor.New(data, shape...)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("output %s: %w", name, err)
	}
	return t.Named(name), nil
}

func int64Shape(dims []int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}

func destroy(v onnxruntime_go.Value) {
	if err := v.Destroy(); err != nil {
		slog.Warn("Failed to destroy ONNX value", "error", err)
	}
}
