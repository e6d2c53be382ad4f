package server

import (
	"context"
	"net/http"
	"time"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/models"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pipelineInterface defines the methods needed by the server from a pipeline.
type pipelineInterface interface {
	Process(outputs []tensor.Tensor, original detector.Size) (*pipeline.Result, error)
	Infer(ctx context.Context, input tensor.Tensor, original detector.Size) (*pipeline.Result, error)
	Config() pipeline.Config
	HasEngine() bool
	Close() error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    pipelineInterface
	names       labels.List
	modelsDir   string
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	ShutdownTimeout int
	PipelineConfig  pipeline.Config
	// Labels names response boxes. Nil leaves labels empty.
	Labels labels.List
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
	Engine  bool   `json:"engine"`
}

type ModelsResponse struct {
	Models []models.Status `json:"models"`
	Count  int             `json:"count"`
}

type LabelsResponse struct {
	Labels []string `json:"labels"`
	Count  int      `json:"count"`
}

// DetectRequest carries dumped output tensors, or a preprocessed input tensor
// for /v1/infer. Zero thresholds and an empty variant keep server defaults.
type DetectRequest struct {
	RequestID     string          `json:"request_id,omitempty"`
	Variant       string          `json:"variant,omitempty"`
	NumClasses    int             `json:"num_classes,omitempty"`
	ImageWidth    int             `json:"image_width"`
	ImageHeight   int             `json:"image_height"`
	ConfThreshold *float32        `json:"conf_threshold,omitempty"`
	NMSThreshold  *float32        `json:"nms_threshold,omitempty"`
	Tensors       []tensor.Tensor `json:"tensors,omitempty"`
	Input         *tensor.Tensor  `json:"input,omitempty"`
}

type DetectResponse struct {
	Success    bool                  `json:"success"`
	RequestID  string                `json:"request_id,omitempty"`
	Variant    detector.Variant      `json:"variant,omitempty"`
	Width      int                   `json:"width,omitempty"`
	Height     int                   `json:"height,omitempty"`
	Boxes      []detector.LabeledBox `json:"boxes"`
	Candidates int                   `json:"candidates"`
	DurationMs float64               `json:"duration_ms"`
	Error      string                `json:"error,omitempty"`
}

// NewServer creates a new detection server instance.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.NewBuilder().WithConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, err
	}
	return newServerWithPipeline(pl, config), nil
}

func newServerWithPipeline(pl pipelineInterface, config Config) *Server {
	return &Server{
		pipeline:    pl,
		names:       config.Labels,
		modelsDir:   config.PipelineConfig.ModelsDir,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.HandleFunc("/labels", s.corsMiddleware(s.labelsHandler))
	mux.HandleFunc("/v1/detect", s.corsMiddleware(s.detectHandler))
	mux.HandleFunc("/v1/detect/raw", s.corsMiddleware(s.detectRawHandler))
	mux.HandleFunc("/v1/infer", s.corsMiddleware(s.inferHandler))
	mux.HandleFunc("/ws/detect", s.websocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func (s *Server) maxUploadBytes() int64 {
	if s.maxUploadMB <= 0 {
		return 16 << 20
	}
	return s.maxUploadMB << 20
}

func (s *Server) requestTimeout() time.Duration {
	if s.timeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.timeoutSec) * time.Second
}
