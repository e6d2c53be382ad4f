package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/mempool"
	"github.com/MeKo-Tech/fastdet/internal/models"
	"github.com/MeKo-Tech/fastdet/internal/onnx"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/MeKo-Tech/fastdet/internal/version"
)

var errOverridesWithEngine = errors.New("per-request decoder overrides are not supported for inference")

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.String(),
		Time:    time.Now().UTC().Format(time.RFC3339),
		Engine:  s.pipeline != nil && s.pipeline.HasEngine(),
	}
	writeJSON(w, http.StatusOK, response)
}

// modelsHandler returns the model catalog resolved against the models directory.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	inventory := models.Inventory(models.GetModelsDir(s.modelsDir))
	writeJSON(w, http.StatusOK, ModelsResponse{Models: inventory, Count: len(inventory)})
}

func (s *Server) labelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names := []string(s.names)
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, LabelsResponse{Labels: names, Count: len(names)})
}

// detectHandler decodes output tensors sent as JSON.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, status, err := s.decodeRequest(w, r)
	if err != nil {
		detectRequestsTotal.WithLabelValues("json", "error").Inc()
		s.writeErrorResponse(w, req.RequestID, err.Error(), status)
		return
	}

	resp, status := s.detect(req)
	detectRequestsTotal.WithLabelValues("json", statusLabel(status)).Inc()
	writeJSON(w, status, resp)
}

// detectRawHandler decodes little-endian float32 tensors streamed back to
// back in the request body. Shapes come from the query string, one per
// tensor: ?shape=22,22,95&shape=11,11,95&image=640x480
func (s *Server) detectRawHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, shapes, err := parseRawQuery(r)
	if err != nil {
		detectRequestsTotal.WithLabelValues("raw", "error").Inc()
		s.writeErrorResponse(w, req.RequestID, err.Error(), http.StatusBadRequest)
		return
	}
	if status, err := checkRawVolume(shapes, s.maxUploadBytes()); err != nil {
		detectRequestsTotal.WithLabelValues("raw", "error").Inc()
		s.writeErrorResponse(w, req.RequestID, err.Error(), status)
		return
	}
	if r.ContentLength > 0 {
		uploadSizeBytes.Observe(float64(r.ContentLength))
	}
	// One buffered reader for all tensors so read-ahead is not lost between them.
	body := bufio.NewReader(http.MaxBytesReader(w, r.Body, s.maxUploadBytes()))

	buffers := make([][]float32, 0, len(shapes))
	defer func() {
		for _, b := range buffers {
			mempool.PutFloat32(b)
		}
	}()
	for i, shape := range shapes {
		n, _ := tensor.Volume(shape)
		buf := mempool.GetFloat32(n)
		buffers = append(buffers, buf)
		if err := tensor.ReadRawInto(body, buf); err != nil {
			detectRequestsTotal.WithLabelValues("raw", "error").Inc()
			s.writeErrorResponse(w, req.RequestID, fmt.Sprintf("tensor %d: %v", i, err), bodyErrorStatus(err))
			return
		}
		t, err := tensor.New(buf, shape...)
		if err != nil {
			detectRequestsTotal.WithLabelValues("raw", "error").Inc()
			s.writeErrorResponse(w, req.RequestID, err.Error(), http.StatusBadRequest)
			return
		}
		req.Tensors = append(req.Tensors, t)
	}
	if _, err := body.ReadByte(); err == nil {
		detectRequestsTotal.WithLabelValues("raw", "error").Inc()
		s.writeErrorResponse(w, req.RequestID, "request body is longer than the declared shapes", http.StatusBadRequest)
		return
	}

	resp, status := s.detect(req)
	detectRequestsTotal.WithLabelValues("raw", statusLabel(status)).Inc()
	writeJSON(w, status, resp)
}

// inferHandler runs the engine on a preprocessed input tensor.
func (s *Server) inferHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, status, err := s.decodeRequest(w, r)
	if err != nil {
		detectRequestsTotal.WithLabelValues("infer", "error").Inc()
		s.writeErrorResponse(w, req.RequestID, err.Error(), status)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout())
	defer cancel()
	resp, status := s.infer(ctx, req)
	detectRequestsTotal.WithLabelValues("infer", statusLabel(status)).Inc()
	writeJSON(w, status, resp)
}

// decodeRequest reads a size-limited JSON DetectRequest.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (DetectRequest, int, error) {
	if r.ContentLength > 0 {
		uploadSizeBytes.Observe(float64(r.ContentLength))
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())

	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, bodyErrorStatus(err), fmt.Errorf("invalid request body: %w", err)
	}
	return req, http.StatusOK, nil
}

// detect validates req, decodes its tensors and applies NMS.
func (s *Server) detect(req DetectRequest) (DetectResponse, int) {
	original := detector.Size{Width: req.ImageWidth, Height: req.ImageHeight}
	if !original.Valid() {
		return failure(req, fmt.Sprintf("invalid image size %s", original)), http.StatusBadRequest
	}
	if len(req.Tensors) == 0 {
		return failure(req, "no tensors provided"), http.StatusBadRequest
	}
	for i, t := range req.Tensors {
		if err := t.Validate(); err != nil {
			return failure(req, fmt.Sprintf("tensor %d: %v", i, err)), http.StatusBadRequest
		}
	}

	pl, cleanup, err := s.getPipelineForRequest(req)
	if err != nil {
		return failure(req, err.Error()), http.StatusBadRequest
	}
	defer cleanup()

	res, err := pl.Process(req.Tensors, original)
	if err != nil {
		return failure(req, err.Error()), statusForError(err)
	}
	return s.success(req, res, original), http.StatusOK
}

func (s *Server) infer(ctx context.Context, req DetectRequest) (DetectResponse, int) {
	original := detector.Size{Width: req.ImageWidth, Height: req.ImageHeight}
	if !original.Valid() {
		return failure(req, fmt.Sprintf("invalid image size %s", original)), http.StatusBadRequest
	}
	if req.Input == nil {
		return failure(req, "no input tensor provided"), http.StatusBadRequest
	}
	if hasOverrides(req) {
		return failure(req, errOverridesWithEngine.Error()), http.StatusBadRequest
	}
	if s.pipeline == nil || !s.pipeline.HasEngine() {
		return failure(req, pipeline.ErrNoEngine.Error()), http.StatusServiceUnavailable
	}

	res, err := s.pipeline.Infer(ctx, *req.Input, original)
	if err != nil {
		return failure(req, err.Error()), statusForError(err)
	}
	return s.success(req, res, original), http.StatusOK
}

func (s *Server) success(req DetectRequest, res *pipeline.Result, original detector.Size) DetectResponse {
	var names detector.Namer
	if s.names != nil {
		names = s.names
	}
	return DetectResponse{
		Success:    true,
		RequestID:  req.RequestID,
		Variant:    res.Variant,
		Width:      original.Width,
		Height:     original.Height,
		Boxes:      detector.Label(res.Boxes, names),
		Candidates: res.Candidates,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
	}
}

func failure(req DetectRequest, msg string) DetectResponse {
	return DetectResponse{Success: false, RequestID: req.RequestID, Boxes: []detector.LabeledBox{}, Error: msg}
}

func hasOverrides(req DetectRequest) bool {
	return req.Variant != "" || req.NumClasses > 0 || req.ConfThreshold != nil || req.NMSThreshold != nil
}

// getPipelineForRequest returns the shared pipeline, or a decoder-only
// pipeline when the request overrides decoder settings. The cleanup func
// must always be called.
func (s *Server) getPipelineForRequest(req DetectRequest) (pipelineInterface, func(), error) {
	noop := func() {}
	if s.pipeline == nil {
		return nil, noop, errors.New("pipeline not initialized")
	}
	if !hasOverrides(req) {
		return s.pipeline, noop, nil
	}

	cfg := s.pipeline.Config()
	cfg.Engine = onnx.Config{}
	b := pipeline.NewBuilder().WithConfig(cfg).WithNumClasses(req.NumClasses)
	if req.Variant != "" {
		v, err := detector.ParseVariant(req.Variant)
		if err != nil {
			return nil, noop, err
		}
		b = b.WithVariant(v)
	}
	conf, nms := cfg.Decoder.ConfThreshold, cfg.NMSThreshold
	if req.ConfThreshold != nil {
		conf = *req.ConfThreshold
	}
	if req.NMSThreshold != nil {
		nms = *req.NMSThreshold
	}
	pl, err := b.WithThresholds(conf, nms).Build()
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return pl, func() { _ = pl.Close() }, nil
}

// parseRawQuery reads shapes, image size and overrides from the query string.
func parseRawQuery(r *http.Request) (DetectRequest, [][]int, error) {
	q := r.URL.Query()
	req := DetectRequest{RequestID: q.Get("request_id"), Variant: q.Get("variant")}

	size, err := detector.ParseSize(q.Get("image"))
	if err != nil {
		return req, nil, err
	}
	req.ImageWidth, req.ImageHeight = size.Width, size.Height

	// One shape parameter per tensor; an escaped ";" also separates shapes.
	var shapes [][]int
	for _, value := range q["shape"] {
		for _, part := range strings.Split(value, ";") {
			shape, err := tensor.ParseShape(part)
			if err != nil {
				return req, nil, err
			}
			shapes = append(shapes, shape)
		}
	}
	if len(shapes) == 0 {
		return req, nil, errors.New("missing shape parameter")
	}

	if v := q.Get("num_classes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return req, nil, fmt.Errorf("invalid num_classes %q", v)
		}
		req.NumClasses = n
	}
	if req.ConfThreshold, err = parseThresholdParam(q.Get("conf_threshold"), "conf_threshold"); err != nil {
		return req, nil, err
	}
	if req.NMSThreshold, err = parseThresholdParam(q.Get("nms_threshold"), "nms_threshold"); err != nil {
		return req, nil, err
	}
	return req, shapes, nil
}

// checkRawVolume sums the payload size the declared shapes need and rejects
// it when it exceeds limit bytes, so no buffer is taken for an oversized
// request.
func checkRawVolume(shapes [][]int, limit int64) (int, error) {
	var total int64
	for i, shape := range shapes {
		n, err := tensor.Volume(shape)
		if errors.Is(err, tensor.ErrOverflow) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("tensor %d: %w", i, err)
		}
		if err != nil {
			return http.StatusBadRequest, fmt.Errorf("tensor %d: %w", i, err)
		}
		if int64(n) > (limit-total)/4 {
			return http.StatusRequestEntityTooLarge,
				fmt.Errorf("tensor %d: declared shapes need more than the %d byte upload limit", i, limit)
		}
		total += int64(n) * 4
	}
	return http.StatusOK, nil
}

func parseThresholdParam(v, name string) (*float32, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil || f < 0 || f > 1 {
		return nil, fmt.Errorf("invalid %s %q (must be between 0 and 1)", name, v)
	}
	out := float32(f)
	return &out, nil
}

// statusForError maps pipeline errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, detector.ErrShapeMismatch), errors.Is(err, detector.ErrInvalidGeometry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNoEngine):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func statusLabel(status int) string {
	if status == http.StatusOK {
		return "success"
	}
	return "error"
}

// writeErrorResponse writes an error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, requestID, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Success: false, RequestID: requestID, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
