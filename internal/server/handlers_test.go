package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	s := newSingleGridServer(t)

	rec := httptest.NewRecorder()
	s.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeResponse[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Time)
	assert.NotEmpty(t, resp.Version)
	assert.False(t, resp.Engine)

	rec = httptest.NewRecorder()
	s.healthHandler(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandler_ReportsEngine(t *testing.T) {
	s, _ := newEngineServer(t)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, decodeResponse[HealthResponse](t, rec).Engine)
}

func TestModelsHandler(t *testing.T) {
	s := newSingleGridServer(t)
	s.modelsDir = t.TempDir()

	rec := httptest.NewRecorder()
	s.modelsHandler(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse[ModelsResponse](t, rec)
	assert.Equal(t, len(resp.Models), resp.Count)
	assert.NotZero(t, resp.Count)
	for _, m := range resp.Models {
		assert.False(t, m.Available, m.Name)
	}

	rec = httptest.NewRecorder()
	s.modelsHandler(rec, httptest.NewRequest(http.MethodDelete, "/models", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLabelsHandler(t *testing.T) {
	s := newSingleGridServer(t)
	rec := httptest.NewRecorder()
	s.labelsHandler(rec, httptest.NewRequest(http.MethodGet, "/labels", nil))
	resp := decodeResponse[LabelsResponse](t, rec)
	assert.Equal(t, []string(fourNames), resp.Labels)
	assert.Equal(t, 4, resp.Count)

	s.names = nil
	rec = httptest.NewRecorder()
	s.labelsHandler(rec, httptest.NewRequest(http.MethodGet, "/labels", nil))
	resp = decodeResponse[LabelsResponse](t, rec)
	assert.Empty(t, resp.Labels)
	assert.Contains(t, rec.Body.String(), `"labels":[]`)
}

func TestDetectHandler(t *testing.T) {
	s := newSingleGridServer(t)
	rec := postJSON(t, s.detectHandler, "/v1/detect", DetectRequest{
		RequestID:   "req-1",
		ImageWidth:  200,
		ImageHeight: 100,
		Tensors:     []tensor.Tensor{overlappingGrid(t)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[DetectResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, detector.VariantSingleGrid, resp.Variant)
	assert.Equal(t, 200, resp.Width)
	assert.Equal(t, 100, resp.Height)
	assert.Equal(t, 2, resp.Candidates)
	require.Len(t, resp.Boxes, 1)

	b := resp.Boxes[0]
	assert.Equal(t, [4]int{0, 25, 100, 75}, [4]int{b.X1, b.Y1, b.X2, b.Y2})
	assert.Equal(t, 3, b.Class)
	assert.Equal(t, "fish", b.Label)
	assert.InDelta(t, 1.0, b.Score, 1e-6)
}

func TestDetectHandler_Overrides(t *testing.T) {
	s := newSingleGridServer(t)

	tests := []struct {
		name string
		req  DetectRequest
		kept int
	}{
		{"loose nms keeps both", DetectRequest{NMSThreshold: ptr[float32](0.5)}, 2},
		{"high confidence drops second", DetectRequest{ConfThreshold: ptr[float32](0.95), NMSThreshold: ptr[float32](0.5)}, 1},
		{"explicit variant", DetectRequest{Variant: "fastestdet"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.ImageWidth, req.ImageHeight = 200, 100
			req.Tensors = []tensor.Tensor{overlappingGrid(t)}

			rec := postJSON(t, s.detectHandler, "/v1/detect", req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decodeResponse[DetectResponse](t, rec).Boxes, tt.kept)
		})
	}

	// The shared pipeline keeps its own thresholds.
	assert.InDelta(t, 0.25, s.pipeline.Config().NMSThreshold, 1e-6)
}

func TestDetectHandler_Errors(t *testing.T) {
	s := newSingleGridServer(t)
	wrongChannels, err := tensor.New(make([]float32, 3*4*4), 3, 4, 4)
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     DetectRequest
		status  int
		message string
	}{
		{"missing size", DetectRequest{Tensors: []tensor.Tensor{overlappingGrid(t)}}, http.StatusBadRequest, "image size"},
		{"no tensors", DetectRequest{ImageWidth: 10, ImageHeight: 10}, http.StatusBadRequest, "no tensors"},
		{"shape data mismatch", DetectRequest{ImageWidth: 10, ImageHeight: 10, Tensors: []tensor.Tensor{{Shape: []int{2, 2}, Data: []float32{1}}}}, http.StatusBadRequest, "tensor 0"},
		{"bad variant", DetectRequest{Variant: "yolov9", ImageWidth: 10, ImageHeight: 10, Tensors: []tensor.Tensor{overlappingGrid(t)}}, http.StatusBadRequest, "variant"},
		{"bad threshold", DetectRequest{NMSThreshold: ptr[float32](2), ImageWidth: 10, ImageHeight: 10, Tensors: []tensor.Tensor{overlappingGrid(t)}}, http.StatusBadRequest, "pipeline"},
		{"wrong channel count", DetectRequest{ImageWidth: 10, ImageHeight: 10, Tensors: []tensor.Tensor{wrongChannels}}, http.StatusUnprocessableEntity, "shape mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, s.detectHandler, "/v1/detect", tt.req)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeResponse[DetectResponse](t, rec)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.message)
		})
	}
}

func TestDetectHandler_BadBody(t *testing.T) {
	s := newSingleGridServer(t)

	rec := httptest.NewRecorder()
	s.detectHandler(rec, httptest.NewRequest(http.MethodPost, "/v1/detect", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeResponse[ErrorResponse](t, rec).Error, "invalid request body")

	rec = httptest.NewRecorder()
	s.detectHandler(rec, httptest.NewRequest(http.MethodGet, "/v1/detect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDetectHandler_TooLarge(t *testing.T) {
	s := newSingleGridServer(t)
	big, err := tensor.New(make([]float32, 700_000), 700_000)
	require.NoError(t, err)

	rec := postJSON(t, s.detectHandler, "/v1/detect", DetectRequest{ImageWidth: 1, ImageHeight: 1, Tensors: []tensor.Tensor{big}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func rawBody(t *testing.T, outputs ...tensor.Tensor) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for _, o := range outputs {
		require.NoError(t, tensor.WriteRaw(&buf, o))
	}
	return &buf
}

func TestDetectRawHandler(t *testing.T) {
	s, _ := newEngineServer(t)
	body := rawBody(t, cocoOutputs(t)...)

	req := httptest.NewRequest(http.MethodPost, "/v1/detect/raw?shape=22,22,95&shape=11x11x95&image=352x352&request_id=r7", body)
	rec := httptest.NewRecorder()
	s.detectRawHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeResponse[DetectResponse](t, rec)
	assert.Equal(t, "r7", resp.RequestID)
	assert.Equal(t, detector.VariantMultiScaleAnchor, resp.Variant)
	require.Len(t, resp.Boxes, 1)
	b := resp.Boxes[0]
	assert.Equal(t, [4]int{73, 70, 86, 89}, [4]int{b.X1, b.Y1, b.X2, b.Y2})
	assert.Equal(t, labels.COCO().Name(17), b.Label)
	assert.InDelta(t, 0.72, b.Score, 1e-6)
}

func TestDetectRawHandler_ScalesToOriginal(t *testing.T) {
	s, _ := newEngineServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/detect/raw?shape=22,22,95%3B11,11,95&image=704x704", rawBody(t, cocoOutputs(t)...))
	rec := httptest.NewRecorder()
	s.detectRawHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse[DetectResponse](t, rec)
	require.Len(t, resp.Boxes, 1)
	assert.Equal(t, 147, resp.Boxes[0].X1)
}

func TestDetectRawHandler_Errors(t *testing.T) {
	s, _ := newEngineServer(t)
	full := rawBody(t, cocoOutputs(t)...).Bytes()

	tests := []struct {
		name    string
		query   string
		body    []byte
		status  int
		message string
	}{
		{"missing shape", "image=352x352", full, http.StatusBadRequest, "missing shape"},
		{"bad shape", "shape=22,a,95&image=352x352", full, http.StatusBadRequest, "invalid shape"},
		{"missing image", "shape=22,22,95&shape=11,11,95", full, http.StatusBadRequest, "invalid size"},
		{"bad threshold", "shape=22,22,95&shape=11,11,95&image=352x352&nms_threshold=3", full, http.StatusBadRequest, "nms_threshold"},
		{"bad classes", "shape=22,22,95&shape=11,11,95&image=352x352&num_classes=x", full, http.StatusBadRequest, "num_classes"},
		{"short body", "shape=22,22,95&shape=11,11,95&image=352x352", full[:len(full)-8], http.StatusBadRequest, "tensor 1"},
		{"trailing bytes", "shape=22,22,95&shape=11,11,95&image=352x352", append(append([]byte(nil), full...), 0, 0, 0, 0), http.StatusBadRequest, "longer"},
		{"one output only", "shape=22,22,95&image=352x352", full[:22*22*95*4], http.StatusUnprocessableEntity, "shape mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.detectRawHandler(rec, httptest.NewRequest(http.MethodPost, "/v1/detect/raw?"+tt.query, bytes.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
		})
	}
}

func TestDetectRawHandler_DeclaredSizeOverLimit(t *testing.T) {
	s := newSingleGridServer(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"one shape over 1 MB", "shape=1,1,4000000000&image=10x10", http.StatusRequestEntityTooLarge},
		{"square overflow of makeslice", "shape=1073741824,1073741824&image=10x10", http.StatusRequestEntityTooLarge},
		{"int overflow", "shape=9,4611686018427387904,4&image=10x10", http.StatusRequestEntityTooLarge},
		{"sum over 1 MB", "shape=9,128,128&shape=9,128,128&image=10x10", http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.detectRawHandler(rec, httptest.NewRequest(http.MethodPost, "/v1/detect/raw?"+tt.query, http.NoBody))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeResponse[ErrorResponse](t, rec).Error, "tensor")
		})
	}
}

func TestCheckRawVolume(t *testing.T) {
	status, err := checkRawVolume([][]int{{256, 1024}}, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, err = checkRawVolume([][]int{{256, 1024}, {1}}, 1<<20)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	status, err = checkRawVolume([][]int{{1 << 62, 8}}, 1<<20)
	require.ErrorIs(t, err, tensor.ErrOverflow)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	status, err = checkRawVolume([][]int{{0, 8}}, 1<<20)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDetectHandler_OverflowingShape(t *testing.T) {
	s := newSingleGridServer(t)
	body := `{"image_width":10,"image_height":10,"tensors":[{"shape":[9,4611686018427387904,4],"data":[]}]}`

	rec := httptest.NewRecorder()
	s.detectHandler(rec, httptest.NewRequest(http.MethodPost, "/v1/detect", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "overflows")
}

func TestInferHandler(t *testing.T) {
	s, eng := newEngineServer(t)
	input, err := tensor.New(make([]float32, 3*352*352), 1, 3, 352, 352)
	require.NoError(t, err)

	rec := postJSON(t, s.inferHandler, "/v1/infer", DetectRequest{ImageWidth: 352, ImageHeight: 352, Input: &input})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse[DetectResponse](t, rec)
	require.Len(t, resp.Boxes, 1)
	assert.Equal(t, 17, resp.Boxes[0].Class)
	assert.Equal(t, 1, eng.Calls())
}

func TestInferHandler_Errors(t *testing.T) {
	input, err := tensor.New(make([]float32, 3), 1, 3)
	require.NoError(t, err)

	engineServer, _ := newEngineServer(t)
	rec := postJSON(t, engineServer.inferHandler, "/v1/infer", DetectRequest{ImageWidth: 10, ImageHeight: 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, engineServer.inferHandler, "/v1/infer", DetectRequest{ImageWidth: 10, ImageHeight: 10, Input: &input, NMSThreshold: ptr[float32](0.5)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "overrides")

	plain := newSingleGridServer(t)
	rec = postJSON(t, plain.inferHandler, "/v1/infer", DetectRequest{ImageWidth: 10, ImageHeight: 10, Input: &input})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("decode: %w", detector.ErrShapeMismatch), http.StatusUnprocessableEntity},
		{fmt.Errorf("decode: %w", detector.ErrInvalidGeometry), http.StatusUnprocessableEntity},
		{pipeline.ErrNoEngine, http.StatusServiceUnavailable},
		{fmt.Errorf("inference: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), tt.err.Error())
	}
}

func TestRoutes(t *testing.T) {
	s := newSingleGridServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, path := range []string{"/health", "/models", "/labels", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestNewServer(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = t.TempDir()
	s, err := NewServer(Config{PipelineConfig: cfg, CORSOrigin: "*"})
	require.NoError(t, err)
	assert.False(t, s.pipeline.HasEngine())
	assert.Equal(t, int64(16<<20), s.maxUploadBytes())
	assert.NoError(t, s.Close())

	cfg.Engine.ModelPath = "missing.onnx"
	_, err = NewServer(Config{PipelineConfig: cfg})
	assert.Error(t, err)
}
