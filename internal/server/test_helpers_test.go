package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/onnx/mock"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/MeKo-Tech/fastdet/internal/testutil"
	"github.com/stretchr/testify/require"
)

var fourNames = labels.List{"cat", "dog", "bird", "fish"}

// newSingleGridServer serves a 4-class single-grid decoder without an engine.
func newSingleGridServer(t *testing.T) *Server {
	t.Helper()
	pl, err := pipeline.NewBuilder().
		WithVariant(detector.VariantSingleGrid).
		WithNumClasses(4).
		WithThresholds(0.1, 0.25).
		Build()
	require.NoError(t, err)
	return newServerWithPipeline(pl, Config{CORSOrigin: "*", MaxUploadMB: 1, TimeoutSec: 5, Labels: fourNames})
}

// newEngineServer serves the COCO multi-scale decoder behind a mock engine.
func newEngineServer(t *testing.T) (*Server, *mock.Engine) {
	t.Helper()
	eng := mock.NewEngine(cocoOutputs(t)...)
	pl, err := pipeline.NewBuilder().WithEngine(eng).Build()
	require.NoError(t, err)
	return newServerWithPipeline(pl, Config{CORSOrigin: "*", MaxUploadMB: 16, TimeoutSec: 5, Labels: labels.COCO()}), eng
}

// overlappingGrid has two class-3 boxes at x 0..100 and 50..150 on a
// 200x100 image (IoU 1/3).
func overlappingGrid(t *testing.T) tensor.Tensor {
	t.Helper()
	return testutil.SingleGridTensor(t, 4, 4, 4,
		testutil.GridHit{Row: 2, Col: 1, Class: 3, Obj: 1, ClassScore: 1},
		testutil.GridHit{Row: 2, Col: 2, Class: 3, Obj: 0.9, ClassScore: 0.9},
	)
}

// cocoOutputs yields one class-17 hit at 73,70,86,89 on a 352x352 image.
func cocoOutputs(t *testing.T) []tensor.Tensor {
	t.Helper()
	return []tensor.Tensor{
		testutil.AnchorTensor(t, 80, 22, 22, testutil.AnchorHit{
			Row: 5, Col: 5, Anchor: 0, Class: 17, Obj: 0.9, ClassScore: 0.8, Box: testutil.CenteredAnchorBox,
		}),
		testutil.AnchorTensor(t, 80, 11, 11),
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func ptr[T any](v T) *T { return &v }
