package pipeline

import (
	"errors"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fastdet_decode_duration_seconds",
			Help:    "Decode plus suppression duration in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"variant"},
	)

	inferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fastdet_inference_duration_seconds",
			Help:    "Engine inference duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	candidateBoxes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fastdet_candidate_boxes",
			Help:    "Number of boxes above the confidence threshold before suppression",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"variant"},
	)

	keptBoxes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fastdet_kept_boxes",
			Help:    "Number of boxes after suppression",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"variant"},
	)

	decodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fastdet_decode_errors_total",
			Help: "Total number of failed decodes",
		},
		[]string{"variant", "kind"}, // kind: shape, geometry, engine, other
	)
)

func errorKind(err error) string {
	switch {
	case errors.Is(err, detector.ErrShapeMismatch):
		return "shape"
	case errors.Is(err, detector.ErrInvalidGeometry):
		return "geometry"
	default:
		return "other"
	}
}
