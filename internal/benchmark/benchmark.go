// Package benchmark times decode and suppression workloads.
package benchmark

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
)

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	Mallocs         uint64 `json:"mallocs"`
	NumGC           uint32 `json:"num_gc"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		Mallocs:         m.Mallocs,
		NumGC:           m.NumGC,
	}
}

// Result holds the outcome of one benchmark.
type Result struct {
	Name         string        `json:"name"`
	Iterations   int           `json:"iterations"`
	Duration     time.Duration `json:"duration_ns"`
	MemoryBefore MemoryStats   `json:"memory_before"`
	MemoryAfter  MemoryStats   `json:"memory_after"`
	Error        error         `json:"-"`
}

// PerOp returns the mean duration of one iteration.
func (r Result) PerOp() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// OpsPerSecond returns the iteration throughput.
func (r Result) OpsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Iterations) / r.Duration.Seconds()
}

// AllocsPerOp returns heap allocations per iteration.
func (r Result) AllocsPerOp() uint64 {
	if r.Iterations == 0 {
		return 0
	}
	return (r.MemoryAfter.Mallocs - r.MemoryBefore.Mallocs) / uint64(r.Iterations) //nolint:gosec // G115: iterations > 0
}

// BytesPerOp returns heap bytes allocated per iteration.
func (r Result) BytesPerOp() uint64 {
	if r.Iterations == 0 {
		return 0
	}
	return (r.MemoryAfter.TotalAllocBytes - r.MemoryBefore.TotalAllocBytes) / uint64(r.Iterations) //nolint:gosec // G115: iterations > 0
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, %v/op, %.0f ops/s, %d B/op, %d allocs/op",
		r.Name, r.Iterations, r.PerOp(), r.OpsPerSecond(), r.BytesPerOp(), r.AllocsPerOp())
}

// Benchmark is a named workload.
type Benchmark struct {
	Name string
	Func func() error
}

// Suite runs a set of benchmarks in registration order.
type Suite struct {
	benchmarks []Benchmark
	results    []Result
	mu         sync.Mutex
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers a benchmark.
func (s *Suite) Add(name string, fn func() error) {
	s.benchmarks = append(s.benchmarks, Benchmark{Name: name, Func: fn})
}

// Names lists the registered benchmarks.
func (s *Suite) Names() []string {
	out := make([]string, len(s.benchmarks))
	for i, b := range s.benchmarks {
		out[i] = b.Name
	}
	return out
}

// Run runs a single benchmark.
func (s *Suite) Run(name string, iterations int) Result {
	for _, b := range s.benchmarks {
		if b.Name == name {
			return run(b, iterations)
		}
	}
	return Result{Name: name, Error: fmt.Errorf("benchmark '%s' not found", name)}
}

// RunAll runs every benchmark and stores the results.
func (s *Suite) RunAll(iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]Result, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		s.results = append(s.results, run(b, iterations))
	}
	return s.results
}

// Results returns the last RunAll results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Print writes one line per result.
func (s *Suite) Print(w io.Writer) {
	for _, r := range s.Results() {
		_, _ = fmt.Fprintln(w, r.String())
	}
}

func run(b Benchmark, iterations int) Result {
	if iterations <= 0 {
		return Result{Name: b.Name, Error: errors.New("iterations must be > 0")}
	}

	runtime.GC()
	before := GetMemoryStats()
	start := time.Now()

	var err error
	done := 0
	for range iterations {
		if err = b.Func(); err != nil {
			break
		}
		done++
	}

	duration := time.Since(start)
	return Result{
		Name:         b.Name,
		Iterations:   done,
		Duration:     duration,
		MemoryBefore: before,
		MemoryAfter:  GetMemoryStats(),
		Error:        err,
	}
}

// SyntheticOutputs builds a deterministic set of raw outputs for cfg with
// every activation drawn uniformly from [0,1).
func SyntheticOutputs(cfg detector.DecoderConfig, seed uint64) ([]tensor.Tensor, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // G404: benchmark data
	fill := func(shape ...int) (tensor.Tensor, error) {
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = rng.Float32()
		}
		return tensor.New(data, shape...)
	}

	w, h := cfg.InputSize.Width, cfg.InputSize.Height
	switch cfg.Variant {
	case detector.VariantSingleGrid:
		t, err := fill(5+cfg.NumClasses, h/16, w/16)
		if err != nil {
			return nil, err
		}
		return []tensor.Tensor{t}, nil
	case detector.VariantMultiScaleAnchor:
		per := detector.PerCellValues(cfg.NumClasses)
		large, err := fill(h/16, w/16, per)
		if err != nil {
			return nil, err
		}
		small, err := fill(h/32, w/32, per)
		if err != nil {
			return nil, err
		}
		return []tensor.Tensor{large, small}, nil
	default:
		return nil, fmt.Errorf("unknown decoder variant %q", cfg.Variant)
	}
}

// AddDecoder registers decode, suppression and combined benchmarks for one
// frame of outputs.
func AddDecoder(s *Suite, cfg detector.DecoderConfig, nmsThreshold float32, outputs []tensor.Tensor, original detector.Size) error {
	dec, err := detector.NewDecoder(cfg)
	if err != nil {
		return err
	}
	candidates, err := dec.Decode(outputs, original)
	if err != nil {
		return err
	}

	prefix := string(cfg.Variant)
	s.Add(prefix+"/decode", func() error {
		_, err := dec.Decode(outputs, original)
		return err
	})
	s.Add(fmt.Sprintf("%s/nms(%d)", prefix, len(candidates)), func() error {
		_ = detector.Suppress(candidates, nmsThreshold)
		return nil
	})
	s.Add(prefix+"/decode+nms", func() error {
		boxes, err := dec.Decode(outputs, original)
		if err != nil {
			return err
		}
		_ = detector.Suppress(boxes, nmsThreshold)
		return nil
	})
	return nil
}
