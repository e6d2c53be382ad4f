package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig holds configuration for batch processing.
type ParallelConfig struct {
	MaxWorkers       int              // Number of parallel workers (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback // Optional progress reporting
}

// DefaultParallelConfig returns defaults for batch processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: runtime.NumCPU()}
}

type frameJob struct {
	index int
	frame Frame
}

type frameResult struct {
	index  int
	result *Result
	err    error
}

// ProcessBatch processes frames with a worker pool and returns results in
// input order. Results of failed frames are nil; the returned error names the
// first failing frame.
func (p *Pipeline) ProcessBatch(ctx context.Context, frames []Frame) ([]*Result, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames provided")
	}
	if p == nil || p.decoder == nil {
		return nil, errPipelineNotInitialized
	}

	cfg := p.cfg.Parallel
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(frames))

	if cfg.ProgressCallback != nil {
		cfg.ProgressCallback.OnStart(len(frames))
		defer cfg.ProgressCallback.OnComplete()
	}

	jobs := make(chan frameJob, len(frames))
	results := make(chan frameResult, len(frames))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, f := range frames {
			select {
			case jobs <- frameJob{index: i, frame: f}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*Result, len(frames))
	errs := make([]error, len(frames))
	processed := 0
	for r := range results {
		ordered[r.index] = r.result
		errs[r.index] = r.err
		processed++
		if cfg.ProgressCallback != nil {
			if r.err != nil {
				cfg.ProgressCallback.OnError(r.index, r.err)
			}
			cfg.ProgressCallback.OnProgress(processed, len(frames))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return ordered, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return ordered, nil
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan frameJob, results chan<- frameResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res, err := p.processFrame(ctx, job.frame)
			select {
			case results <- frameResult{index: job.index, result: res, err: err}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
