// Package mempool provides size-classed buffer pools for tensor payloads.
package mempool

import (
	"sync"
	"sync/atomic"
)

// sizeStep is the granularity of pool size classes, in elements.
const sizeStep = 4096

// sizeClass rounds n up to the next multiple of sizeStep, never below one step.
func sizeClass(n int) int {
	if n <= sizeStep {
		return sizeStep
	}
	return (n + sizeStep - 1) / sizeStep * sizeStep
}

// Float32Pool hands out []float32 buffers grouped by size class.
type Float32Pool struct {
	classes sync.Map // size class -> *sync.Pool
	gets    atomic.Int64
	allocs  atomic.Int64
}

// Stats reports pool activity.
type Stats struct {
	Gets   int64 `json:"gets"`
	Allocs int64 `json:"allocs"`
}

func (p *Float32Pool) class(cls int) *sync.Pool {
	if v, ok := p.classes.Load(cls); ok {
		if sp, ok := v.(*sync.Pool); ok {
			return sp
		}
	}
	v, _ := p.classes.LoadOrStore(cls, &sync.Pool{New: func() any {
		p.allocs.Add(1)
		buf := make([]float32, cls)
		return &buf
	}})
	sp, _ := v.(*sync.Pool)
	return sp
}

// Get returns a buffer of length n. Contents are not zeroed.
// Return it with Put once nothing references it anymore.
func (p *Float32Pool) Get(n int) []float32 {
	if n < 0 {
		n = 0
	}
	p.gets.Add(1)
	cls := sizeClass(n)
	bp, ok := p.class(cls).Get().(*[]float32)
	if !ok || cap(*bp) < cls {
		p.allocs.Add(1)
		buf := make([]float32, cls)
		bp = &buf
	}
	return (*bp)[:n]
}

// Put returns buf to the pool. Nil and foreign odd-sized slices are ignored.
func (p *Float32Pool) Put(buf []float32) {
	if buf == nil || cap(buf) != sizeClass(cap(buf)) {
		return
	}
	buf = buf[:cap(buf)]
	p.class(cap(buf)).Put(&buf)
}

// Stats returns a snapshot of pool counters.
func (p *Float32Pool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Allocs: p.allocs.Load()}
}

var defaultPool Float32Pool

// GetFloat32 takes a buffer of length n from the shared pool.
func GetFloat32(n int) []float32 { return defaultPool.Get(n) }

// PutFloat32 returns a buffer to the shared pool.
func PutFloat32(buf []float32) { defaultPool.Put(buf) }

// DefaultStats reports shared pool counters.
func DefaultStats() Stats { return defaultPool.Stats() }
