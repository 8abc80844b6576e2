package usbserial

import (
	"sync"
	"sync/atomic"
)

// BufferPool manages reusable fixed-size byte buffers for I/O operations.
type BufferPool struct {
	pool sync.Pool
	size int
	// Metrics for monitoring pool efficiency
	gets    atomic.Int64
	puts    atomic.Int64
	creates atomic.Int64
}

// NewBufferPool creates a buffer pool with fixed-size buffers.
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{
		size: bufferSize,
	}
	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.creates.Add(1)
			return make([]byte, bufferSize)
		},
	}
	return bp
}

// Get retrieves a buffer from the pool.
func (bp *BufferPool) Get() []byte {
	bp.gets.Add(1)
	return bp.pool.Get().([]byte)
}

// Put returns a buffer to the pool (clears it first so pooled buffers never
// leak previous payloads).
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return // Don't pool incorrectly sized buffers
	}
	bp.puts.Add(1)

	clear(buf)
	bp.pool.Put(buf)
}

// Size returns the fixed buffer size this pool hands out.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Stats returns pool usage statistics.
func (bp *BufferPool) Stats() PoolStats {
	return PoolStats{
		Size:    bp.size,
		Gets:    bp.gets.Load(),
		Puts:    bp.puts.Load(),
		Creates: bp.creates.Load(),
	}
}

// ResetStats zeroes the pool's counters without touching pooled buffers.
func (bp *BufferPool) ResetStats() {
	bp.gets.Store(0)
	bp.puts.Store(0)
	bp.creates.Store(0)
}

// PoolStats contains buffer pool usage statistics.
type PoolStats struct {
	Size    int   // Buffer size managed by this pool
	Gets    int64 // Number of Get() calls
	Puts    int64 // Number of Put() calls
	Creates int64 // Number of new buffers created
}

// HitRatio returns the cache hit ratio (0.0 to 1.0).
func (ps PoolStats) HitRatio() float64 {
	if ps.Gets == 0 {
		return 0.0
	}
	return 1.0 - (float64(ps.Creates) / float64(ps.Gets))
}

// BufferPoolManager manages the per-device buffer pools backing outbound
// chunk copies and any other short-lived payload staging.
type BufferPoolManager struct {
	smallPool  *BufferPool // 256 bytes
	mediumPool *BufferPool // 1024 bytes
	largePool  *BufferPool // 4096 bytes
	metrics    *Metrics    // hit/miss counters, may be nil
}

// NewBufferPoolManager creates a new buffer pool manager. metrics may be
// nil when pool efficiency is not tracked.
func NewBufferPoolManager(metrics *Metrics) *BufferPoolManager {
	return &BufferPoolManager{
		smallPool:  NewBufferPool(256),
		mediumPool: NewBufferPool(1024),
		largePool:  NewBufferPool(4096),
		metrics:    metrics,
	}
}

// GetPooledBuffer returns a buffer of exactly size bytes and the cleanup
// closure that hands its storage back to the pool. Sizes above
// AbsoluteMaxBufferSize are refused with a nil buffer; sizes between the
// largest pool class and the limit fall back to direct allocation.
func (bpm *BufferPoolManager) GetPooledBuffer(size int) ([]byte, func()) {
	recordMiss := func() {
		if bpm.metrics != nil {
			bpm.metrics.PoolMisses.Add(1)
		}
	}

	recordHit := func() {
		if bpm.metrics != nil {
			bpm.metrics.PoolHits.Add(1)
		}
	}

	if size <= 0 {
		// Return minimal buffer for zero/negative sizes
		recordHit()
		buf := bpm.smallPool.Get()[:1]
		return buf, func() { bpm.smallPool.Put(buf[:cap(buf)]) }
	}

	// Enforce the absolute ceiling so a runaway request cannot exhaust
	// memory through the pool path.
	if size > AbsoluteMaxBufferSize {
		recordMiss()
		return nil, func() {}
	}

	if size > MaxBufferSize {
		// Don't pool oversized buffers, but allow direct allocation up to
		// the absolute limit.
		recordMiss()
		buf := make([]byte, size)
		return buf, func() {}
	}

	var buf []byte
	var cleanup func()

	switch {
	case size <= 256:
		recordHit()
		buf = bpm.smallPool.Get()[:size]
		cleanup = func() { bpm.smallPool.Put(buf[:cap(buf)]) }
	case size <= 1024:
		recordHit()
		buf = bpm.mediumPool.Get()[:size]
		cleanup = func() { bpm.mediumPool.Put(buf[:cap(buf)]) }
	case size <= 4096:
		recordHit()
		buf = bpm.largePool.Get()[:size]
		cleanup = func() { bpm.largePool.Put(buf[:cap(buf)]) }
	default:
		// Sizes between 4KB and MaxBufferSize use direct allocation.
		recordMiss()
		buf = make([]byte, size)
		cleanup = func() {}
	}

	return buf, cleanup
}

// GetAllPoolStats returns statistics for all pools.
func (bpm *BufferPoolManager) GetAllPoolStats() []PoolStats {
	return []PoolStats{
		bpm.smallPool.Stats(),
		bpm.mediumPool.Stats(),
		bpm.largePool.Stats(),
	}
}

// ResetPoolStats resets all pool statistics (useful for testing).
func (bpm *BufferPoolManager) ResetPoolStats() {
	bpm.smallPool.ResetStats()
	bpm.mediumPool.ResetStats()
	bpm.largePool.ResetStats()
}
