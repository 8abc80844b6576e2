package usbserial

import "sync"

// outboundChunk pairs one queued write payload with the closure that
// returns its backing storage to the buffer pool.
type outboundChunk struct {
	data    []byte
	release func()
}

// StreamBuffer holds the two byte queues a device shares with its loops:
// outbound chunks waiting for the write loop and inbound bytes waiting for
// delivery. Queue discipline is structural: one producer and one consumer
// per queue (the application writes, the write loop takes; the read loop
// both appends and drains), so a single mutex sees almost no contention.
type StreamBuffer struct {
	mu       sync.Mutex
	pending  []outboundChunk
	received []byte

	// mark counts the bytes appended since the last ResetRead. It survives
	// a drain, so a consumer can tell a transfer wrote new data even after
	// taking it.
	mark int

	// ready holds one token while the outbound queue is non-empty; a
	// blocked TakeWrite waits on it instead of spinning.
	ready chan struct{}

	pools *BufferPoolManager
}

// NewStreamBuffer builds an empty buffer. pools may be nil, in which case
// outbound chunks are allocated directly.
func NewStreamBuffer(pools *BufferPoolManager) *StreamBuffer {
	return &StreamBuffer{
		ready: make(chan struct{}, 1),
		pools: pools,
	}
}

// PutWrite appends a copy of p to the outbound queue and wakes a blocked
// TakeWrite. It never blocks. An empty p is a no-op.
func (b *StreamBuffer) PutWrite(p []byte) {
	if len(p) == 0 {
		return
	}

	var chunk outboundChunk
	if b.pools != nil {
		if buf, release := b.pools.GetPooledBuffer(len(p)); buf != nil {
			copy(buf, p)
			chunk = outboundChunk{data: buf, release: release}
		}
	}
	if chunk.data == nil {
		data := make([]byte, len(p))
		copy(data, p)
		chunk = outboundChunk{data: data}
	}

	b.mu.Lock()
	b.pending = append(b.pending, chunk)
	b.mu.Unlock()

	b.signal()
}

// TakeWrite removes and returns the oldest outbound chunk, blocking until
// one exists or done is closed. The release closure returns the chunk's
// storage to the pool once the caller is finished with it; it may be nil.
func (b *StreamBuffer) TakeWrite(done <-chan struct{}) (chunk []byte, release func(), ok bool) {
	for {
		b.mu.Lock()
		if len(b.pending) > 0 {
			c := b.pending[0]
			b.pending[0] = outboundChunk{}
			b.pending = b.pending[1:]
			more := len(b.pending) > 0
			b.mu.Unlock()
			if more {
				b.signal()
			}
			return c.data, c.release, true
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-done:
			return nil, nil, false
		}
	}
}

// ResetWrite discards every chunk still queued and returns their storage
// to the pool. Chunks already taken are the taker's responsibility.
func (b *StreamBuffer) ResetWrite() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, c := range pending {
		if c.release != nil {
			c.release()
		}
	}
}

// PendingWrites reports how many outbound chunks have not been taken yet.
func (b *StreamBuffer) PendingWrites() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// AppendRead adds bytes received from the transport to the inbound queue
// and advances the position mark.
func (b *StreamBuffer) AppendRead(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.received = append(b.received, p...)
	b.mark += len(p)
	b.mu.Unlock()
}

// DrainRead hands off everything received since the last reset together
// with the position mark: the number of bytes appended since ResetRead. The
// mark stays put until the next reset, so the caller can still tell that a
// cycle produced data after taking it. data is nil when nothing accumulated.
func (b *StreamBuffer) DrainRead() (data []byte, mark int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data = b.received
	b.received = nil
	return data, b.mark
}

// ResetRead discards any accumulated inbound bytes and rewinds the position
// mark. Called once per completed read cycle so a stale payload never leaks
// into the next one.
func (b *StreamBuffer) ResetRead() {
	b.mu.Lock()
	b.received = nil
	b.mark = 0
	b.mu.Unlock()
}

func (b *StreamBuffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
