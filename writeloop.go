package usbserial

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// writeFailureBackoff paces the loop after a non-timeout transfer failure
// so a broken transport does not spin it hot.
const writeFailureBackoff = 50 * time.Millisecond

// writeLoop owns the outbound half of an open device: it blocks on the
// stream buffer for the next chunk and pushes it through the transport with
// a bounded per-attempt timeout. Like the read loop, a stopped instance is
// never reused.
type writeLoop struct {
	dev *Device

	prev <-chan struct{}

	working  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWriteLoop(dev *Device, prev <-chan struct{}) *writeLoop {
	wl := &writeLoop{
		dev:    dev,
		prev:   prev,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	wl.working.Store(true)
	return wl
}

func (wl *writeLoop) start() {
	go wl.run()
}

// stop requests a cooperative exit and interrupts a blocked queue take.
func (wl *writeLoop) stop() {
	wl.working.Store(false)
	wl.stopOnce.Do(func() { close(wl.stopCh) })
}

func (wl *writeLoop) run() {
	defer close(wl.done)

	d := wl.dev
	if wl.prev != nil {
		select {
		case <-wl.prev:
		case <-wl.stopCh:
			return
		}
	}

	d.log.Debug().Str("endpoint", d.cfg.OutEndpoint.String()).Msg("write loop started")

	for wl.working.Load() {
		chunk, release, ok := d.buf.TakeWrite(wl.stopCh)
		if !ok {
			break
		}
		wl.transfer(chunk, release)
	}

	d.log.Debug().Msg("write loop stopped")
}

// transfer pushes one chunk through the transport. A timed-out attempt is
// retried with the same chunk; a zero-progress attempt or any other failure
// drops it. A chunk taken from the queue is never put back, so a forced
// stop mid-transfer drops it rather than risking a duplicate transfer after
// a restart.
func (wl *writeLoop) transfer(chunk []byte, release func()) {
	d := wl.dev
	defer func() {
		if release != nil {
			release()
		}
	}()

	written := 0
	for {
		start := d.clock.Now()
		n, err := d.transport.TransferOutbound(d.cfg.OutEndpoint, chunk[written:], d.cfg.WriteTimeout)
		if n > 0 {
			written += n
		}
		d.recordTransfer(n, err, d.clock.Since(start))

		if err == nil {
			if written >= len(chunk) {
				return
			}
			if n == 0 {
				// A zero-byte success makes no progress; drop rather than
				// spin on a wedged transport.
				d.recordDroppedChunk()
				d.log.Error().Int("len", len(chunk)).Int("written", written).
					Msg("outbound transfer made no progress, dropping chunk")
				return
			}
			if !wl.working.Load() {
				d.recordDroppedChunk()
				d.log.Warn().Int("len", len(chunk)).Int("written", written).
					Msg("dropping partial chunk on stop")
				return
			}
			// Partial transfer: push the remainder before taking the next
			// chunk, or FIFO ordering is lost.
			continue
		}

		if errors.Is(err, ErrTransferTimeout) {
			if !wl.working.Load() {
				d.recordDroppedChunk()
				d.log.Warn().Int("len", len(chunk)).Int("written", written).
					Msg("dropping chunk on stop after transfer timeout")
				return
			}
			d.log.Warn().Dur("timeout", d.cfg.WriteTimeout).
				Msg("outbound transfer timed out, retrying")
			continue
		}

		d.recordDroppedChunk()
		d.log.Error().Err(err).Int("len", len(chunk)).Int("written", written).
			Msg("outbound transfer failed, dropping chunk")
		d.clock.Sleep(writeFailureBackoff)
		return
	}
}
