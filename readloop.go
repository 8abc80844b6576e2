package usbserial

import (
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// readLoop owns the inbound half of an open device: it keeps one transfer
// request armed on the bulk-IN endpoint, waits for completions, runs the
// frame adapter and delivers the payload to the registered callback. A
// stopped instance is never reused; restarting builds a fresh one bound to
// the same buffer and endpoint.
type readLoop struct {
	dev *Device

	// prev is the done channel of the instance this loop replaces. The new
	// instance waits on it before touching the transport, so two loops are
	// never inside the completion wait at once.
	prev <-chan struct{}

	working  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newReadLoop(dev *Device, prev <-chan struct{}) *readLoop {
	rl := &readLoop{
		dev:    dev,
		prev:   prev,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	rl.working.Store(true)
	return rl
}

func (rl *readLoop) start() {
	go rl.run()
}

// stop requests a cooperative exit. The loop observes it at the next
// iteration boundary; a completion wait already in flight is allowed to
// return first.
func (rl *readLoop) stop() {
	rl.working.Store(false)
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *readLoop) run() {
	defer close(rl.done)

	d := rl.dev
	if rl.prev != nil {
		select {
		case <-rl.prev:
			// Predecessor gone; anything it adapted but never delivered
			// must not leak into this instance.
			d.buf.ResetRead()
		case <-rl.stopCh:
			return
		}
	}

	d.log.Debug().Str("endpoint", d.cfg.InEndpoint.String()).Msg("read loop started")

	for rl.working.Load() {
		if err := d.armInbound(); err != nil {
			if rl.working.Load() {
				d.log.Error().Err(err).Msg("arming inbound request failed")
				d.recordReadError()
			}
			break
		}

		completion, err := d.transport.WaitCompletion()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				d.log.Debug().Msg("transport closed, read loop exiting")
			} else if rl.working.Load() {
				d.log.Error().Err(err).Msg("completion wait failed")
				d.recordReadError()
			}
			break
		}

		if completion.Endpoint != d.cfg.InEndpoint || !completion.Endpoint.IsIn() {
			// Someone else's transfer surfaced on the shared wait
			// primitive. The inbound request is still outstanding.
			d.recordIgnoredCompletion()
			continue
		}

		d.armed.Store(false)
		d.recordCompletion()
		rl.deliver(completion.Data)
	}

	d.log.Debug().Msg("read loop stopped")
}

// deliver runs one inbound cycle: adapt, append, hand off to the callback,
// clear the inbound queue. A panicking callback spoils only this cycle.
func (rl *readLoop) deliver(raw []byte) {
	d := rl.dev

	defer func() {
		if r := recover(); r != nil {
			d.recordCallbackPanic()
			d.log.Error().Interface("panic", r).Msg("read callback panicked")
		}
		d.buf.ResetRead()
	}()

	data, status := d.profile.Adapter.Adapt(raw)
	if status != nil {
		d.handleStatus(*status)
	}

	d.buf.AppendRead(data)

	cb := d.readCB.Load()
	if cb == nil || *cb == nil {
		// No callback registered yet; the bytes are dropped by the
		// deferred reset rather than crashing the loop.
		return
	}

	payload, n := d.buf.DrainRead()
	d.recordDelivery(n)
	(*cb)(payload)
}
