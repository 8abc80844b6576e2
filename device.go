// Package usbserial implements the device-agnostic core of an asynchronous
// serial-over-USB driver: a buffered write path, a callback-driven read
// path and per-vendor inbound framing, all running on a caller-supplied USB
// bulk transport.
package usbserial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// loopStopTimeout bounds how long lifecycle calls wait for a loop goroutine
// to acknowledge a stop. A loop still blocked on the transport past the
// deadline hands its wait off to the successor instance instead.
const loopStopTimeout = 100 * time.Millisecond

// ReadCallback receives each adapted inbound payload. It runs synchronously
// on the read loop goroutine, so a slow callback delays the next inbound
// request: that is the backpressure point of the whole read path.
type ReadCallback func(data []byte)

// StatusCallback receives line status decoded from inbound framing on
// variants that embed it.
type StatusCallback func(status LineStatus)

// Device binds a stream buffer, a frame adapter and the two I/O loops to
// one USB transport. All methods are safe for concurrent use.
type Device struct {
	transport Transport
	profile   Profile
	cfg       Config

	vendor  uint16
	product uint16

	buf   *StreamBuffer
	pools *BufferPoolManager
	clock clock.Clock
	log   zerolog.Logger

	isOpen atomic.Bool

	// armed guards the single outstanding inbound request. Set when a
	// request is submitted, cleared when the read loop consumes its
	// completion; it survives loop restarts so a request left in flight is
	// never doubled up.
	armed atomic.Bool

	readCB     atomic.Pointer[ReadCallback]
	statusCB   atomic.Pointer[StatusCallback]
	lastStatus atomic.Pointer[LineStatus]

	// mu guards the loop handles and their done-channel lineage. Write
	// holds it shared so the open check and the enqueue are atomic against
	// the queue reset in Close.
	mu         sync.RWMutex
	reader     *readLoop
	readerDone <-chan struct{}
	writer     *writeLoop
	writerDone <-chan struct{}

	metrics        *Metrics
	metricsEnabled atomic.Bool

	broadcastMu sync.Mutex
	broadcaster *MetricsBroadcaster
}

// New resolves the transport's USB identity against the supported device
// tables and builds a Device around it. Unknown identities are rejected
// with ErrUnsupportedDevice. The device starts closed.
func New(transport Transport, cfg Config) (*Device, error) {
	if transport == nil {
		return nil, errors.New("usbserial: transport must not be nil")
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	vendor, product := transport.Identity()
	profile, err := Resolve(vendor, product)
	if err != nil {
		return nil, err
	}

	metrics := &Metrics{}
	pools := NewBufferPoolManager(metrics)

	d := &Device{
		transport: transport,
		profile:   profile,
		cfg:       cfg,
		vendor:    vendor,
		product:   product,
		buf:       NewStreamBuffer(pools),
		pools:     pools,
		clock:     cfg.Clock,
		log: cfg.Logger.With().
			Str("variant", profile.Variant.String()).
			Str("device", fmt.Sprintf("%04x:%04x", vendor, product)).
			Logger(),
		metrics: metrics,
	}
	d.metricsEnabled.Store(true)

	d.log.Debug().Msg("device resolved")
	return d, nil
}

// Open starts the read and write loops and arms the first inbound request.
// Opening an already-open device is a no-op.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isOpen.CompareAndSwap(false, true) {
		d.log.Debug().Msg("device already open")
		return nil
	}

	now := d.clock.Now()
	d.metrics.OpenCount.Add(1)
	d.metrics.LastOpenTime.Store(now.Unix())
	d.metrics.SessionStart.Store(now.UnixNano())

	d.startReadLoopLocked()
	d.startWriteLoopLocked()

	d.log.Info().Msg("device opened")
	return nil
}

// Close stops both loops and discards outbound chunks still queued. A
// chunk the write loop already took is either transferred or dropped,
// never requeued. The transport stays open; its lifecycle belongs to the
// caller. Closing a closed device is a no-op.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isOpen.CompareAndSwap(true, false) {
		return nil
	}

	d.stopReadLoopLocked()
	d.stopWriteLoopLocked()
	d.buf.ResetWrite()

	d.metrics.CloseCount.Add(1)
	d.metrics.LastCloseTime.Store(d.clock.Now().Unix())

	d.log.Info().Msg("device closed")
	return nil
}

// Write copies p into the outbound queue and returns without waiting for
// the transfer. Chunks go out in call order and are never coalesced: two
// Write calls always produce two outbound transfers. An empty p is a
// no-op.
func (d *Device) Write(p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.isOpen.Load() {
		return ErrNotOpen
	}
	if len(p) == 0 {
		return nil
	}
	if len(p) > MaxBufferSize {
		d.metrics.BufferErrors.Add(1)
		return fmt.Errorf("%w: %d bytes (max %d)", ErrBufferTooLarge, len(p), MaxBufferSize)
	}

	d.buf.PutWrite(p)
	d.recordWriteQueued()
	return nil
}

// Read registers cb as the inbound payload callback and arms the inbound
// request if none is outstanding. Registration may happen before Open; the
// first arm is then deferred to Open. cb may be nil, in which case inbound
// payloads are dropped.
func (d *Device) Read(cb ReadCallback) error {
	d.readCB.Store(&cb)
	if !d.isOpen.Load() {
		return nil
	}
	return d.armInbound()
}

// OnStatus registers cb for line status decoded from inbound framing. The
// callback runs synchronously on the read loop goroutine, before the data
// callback of the same transfer.
func (d *Device) OnStatus(cb StatusCallback) {
	d.statusCB.Store(&cb)
}

// LastStatus returns the most recently decoded line status and whether any
// status has been seen at all.
func (d *Device) LastStatus() (LineStatus, bool) {
	s := d.lastStatus.Load()
	if s == nil {
		return LineStatus{}, false
	}
	return *s, true
}

// KillReadLoop stops inbound processing without touching the write side.
// Inbound bytes not yet delivered are discarded so a later restart never
// replays them.
func (d *Device) KillReadLoop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopReadLoopLocked()
}

// RestartReadLoop replaces the read loop with a fresh instance bound to
// the same buffer and endpoint. Used around vendor reconfiguration that
// must quiesce the inbound path.
func (d *Device) RestartReadLoop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isOpen.Load() {
		return ErrNotOpen
	}

	d.stopReadLoopLocked()
	d.metrics.ReadLoopRestarts.Add(1)
	d.startReadLoopLocked()
	return nil
}

// KillWriteLoop stops outbound processing and discards chunks still
// queued. A chunk already taken is transferred or dropped by the dying
// loop.
func (d *Device) KillWriteLoop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopWriteLoopLocked()
	d.buf.ResetWrite()
}

// RestartWriteLoop replaces the write loop with a fresh instance draining
// the same queue.
func (d *Device) RestartWriteLoop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isOpen.Load() {
		return ErrNotOpen
	}

	d.stopWriteLoopLocked()
	d.metrics.WriteLoopRestarts.Add(1)
	d.startWriteLoopLocked()
	return nil
}

// SetBaudRate forwards rate to the line control collaborator. The core
// treats the value as opaque; encoding it is the collaborator's concern.
func (d *Device) SetBaudRate(rate BaudRate) error {
	if d.cfg.Line == nil {
		return ErrNoLineControl
	}
	return d.cfg.Line.SetBaudRate(rate)
}

// SetDataBits forwards bits to the line control collaborator.
func (d *Device) SetDataBits(bits DataBits) error {
	if d.cfg.Line == nil {
		return ErrNoLineControl
	}
	return d.cfg.Line.SetDataBits(bits)
}

// SetStopBits forwards bits to the line control collaborator.
func (d *Device) SetStopBits(bits StopBits) error {
	if d.cfg.Line == nil {
		return ErrNoLineControl
	}
	return d.cfg.Line.SetStopBits(bits)
}

// SetParity forwards parity to the line control collaborator.
func (d *Device) SetParity(parity Parity) error {
	if d.cfg.Line == nil {
		return ErrNoLineControl
	}
	return d.cfg.Line.SetParity(parity)
}

// SetFlowControl forwards flow to the line control collaborator.
func (d *Device) SetFlowControl(flow FlowControl) error {
	if d.cfg.Line == nil {
		return ErrNoLineControl
	}
	return d.cfg.Line.SetFlowControl(flow)
}

// IsOpen reports whether the device is between Open and Close.
func (d *Device) IsOpen() bool {
	return d.isOpen.Load()
}

// Variant returns the resolved bridge family.
func (d *Device) Variant() Variant {
	return d.profile.Variant
}

// Identity returns the vendor and product IDs the device resolved with.
func (d *Device) Identity() (vendorID, productID uint16) {
	return d.vendor, d.product
}

// PendingWrites reports how many outbound chunks wait in the queue.
func (d *Device) PendingWrites() int {
	return d.buf.PendingWrites()
}

// armInbound submits the single inbound transfer request if none is
// outstanding. The armed flag is cleared by the read loop when it consumes
// the matching completion.
func (d *Device) armInbound() error {
	if !d.armed.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := d.transport.SubmitInbound(d.cfg.InEndpoint, d.cfg.ReadBufferSize); err != nil {
		d.armed.Store(false)
		return fmt.Errorf("usbserial: arming inbound request: %w", err)
	}
	return nil
}

// handleStatus records decoded line status and fans it out to the status
// callback. Runs on the read loop goroutine.
func (d *Device) handleStatus(s LineStatus) {
	d.lastStatus.Store(&s)
	if d.metricsEnabled.Load() {
		d.metrics.StatusUpdates.Add(1)
	}
	if cb := d.statusCB.Load(); cb != nil && *cb != nil {
		(*cb)(s)
	}
}

func (d *Device) startReadLoopLocked() {
	rl := newReadLoop(d, d.readerDone)
	d.reader = rl
	d.readerDone = rl.done
	rl.start()
}

func (d *Device) stopReadLoopLocked() {
	rl := d.reader
	if rl == nil {
		return
	}
	d.reader = nil
	rl.stop()

	select {
	case <-rl.done:
		d.buf.ResetRead()
	case <-d.clock.After(loopStopTimeout):
		// Still blocked on the transport wait. The successor instance, if
		// any, waits for the done channel and clears the inbound queue at
		// the handoff.
		d.log.Debug().Msg("read loop still draining after stop")
	}
}

func (d *Device) startWriteLoopLocked() {
	wl := newWriteLoop(d, d.writerDone)
	d.writer = wl
	d.writerDone = wl.done
	wl.start()
}

func (d *Device) stopWriteLoopLocked() {
	wl := d.writer
	if wl == nil {
		return
	}
	d.writer = nil
	wl.stop()

	select {
	case <-wl.done:
	case <-d.clock.After(loopStopTimeout):
		// Mid-transfer; the chunk in flight is transferred or dropped by
		// the dying loop, never requeued.
		d.log.Debug().Msg("write loop still draining after stop")
	}
}
