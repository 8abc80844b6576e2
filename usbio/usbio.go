// Package usbio implements the usbserial.Transport contract on top of
// gousb bulk endpoints. Each inbound request is serviced by a short-lived
// pump goroutine so that WaitCompletion stays a plain channel receive.
package usbio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"github.com/rs/zerolog"

	"github.com/Station-Manager/usbserial"
)

// completionBacklog bounds completions produced between WaitCompletion
// calls, e.g. while a read loop restarts.
const completionBacklog = 16

// Transport adapts a claimed gousb interface to usbserial.Transport.
type Transport struct {
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	log  zerolog.Logger

	mu         sync.Mutex
	in         map[usbserial.Endpoint]*gousb.InEndpoint
	out        map[usbserial.Endpoint]*gousb.OutEndpoint
	pool       *usbserial.BufferPool
	nextHandle uint64

	completions chan usbserial.Completion
	closeCh     chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

var _ usbserial.Transport = (*Transport)(nil)

// Open claims the default interface of the first device matching the given
// identity. The caller owns the returned transport and must Close it after
// closing any device built on top of it.
func Open(ctx *gousb.Context, vendor, product uint16, logger *zerolog.Logger) (*Transport, error) {
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vendor), gousb.ID(product))
	if err != nil {
		return nil, fmt.Errorf("usbio: open %04x:%04x: %w", vendor, product, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("usbio: device %04x:%04x not found", vendor, product)
	}

	// Kernel serial drivers (ftdi_sio, cp210x, ...) usually hold the
	// interface already; detach them for the duration of the session.
	if err := dev.SetAutoDetach(true); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("usbio: auto-detach %04x:%04x: %w", vendor, product, err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("usbio: claim interface %04x:%04x: %w", vendor, product, err)
	}

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().
			Str("component", "usbio").
			Str("device", fmt.Sprintf("%04x:%04x", vendor, product)).
			Logger()
	}

	return &Transport{
		dev:         dev,
		intf:        intf,
		done:        done,
		log:         log,
		in:          make(map[usbserial.Endpoint]*gousb.InEndpoint),
		out:         make(map[usbserial.Endpoint]*gousb.OutEndpoint),
		completions: make(chan usbserial.Completion, completionBacklog),
		closeCh:     make(chan struct{}),
	}, nil
}

// BulkEndpoints returns the addresses of the interface's bulk IN and bulk
// OUT endpoints, the pair a USB serial function exposes. When an interface
// carries several (it normally doesn't), the lowest address of each
// direction wins.
func (t *Transport) BulkEndpoints() (in, out usbserial.Endpoint, err error) {
	var haveIn, haveOut bool
	for _, desc := range t.intf.Setting.Endpoints {
		if desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		addr := usbserial.Endpoint(desc.Address)
		if desc.Direction == gousb.EndpointDirectionIn {
			if !haveIn || addr < in {
				in, haveIn = addr, true
			}
		} else {
			if !haveOut || addr < out {
				out, haveOut = addr, true
			}
		}
	}
	if !haveIn || !haveOut {
		return 0, 0, errors.New("usbio: interface has no bulk IN/OUT endpoint pair")
	}
	return in, out, nil
}

// SubmitInbound arms a buffered read on the IN endpoint. The result arrives
// through WaitCompletion.
func (t *Transport) SubmitInbound(ep usbserial.Endpoint, size int) (usbserial.RequestHandle, error) {
	if !ep.IsIn() {
		return 0, fmt.Errorf("usbio: %v is not an IN endpoint", ep)
	}
	if size <= 0 {
		return 0, fmt.Errorf("usbio: invalid inbound buffer size %d", size)
	}
	if t.closed() {
		return 0, usbserial.ErrTransportClosed
	}

	endpoint, err := t.inEndpoint(ep)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.nextHandle++
	handle := usbserial.RequestHandle(t.nextHandle)
	t.mu.Unlock()

	go t.pump(handle, ep, endpoint, size)
	return handle, nil
}

// pump performs one blocking read and hands the result to WaitCompletion.
func (t *Transport) pump(handle usbserial.RequestHandle, ep usbserial.Endpoint, endpoint *gousb.InEndpoint, size int) {
	buf, release := t.buffer(size)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-t.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := endpoint.ReadContext(ctx, buf)
	if err != nil {
		if t.closed() || errors.Is(err, context.Canceled) {
			return
		}
		if n == 0 {
			// A dead IN pipe is unrecoverable at this layer; shut down so
			// blocked waiters see ErrTransportClosed.
			t.log.Error().Err(err).
				Uint64("handle", uint64(handle)).
				Stringer("endpoint", ep).
				Msg("inbound transfer failed, closing transport")
			_ = t.Close()
			return
		}
		t.log.Warn().Err(err).
			Int("bytes", n).
			Stringer("endpoint", ep).
			Msg("inbound transfer returned data with error")
	}

	// The waiter owns the completion payload, so the pooled buffer cannot
	// travel with it.
	data := make([]byte, n)
	copy(data, buf[:n])

	select {
	case t.completions <- usbserial.Completion{Endpoint: ep, Data: data}:
	case <-t.closeCh:
	}
}

// WaitCompletion blocks until an inbound completion is available. After
// Close it drains buffered completions before reporting ErrTransportClosed.
func (t *Transport) WaitCompletion() (usbserial.Completion, error) {
	select {
	case completion := <-t.completions:
		return completion, nil
	case <-t.closeCh:
		select {
		case completion := <-t.completions:
			return completion, nil
		default:
			return usbserial.Completion{}, usbserial.ErrTransportClosed
		}
	}
}

// TransferOutbound writes p to the OUT endpoint, blocking at most timeout.
func (t *Transport) TransferOutbound(ep usbserial.Endpoint, p []byte, timeout time.Duration) (int, error) {
	if ep.IsIn() {
		return 0, fmt.Errorf("usbio: %v is not an OUT endpoint", ep)
	}
	if t.closed() {
		return 0, usbserial.ErrTransportClosed
	}

	endpoint, err := t.outEndpoint(ep)
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	n, err := endpoint.WriteContext(ctx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return n, fmt.Errorf("%w: %v after %v", usbserial.ErrTransferTimeout, ep, timeout)
		}
		return n, fmt.Errorf("usbio: outbound transfer on %v: %w", ep, err)
	}
	return n, nil
}

// Identity reports the USB vendor and product identifiers.
func (t *Transport) Identity() (vendor, product uint16) {
	return uint16(t.dev.Desc.Vendor), uint16(t.dev.Desc.Product)
}

// Close cancels in-flight inbound requests and releases the claimed
// interface and device handle. Blocked WaitCompletion callers return
// ErrTransportClosed once buffered completions are drained.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.done()
		t.closeErr = t.dev.Close()
		t.log.Debug().Msg("transport closed")
	})
	return t.closeErr
}

func (t *Transport) closed() bool {
	select {
	case <-t.closeCh:
		return true
	default:
		return false
	}
}

func (t *Transport) inEndpoint(ep usbserial.Endpoint) (*gousb.InEndpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.in[ep]; ok {
		return cached, nil
	}
	resolved, err := t.intf.InEndpoint(int(ep.Number()))
	if err != nil {
		return nil, fmt.Errorf("usbio: resolve %v: %w", ep, err)
	}
	t.in[ep] = resolved
	return resolved, nil
}

func (t *Transport) outEndpoint(ep usbserial.Endpoint) (*gousb.OutEndpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.out[ep]; ok {
		return cached, nil
	}
	resolved, err := t.intf.OutEndpoint(int(ep.Number()))
	if err != nil {
		return nil, fmt.Errorf("usbio: resolve %v: %w", ep, err)
	}
	t.out[ep] = resolved
	return resolved, nil
}

// buffer hands out a pooled scratch buffer for one inbound transfer. The
// pool is rebuilt lazily when the requested size changes, which in practice
// happens never: the device arms every read with its configured size.
func (t *Transport) buffer(size int) ([]byte, func()) {
	t.mu.Lock()
	if t.pool == nil || t.pool.Size() != size {
		t.pool = usbserial.NewBufferPool(size)
	}
	pool := t.pool
	t.mu.Unlock()

	buf := pool.Get()
	return buf, func() { pool.Put(buf) }
}
