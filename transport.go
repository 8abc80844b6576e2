package usbserial

import (
	"fmt"
	"time"
)

// Endpoint is a USB endpoint address as it appears in the endpoint
// descriptor: bit 7 carries the direction (1 = IN, device to host), bits
// 0-3 the endpoint number.
type Endpoint uint8

// Number returns the endpoint number without the direction bit.
func (e Endpoint) Number() uint8 {
	return uint8(e) & 0x0f
}

// IsIn reports whether the endpoint transfers device-to-host.
func (e Endpoint) IsIn() bool {
	return e&0x80 != 0
}

func (e Endpoint) String() string {
	dir := "OUT"
	if e.IsIn() {
		dir = "IN"
	}
	return fmt.Sprintf("EP%d %s", e.Number(), dir)
}

// RequestHandle identifies one inbound transfer request submitted to the
// transport. The core keeps at most one outstanding per device.
type RequestHandle uint64

// Completion is one finished inbound transfer. Data is owned by the
// receiver; the transport must not reuse the slice after delivery.
type Completion struct {
	Endpoint Endpoint
	Data     []byte
}

// Transport abstracts the USB plumbing a Device runs on: issuing bulk
// transfers and waiting on their completion. Enumeration, permission
// handling and endpoint claiming happen before a Transport is handed to
// New; the device only borrows the handle and never closes it.
//
// The device serializes completion waits across restarts: a replacement
// loop waits for its predecessor to exit before calling WaitCompletion, so
// a Transport never sees two concurrent waiters from one device.
type Transport interface {
	// SubmitInbound arms one inbound transfer of the given size on ep.
	// It must not block.
	SubmitInbound(ep Endpoint, size int) (RequestHandle, error)

	// WaitCompletion blocks until any armed inbound request finishes.
	// It returns ErrTransportClosed once the transport shuts down.
	WaitCompletion() (Completion, error)

	// TransferOutbound writes p to ep synchronously, bounded by timeout.
	// A timed-out attempt returns ErrTransferTimeout so the caller can
	// retry; n reports the bytes the device accepted before the failure.
	TransferOutbound(ep Endpoint, p []byte, timeout time.Duration) (n int, err error)

	// Identity returns the vendor and product IDs of the attached device.
	Identity() (vendorID, productID uint16)
}
