package usbserial

import gobug "go.bug.st/serial"

// LineStatus is the modem and line state decoded from the status bytes some
// bridge chips embed in every bulk-IN transfer.
type LineStatus struct {
	// Modem lines
	CTS bool
	DSR bool
	RI  bool
	DCD bool

	// Receive-path errors
	OverrunError   bool
	ParityError    bool
	FramingError   bool
	BreakInterrupt bool
}

// ModemBits converts the modem-line half of the status to the go.bug.st
// vocabulary shared with OS-level serial ports.
func (s LineStatus) ModemBits() *gobug.ModemStatusBits {
	return &gobug.ModemStatusBits{
		CTS: s.CTS,
		DSR: s.DSR,
		RI:  s.RI,
		DCD: s.DCD,
	}
}

// HasLineError reports whether any receive-path error bit is set.
func (s LineStatus) HasLineError() bool {
	return s.OverrunError || s.ParityError || s.FramingError || s.BreakInterrupt
}

// FrameAdapter turns one raw inbound transfer into the bytes meaningful to
// the application. Adapters are stateless and total: a malformed or
// truncated transfer degrades to an empty payload, never an error.
type FrameAdapter interface {
	// Adapt splits raw into payload bytes and decoded line status. status
	// is nil when the transfer carries no status bytes.
	Adapt(raw []byte) (data []byte, status *LineStatus)
}

// Identity passes transfers through untouched. It returns the input slice
// itself, so the hot path allocates nothing.
type Identity struct{}

func (Identity) Adapt(raw []byte) ([]byte, *LineStatus) {
	return raw, nil
}

// PrefixStatus strips N status bytes from the front of every transfer.
// Transfers shorter than N are pure status updates: whatever bytes arrived
// are parsed as status and no payload is forwarded.
type PrefixStatus struct {
	N int
}

func (a PrefixStatus) Adapt(raw []byte) ([]byte, *LineStatus) {
	if len(raw) == 0 {
		return nil, nil
	}

	status := decodeLineStatus(raw, a.N)
	if len(raw) < a.N {
		return nil, status
	}
	return raw[a.N:], status
}

// decodeLineStatus parses up to n leading status bytes using the FTDI
// layout: byte 0 carries the modem lines, byte 1 the receive-path errors.
func decodeLineStatus(raw []byte, n int) *LineStatus {
	if n <= 0 || len(raw) == 0 {
		return nil
	}

	s := &LineStatus{}
	if len(raw) >= 1 {
		b := raw[0]
		s.CTS = b&0x10 != 0
		s.DSR = b&0x20 != 0
		s.RI = b&0x40 != 0
		s.DCD = b&0x80 != 0
	}
	if n >= 2 && len(raw) >= 2 {
		b := raw[1]
		s.OverrunError = b&0x02 != 0
		s.ParityError = b&0x04 != 0
		s.FramingError = b&0x08 != 0
		s.BreakInterrupt = b&0x10 != 0
	}
	return s
}
