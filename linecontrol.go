package usbserial

import gobug "go.bug.st/serial"

// LineControl performs the chip-specific control transfers behind the
// device's configuration setters. Encoding a baud rate or parity mode into
// vendor registers differs per bridge family, so the core passes every
// value through untouched and leaves the wire encoding to the
// implementation.
type LineControl interface {
	SetBaudRate(rate BaudRate) error
	SetDataBits(bits DataBits) error
	SetStopBits(bits StopBits) error
	SetParity(parity Parity) error
	SetFlowControl(flow FlowControl) error
}

// BaudRate is the link speed in bits per second.
type BaudRate int

func (b BaudRate) Int() int {
	return int(b)
}

const (
	Baud1200   BaudRate = 1200
	Baud2400   BaudRate = 2400
	Baud4800   BaudRate = 4800
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud230400 BaudRate = 230400
	Baud460800 BaudRate = 460800
	Baud921600 BaudRate = 921600
)

// DataBits is the number of data bits per character.
type DataBits int

func (d DataBits) Int() int {
	return int(d)
}

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

// StopBits is the number of stop bits per character.
type StopBits gobug.StopBits

// Get returns the underlying go.bug.st/serial stop bits value.
func (sb StopBits) Get() gobug.StopBits {
	return gobug.StopBits(sb)
}

const (
	// StopBits1 represents 1 stop bit
	StopBits1 = StopBits(gobug.OneStopBit)
	// StopBits1Half represents 1.5 stop bits
	StopBits1Half = StopBits(gobug.OnePointFiveStopBits)
	// StopBits2 represents 2 stop bits
	StopBits2 = StopBits(gobug.TwoStopBits)
)

// Parity is the parity mode for the link.
type Parity gobug.Parity

// Get returns the underlying go.bug.st/serial parity value.
func (pa Parity) Get() gobug.Parity {
	return gobug.Parity(pa)
}

const (
	// ParityNone represents no parity bit
	ParityNone = Parity(gobug.NoParity)
	// ParityOdd represents odd parity bit
	ParityOdd = Parity(gobug.OddParity)
	// ParityEven represents even parity bit
	ParityEven = Parity(gobug.EvenParity)
	// ParityMark represents mark parity bit (always 1)
	ParityMark = Parity(gobug.MarkParity)
	// ParitySpace represents space parity bit (always 0)
	ParitySpace = Parity(gobug.SpaceParity)
)

// FlowControl selects how the link paces itself.
type FlowControl int

func (f FlowControl) Int() int {
	return int(f)
}

const (
	// FlowOff disables flow control entirely
	FlowOff FlowControl = iota
	// FlowRTSCTS enables hardware RTS/CTS handshaking
	FlowRTSCTS
	// FlowDSRDTR enables hardware DSR/DTR handshaking
	FlowDSRDTR
	// FlowXONXOFF enables software flow control
	FlowXONXOFF
)
