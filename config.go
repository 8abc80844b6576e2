package usbserial

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	// DefaultReadBufferSize is the size of each armed inbound transfer.
	DefaultReadBufferSize = 16 * 1024

	// DefaultWriteTimeout bounds a single outbound transfer attempt.
	DefaultWriteTimeout = 5 * time.Second

	// MaxBufferSize is the largest payload a single Write call accepts and
	// the largest inbound request size a Device will arm.
	MaxBufferSize = 64 * 1024

	// AbsoluteMaxBufferSize is the hard ceiling the buffer pools hand out
	// before refusing the allocation outright.
	AbsoluteMaxBufferSize = 1024 * 1024

	defaultMetricsChannelSize = 50
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config carries everything a Device needs besides the transport itself.
// The zero value is not usable: both endpoints must be set. Every other
// field has a working default.
type Config struct {
	// InEndpoint is the bulk-IN endpoint inbound completions are filtered
	// against and inbound requests are armed on.
	InEndpoint Endpoint `validate:"required"`

	// OutEndpoint is the bulk-OUT endpoint outbound chunks are written to.
	OutEndpoint Endpoint `validate:"required"`

	// ReadBufferSize is the size of each inbound transfer request.
	// Defaults to DefaultReadBufferSize.
	ReadBufferSize int `validate:"omitempty,gt=0"`

	// WriteTimeout bounds each outbound transfer attempt. Defaults to
	// DefaultWriteTimeout.
	WriteTimeout time.Duration `validate:"omitempty,gt=0"`

	// MetricsChannelSize caps the metrics broadcast channel. Defaults to
	// 50; snapshots are dropped, never queued unboundedly.
	MetricsChannelSize int `validate:"gte=0,lte=10000"`

	// Line handles the vendor-specific control transfers behind the
	// configuration setters. Optional; setters fail with ErrNoLineControl
	// when unset.
	Line LineControl `validate:"-"`

	// Logger of record. Nil disables logging.
	Logger *zerolog.Logger `validate:"-"`

	// Clock drives timeouts, backoff and metric timestamps. Defaults to
	// the wall clock; tests inject a mock.
	Clock clock.Clock `validate:"-"`
}

// setDefaults fills unset fields in place.
func (c *Config) setDefaults() {
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MetricsChannelSize == 0 {
		c.MetricsChannelSize = defaultMetricsChannelSize
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// Validate checks the configuration for issues a Device cannot work
// around. Cross-field rules the struct tags cannot express are checked by
// hand.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("usbserial: invalid config: %w", err)
	}
	if !c.InEndpoint.IsIn() {
		return fmt.Errorf("usbserial: InEndpoint %s is not an IN endpoint", c.InEndpoint)
	}
	if c.OutEndpoint.IsIn() {
		return fmt.Errorf("usbserial: OutEndpoint %s is not an OUT endpoint", c.OutEndpoint)
	}
	if c.ReadBufferSize > MaxBufferSize {
		return fmt.Errorf("usbserial: read buffer size %d exceeds maximum %d", c.ReadBufferSize, MaxBufferSize)
	}
	return nil
}
