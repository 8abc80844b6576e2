package usbserial

import (
	"fmt"

	"github.com/Station-Manager/usbserial/deviceids"
)

// Variant names the bridge family a device belongs to. The variant decides
// the frame adapter and, outside this core, the vendor configuration
// encoding.
type Variant uint8

const (
	VariantUnknown Variant = iota
	VariantFTDI
	VariantCP210x
	VariantPL2303
	VariantCH34x
	VariantBLED112
)

func (v Variant) String() string {
	switch v {
	case VariantFTDI:
		return "ftdi"
	case VariantCP210x:
		return "cp210x"
	case VariantPL2303:
		return "pl2303"
	case VariantCH34x:
		return "ch34x"
	case VariantBLED112:
		return "bled112"
	default:
		return "unknown"
	}
}

// ftdiStatusBytes is the status prefix FTDI chips prepend to every bulk-IN
// transfer: one modem-line byte and one line-error byte.
const ftdiStatusBytes = 2

// Profile carries everything variant-specific a Device needs: the family
// tag and the inbound frame adapter. It is resolved once at construction
// and never changes.
type Profile struct {
	Variant Variant
	Adapter FrameAdapter
}

// matchRule maps an identity test to a profile. Rules are evaluated in
// order: exact product tables first, vendor-wide fallbacks last.
type matchRule struct {
	match   func(vendor, product uint16) bool
	profile func() Profile
}

var matchRules = []matchRule{
	{deviceids.IsFTDI, func() Profile {
		return Profile{Variant: VariantFTDI, Adapter: PrefixStatus{N: ftdiStatusBytes}}
	}},
	{deviceids.IsCP210x, func() Profile {
		return Profile{Variant: VariantCP210x, Adapter: Identity{}}
	}},
	{deviceids.IsPL2303, func() Profile {
		return Profile{Variant: VariantPL2303, Adapter: Identity{}}
	}},
	{deviceids.IsCH34x, func() Profile {
		return Profile{Variant: VariantCH34x, Adapter: Identity{}}
	}},
	// Vendor-wide rule: every Bluegiga product is a BLED112-style dongle
	// speaking plain CDC framing.
	{func(vendor, _ uint16) bool { return vendor == deviceids.VendorBluegiga }, func() Profile {
		return Profile{Variant: VariantBLED112, Adapter: Identity{}}
	}},
}

// Resolve maps a USB identity to a driver profile. Product tables are
// consulted before vendor-only rules; identities matching neither are
// rejected with ErrUnsupportedDevice.
func Resolve(vendor, product uint16) (Profile, error) {
	for _, rule := range matchRules {
		if rule.match(vendor, product) {
			return rule.profile(), nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %04x:%04x", ErrUnsupportedDevice, vendor, product)
}
