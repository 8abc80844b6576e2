package usbserial

import (
	"errors"
	"testing"
)

func TestResolveKnownProducts(t *testing.T) {
	tests := []struct {
		name    string
		vendor  uint16
		product uint16
		want    Variant
	}{
		{"FT232R", 0x0403, 0x6001, VariantFTDI},
		{"FT232H", 0x0403, 0x6014, VariantFTDI},
		{"CP2102", 0x10C4, 0xEA60, VariantCP210x},
		{"CP2105", 0x10C4, 0xEA70, VariantCP210x},
		{"PL2303", 0x067B, 0x2303, VariantPL2303},
		{"ATEN UC-232A", 0x0557, 0x2008, VariantPL2303},
		{"CH340", 0x1A86, 0x7523, VariantCH34x},
		{"CH341 legacy vendor", 0x4348, 0x5523, VariantCH34x},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := Resolve(tt.vendor, tt.product)
			if err != nil {
				t.Fatalf("Resolve(%04x, %04x) failed: %v", tt.vendor, tt.product, err)
			}
			if profile.Variant != tt.want {
				t.Fatalf("variant = %v, want %v", profile.Variant, tt.want)
			}
			if profile.Adapter == nil {
				t.Fatal("resolved profile carries no adapter")
			}
		})
	}
}

func TestResolveFTDIFraming(t *testing.T) {
	profile, err := Resolve(0x0403, 0x6001)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	adapter, ok := profile.Adapter.(PrefixStatus)
	if !ok {
		t.Fatalf("FTDI adapter = %T, want PrefixStatus", profile.Adapter)
	}
	if adapter.N != 2 {
		t.Fatalf("FTDI status prefix = %d bytes, want 2", adapter.N)
	}
}

func TestResolvePassthroughFraming(t *testing.T) {
	for _, identity := range [][2]uint16{
		{0x10C4, 0xEA60}, // CP210x
		{0x067B, 0x2303}, // PL2303
		{0x1A86, 0x7523}, // CH34x
	} {
		profile, err := Resolve(identity[0], identity[1])
		if err != nil {
			t.Fatalf("Resolve(%04x, %04x) failed: %v", identity[0], identity[1], err)
		}
		if _, ok := profile.Adapter.(Identity); !ok {
			t.Fatalf("%04x:%04x adapter = %T, want Identity", identity[0], identity[1], profile.Adapter)
		}
	}
}

func TestResolveVendorWideFallback(t *testing.T) {
	// No Bluegiga product table exists; any product under the vendor ID
	// resolves through the vendor-wide rule.
	for _, product := range []uint16{0x0001, 0xABCD, 0xFFFF} {
		profile, err := Resolve(0x2458, product)
		if err != nil {
			t.Fatalf("Resolve(2458, %04x) failed: %v", product, err)
		}
		if profile.Variant != VariantBLED112 {
			t.Fatalf("variant = %v, want %v", profile.Variant, VariantBLED112)
		}
	}
}

func TestResolveUnsupported(t *testing.T) {
	tests := [][2]uint16{
		{0xFFFF, 0xFFFF},
		{0x0000, 0x0000},
		{0x0403, 0x0000}, // known vendor, unknown product, no vendor-wide rule
	}

	for _, identity := range tests {
		_, err := Resolve(identity[0], identity[1])
		if !errors.Is(err, ErrUnsupportedDevice) {
			t.Fatalf("Resolve(%04x, %04x) = %v, want ErrUnsupportedDevice", identity[0], identity[1], err)
		}
	}
}

func TestVariantString(t *testing.T) {
	tests := []struct {
		variant Variant
		want    string
	}{
		{VariantFTDI, "ftdi"},
		{VariantCP210x, "cp210x"},
		{VariantPL2303, "pl2303"},
		{VariantCH34x, "ch34x"},
		{VariantBLED112, "bled112"},
		{VariantUnknown, "unknown"},
		{Variant(0xFE), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.variant.String(); got != tt.want {
			t.Errorf("Variant(%d).String() = %q, want %q", tt.variant, got, tt.want)
		}
	}
}
