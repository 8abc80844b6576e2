package deviceids

// ftdiDevices lists the FTDI bridge products the driver knows how to frame.
var ftdiDevices = map[uint32]struct{}{
	id(VendorFTDI, 0x6001): {}, // FT232R / FT245R
	id(VendorFTDI, 0x6010): {}, // FT2232C/D/H
	id(VendorFTDI, 0x6011): {}, // FT4232H
	id(VendorFTDI, 0x6014): {}, // FT232H
	id(VendorFTDI, 0x6015): {}, // FT-X series
}

// IsFTDI reports whether the identity belongs to a known FTDI bridge.
func IsFTDI(vendor, product uint16) bool {
	_, ok := ftdiDevices[id(vendor, product)]
	return ok
}
