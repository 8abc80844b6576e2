package deviceids

// pl2303Devices lists the Prolific PL2303 family plus the OEM rebrands
// that ship the same silicon under other vendor IDs.
var pl2303Devices = map[uint32]struct{}{
	id(VendorProlific, 0x2303): {}, // PL2303
	id(VendorProlific, 0x23A3): {}, // PL2303HXN GC variant
	id(VendorProlific, 0x23B3): {}, // PL2303HXN GB variant
	id(VendorProlific, 0x23C3): {}, // PL2303HXN GT variant
	id(VendorATEN, 0x2008):     {}, // ATEN UC-232A
	id(VendorIOData, 0x0A03):   {}, // IO-DATA USB-RSAQ
}

// IsPL2303 reports whether the identity belongs to a known PL2303 bridge.
func IsPL2303(vendor, product uint16) bool {
	_, ok := pl2303Devices[id(vendor, product)]
	return ok
}
