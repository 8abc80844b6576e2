package deviceids

// ch34xDevices lists the WCH CH34x bridge products under both vendor IDs
// the chips have shipped with.
var ch34xDevices = map[uint32]struct{}{
	id(VendorQinHeng, 0x7523): {}, // CH340
	id(VendorQinHeng, 0x7522): {}, // CH340K
	id(VendorQinHeng, 0x5523): {}, // CH341 in serial mode
	id(VendorWCH, 0x5523):     {}, // CH341 legacy vendor ID
}

// IsCH34x reports whether the identity belongs to a known CH34x bridge.
func IsCH34x(vendor, product uint16) bool {
	_, ok := ch34xDevices[id(vendor, product)]
	return ok
}
