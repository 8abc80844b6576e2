package deviceids

// cp210xDevices lists the Silicon Labs CP210x bridge products.
var cp210xDevices = map[uint32]struct{}{
	id(VendorSiLabs, 0xEA60): {}, // CP2102 / CP2109
	id(VendorSiLabs, 0xEA61): {}, // CP2104
	id(VendorSiLabs, 0xEA63): {}, // CP2103
	id(VendorSiLabs, 0xEA70): {}, // CP2105 dual port
	id(VendorSiLabs, 0xEA71): {}, // CP2108 quad port
	id(VendorSiLabs, 0xEA7A): {}, // CP2105 enhanced interface
	id(VendorSiLabs, 0xEA7B): {}, // CP2105 standard interface
}

// IsCP210x reports whether the identity belongs to a known CP210x bridge.
func IsCP210x(vendor, product uint16) bool {
	_, ok := cp210xDevices[id(vendor, product)]
	return ok
}
