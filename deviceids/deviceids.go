// Package deviceids holds the USB identity tables for the usb-serial
// bridge families the driver can resolve. The tables are process-wide
// read-only state; nothing mutates them after init.
package deviceids

// Well-known bridge vendor IDs.
const (
	VendorFTDI     uint16 = 0x0403
	VendorSiLabs   uint16 = 0x10C4
	VendorProlific uint16 = 0x067B
	VendorQinHeng  uint16 = 0x1A86
	VendorWCH      uint16 = 0x4348
	VendorATEN     uint16 = 0x0557
	VendorIOData   uint16 = 0x04BB
	VendorBluegiga uint16 = 0x2458
)

// id packs a vendor/product pair into a single table key.
func id(vendor, product uint16) uint32 {
	return uint32(vendor)<<16 | uint32(product)
}
