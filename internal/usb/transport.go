// Package usb models the Amlogic S905 mask-ROM/BL2/U-Boot vendor control
// protocol: the wire-level request codes, their address encoding, and the
// Transport interface that the rest of the core drives.
//
// The transport is abstracted behind an interface on purpose (spec §1):
// everything above this package talks to Transport, never to gousb
// directly, so the protocol and executor layers can be exercised against
// an in-memory fake without real hardware.
package usb

import (
	"context"
	"time"
)

// Vendor bRequest codes (spec §4.A). Direction is implied by which method
// of Transport carries them.
const (
	ReqWriteMemory     uint8 = 0x01
	ReqReadMemory      uint8 = 0x02
	reqReserved03      uint8 = 0x03
	ReqIdentify        uint8 = 0x04
	ReqRunInAddr       uint8 = 0x05
	ReqWriteAuxHeap    uint8 = 0x06
	ReqBulkCmd         uint8 = 0x07
	ReqBulkCmdStat     uint8 = 0x08
	ReqGetBootAMLC     uint8 = 0x09
	ReqWriteMediaLarge uint8 = 0x0b
	ReqWriteAMLC       uint8 = 0x0d
)

// Known (vid, pid) pairs and the boot stage they identify (spec §3).
const (
	VIDMaskROM uint16 = 0x1b8e
	PIDMaskROM uint16 = 0xc003

	VIDUBoot uint16 = 0x18d1
	PIDUBoot uint16 = 0x4e40
)

// Timing constants (spec §4.A, §5).
const (
	DefaultControlTimeout = 5 * time.Second
	DefaultReopenDeadline = 30 * time.Second
	DefaultReopenPoll     = 200 * time.Millisecond
	BulkCmdStatusDelay    = 50 * time.Millisecond

	// MaxPacket is the mask-ROM control endpoint's packet size; a single
	// writeSimpleMemory transfer must fit within it.
	MaxPacket = 64

	// AMLCBlockSize is the fixed block size used to stream the second
	// stage bootloader into a running BL2 (spec §4.B).
	AMLCBlockSize = 64 * 1024
)

// Descriptor identifies the currently enumerated device.
type Descriptor struct {
	VID uint16
	PID uint16
}

// AddressToValueIndex packs a 32-bit address into the wValue:wIndex halves
// used by WriteMemory/ReadMemory/RunInAddr: wValue = high 16 bits, wIndex
// = low 16 bits (spec §4.A).
func AddressToValueIndex(addr uint32) (value, index uint16) {
	value = uint16((addr >> 16) & 0xFFFF)
	index = uint16(addr & 0xFFFF)
	return value, index
}

// Transport is the exclusive owner of the USB handle for the device. It
// exposes raw control transfers and the re-enumeration primitive used
// after a boot-stage handoff; it knows nothing about the higher-level
// vendor command semantics (that's internal/usb's Protocol, layered on
// top).
type Transport interface {
	// Open scans for a device matching the known vendor/product table,
	// claims interface 0, and returns its descriptor.
	Open(ctx context.Context) (Descriptor, error)

	// ControlWrite issues an OUT vendor control transfer.
	ControlWrite(ctx context.Context, req uint8, value, index uint16, payload []byte) error

	// ControlRead issues an IN vendor control transfer and returns the
	// bytes read (which may be shorter than length).
	ControlRead(ctx context.Context, req uint8, value, index uint16, length int) ([]byte, error)

	// Reopen releases the current handle (if any — re-enumeration means
	// the old handle is already invalid) and polls for a device matching
	// the known vendor/product table to reappear, up to timeout.
	Reopen(ctx context.Context, timeout time.Duration) (Descriptor, error)

	// Close releases the USB handle.
	Close() error
}
