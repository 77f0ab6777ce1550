// Package assets embeds the fallback BL2/U-Boot blobs the Executor
// synthesizes a bl2Boot step from when a program targets a bare
// MaskRom device without one of its own (spec §3, §4.E). Grounded on
// the teacher's internal/cli/embedded/binaries.go go:embed pattern,
// narrowed from a multi-binary extract-to-disk scheme down to two
// in-memory blobs, since these only ever need to be handed to
// usb.Protocol.BL2Boot as byte slices and never written to disk.
package assets

import "embed"

//go:embed bin/bl2.bin bin/bootloader.bin
var defaults embed.FS

// DefaultBL2 returns the bundled fallback BL2 stage. The bundled blob
// is a placeholder, not a redistributable Amlogic BL2: real deployments
// should supply their own via executor.WithDefaultBL2; this exists so
// the MaskRom auto-recovery path in spec §3 has something to synthesize
// a step from out of the box during development and testing.
func DefaultBL2() []byte {
	data, err := defaults.ReadFile("bin/bl2.bin")
	if err != nil {
		return nil
	}
	return data
}

// DefaultBootloader returns the bundled fallback U-Boot image, paired
// with DefaultBL2.
func DefaultBootloader() []byte {
	data, err := defaults.ReadFile("bin/bootloader.bin")
	if err != nil {
		return nil
	}
	return data
}
