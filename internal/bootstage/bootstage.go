// Package bootstage detects which stage of the mask-ROM -> BL2 -> U-Boot
// boot sequence a connected device is in, and drives the handoff between
// them (spec §4.C).
package bootstage

import (
	"context"
	"fmt"
	"log/slog"

	"flashthing/internal/flasherr"
	"flashthing/internal/usb"
)

// Stage is the device's current position in the boot sequence.
type Stage int

const (
	Unknown Stage = iota
	MaskROM
	UBoot
)

func (s Stage) String() string {
	switch s {
	case MaskROM:
		return "mask-rom"
	case UBoot:
		return "u-boot"
	default:
		return "unknown"
	}
}

// FromDescriptor classifies a device's boot stage from its USB
// vendor/product id (spec §3).
func FromDescriptor(d usb.Descriptor) Stage {
	switch {
	case d.VID == usb.VIDMaskROM && d.PID == usb.PIDMaskROM:
		return MaskROM
	case d.VID == usb.VIDUBoot && d.PID == usb.PIDUBoot:
		return UBoot
	default:
		return Unknown
	}
}

// Coordinator detects the current boot stage and performs the BL2 ->
// U-Boot handoff.
type Coordinator struct {
	transport usb.Transport
	protocol  *usb.Protocol
	logger    *slog.Logger

	current Stage
}

func NewCoordinator(transport usb.Transport, protocol *usb.Protocol, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{transport: transport, protocol: protocol, logger: logger}
}

// Detect opens the transport and classifies the current boot stage. An Unknown stage is fatal per spec §3.
func (c *Coordinator) Detect(ctx context.Context) (Stage, error) {
	desc, err := c.transport.Open(ctx)
	if err != nil {
		return Unknown, &flasherr.DeviceNotFound{Searched: []string{
			fmt.Sprintf("%04x:%04x", usb.VIDMaskROM, usb.PIDMaskROM),
			fmt.Sprintf("%04x:%04x", usb.VIDUBoot, usb.PIDUBoot),
		}}
	}

	stage := FromDescriptor(desc)
	c.current = stage

	if stage == Unknown {
		return Unknown, &flasherr.UsbError{Detail: fmt.Sprintf("unrecognized device %04x:%04x", desc.VID, desc.PID)}
	}

	c.logger.Info("boot stage detected", "event", "bootstage.detected", "stage", stage.String())
	return stage, nil
}

// CurrentStage returns the last stage observed by Detect/EnsureUboot.
func (c *Coordinator) CurrentStage() Stage { return c.current }

// BL2BootParams bundles the blobs needed for the mask-ROM -> U-Boot
// handoff.
type BL2BootParams struct {
	BL2LoadAddr uint32
	BL2         []byte
	Bootloader  []byte
}

// AMLCBlockProgressFunc mirrors usb.AMLCProgressFunc so callers outside
// this package don't need to import internal/usb just to wire progress.
type AMLCBlockProgressFunc = usb.AMLCProgressFunc

// EnsureUboot performs the BL2 -> U-Boot handoff if the device is
// currently in MaskROM, then verifies the device re-enumerates as UBoot
// within the reopen deadline (spec §4.C). If the device is already in
// UBoot this is a no-op.
func (c *Coordinator) EnsureUboot(ctx context.Context, params BL2BootParams, progress AMLCBlockProgressFunc) error {
	if c.current == UBoot {
		return nil
	}
	if c.current != MaskROM {
		return &flasherr.StageMismatch{Expected: MaskROM.String(), Actual: c.current.String()}
	}

	desc, err := c.protocol.BL2Boot(ctx, params.BL2LoadAddr, params.BL2, params.Bootloader, progress)
	if err != nil {
		return err
	}

	stage := FromDescriptor(desc)
	c.current = stage
	if stage != UBoot {
		return &flasherr.StageMismatch{Expected: UBoot.String(), Actual: stage.String()}
	}

	c.logger.Info("u-boot handoff complete", "event", "bootstage.uboot_ready")
	return nil
}

// Reset forces an already-UBoot device back to MaskROM via bulkcmd
// "reset" and re-detects the stage afterward, so a subsequent bl2Boot
// can run (spec §4.D: unbrick mode "first resets the device via bulkcmd
// reset and re-detects as MaskRom"). The program-level erase_bootloader
// command unbrick mode prepends is a separate, later step executed
// through the normal step dispatch — this method only forces the stage
// transition, it does not erase anything.
func (c *Coordinator) Reset(ctx context.Context) error {
	if err := c.protocol.BulkCmd(ctx, "reset"); err != nil {
		return err
	}

	desc, err := c.transport.Reopen(ctx, usb.DefaultReopenDeadline)
	if err != nil {
		return &flasherr.Timeout{Operation: "reopen after unbrick reset"}
	}

	stage := FromDescriptor(desc)
	c.current = stage
	if stage != MaskROM {
		return &flasherr.StageMismatch{Expected: MaskROM.String(), Actual: stage.String()}
	}
	return nil
}
