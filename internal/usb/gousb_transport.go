//go:build !mips && !mipsle
// +build !mips,!mipsle

// gousb_transport.go wires Transport to github.com/google/gousb.
// Excluded on MIPS builds: gousb links libusb via cgo, which the MIPS
// toolchain here can't cross-compile.
package usb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/gousb"
)

// bmRequestType bytes for the vendor/device control transfers this
// protocol uses exclusively.
const (
	bmRequestTypeOut = uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	bmRequestTypeIn  = uint8(gousb.ControlIn) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
)

// GousbTransport is the production Transport, backed by libusb via gousb.
type GousbTransport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	logger *slog.Logger
}

// NewGousbTransport constructs a transport with no device opened yet.
func NewGousbTransport(logger *slog.Logger) *GousbTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &GousbTransport{logger: logger}
}

func (t *GousbTransport) Open(ctx context.Context) (Descriptor, error) {
	if t.ctx == nil {
		t.ctx = gousb.NewContext()
	}

	desc, device, err := openKnownDevice(t.ctx)
	if err != nil {
		return Descriptor{}, err
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		return Descriptor{}, fmt.Errorf("set usb config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		return Descriptor{}, fmt.Errorf("claim usb interface: %w", err)
	}

	device.ControlTimeout = DefaultControlTimeout

	t.device = device
	t.config = config
	t.intf = intf

	t.logger.Info("usb device opened", "event", "usb.open", "vid", fmt.Sprintf("0x%04x", desc.VID), "pid", fmt.Sprintf("0x%04x", desc.PID))
	return desc, nil
}

func (t *GousbTransport) ControlWrite(ctx context.Context, req uint8, value, index uint16, payload []byte) error {
	if t.device == nil {
		return fmt.Errorf("usb: device not open")
	}
	_, err := t.device.Control(bmRequestTypeOut, req, value, index, payload)
	if err != nil {
		return fmt.Errorf("control write (req=0x%02x): %w", req, err)
	}
	return nil
}

func (t *GousbTransport) ControlRead(ctx context.Context, req uint8, value, index uint16, length int) ([]byte, error) {
	if t.device == nil {
		return nil, fmt.Errorf("usb: device not open")
	}
	buf := make([]byte, length)
	n, err := t.device.Control(bmRequestTypeIn, req, value, index, buf)
	if err != nil {
		return nil, fmt.Errorf("control read (req=0x%02x): %w", req, err)
	}
	return buf[:n], nil
}

// Reopen releases the current handle — re-enumeration means it is
// invalid anyway — before polling, so the OS never sees the old and new
// handles coexist (spec §9: "release the prior USB handle before
// polling").
func (t *GousbTransport) Reopen(ctx context.Context, timeout time.Duration) (Descriptor, error) {
	t.releaseHandle()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(DefaultReopenPoll)
	defer ticker.Stop()

	for {
		desc, err := t.Open(ctx)
		if err == nil {
			return desc, nil
		}

		if time.Now().After(deadline) {
			return Descriptor{}, fmt.Errorf("usb: reopen timed out after %s: %w", timeout, err)
		}

		select {
		case <-ctx.Done():
			return Descriptor{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *GousbTransport) releaseHandle() {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.config != nil {
		t.config.Close()
		t.config = nil
	}
	if t.device != nil {
		t.device.Close()
		t.device = nil
	}
}

func (t *GousbTransport) Close() error {
	t.releaseHandle()
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// openKnownDevice scans for any device in the known vid/pid table and
// opens the first match.
func openKnownDevice(ctx *gousb.Context) (Descriptor, *gousb.Device, error) {
	candidates := []Descriptor{
		{VID: VIDMaskROM, PID: PIDMaskROM},
		{VID: VIDUBoot, PID: PIDUBoot},
	}

	for _, c := range candidates {
		device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(c.VID), gousb.ID(c.PID))
		if err != nil {
			continue
		}
		if device != nil {
			return c, device, nil
		}
	}

	return Descriptor{}, nil, fmt.Errorf("no known device enumerated")
}
