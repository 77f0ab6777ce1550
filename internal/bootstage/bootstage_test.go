package bootstage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/bootstage"
	"flashthing/internal/flasherr"
	"flashthing/internal/usb"
	"flashthing/internal/usb/usbtest"
)

func TestFromDescriptorClassifiesKnownPairs(t *testing.T) {
	assert.Equal(t, bootstage.MaskROM, bootstage.FromDescriptor(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM}))
	assert.Equal(t, bootstage.UBoot, bootstage.FromDescriptor(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot}))
	assert.Equal(t, bootstage.Unknown, bootstage.FromDescriptor(usb.Descriptor{VID: 0xdead, PID: 0xbeef}))
}

func TestDetectClassifiesMaskROM(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	p := usb.NewProtocol(mock, nil)
	c := bootstage.NewCoordinator(mock, p, nil)

	stage, err := c.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bootstage.MaskROM, stage)
	assert.Equal(t, bootstage.MaskROM, c.CurrentStage())
}

func TestDetectFailsOnUnknownDevice(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: 0xdead, PID: 0xbeef})
	p := usb.NewProtocol(mock, nil)
	c := bootstage.NewCoordinator(mock, p, nil)

	_, err := c.Detect(context.Background())
	var uerr *flasherr.UsbError
	require.ErrorAs(t, err, &uerr)
}

func TestDetectFailsWhenDeviceNotFound(t *testing.T) {
	mock := usbtest.New()
	mock.FailOpen = assert.AnError
	p := usb.NewProtocol(mock, nil)
	c := bootstage.NewCoordinator(mock, p, nil)

	_, err := c.Detect(context.Background())
	var dnf *flasherr.DeviceNotFound
	require.ErrorAs(t, err, &dnf)
}

func TestEnsureUbootNoOpWhenAlreadyUBoot(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot})
	p := usb.NewProtocol(mock, nil)
	c := bootstage.NewCoordinator(mock, p, nil)

	_, err := c.Detect(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.EnsureUboot(context.Background(), bootstage.BL2BootParams{}, nil))
	assert.Empty(t, mock.Calls, "no protocol calls should happen when already in U-Boot")
}

func TestEnsureUbootRejectsUnexpectedStage(t *testing.T) {
	c := bootstage.NewCoordinator(usbtest.New(), usb.NewProtocol(usbtest.New(), nil), nil)
	// current defaults to Unknown (zero value) before Detect is called.
	err := c.EnsureUboot(context.Background(), bootstage.BL2BootParams{}, nil)
	var mismatch *flasherr.StageMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestResetReturnsToMaskROM(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot}, usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	mock.Responders[usb.ReqBulkCmdStat] = func(usbtest.ControlCall) ([]byte, error) {
		return append([]byte("success"), make([]byte, 9)...), nil
	}
	p := usb.NewProtocol(mock, nil)
	c := bootstage.NewCoordinator(mock, p, nil)

	_, err := c.Detect(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Reset(context.Background()))
	assert.Equal(t, bootstage.MaskROM, c.CurrentStage())
}
