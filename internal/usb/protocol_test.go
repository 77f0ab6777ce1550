package usb_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/flasherr"
	"flashthing/internal/usb"
	"flashthing/internal/usb/usbtest"
)

func TestWriteSimpleMemoryRejectsOversizePayload(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	p := usb.NewProtocol(mock, nil)

	err := p.WriteSimpleMemory(context.Background(), 0, make([]byte, usb.MaxPacket+1))
	require.Error(t, err)
	assert.Empty(t, mock.Calls, "no control transfer should be issued for an oversize payload")
}

func TestWriteSimpleMemoryPacksAddress(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	p := usb.NewProtocol(mock, nil)

	require.NoError(t, p.WriteSimpleMemory(context.Background(), 0x00010002, []byte{1, 2, 3}))
	require.Len(t, mock.Calls, 1)
	call := mock.Calls[0]
	assert.Equal(t, usb.ReqWriteMemory, call.Req)
	assert.Equal(t, uint16(0x0001), call.Value)
	assert.Equal(t, uint16(0x0002), call.Index)
}

func TestBulkCmdSuccess(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	mock.Responders[usb.ReqBulkCmdStat] = func(usbtest.ControlCall) ([]byte, error) {
		return append([]byte("success"), make([]byte, 9)...), nil
	}
	p := usb.NewProtocol(mock, nil)

	require.NoError(t, p.BulkCmd(context.Background(), "reset"))
}

func TestBulkCmdFailure(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	mock.Responders[usb.ReqBulkCmdStat] = func(usbtest.ControlCall) ([]byte, error) {
		return append([]byte("failed"), make([]byte, 10)...), nil
	}
	p := usb.NewProtocol(mock, nil)

	err := p.BulkCmd(context.Background(), "reset")
	var bcf *flasherr.BulkCmdFailed
	require.ErrorAs(t, err, &bcf)
	assert.Equal(t, "reset", bcf.Command)
}

func TestWriteLargeMemoryHeaderAndBlockCount(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	p := usb.NewProtocol(mock, nil)

	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i)
	}

	var sent, total int
	err := p.WriteLargeMemory(context.Background(), 0x1000, data, 4, true, func(s, t int) {
		sent, total = s, t
	})
	require.NoError(t, err)

	// header + 3 blocks (4 + 4 + 2 padded to 4) since appendZeros rounds up.
	require.Len(t, mock.Calls, 4)
	header := mock.Calls[0]
	assert.Equal(t, usb.ReqWriteMediaLarge, header.Req)
	assert.Equal(t, uint64(0x1000), binary.LittleEndian.Uint64(header.Payload[0:8]))
	assert.Equal(t, uint64(12), binary.LittleEndian.Uint64(header.Payload[8:16]))

	for _, c := range mock.Calls[1:] {
		assert.Equal(t, usb.ReqWriteMemory, c.Req)
	}
	assert.Equal(t, 12, sent)
	assert.Equal(t, 12, total)
}

func TestWriteAMLCDataSendsHeaderThenBody(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	p := usb.NewProtocol(mock, nil)

	require.NoError(t, p.WriteAMLCData(context.Background(), 3, 0x200, []byte("block")))
	require.Len(t, mock.Calls, 2)

	header := mock.Calls[0]
	assert.Equal(t, usb.ReqWriteAuxHeap, header.Req)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(header.Payload[4:8]))
	assert.Equal(t, uint32(0x200), binary.LittleEndian.Uint32(header.Payload[8:12]))
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(header.Payload[12:16]))

	body := mock.Calls[1]
	assert.Equal(t, usb.ReqWriteAMLC, body.Req)
	assert.Equal(t, []byte("block"), body.Payload)
}

func TestIdentifyReadsEightBytes(t *testing.T) {
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM})
	mock.Responders[usb.ReqIdentify] = func(usbtest.ControlCall) ([]byte, error) {
		return []byte("MaskROM!"), nil
	}
	p := usb.NewProtocol(mock, nil)

	id, err := p.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MaskROM!", string(id))
}
