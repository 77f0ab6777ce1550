// Package usbtest provides an in-memory fake of usb.Transport for
// protocol- and executor-level tests, so the suite runs without real
// hardware or a libusb context.
package usbtest

import (
	"context"
	"fmt"
	"time"

	"flashthing/internal/usb"
)

// ControlCall records one control transfer for assertions.
type ControlCall struct {
	Write   bool
	Req     uint8
	Value   uint16
	Index   uint16
	Payload []byte
	Length  int
}

// ReadResponder lets a test script canned replies for a given request
// code; if absent, ControlRead returns zero bytes.
type ReadResponder func(call ControlCall) ([]byte, error)

// Mock is a scriptable Transport.
type Mock struct {
	Descriptors []usb.Descriptor // sequence returned by Open/Reopen, last one repeats
	openCount   int

	Responders map[uint8]ReadResponder

	Calls  []ControlCall
	Closed bool

	// FailOpen, when non-nil, is returned by the next Open/Reopen call.
	FailOpen error
}

func New(descriptors ...usb.Descriptor) *Mock {
	return &Mock{Descriptors: descriptors, Responders: map[uint8]ReadResponder{}}
}

func (m *Mock) Open(ctx context.Context) (usb.Descriptor, error) {
	if m.FailOpen != nil {
		err := m.FailOpen
		m.FailOpen = nil
		return usb.Descriptor{}, err
	}
	if len(m.Descriptors) == 0 {
		return usb.Descriptor{}, fmt.Errorf("usbtest: no descriptor configured")
	}
	idx := m.openCount
	if idx >= len(m.Descriptors) {
		idx = len(m.Descriptors) - 1
	}
	m.openCount++
	return m.Descriptors[idx], nil
}

func (m *Mock) ControlWrite(ctx context.Context, req uint8, value, index uint16, payload []byte) error {
	cp := append([]byte(nil), payload...)
	m.Calls = append(m.Calls, ControlCall{Write: true, Req: req, Value: value, Index: index, Payload: cp})
	return nil
}

func (m *Mock) ControlRead(ctx context.Context, req uint8, value, index uint16, length int) ([]byte, error) {
	call := ControlCall{Write: false, Req: req, Value: value, Index: index, Length: length}
	m.Calls = append(m.Calls, call)

	if r, ok := m.Responders[req]; ok {
		return r(call)
	}
	return make([]byte, length), nil
}

func (m *Mock) Reopen(ctx context.Context, timeout time.Duration) (usb.Descriptor, error) {
	return m.Open(ctx)
}

// OpenCount returns how many times Open/Reopen have been called, so
// tests can assert a re-enumeration actually happened.
func (m *Mock) OpenCount() int {
	return m.openCount
}

func (m *Mock) Close() error {
	m.Closed = true
	return nil
}

var _ usb.Transport = (*Mock)(nil)
