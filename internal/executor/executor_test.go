package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/executor"
	"flashthing/internal/flasherr"
	"flashthing/internal/usb"
	"flashthing/internal/usb/usbtest"
)

const testProgram = `{
  "metadataVersion": 1,
  "name": "test",
  "steps": [
    {"type": "log", "message": "starting"},
    {"type": "bulkcmd", "command": "reset"},
    {"type": "wait", "wait": {"type": "time", "time": 1}}
  ]
}`

func writeArchiveDir(t *testing.T, meta string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte(meta), 0o644))
	return dir
}

func successBulkCmdMock(descriptors ...usb.Descriptor) *usbtest.Mock {
	mock := usbtest.New(descriptors...)
	mock.Responders[usb.ReqBulkCmdStat] = func(usbtest.ControlCall) ([]byte, error) {
		return append([]byte("success"), make([]byte, 9)...), nil
	}
	return mock
}

func TestOpenArchiveRejectsMissingMetaWithoutStockMode(t *testing.T) {
	dir := t.TempDir()
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot})
	e := executor.New(mock)

	err := e.OpenArchive(dir, executor.ModeManifest)
	var aerr *flasherr.ArchiveError
	require.ErrorAs(t, err, &aerr)
}

func TestOpenArchiveLoadsAndCountsSteps(t *testing.T) {
	dir := writeArchiveDir(t, testProgram)
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot})
	e := executor.New(mock)
	defer e.Close()

	require.NoError(t, e.OpenArchive(dir, executor.ModeManifest))
	assert.Equal(t, 3, e.NumSteps())
}

func TestFlashRunsStepsAndEmitsEvents(t *testing.T) {
	dir := writeArchiveDir(t, testProgram)
	mock := successBulkCmdMock(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot})

	var kinds []executor.EventKind
	e := executor.New(mock, executor.WithSink(func(ev executor.FlashEvent) {
		kinds = append(kinds, ev.Kind)
	}))
	defer e.Close()

	require.NoError(t, e.OpenArchive(dir, executor.ModeManifest))
	require.NoError(t, e.Flash(context.Background()))

	assert.Equal(t, executor.EventStarted, kinds[0])
	assert.Equal(t, executor.EventFinished, kinds[len(kinds)-1])
	assert.Contains(t, kinds, executor.EventStepCompleted)
	assert.NotContains(t, kinds, executor.EventStepFailed)
}

func TestFlashFailsOnUnsupportedStep(t *testing.T) {
	dir := writeArchiveDir(t, `{"metadataVersion": 1, "steps": [{"type": "identify"}]}`)
	mock := usbtest.New(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot})

	var failed *executor.FlashEvent
	e := executor.New(mock, executor.WithSink(func(ev executor.FlashEvent) {
		if ev.Kind == executor.EventStepFailed {
			cp := ev
			failed = &cp
		}
	}))
	defer e.Close()

	require.NoError(t, e.OpenArchive(dir, executor.ModeManifest))
	err := e.Flash(context.Background())
	require.Error(t, err)

	var unsupported *flasherr.Unsupported
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "identify", unsupported.StepKind)
	require.NotNil(t, failed)
	assert.Equal(t, 0, failed.StepIndex)
}

func TestFlashRespectsCancelBeforeFirstStep(t *testing.T) {
	dir := writeArchiveDir(t, testProgram)
	mock := successBulkCmdMock(usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot})
	e := executor.New(mock)
	defer e.Close()
	require.NoError(t, e.OpenArchive(dir, executor.ModeManifest))

	e.Cancel()
	err := e.Flash(context.Background())
	var cancelled *flasherr.Cancelled
	require.ErrorAs(t, err, &cancelled)
}

func TestFlashSynthesizesBL2BootWhenMaskROM(t *testing.T) {
	dir := writeArchiveDir(t, `{"metadataVersion": 1, "steps": [{"type": "log", "message": "hi"}]}`)
	mock := successBulkCmdMock(
		usb.Descriptor{VID: usb.VIDMaskROM, PID: usb.PIDMaskROM},
		usb.Descriptor{VID: usb.VIDUBoot, PID: usb.PIDUBoot},
	)
	mock.Responders[usb.ReqGetBootAMLC] = func(call usbtest.ControlCall) ([]byte, error) {
		return make([]byte, 16), nil // seq 0 matches the first/only block immediately
	}

	var kinds []executor.EventKind
	e := executor.New(mock,
		executor.WithDefaultBL2(0xd9000000, []byte{0xde, 0xad}, []byte{0xbe, 0xef}),
		executor.WithSink(func(ev executor.FlashEvent) {
			kinds = append(kinds, ev.Kind)
		}),
	)
	defer e.Close()
	require.NoError(t, e.OpenArchive(dir, executor.ModeManifest))

	assert.Equal(t, 1, e.NumSteps(), "synthetic bl2Boot is only added once Flash starts")

	require.NoError(t, e.Flash(context.Background()))

	// The synthetic bl2Boot step drives BL2Boot's mask-ROM->BL2 handoff,
	// which reopens the transport mid-step and then streams the
	// bootloader over the reopened handle before the log step runs.
	assert.Equal(t, executor.EventStarted, kinds[0])
	assert.Equal(t, executor.EventFinished, kinds[len(kinds)-1])
	assert.Contains(t, kinds, executor.EventStepCompleted)
	assert.NotContains(t, kinds, executor.EventStepFailed)
	assert.Equal(t, 2, mock.OpenCount(), "detect opens mask-rom, bl2Boot reopens as u-boot")
}
