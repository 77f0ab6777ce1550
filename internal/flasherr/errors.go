// Package flasherr declares the typed error kinds that can terminate a
// flash() run. Each kind maps to exactly one CLI exit code, so the front
// end never has to re-derive policy from error text.
package flasherr

import (
	"errors"
	"fmt"
)

// DeviceNotFound means no known vendor/product id is currently enumerated.
type DeviceNotFound struct {
	Searched []string // "vid:pid" pairs that were tried
}

func (e *DeviceNotFound) Error() string {
	return fmt.Sprintf("device not found (tried %v)", e.Searched)
}

// ExitCode implements exitCoder.
func (e *DeviceNotFound) ExitCode() int { return 2 }

// UsbError wraps a transport-layer failure (libusb error, short read, …).
type UsbError struct {
	Detail string
	Err    error
}

func (e *UsbError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("usb error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("usb error: %s", e.Detail)
}

func (e *UsbError) Unwrap() error { return e.Err }
func (e *UsbError) ExitCode() int { return 3 }

// Timeout means a suspension point (control transfer, reopen poll,
// bulkcmd status read) exceeded its deadline. Not retryable.
type Timeout struct {
	Operation string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout: %s", e.Operation) }
func (e *Timeout) ExitCode() int { return 3 }

// BulkCmdFailed means a bulkcmd status reply did not start with "success".
type BulkCmdFailed struct {
	Command string
	Reply   string
}

func (e *BulkCmdFailed) Error() string {
	return fmt.Sprintf("bulk command %q failed: %s", e.Command, e.Reply)
}
func (e *BulkCmdFailed) ExitCode() int { return 3 }

// StageMismatch means the boot stage after a handoff was not what was
// expected.
type StageMismatch struct {
	Expected string
	Actual   string
}

func (e *StageMismatch) Error() string {
	return fmt.Sprintf("stage mismatch: expected %s, got %s", e.Expected, e.Actual)
}
func (e *StageMismatch) ExitCode() int { return 3 }

// ArchiveError covers a corrupt ZIP, a missing meta.json without the
// stock flag, or a missing file reference.
type ArchiveError struct {
	Detail string
}

func (e *ArchiveError) Error() string { return fmt.Sprintf("archive error: %s", e.Detail) }
func (e *ArchiveError) ExitCode() int { return 1 }

// ManifestError is a JSON-schema violation located by a JSON pointer.
type ManifestError struct {
	Pointer string
	Detail  string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest error at %s: %s", e.Pointer, e.Detail)
}
func (e *ManifestError) ExitCode() int { return 1 }

// Unsupported means a step parsed successfully but the executor refuses
// to run it (forward-compatible tags, see spec §3).
type Unsupported struct {
	StepKind string
}

func (e *Unsupported) Error() string { return fmt.Sprintf("unsupported step: %s", e.StepKind) }
func (e *Unsupported) ExitCode() int { return 3 }

// PathTraversal means a DataOrFile/StringOrFile reference tried to escape
// the archive root.
type PathTraversal struct {
	Path string
}

func (e *PathTraversal) Error() string { return fmt.Sprintf("path traversal: %s", e.Path) }
func (e *PathTraversal) ExitCode() int { return 1 }

// Cancelled means the cooperative cancel token fired between steps or
// during a wait step.
type Cancelled struct{}

func (e *Cancelled) Error() string { return "cancelled" }
func (e *Cancelled) ExitCode() int { return 4 }

// exitCoder is implemented by every kind above.
type exitCoder interface {
	error
	ExitCode() int
}

// ExitCode extracts the CLI exit code for any error returned by this
// package's kinds, falling back to 1 (usage/unknown) for anything else,
// or 0 for a nil error. Uses errors.As so a kind wrapped with
// fmt.Errorf("...: %w", err) still resolves to its own exit code instead
// of the generic fallback.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 1
}
