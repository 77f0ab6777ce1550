// Package diagnostics implements the `doctor` subcommand: a best-effort
// host environment check to help a user diagnose why flashing won't
// start (out of spec.md's core scope; a SPEC_FULL.md domain-stack
// addition grounded on the teacher's own gopsutil usage).
package diagnostics

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"flashthing/internal/udevrules"
	"flashthing/internal/usb"
)

// Check is one diagnostic finding.
type Check struct {
	Name string
	OK   bool
	Info string
}

// Report is the full doctor run result.
type Report struct {
	Checks []Check
}

// AllOK reports whether every check passed.
func (r Report) AllOK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Run performs every check. Individual check failures (e.g. gopsutil
// unable to read host info on an unsupported platform) degrade that
// check's OK to false rather than aborting the whole report, mirroring
// the teacher's own best-effort psutil.Percent/VirtualMemory calls that
// swallow their errors and proceed with zero values.
func Run() Report {
	r := Report{}
	r.Checks = append(r.Checks, osArchCheck())
	r.Checks = append(r.Checks, hostInfoCheck())
	r.Checks = append(r.Checks, memoryCheck())
	r.Checks = append(r.Checks, diskSpaceCheck())
	r.Checks = append(r.Checks, udevRuleCheck())
	return r
}

func osArchCheck() Check {
	return Check{
		Name: "platform",
		OK:   true,
		Info: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func hostInfoCheck() Check {
	info, err := host.Info()
	if err != nil {
		return Check{Name: "host", OK: false, Info: err.Error()}
	}
	return Check{
		Name: "host",
		OK:   true,
		Info: fmt.Sprintf("%s %s (kernel %s)", info.Platform, info.PlatformVersion, info.KernelVersion),
	}
}

func memoryCheck() Check {
	v, err := mem.VirtualMemory()
	if err != nil {
		return Check{Name: "memory", OK: false, Info: err.Error()}
	}
	ok := v.Available > 64*1024*1024
	return Check{
		Name: "memory",
		OK:   ok,
		Info: fmt.Sprintf("%d MiB available", v.Available/1024/1024),
	}
}

func diskSpaceCheck() Check {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return Check{Name: "disk", OK: false, Info: err.Error()}
	}
	ok := usage.Free > 256*1024*1024
	return Check{
		Name: "disk",
		OK:   ok,
		Info: fmt.Sprintf("%d MiB free on %s", usage.Free/1024/1024, dir),
	}
}

func udevRuleCheck() Check {
	if runtime.GOOS != "linux" {
		return Check{Name: "udev", OK: true, Info: "not applicable on " + runtime.GOOS}
	}
	if _, err := os.Stat(udevrules.RulesPath); err != nil {
		return Check{
			Name: "udev",
			OK:   false,
			Info: fmt.Sprintf("%s not present; run with --setup", udevrules.RulesPath),
		}
	}
	return Check{
		Name: "udev",
		OK:   true,
		Info: fmt.Sprintf("%s present (vid/pid %04x:%04x, %04x:%04x)",
			udevrules.RulesPath, usb.VIDMaskROM, usb.PIDMaskROM, usb.VIDUBoot, usb.PIDUBoot),
	}
}

// String renders a Report as plain text for the CLI.
func (r Report) String() string {
	var b strings.Builder
	for _, c := range r.Checks {
		status := "ok"
		if !c.OK {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %-10s %s\n", status, c.Name, c.Info)
	}
	return b.String()
}
