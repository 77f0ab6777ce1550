// Package udevrules installs the Linux udev rule granting unprivileged
// USB access to the flashing device's two known boot-stage identities
// (spec §6).
package udevrules

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"flashthing/internal/usb"
)

// RulesPath is the file spec §6 names.
const RulesPath = "/etc/udev/rules.d/51-flashthing.rules"

// Install writes RulesPath granting 0666 to both known (vid, pid) pairs
// and reloads udev. Requires root; callers should check os.Geteuid()
// before calling if they want a clearer error than a permission-denied
// write.
func Install() error {
	content := rulesContent()

	if err := os.MkdirAll(filepath.Dir(RulesPath), 0o755); err != nil {
		return fmt.Errorf("udevrules: create rules dir: %w", err)
	}
	if err := os.WriteFile(RulesPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("udevrules: write %s: %w", RulesPath, err)
	}

	if err := exec.Command("udevadm", "control", "--reload").Run(); err != nil {
		return fmt.Errorf("udevrules: udevadm control --reload: %w", err)
	}
	if err := exec.Command("udevadm", "trigger").Run(); err != nil {
		return fmt.Errorf("udevrules: udevadm trigger: %w", err)
	}
	return nil
}

func rulesContent() string {
	return fmt.Sprintf(
		"# Installed by flashthing-cli --setup\n"+
			"SUBSYSTEM==\"usb\", ATTR{idVendor}==\"%04x\", ATTR{idProduct}==\"%04x\", MODE=\"0666\", GROUP=\"plugdev\"\n"+
			"SUBSYSTEM==\"usb\", ATTR{idVendor}==\"%04x\", ATTR{idProduct}==\"%04x\", MODE=\"0666\", GROUP=\"plugdev\"\n",
		usb.VIDMaskROM, usb.PIDMaskROM,
		usb.VIDUBoot, usb.PIDUBoot,
	)
}
