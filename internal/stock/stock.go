// Package stock synthesizes a manifest.Program for an archive that has
// no meta.json: a raw stock dump of partition images (spec §4.D) or an
// unbrick recovery run.
package stock

import (
	"strings"

	"flashthing/internal/flasherr"
	"flashthing/internal/manifest"
)

// partitionFiles is the fixed, ordered list of partition files stock
// mode looks for. Order here is the order restorePartition steps are
// emitted in; it is part of the synthesis contract (spec §4.D table),
// not an implementation detail.
var partitionFiles = []string{
	"bootloader.img",
	"boot_a.img",
	"boot_b.img",
	"env.txt",
	"system_a.img",
	"system_b.img",
	"data.img",
	"fastboot.img",
	"recovery.img",
	"misc.img",
	"settings.img",
}

const envFile = "env.txt"

// Lister is the archive capability stock synthesis needs.
type Lister interface {
	Has(path string) bool
	Read(path string) ([]byte, error)
}

// partitionName derives the bulkcmd partition token from a file name by
// stripping its extension ("bootloader.img" -> "bootloader").
func partitionName(file string) string {
	name := file
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

// Synthesize builds a Program over a's present partition files (spec
// §4.D). Files absent from a are silently skipped; restorePartition
// steps follow partitionFiles order, and a present env.txt becomes one
// writeEnv step after all of them. Returns flasherr.ArchiveError if
// no partition file is present at all (spec S6).
func Synthesize(a Lister) (*manifest.Program, error) {
	found := false
	p := &manifest.Program{MetadataVersion: 1}

	for _, file := range partitionFiles {
		if !a.Has(file) {
			continue
		}
		found = true

		if file == envFile {
			continue
		}

		data, err := a.Read(file)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, manifest.Step{
			Kind: manifest.KindRestorePartition,
			Payload: manifest.RestorePartitionPayload{
				Name: partitionName(file),
				Data: manifest.NewInlineData(data),
			},
		})
	}

	if a.Has(envFile) {
		data, err := a.Read(envFile)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, manifest.Step{
			Kind:    manifest.KindWriteEnv,
			Payload: manifest.WriteEnvPayload{Text: manifest.NewInlineString(string(data))},
		})
	}

	if !found {
		return nil, &flasherr.ArchiveError{Detail: "no partition files found"}
	}
	return p, nil
}

// SynthesizeUnbrick builds the unbrick-mode program: stock synthesis
// prepended with an erase-bootloader bulk command (spec §4.D, "Unbrick
// mode produces a program equivalent to stock mode but prepends a
// bulkcmd erase_bootloader"). The forced MaskRom re-detection via
// bulkcmd reset is the executor's concern (it owns device state), not
// this package's — see internal/executor's unbrick handling.
func SynthesizeUnbrick(a Lister) (*manifest.Program, error) {
	p, err := Synthesize(a)
	if err != nil {
		return nil, err
	}
	erase := manifest.Step{
		Kind:    manifest.KindBulkCmd,
		Payload: manifest.BulkCmdPayload{Command: "erase_bootloader"},
	}
	p.Steps = append([]manifest.Step{erase}, p.Steps...)
	return p, nil
}
