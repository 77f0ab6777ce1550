package manifest

// FileReader is the minimal archive capability resolution needs; it is
// satisfied by archive.Archive without importing that package here
// (keeps manifest free of an archive dependency).
type FileReader interface {
	Read(path string) ([]byte, error)
}

// Resolve returns d's bytes, reading the referenced file from r if d is
// a file reference (spec §3: "Every DataOrFile resolvable at parse time
// must resolve again during execution").
func (d DataOrFile) Resolve(r FileReader) ([]byte, error) {
	if !d.fromFile {
		return d.Inline, nil
	}
	data, err := r.Read(d.FilePath)
	if err != nil {
		return nil, err
	}
	if d.Encoding == "utf-8" {
		// Verbatim bytes of a UTF-8 text file; no transformation beyond
		// what Read already produced is needed or defined by spec §3.
		return data, nil
	}
	return data, nil
}

// Resolve returns s's text, reading the referenced file from r if s is a
// file reference.
func (s StringOrFile) Resolve(r FileReader) (string, error) {
	if !s.fromFile {
		return s.Inline, nil
	}
	data, err := r.Read(s.FilePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ValidateAgainstArchive resolves every DataOrFile/StringOrFile
// referenced by p against r, failing fast with flasherr.ArchiveError on
// the first missing file. Used at open_archive time so a bad reference
// is caught before any device I/O happens, not mid-flash.
func ValidateAgainstArchive(p *Program, r FileReader) error {
	for _, step := range p.Steps {
		if err := validateStepFiles(step, r); err != nil {
			return err
		}
	}
	return nil
}

func validateStepFiles(step Step, r FileReader) error {
	check := func(d DataOrFile) error {
		if !d.IsFile() {
			return nil
		}
		if _, err := r.Read(d.FilePath); err != nil {
			return err
		}
		return nil
	}
	checkStr := func(s StringOrFile) error {
		if !s.IsFile() {
			return nil
		}
		if _, err := r.Read(s.FilePath); err != nil {
			return err
		}
		return nil
	}

	switch p := step.Payload.(type) {
	case WriteSimpleMemoryPayload:
		return check(p.Data)
	case WriteLargeMemoryPayload:
		return check(p.Data)
	case WriteAMLCDataPayload:
		return check(p.Data)
	case BL2BootPayload:
		if err := check(p.BL2); err != nil {
			return err
		}
		return check(p.Bootloader)
	case RestorePartitionPayload:
		return check(p.Data)
	case WriteEnvPayload:
		return checkStr(p.Text)
	default:
		return nil
	}
}
