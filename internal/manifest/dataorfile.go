package manifest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DataOrFile is either an inline byte array or a reference to a file
// inside the archive (spec §3). filePath is resolved relative to the
// archive root at execution time.
type DataOrFile struct {
	Inline   []byte
	FilePath string
	Encoding string // "" or "utf-8"
	fromFile bool
}

func (d DataOrFile) IsFile() bool { return d.fromFile }

// NewInlineData builds a DataOrFile already holding data, bypassing the
// file-reference path. Used by stock synthesis, which reads the archive
// itself and has no file path left to defer resolution to.
func NewInlineData(data []byte) DataOrFile {
	return DataOrFile{Inline: data}
}

func (d *DataOrFile) UnmarshalJSON(b []byte) error {
	// Inline form: a JSON array of byte values, e.g. [0xaa, 0xbb].
	var nums []int
	if err := json.Unmarshal(b, &nums); err == nil {
		out := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 255 {
				return fmt.Errorf("data byte %d out of range: %d", i, n)
			}
			out[i] = byte(n)
		}
		d.Inline = out
		d.fromFile = false
		return nil
	}

	// Inline form: a base64 string.
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("data: invalid base64 string: %w", err)
		}
		d.Inline = raw
		d.fromFile = false
		return nil
	}

	// File reference form: { "filePath": "...", "encoding"?: "utf-8" }.
	var ref struct {
		FilePath string  `json:"filePath"`
		Encoding *string `json:"encoding"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ref); err != nil {
		return fmt.Errorf("data: expected byte array, base64 string, or file reference: %w", err)
	}
	if ref.FilePath == "" {
		return fmt.Errorf("data: file reference missing filePath")
	}
	if ref.Encoding != nil && *ref.Encoding != "utf-8" {
		return fmt.Errorf("data: unsupported encoding %q", *ref.Encoding)
	}

	d.FilePath = ref.FilePath
	if ref.Encoding != nil {
		d.Encoding = *ref.Encoding
	}
	d.fromFile = true
	return nil
}

func (d DataOrFile) MarshalJSON() ([]byte, error) {
	if d.fromFile {
		out := struct {
			FilePath string `json:"filePath"`
			Encoding string `json:"encoding,omitempty"`
		}{FilePath: d.FilePath, Encoding: d.Encoding}
		return json.Marshal(out)
	}
	return json.Marshal(d.Inline)
}

// StringOrFile is either an inline string or a file reference whose
// contents are interpreted as text (spec §3).
type StringOrFile struct {
	Inline   string
	FilePath string
	fromFile bool
}

func (s StringOrFile) IsFile() bool { return s.fromFile }

// NewInlineString builds a StringOrFile already holding text, mirroring
// NewInlineData.
func NewInlineString(text string) StringOrFile {
	return StringOrFile{Inline: text}
}

func (s *StringOrFile) UnmarshalJSON(b []byte) error {
	var inline string
	if err := json.Unmarshal(b, &inline); err == nil {
		s.Inline = inline
		s.fromFile = false
		return nil
	}

	var ref struct {
		FilePath string `json:"filePath"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ref); err != nil {
		return fmt.Errorf("expected string or file reference: %w", err)
	}
	if ref.FilePath == "" {
		return fmt.Errorf("file reference missing filePath")
	}
	s.FilePath = ref.FilePath
	s.fromFile = true
	return nil
}

func (s StringOrFile) MarshalJSON() ([]byte, error) {
	if s.fromFile {
		out := struct {
			FilePath string `json:"filePath"`
		}{FilePath: s.FilePath}
		return json.Marshal(out)
	}
	return json.Marshal(s.Inline)
}
