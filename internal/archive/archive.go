// Package archive provides the read-only path -> bytes view over a ZIP
// file or directory that backs a flash program (spec §3, §4.D), plus
// content-addressing of resolved payloads.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"flashthing/internal/flasherr"
)

// Archive is a logical read-only key/value store (path -> bytes),
// backed by either a ZIP file or a directory (spec §3). Paths are
// case-sensitive and nested directories are supported.
type Archive interface {
	// Read resolves path relative to the archive root and returns its
	// contents. ".." components are rejected with flasherr.PathTraversal.
	Read(path string) ([]byte, error)

	// Has reports whether path exists in the archive without reading it.
	Has(path string) bool

	// List returns every path in the archive, used by stock-mode
	// synthesis to discover partition files.
	List() ([]string, error)

	// Close releases the underlying reader (ZIP file handle or nothing,
	// for a directory).
	Close() error
}

// Open detects whether path is a ZIP file or a directory and returns the
// matching Archive (spec §4.D).
func Open(path string) (Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("stat %s: %v", path, err)}
	}

	if info.IsDir() {
		return &dirArchive{root: path}, nil
	}

	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		r, err := zip.OpenReader(path)
		if err != nil {
			return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("open zip %s: %v", path, err)}
		}
		return &zipArchive{reader: r}, nil
	}

	return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("unrecognized archive: %s", path)}
}

// guardPath rejects ".." components, matching spec §4.D's path
// traversal guard, and returns a clean, slash-normalized relative path.
func guardPath(p string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", &flasherr.PathTraversal{Path: p}
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", &flasherr.PathTraversal{Path: p}
		}
	}
	return clean, nil
}

type dirArchive struct {
	root string
}

func (a *dirArchive) Read(path string) ([]byte, error) {
	clean, err := guardPath(path)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(a.root, filepath.FromSlash(clean))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("read %s: %v", path, err)}
	}
	return data, nil
}

func (a *dirArchive) Has(path string) bool {
	clean, err := guardPath(path)
	if err != nil {
		return false
	}
	full := filepath.Join(a.root, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

func (a *dirArchive) List() ([]string, error) {
	var out []string
	err := filepath.WalkDir(a.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("list %s: %v", a.root, err)}
	}
	return out, nil
}

func (a *dirArchive) Close() error { return nil }

type zipArchive struct {
	reader *zip.ReadCloser
}

func (a *zipArchive) find(clean string) *zip.File {
	for _, f := range a.reader.File {
		if filepath.ToSlash(filepath.Clean(f.Name)) == clean {
			return f
		}
	}
	return nil
}

func (a *zipArchive) Read(path string) ([]byte, error) {
	clean, err := guardPath(path)
	if err != nil {
		return nil, err
	}
	f := a.find(clean)
	if f == nil {
		return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("file not found in archive: %s", path)}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("open %s: %v", path, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &flasherr.ArchiveError{Detail: fmt.Sprintf("read %s: %v", path, err)}
	}
	return data, nil
}

func (a *zipArchive) Has(path string) bool {
	clean, err := guardPath(path)
	if err != nil {
		return false
	}
	return a.find(clean) != nil
}

func (a *zipArchive) List() ([]string, error) {
	out := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		out = append(out, filepath.ToSlash(filepath.Clean(f.Name)))
	}
	return out, nil
}

func (a *zipArchive) Close() error {
	return a.reader.Close()
}

// ContentAddress returns the BLAKE2b-256 digest of data, hex-encoded.
// The executor computes it for every resolved DataOrFile payload
// (SPEC_FULL.md domain stack); the digest is not attached to progress
// events or to manifest validation.
func ContentAddress(data []byte) string {
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
