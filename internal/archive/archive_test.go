package archive_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/archive"
	"flashthing/internal/flasherr"
)

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestDirArchiveReadHasList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "partitions"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partitions", "boot.img"), []byte("bootdata"), 0o644))

	a, err := archive.Open(dir)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Has("meta.json"))
	assert.False(t, a.Has("nonexistent"))

	data, err := a.Read("partitions/boot.img")
	require.NoError(t, err)
	assert.Equal(t, "bootdata", string(data))

	list, err := a.List()
	require.NoError(t, err)
	assert.Contains(t, list, "meta.json")
	assert.Contains(t, list, "partitions/boot.img")
}

func TestDirArchiveRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	a, err := archive.Open(dir)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Read("../../etc/passwd")
	var pt *flasherr.PathTraversal
	require.ErrorAs(t, err, &pt)
}

func TestZipArchiveReadHasList(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeTestZip(t, zipPath, map[string]string{
		"meta.json":           "{}",
		"partitions/boot.img": "bootdata",
	})

	a, err := archive.Open(zipPath)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Has("meta.json"))
	data, err := a.Read("partitions/boot.img")
	require.NoError(t, err)
	assert.Equal(t, "bootdata", string(data))

	list, err := a.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"meta.json", "partitions/boot.img"}, list)
}

func TestZipArchiveRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	writeTestZip(t, zipPath, map[string]string{"meta.json": "{}"})

	a, err := archive.Open(zipPath)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Read("../outside.txt")
	var pt *flasherr.PathTraversal
	require.ErrorAs(t, err, &pt)
}

func TestOpenRejectsUnrecognizedArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := archive.Open(path)
	var aerr *flasherr.ArchiveError
	require.ErrorAs(t, err, &aerr)
}

func TestContentAddressIsStableAndDistinct(t *testing.T) {
	a1 := archive.ContentAddress([]byte("hello"))
	a2 := archive.ContentAddress([]byte("hello"))
	a3 := archive.ContentAddress([]byte("world"))

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, a3)
	assert.Len(t, a1, 64) // 32-byte BLAKE2b-256 digest, hex-encoded
}
