package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/manifest"
)

type stubReader map[string][]byte

func (s stubReader) Read(path string) ([]byte, error) {
	if b, ok := s[path]; ok {
		return b, nil
	}
	return nil, assert.AnError
}

func TestDataOrFileInlineByteArray(t *testing.T) {
	var d manifest.DataOrFile
	require.NoError(t, d.UnmarshalJSON([]byte(`[1, 2, 3]`)))
	assert.False(t, d.IsFile())

	data, err := d.Resolve(stubReader{})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestDataOrFileInlineBase64(t *testing.T) {
	var d manifest.DataOrFile
	// base64 of "hi"
	require.NoError(t, d.UnmarshalJSON([]byte(`"aGk="`)))
	data, err := d.Resolve(stubReader{})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestDataOrFileFileReference(t *testing.T) {
	var d manifest.DataOrFile
	require.NoError(t, d.UnmarshalJSON([]byte(`{"filePath": "partitions/boot.img"}`)))
	assert.True(t, d.IsFile())

	r := stubReader{"partitions/boot.img": []byte("bootimg")}
	data, err := d.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, "bootimg", string(data))
}

func TestDataOrFileRejectsUnsupportedEncoding(t *testing.T) {
	var d manifest.DataOrFile
	err := d.UnmarshalJSON([]byte(`{"filePath": "x", "encoding": "utf-16"}`))
	assert.Error(t, err)
}

func TestDataOrFileMissingFileErrors(t *testing.T) {
	var d manifest.DataOrFile
	require.NoError(t, d.UnmarshalJSON([]byte(`{"filePath": "missing.bin"}`)))
	_, err := d.Resolve(stubReader{})
	assert.Error(t, err)
}

func TestNewInlineDataBypassesFileResolution(t *testing.T) {
	d := manifest.NewInlineData([]byte("raw"))
	assert.False(t, d.IsFile())
	data, err := d.Resolve(stubReader{})
	require.NoError(t, err)
	assert.Equal(t, "raw", string(data))
}

func TestStringOrFileInlineAndFile(t *testing.T) {
	var s manifest.StringOrFile
	require.NoError(t, s.UnmarshalJSON([]byte(`"hello"`)))
	text, err := s.Resolve(stubReader{})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	var f manifest.StringOrFile
	require.NoError(t, f.UnmarshalJSON([]byte(`{"filePath": "env.txt"}`)))
	text, err = f.Resolve(stubReader{"env.txt": []byte("KEY=VAL")})
	require.NoError(t, err)
	assert.Equal(t, "KEY=VAL", text)
}
