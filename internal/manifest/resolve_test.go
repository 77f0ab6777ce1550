package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/manifest"
)

func TestValidateAgainstArchiveCatchesMissingFile(t *testing.T) {
	program := `{
	  "metadataVersion": 1,
	  "steps": [
	    {"type": "restorePartition", "name": "boot", "data": {"filePath": "boot.img"}}
	  ]
	}`
	p, err := manifest.Parse([]byte(program))
	require.NoError(t, err)

	err = manifest.ValidateAgainstArchive(p, stubReader{})
	assert.Error(t, err)

	err = manifest.ValidateAgainstArchive(p, stubReader{"boot.img": []byte("x")})
	assert.NoError(t, err)
}

func TestValidateAgainstArchiveIgnoresInlineData(t *testing.T) {
	program := `{
	  "metadataVersion": 1,
	  "steps": [
	    {"type": "writeSimpleMemory", "address": 0, "data": [1,2,3]},
	    {"type": "log", "message": "hi"}
	  ]
	}`
	p, err := manifest.Parse([]byte(program))
	require.NoError(t, err)

	assert.NoError(t, manifest.ValidateAgainstArchive(p, stubReader{}))
}
