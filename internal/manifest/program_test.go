package manifest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashthing/internal/flasherr"
	"flashthing/internal/manifest"
)

const minimalProgram = `{
  "metadataVersion": 1,
  "name": "test",
  "steps": [
    {"type": "log", "message": "hello"},
    {"type": "bulkcmd", "command": "reset"},
    {"type": "wait", "wait": {"type": "time", "time": 100}},
    {"type": "run", "address": "0xd9000000", "keepPower": true}
  ]
}`

func TestParseMinimalProgram(t *testing.T) {
	p, err := manifest.Parse([]byte(minimalProgram))
	require.NoError(t, err)
	require.Len(t, p.Steps, 4)

	assert.Equal(t, manifest.KindLog, p.Steps[0].Kind)
	log := p.Steps[0].Payload.(manifest.LogPayload)
	assert.Equal(t, "hello", log.Message)

	assert.Equal(t, manifest.KindWait, p.Steps[2].Kind)
	wait := p.Steps[2].Payload.(manifest.WaitPayload)
	assert.Equal(t, manifest.WaitTime, wait.Type)
	assert.EqualValues(t, 100, wait.Time.Uint64())

	run := p.Steps[3].Payload.(manifest.RunPayload)
	assert.Equal(t, uint32(0xd9000000), run.Address.Uint32())
	assert.True(t, run.KeepPower)
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := manifest.Parse([]byte(`{"metadataVersion": 1, "bogus": true, "steps": []}`))
	require.Error(t, err)
	var merr *flasherr.ManifestError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "/bogus", merr.Pointer)
}

func TestParseRejectsWrongMetadataVersion(t *testing.T) {
	_, err := manifest.Parse([]byte(`{"metadataVersion": 2, "steps": []}`))
	require.Error(t, err)
	var merr *flasherr.ManifestError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "/metadataVersion", merr.Pointer)
}

func TestParseRejectsUnknownStepType(t *testing.T) {
	_, err := manifest.Parse([]byte(`{"metadataVersion": 1, "steps": [{"type": "frobnicate"}]}`))
	require.Error(t, err)
	var merr *flasherr.ManifestError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "/steps/0/type", merr.Pointer)
}

func TestParseAcceptsForwardCompatibleUnsupportedStep(t *testing.T) {
	p, err := manifest.Parse([]byte(`{"metadataVersion": 1, "steps": [{"type": "identify"}]}`))
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, manifest.KindIdentify, p.Steps[0].Kind)
	assert.Nil(t, p.Steps[0].Payload)
	assert.True(t, p.Steps[0].Kind.IsUnsupported())
}

func TestParseRejectsExtraFieldOnStep(t *testing.T) {
	_, err := manifest.Parse([]byte(`{"metadataVersion": 1, "steps": [{"type": "log", "message": "hi", "extra": true}]}`))
	require.Error(t, err)
}

func TestParseMarshalRoundTrip(t *testing.T) {
	p, err := manifest.Parse([]byte(minimalProgram))
	require.NoError(t, err)

	out, err := manifest.Marshal(p)
	require.NoError(t, err)

	p2, err := manifest.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, p.Name, p2.Name)
	require.Len(t, p2.Steps, len(p.Steps))
	for i := range p.Steps {
		assert.Equal(t, p.Steps[i].Kind, p2.Steps[i].Kind)
	}
}

func TestFlexUintAcceptsDecimalHexAndNumber(t *testing.T) {
	cases := []struct {
		json string
		want uint64
	}{
		{`100`, 100},
		{`"100"`, 100},
		{`"0xd9000000"`, 0xd9000000},
		{`"0Xff"`, 0xff},
	}
	for _, tc := range cases {
		var f manifest.FlexUint
		require.NoError(t, f.UnmarshalJSON([]byte(tc.json)), tc.json)
		assert.Equal(t, tc.want, f.Uint64(), tc.json)
	}
}

func TestFlexUintRejectsNegative(t *testing.T) {
	var f manifest.FlexUint
	assert.Error(t, f.UnmarshalJSON([]byte(`-1`)))
}
