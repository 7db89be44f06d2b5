package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "json", "yaml"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, Format(s), f)
	}

	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	_, err = ParseFormat("xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestWriteObject(t *testing.T) {
	obj := map[string]string{"requestId": "req-1"}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, obj))
	assert.JSONEq(t, `{"requestId": "req-1"}`, buf.String())

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, obj))
	assert.Equal(t, "requestId: req-1\n", buf.String())

	assert.Error(t, WriteObject(&buf, FormatText, obj))
}

func TestNarrator(t *testing.T) {
	var buf bytes.Buffer
	NewNarrator(&buf).Notef("Request %s submitted", "req-1")
	assert.Equal(t, "Request req-1 submitted\n", buf.String())

	Quiet().Notef("should vanish %d", 1)
}
