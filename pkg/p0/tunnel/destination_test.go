package tunnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	cases := []struct {
		raw  string
		want Destination
	}{
		// a leading / is local even when the path contains a colon
		{"/a/b:c", Destination{Path: "/a/b:c"}},
		{"./a:b", Destination{Path: "./a:b"}},
		{"../up:side", Destination{Path: "../up:side"}},
		{"plain.txt", Destination{Path: "plain.txt"}},
		{"host:/a/b", Destination{Host: "host", Path: "/a/b"}},
		{"db.internal:backup.sql", Destination{Host: "db.internal", Path: "backup.sql"}},
		{"scp://host:1234/a", Destination{Host: "host", Port: 1234, Path: "/a"}},
		{"scp://host/a/b", Destination{Host: "host", Path: "/a/b"}},
	}
	for _, tc := range cases {
		got, err := ParseDestination(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseDestinationRejectsEmptyAndHostless(t *testing.T) {
	_, err := ParseDestination("")
	assert.Error(t, err)

	_, err = ParseDestination("scp:///a/b")
	assert.Error(t, err)
}

func TestDestinationString(t *testing.T) {
	assert.Equal(t, "/a/b", Destination{Path: "/a/b"}.String())
	assert.Equal(t, "host:/a", Destination{Host: "host", Path: "/a"}.String())
	assert.Equal(t, "host:22:/a", Destination{Host: "host", Port: 22, Path: "/a"}.String())
	assert.False(t, Destination{Path: "/a"}.Remote())
	assert.True(t, Destination{Host: "h"}.Remote())
}
