package offsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidKey(t *testing.T) {
	valid := []string{"a", "offlineQueue", "session.123", "a-b_c.d", strings.Repeat("k", 256)}
	for _, k := range valid {
		assert.True(t, validKey(k), "expected %q valid", k)
	}

	invalid := []string{"", "bad key!", "a/b", "emoji😀", strings.Repeat("k", 257), "sp ace"}
	for _, k := range invalid {
		assert.False(t, validKey(k), "expected %q invalid", k)
	}
}

func TestSanitizeStringStripsScripts(t *testing.T) {
	cases := map[string]string{
		"hello <script>alert(1)</script>world": "hello world",
		"<SCRIPT src=x>":                       "",
		"click javascript:alert(1)":            "click alert(1)",
		`<img onerror=alert(1)>`:               "<img alert(1)>",
		"plain text stays":                     "plain text stays",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeString(in))
	}
}

func TestSanitizeStringCapsLength(t *testing.T) {
	long := strings.Repeat("x", maxStringLen+500)
	assert.Len(t, sanitizeString(long), maxStringLen)
}

func TestSanitizeValueWalksTree(t *testing.T) {
	in := map[string]any{
		"name": "a<script>b</script>c",
		"nested": map[string]any{
			"list": []any{"javascript:x", float64(7), true, nil},
		},
	}
	out, err := sanitizeValue(in)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "ac", m["name"])
	list := m["nested"].(map[string]any)["list"].([]any)
	assert.Equal(t, "x", list[0])
	assert.Equal(t, float64(7), list[1])
	assert.Equal(t, true, list[2])
	assert.Nil(t, list[3])
}

func TestSanitizeValueRejectsBadObjectKey(t *testing.T) {
	_, err := sanitizeValue(map[string]any{"bad key!": "v"})
	require.ErrorIs(t, err, ErrInvalidValue)
}
