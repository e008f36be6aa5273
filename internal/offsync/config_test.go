package offsync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  origin: http://origin.local/
assets:
  version: v7
  critical: [/app.js]
sessions:
  endpoint: /api/sessions
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://origin.local", cfg.Server.Origin)
	assert.Equal(t, "assets-v7", cfg.Assets.BucketName())
	assert.Equal(t, "/index.html", cfg.Assets.Shell)
	// the shell is always part of the critical wave
	assert.Equal(t, []string{"/index.html", "/app.js"}, cfg.Assets.Critical)
	assert.Equal(t, "http://origin.local/api/sessions", cfg.Sessions.Endpoint)
	assert.Equal(t, "http", cfg.Connectivity.Probe)
	assert.Equal(t, 5*time.Second, cfg.Connectivity.everyDur)
	assert.Equal(t, float64(5), cfg.Queue.ReplayPerSec)
}

func TestLoadConfigRequiresOrigin(t *testing.T) {
	path := writeConfig(t, `
assets:
  version: v1
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.origin")
}

func TestLoadConfigRequiresAssetVersion(t *testing.T) {
	path := writeConfig(t, `
server:
  origin: http://o
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assets.version")
}

func TestLoadConfigRejectsBadPrefix(t *testing.T) {
	path := writeConfig(t, `
server:
  origin: http://o
assets:
  version: v1
api:
  prefixes: [api/]
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.prefixes[0]")
}

func TestLoadConfigRejectsUnknownProbe(t *testing.T) {
	path := writeConfig(t, `
server:
  origin: http://o
assets:
  version: v1
connectivity:
  probe: carrier-pigeon
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connectivity.probe")
}

func TestLoadConfigParsesSizesAndDurations(t *testing.T) {
	path := writeConfig(t, `
server:
  origin: http://o
assets:
  version: v1
storage:
  maxValue: 2mb
connectivity:
  every: 30s
logging:
  logStatsEvery: 1m
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), cfg.Storage.maxValueBytes)
	assert.Equal(t, 30*time.Second, cfg.Connectivity.everyDur)
	assert.Equal(t, time.Minute, cfg.Logging.logStatsEveryDur)
}

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{
		"512":   512,
		"512b":  512,
		"1k":    1024,
		"1.5kb": 1536,
		"2m":    2 * 1024 * 1024,
		"1g":    1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "x", "-1k"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}
}
