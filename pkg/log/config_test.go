package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestInitRebindsGlobalLogger(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "nested", "second.log")

	closeFirst, err := Init(Config{Level: "info", File: first})
	require.NoError(t, err)
	logger := L()
	logger.Info().Msg("to first")

	closeSecond, err := Init(Config{Level: "info", File: second})
	require.NoError(t, err)
	logger = L()
	logger.Info().Msg("to second")

	// Releasing the first file must not detach the current sink.
	require.NoError(t, closeFirst.Close())
	logger = L()
	logger.Info().Msg("still second")

	assert.Contains(t, readLog(t, first), "to first")
	assert.NotContains(t, readLog(t, first), "to second")
	assert.Contains(t, readLog(t, second), "to second")
	assert.Contains(t, readLog(t, second), "still second")

	require.NoError(t, closeSecond.Close())
	require.NoError(t, closeSecond.Close())
	logger = L()
	logger.Info().Msg("back on stderr")
	assert.NotContains(t, readLog(t, second), "back on stderr")
}

func TestInitWithoutFile(t *testing.T) {
	closer, err := Init(Config{Level: "off"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		" WARN ":  "warn",
		"warning": "warn",
		"off":     "disabled",
		"":        "info",
		"bogus":   "info",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in).String(), "level %q", in)
	}
}
