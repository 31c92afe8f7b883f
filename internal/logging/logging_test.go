package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/insoblok/inso-node/internal/config"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]any{
		"trace": log.LevelTrace,
		"DEBUG": log.LevelDebug,
		"":      log.LevelInfo,
		"warn":  log.LevelWarn,
		"error": log.LevelError,
		"crit":  log.LevelCrit,
	} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, lvl, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestSetupRotatedFile(t *testing.T) {
	defer log.SetDefault(log.Root())

	path := filepath.Join(t.TempDir(), "logs", "node.log")
	var stdout bytes.Buffer
	closer, err := setup(&config.LoggingConfig{Level: "debug", Format: "json", File: path}, &stdout)
	require.NoError(t, err)

	log.New("module", "test").Debug("hello rotator", "n", 7)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello rotator")
	require.Contains(t, stdout.String(), `"module":"test"`)
}

func TestSetupFiltersLevel(t *testing.T) {
	defer log.SetDefault(log.Root())

	var stdout bytes.Buffer
	_, err := setup(&config.LoggingConfig{Level: "warn", Format: "terminal"}, &stdout)
	require.NoError(t, err)

	log.Info("quiet")
	log.Warn("loud")
	require.NotContains(t, stdout.String(), "quiet")
	require.Contains(t, stdout.String(), "loud")
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	_, err := setup(&config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}
