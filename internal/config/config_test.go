package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("INSO_DATADIR", "/tmp/inso")

	path := writeConfig(t, `
node:
  datadir: ${INSO_DATADIR}
mempool:
  max_size_bytes: 1000
producer:
  enabled: true
  block_time: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/inso", cfg.Node.DataDir)
	require.Equal(t, uint64(1000), cfg.Mempool.MaxSizeBytes)
	require.Equal(t, 60_000, cfg.Mempool.RecentlyEvictedCacheSize, "untouched keys keep defaults")
	require.True(t, cfg.Producer.Enabled)
	require.Equal(t, 2*time.Second, cfg.Producer.BlockTime)
	require.Equal(t, uint64(524288), cfg.Consensus.MaxBlockSizeBytes)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
mempool:
  max_size_bytes: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_size_bytes")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
