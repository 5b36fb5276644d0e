package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.jsonc"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstore.jsonc")
	body := `{
  // where the write-ahead log lives
  "wal_path": "/var/lib/kvstore/wal.log",
  "stripe_count": 128,
  "max_key_bytes": 2048,
  "max_value_bytes": 65536,
  "fsync_on_append": false,
  "listen_addr": "127.0.0.1:9090", // overrides the default port
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kvstore/wal.log", cfg.WALPath)
	assert.Equal(t, 128, cfg.StripeCount)
	assert.Equal(t, uint32(2048), cfg.MaxKeyBytes)
	assert.Equal(t, uint32(65536), cfg.MaxValueBytes)
	assert.False(t, cfg.FsyncOnAppend)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
}

func TestLoad_PartialFileInheritsRemainingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstore.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"stripe_count": 16}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.StripeCount)
	assert.Equal(t, Default().WALPath, cfg.WALPath)
	assert.Equal(t, Default().FsyncOnAppend, cfg.FsyncOnAppend)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstore.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{not valid json at all`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEngineConfig_ProjectsMatchingFields(t *testing.T) {
	cfg := Default()
	cfg.WALPath = "custom.log"
	cfg.StripeCount = 32

	ec := cfg.EngineConfig()
	assert.Equal(t, "custom.log", ec.WALPath)
	assert.Equal(t, 32, ec.StripeCount)
	assert.Equal(t, cfg.MaxKeyBytes, ec.MaxKeyBytes)
	assert.Equal(t, cfg.MaxValueBytes, ec.MaxValueBytes)
	assert.Equal(t, cfg.FsyncOnAppend, ec.FsyncOnAppend)
}
