package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  postgres_dsn: "postgres://localhost/ragcore"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "memory", cfg.Storage.VectorStoreKind)
	require.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	require.Equal(t, 4, cfg.Training.MaxWorkers)
	require.Equal(t, 60, cfg.Retrieval.RRFK)
	require.Equal(t, "X-Signature", cfg.Webhook.SignatureHeader)
	require.Equal(t, "ragcore", cfg.OTel.ServiceName)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  bogus_field: "nope"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RAGCORE_TEST_KEY", "from-env")
	require.Equal(t, "from-env", EnvOverride("RAGCORE_TEST_KEY", "default"))
	require.Equal(t, "default", EnvOverride("RAGCORE_TEST_KEY_UNSET", "default"))
}
