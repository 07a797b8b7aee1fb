package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 12346, cfg.GamePort)
	assert.Equal(t, 12347, cfg.HTTPPort)
	assert.True(t, cfg.HTTPService)
	assert.Equal(t, "admin_data.json", cfg.AdminDataPath)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"serverName": "test-server",
		"httpPort": 9000,
		"adminToken": "secret",
		"welcomeMessage": "hi"
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-server", cfg.ServerName)
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "secret", cfg.AdminToken)
	assert.Equal(t, "hi", cfg.WelcomeMessage)
	assert.Equal(t, 12346, cfg.GamePort) // default preserved
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "8123")
	t.Setenv("HTTP_SERVICE", "false")
	t.Setenv("ADMIN_TOKEN", "env-token")
	t.Setenv("PHIRA_MP_HOME", "/var/lib/rhyline")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.HTTPPort)
	assert.False(t, cfg.HTTPService)
	assert.Equal(t, "env-token", cfg.AdminToken)
	assert.Equal(t, "/var/lib/rhyline", cfg.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/rhyline", "admin_data.json"), cfg.AdminDataPath)
	assert.Equal(t, filepath.Join("/var/lib/rhyline", "record"), cfg.RecordDir())
}

func TestInvalidPortRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gamePort": 99999}`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
