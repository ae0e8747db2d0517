package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
state_dir: /var/lib/harvester
local_storage_path: /tmp/clips
queue:
  min_interval: 3s
processor:
  workers: 3
monitor:
  enabled: false
  check_interval: 30m
archive:
  roots: [/mnt/drive]
  base_folder: tiktok
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/harvester", cfg.StateDir)
	assert.Equal(t, "/tmp/clips", cfg.LocalStoragePath)
	assert.Equal(t, 3*time.Second, cfg.Queue.MinInterval)
	assert.Equal(t, 3, cfg.Processor.Workers)
	assert.False(t, cfg.MonitorEnabled())
	assert.Equal(t, 30*time.Minute, cfg.Monitor.CheckInterval)
	assert.Equal(t, []string{"/mnt/drive"}, cfg.Archive.Roots)
	assert.Equal(t, "tiktok", cfg.Archive.BaseFolder)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "queue: [unclosed")
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoad_EnvFileOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	os.Unsetenv(EnvAPIKey)
	envPath := writeFile(t, ".env", "HARVESTER_API_KEY=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv(EnvAPIKey) })

	cfg, err := Load("", envPath)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Server.APIKey)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIKey:           "secret",
		EnvStateDir:         "/state",
		EnvLocalStoragePath: "/dl",
		EnvListenAddr:       ":9000",
		EnvLogLevel:         "debug",
	}
	cfg := &AppConfig{StateDir: "/from-file", Server: ServerConfig{ListenAddr: ":1"}}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "/state", cfg.StateDir)
	assert.Equal(t, "/dl", cfg.LocalStoragePath)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnv_EmptyKeepsFileValues(t *testing.T) {
	cfg := &AppConfig{StateDir: "/from-file"}
	cfg.ApplyEnv(func(string) string { return "  " })
	assert.Equal(t, "/from-file", cfg.StateDir)
}
