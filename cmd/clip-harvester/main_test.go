package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
state_dir: "./state"
processor:
  workers: 3
archive:
  roots: ["/mnt/a", "/mnt/b"]
`)

	cfg, _, err := loadConfig(cfgPath, "")

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Processor.Workers)
	assert.Equal(t, []string{"/mnt/a", "/mnt/b"}, cfg.Archive.Roots)
	assert.Equal(t, 10, cfg.Processor.DefaultLimit, "defaults applied by validation")
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, _, err := loadConfig("", "")

	require.NoError(t, err)
	assert.Equal(t, "./harvester_state", cfg.StateDir)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, _, err := loadConfig("/nonexistent/path/config.yaml", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, _, err := loadConfig(cfgPath, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate_Valid(t *testing.T) {
	cfgPath := writeConfig(t, `
discovery:
  strategies: ["page"]
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout.String(), "discovery=[page]")
	assert.Contains(t, stdout.String(), "Configuration valid")
	assert.Empty(t, stderr.String())
}

func TestDoValidate_UnknownStrategy(t *testing.T) {
	cfgPath := writeConfig(t, `
fetch:
  strategies: ["carrier-pigeon"]
`)

	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR")
	assert.NotContains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent/config.yaml", "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "read config")
}

func TestDoStats(t *testing.T) {
	stateDir := t.TempDir()
	quiet := logrus.New()
	quiet.SetOutput(&bytes.Buffer{})

	store, err := storage.NewBadgerStore(stateDir, logrus.NewEntry(quiet))
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(&models.Job{
		ID:     "job-1",
		Mode:   models.SelectorProfile,
		Value:  "someone",
		Limit:  1,
		Status: models.JobStatusCompleted,
	}))
	require.NoError(t, store.Close())

	cfgPath := writeConfig(t, "state_dir: \""+stateDir+"\"\n")

	var stdout, stderr bytes.Buffer
	exitCode := doStats(cfgPath, "", &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	var stats models.Stats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.Jobs[models.JobStatusCompleted])
}

func TestDoTree(t *testing.T) {
	downloads := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(downloads, "profile", "alice"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(downloads, "profile", "alice", "1.mp4"), []byte("abc"), 0644))
	archiveRoot := t.TempDir()

	cfgPath := writeConfig(t, "local_storage_path: \""+downloads+"\"\narchive:\n  roots: [\""+archiveRoot+"\"]\n")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, doTree(cfgPath, "", treeArgs{}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "1.mp4")
	assert.Contains(t, stdout.String(), "2 directories, 1 files")

	stdout.Reset()
	require.Equal(t, 0, doTree(cfgPath, "", treeArgs{archive: true}, &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "0 directories, 0 files")

	stdout.Reset()
	assert.Equal(t, 1, doTree("", "", treeArgs{root: filepath.Join(downloads, "missing")}, &stdout, &stderr))
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer

	log, err := setupLogger("", "warn", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log, err = setupLogger("debug", "warn", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel(), "flag wins over config")

	log, err = setupLogger("", "", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	_, err = setupLogger("loud", "", &buf)
	assert.Error(t, err)
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands {
		names[c.Name] = true
	}
	for _, want := range []string{"serve", "mcp-server", "validate", "stats", "tree", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
