package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings
const (
	EnvAPIKey           = "HARVESTER_API_KEY"
	EnvStateDir         = "HARVESTER_STATE_DIR"
	EnvLocalStoragePath = "HARVESTER_LOCAL_STORAGE_PATH"
	EnvListenAddr       = "HARVESTER_LISTEN_ADDR"
	EnvLogLevel         = "HARVESTER_LOG_LEVEL"
)

// Load reads the YAML file at path, loads envFile into the process environment
// when it exists, and applies HARVESTER_* overrides. Validation is left to the caller.
// An empty path yields a zero config so that defaults and env alone can drive the service.
func Load(path, envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is injectable for tests.
func (c *AppConfig) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		c.Server.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvStateDir)); v != "" {
		c.StateDir = v
	}
	if v := strings.TrimSpace(getenv(EnvLocalStoragePath)); v != "" {
		c.LocalStoragePath = v
	}
	if v := strings.TrimSpace(getenv(EnvListenAddr)); v != "" {
		c.Server.ListenAddr = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
}
