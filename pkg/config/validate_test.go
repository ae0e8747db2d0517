package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool {
	return &b
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{}
	warnings, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, "./harvester_state", cfg.StateDir)
	assert.Equal(t, "./downloads", cfg.LocalStoragePath)
	assert.Equal(t, ":8000", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Queue.MinInterval)
	assert.Equal(t, 5, cfg.Processor.Workers)
	assert.Equal(t, 10, cfg.Processor.DefaultLimit)
	assert.Equal(t, 20, cfg.Processor.MaxLimit)
	assert.Equal(t, time.Hour, cfg.Monitor.CheckInterval)
	assert.Equal(t, 5*time.Second, cfg.Monitor.SourcePause)
	assert.Equal(t, 60, cfg.Monitor.DefaultIntervalMinutes)
	assert.Equal(t, 5, cfg.Scheduler.MinIntervalMinutes)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 100, cfg.RateLimit.Burst)
	assert.ElementsMatch(t, []string{"/", "/health", "/docs"}, cfg.RateLimit.ExemptPaths)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, []string{"page", "ytdlp"}, cfg.Discovery.Strategies)
	assert.Equal(t, "https://www.tiktok.com", cfg.Discovery.BaseURL)
	assert.Equal(t, "yt-dlp", cfg.Discovery.YTDLPPath)
	assert.Equal(t, []string{"direct", "page", "youtube"}, cfg.Fetch.Strategies)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, time.Second, cfg.Fetch.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Fetch.MaxRetryDelay)
	assert.Equal(t, 2, cfg.Fetch.MaxRequestsPerHost)
	assert.Equal(t, []string{"./archive"}, cfg.Archive.Roots)
	assert.Equal(t, time.Second, cfg.Supervisor.InitialBackoff)
	assert.Equal(t, 5*time.Minute, cfg.Supervisor.MaxBackoff)
	assert.Equal(t, 10*time.Minute, cfg.DBGCInterval)

	assert.Equal(t, 2*time.Minute, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)

	assert.True(t, containsWarning(warnings, "state_dir is empty"))
	assert.True(t, containsWarning(warnings, "local_storage_path is empty"))
	assert.True(t, containsWarning(warnings, "archive.roots is empty"))
}

func TestAppConfig_Validate_ValidConfigKeepsValues(t *testing.T) {
	cfg := AppConfig{
		StateDir:         "/state",
		LocalStoragePath: "/downloads",
		Processor:        ProcessorConfig{Workers: 2, DefaultLimit: 5, MaxLimit: 15},
		Queue:            QueueConfig{MinInterval: time.Second},
		Archive:          ArchiveConfig{Roots: []string{"/mnt/a", "/mnt/b"}},
		Fetch:            FetchConfig{Strategies: []string{"youtube"}, MaxRetries: 1, InitialRetryDelay: time.Second, MaxRetryDelay: 2 * time.Second},
	}
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, cfg.Processor.Workers)
	assert.Equal(t, 5, cfg.Processor.DefaultLimit)
	assert.Equal(t, time.Second, cfg.Queue.MinInterval)
	assert.Equal(t, []string{"youtube"}, cfg.Fetch.Strategies)
	assert.Equal(t, 1, cfg.Fetch.MaxRetries)
}

func TestAppConfig_Validate_UnknownStrategies(t *testing.T) {
	tests := []struct {
		name string
		cfg  AppConfig
		msg  string
	}{
		{"discovery", AppConfig{Discovery: DiscoveryConfig{Strategies: []string{"page", "scrape"}}}, "unknown discovery strategy 'scrape'"},
		{"fetch", AppConfig{Fetch: FetchConfig{Strategies: []string{"ftp"}}}, "unknown fetch strategy 'ftp'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestAppConfig_Validate_Clamps(t *testing.T) {
	cfg := AppConfig{
		Processor:  ProcessorConfig{DefaultLimit: 50, MaxLimit: 20},
		Supervisor: SupervisorConfig{InitialBackoff: time.Hour, MaxBackoff: time.Minute},
		Fetch:      FetchConfig{MaxRetries: 2, InitialRetryDelay: time.Minute, MaxRetryDelay: time.Second},
		Subtitles:  SubtitleConfig{Enabled: true},
	}
	warnings, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Processor.DefaultLimit)
	assert.Equal(t, time.Minute, cfg.Supervisor.InitialBackoff)
	assert.Equal(t, time.Second, cfg.Fetch.InitialRetryDelay)
	assert.False(t, cfg.Subtitles.Enabled)

	assert.True(t, containsWarning(warnings, "processor.default_limit"))
	assert.True(t, containsWarning(warnings, "supervisor.initial_backoff"))
	assert.True(t, containsWarning(warnings, "fetch.initial_retry_delay"))
	assert.True(t, containsWarning(warnings, "subtitles.command is empty"))
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	cfg := AppConfig{
		Queue:   QueueConfig{MinInterval: -time.Second},
		Monitor: MonitorConfig{SourcePause: -time.Second},
		Fetch:   FetchConfig{MaxRetries: -1, MaxFileSizeBytes: -5},
	}
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Queue.MinInterval)
	assert.Equal(t, 5*time.Second, cfg.Monitor.SourcePause)
	assert.Equal(t, int64(0), cfg.Fetch.MaxFileSizeBytes)
	assert.True(t, containsWarning(warnings, "queue.min_interval cannot be negative"))
	assert.True(t, containsWarning(warnings, "fetch.max_retries cannot be negative"))
}

func TestAppConfig_EnabledFlags(t *testing.T) {
	cfg := AppConfig{}
	assert.True(t, cfg.MonitorEnabled())
	assert.True(t, cfg.SchedulerEnabled())
	assert.True(t, cfg.RateLimitEnabled())
	assert.True(t, cfg.RetentionEnabled())
	assert.True(t, cfg.WriteMetadata())
	assert.True(t, cfg.MonitorNoWatermark())

	cfg.Monitor.Enabled = boolPtr(false)
	cfg.Monitor.NoWatermark = boolPtr(false)
	cfg.Scheduler.Enabled = boolPtr(false)
	cfg.RateLimit.Enabled = boolPtr(false)
	cfg.Retention.Enabled = boolPtr(false)
	cfg.Archive.WriteMetadata = boolPtr(false)
	assert.False(t, cfg.MonitorEnabled())
	assert.False(t, cfg.SchedulerEnabled())
	assert.False(t, cfg.RateLimitEnabled())
	assert.False(t, cfg.RetentionEnabled())
	assert.False(t, cfg.WriteMetadata())
	assert.False(t, cfg.MonitorNoWatermark())
}
