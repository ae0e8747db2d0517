package config

import (
	"fmt"
	"time"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

var (
	knownDiscoveryStrategies = map[string]bool{"page": true, "ytdlp": true}
	knownFetchStrategies     = map[string]bool{"direct": true, "page": true, "youtube": true}
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './harvester_state'")
		c.StateDir = "./harvester_state"
	}
	if c.LocalStoragePath == "" {
		warnings = append(warnings, "local_storage_path is empty, defaulting to './downloads'")
		c.LocalStoragePath = "./downloads"
	}
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	c.validateServer()

	// Queue
	if c.Queue.MinInterval < 0 {
		warnings = append(warnings, "queue.min_interval cannot be negative, using 10s")
		c.Queue.MinInterval = 10 * time.Second
	}
	if c.Queue.MinInterval == 0 {
		c.Queue.MinInterval = 10 * time.Second
	}

	// Processor
	if c.Processor.Workers <= 0 {
		c.Processor.Workers = 5
	}
	if c.Processor.MaxLimit <= 0 {
		c.Processor.MaxLimit = 20
	}
	if c.Processor.DefaultLimit <= 0 {
		c.Processor.DefaultLimit = 10
	}
	if c.Processor.DefaultLimit > c.Processor.MaxLimit {
		warnings = append(warnings, fmt.Sprintf(
			"processor.default_limit (%d) > processor.max_limit (%d), clamping",
			c.Processor.DefaultLimit, c.Processor.MaxLimit))
		c.Processor.DefaultLimit = c.Processor.MaxLimit
	}

	// Monitor
	if c.Monitor.CheckInterval <= 0 {
		c.Monitor.CheckInterval = time.Hour
	}
	if c.Monitor.SourcePause < 0 {
		warnings = append(warnings, "monitor.source_pause cannot be negative, using 5s")
		c.Monitor.SourcePause = 5 * time.Second
	}
	if c.Monitor.SourcePause == 0 {
		c.Monitor.SourcePause = 5 * time.Second
	}
	if c.Monitor.DefaultIntervalMinutes <= 0 {
		c.Monitor.DefaultIntervalMinutes = 60
	}

	// Scheduler
	if c.Scheduler.MinIntervalMinutes <= 0 {
		c.Scheduler.MinIntervalMinutes = 5
	}

	// Rate limit
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = 5 * time.Minute
	}
	if c.RateLimit.IdleTTL <= 0 {
		c.RateLimit.IdleTTL = 5 * time.Minute
	}
	if len(c.RateLimit.ExemptPaths) == 0 {
		c.RateLimit.ExemptPaths = []string{"/", "/health", "/docs"}
	}

	// Retention
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Retention.MaxAge <= 0 {
		c.Retention.MaxAge = 24 * time.Hour
	}

	// Supervisor
	if c.Supervisor.InitialBackoff <= 0 {
		c.Supervisor.InitialBackoff = time.Second
	}
	if c.Supervisor.MaxBackoff <= 0 {
		c.Supervisor.MaxBackoff = 5 * time.Minute
	}
	if c.Supervisor.InitialBackoff > c.Supervisor.MaxBackoff {
		warnings = append(warnings, fmt.Sprintf(
			"supervisor.initial_backoff (%v) > supervisor.max_backoff (%v), using max_backoff for initial",
			c.Supervisor.InitialBackoff, c.Supervisor.MaxBackoff))
		c.Supervisor.InitialBackoff = c.Supervisor.MaxBackoff
	}

	if err := c.validateDiscovery(); err != nil {
		return warnings, err
	}
	if err := c.validateFetch(&warnings); err != nil {
		return warnings, err
	}

	// Archive
	if len(c.Archive.Roots) == 0 {
		warnings = append(warnings, "archive.roots is empty, defaulting to './archive'")
		c.Archive.Roots = []string{"./archive"}
	}
	if c.Archive.BaseFolder == "" {
		c.Archive.BaseFolder = "clips"
	}

	// Subtitles
	if c.Subtitles.Enabled && c.Subtitles.Command == "" {
		warnings = append(warnings, "subtitles.enabled is true but subtitles.command is empty, disabling subtitles")
		c.Subtitles.Enabled = false
	}
	if c.Subtitles.Timeout <= 0 {
		c.Subtitles.Timeout = 10 * time.Minute
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateServer applies defaults to the HTTP surface settings.
func (c *AppConfig) validateServer() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8000"
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Minute // Long enough to stream a clip
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 15 * time.Second
	}
}

// validateDiscovery applies defaults and rejects unknown strategy names.
func (c *AppConfig) validateDiscovery() error {
	d := &c.Discovery
	if len(d.Strategies) == 0 {
		d.Strategies = []string{"page", "ytdlp"}
	}
	for _, name := range d.Strategies {
		if !knownDiscoveryStrategies[name] {
			return fmt.Errorf("%w: unknown discovery strategy '%s'", utils.ErrConfigValidation, name)
		}
	}
	if d.BaseURL == "" {
		d.BaseURL = "https://www.tiktok.com"
	}
	if d.UserAgent == "" {
		d.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if d.DelayPerHost <= 0 {
		d.DelayPerHost = 2 * time.Second
	}
	if d.YTDLPPath == "" {
		d.YTDLPPath = "yt-dlp"
	}
	if d.YTDLPTimeout <= 0 {
		d.YTDLPTimeout = 2 * time.Minute
	}
	return nil
}

// validateFetch applies retry defaults and rejects unknown strategy names.
func (c *AppConfig) validateFetch(warnings *[]string) error {
	f := &c.Fetch
	if len(f.Strategies) == 0 {
		f.Strategies = []string{"direct", "page", "youtube"}
	}
	for _, name := range f.Strategies {
		if !knownFetchStrategies[name] {
			return fmt.Errorf("%w: unknown fetch strategy '%s'", utils.ErrConfigValidation, name)
		}
	}
	if f.MaxRetries < 0 {
		*warnings = append(*warnings, "fetch.max_retries cannot be negative, setting to 0")
		f.MaxRetries = 0
	}
	if f.MaxRetries == 0 && f.InitialRetryDelay == 0 {
		f.MaxRetries = 3
	}
	if f.MaxRetries > 0 {
		if f.InitialRetryDelay <= 0 {
			f.InitialRetryDelay = time.Second
		}
		if f.MaxRetryDelay <= 0 {
			f.MaxRetryDelay = 30 * time.Second
		}
	}
	if f.InitialRetryDelay > f.MaxRetryDelay && f.MaxRetryDelay > 0 {
		*warnings = append(*warnings, fmt.Sprintf(
			"fetch.initial_retry_delay (%v) > fetch.max_retry_delay (%v), using max_retry_delay for initial",
			f.InitialRetryDelay, f.MaxRetryDelay))
		f.InitialRetryDelay = f.MaxRetryDelay
	}
	if f.MaxRequestsPerHost <= 0 {
		f.MaxRequestsPerHost = 2
	}
	if f.MaxFileSizeBytes < 0 {
		*warnings = append(*warnings, "fetch.max_file_size_bytes cannot be negative, setting to 0 (unlimited)")
		f.MaxFileSizeBytes = 0
	}
	if f.SemaphoreTimeout <= 0 {
		f.SemaphoreTimeout = 30 * time.Second
	}
	return nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 2 * time.Minute // Clip downloads take longer than page loads
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
