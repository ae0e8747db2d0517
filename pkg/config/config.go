package config

import "time"

// AppConfig holds the global application configuration
type AppConfig struct {
	StateDir           string           `yaml:"state_dir"`
	LocalStoragePath   string           `yaml:"local_storage_path"`
	LogLevel           string           `yaml:"log_level,omitempty"`
	Server             ServerConfig     `yaml:"server,omitempty"`
	Queue              QueueConfig      `yaml:"queue,omitempty"`
	Processor          ProcessorConfig  `yaml:"processor,omitempty"`
	Monitor            MonitorConfig    `yaml:"monitor,omitempty"`
	Scheduler          SchedulerConfig  `yaml:"scheduler,omitempty"`
	RateLimit          RateLimitConfig  `yaml:"rate_limit,omitempty"`
	Retention          RetentionConfig  `yaml:"retention,omitempty"`
	Discovery          DiscoveryConfig  `yaml:"discovery,omitempty"`
	Fetch              FetchConfig      `yaml:"fetch,omitempty"`
	Archive            ArchiveConfig    `yaml:"archive,omitempty"`
	Subtitles          SubtitleConfig   `yaml:"subtitles,omitempty"`
	Supervisor         SupervisorConfig `yaml:"supervisor,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	DBGCInterval       time.Duration    `yaml:"db_gc_interval,omitempty"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr,omitempty"`
	APIKey          string        `yaml:"api_key,omitempty"` // Empty disables X-API-Key checks
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// QueueConfig configures the serialized job lane
type QueueConfig struct {
	MinInterval time.Duration `yaml:"min_interval,omitempty"` // Minimum spacing between job starts
}

// ProcessorConfig configures per-job item processing
type ProcessorConfig struct {
	Workers      int `yaml:"workers,omitempty"`
	DefaultLimit int `yaml:"default_limit,omitempty"`
	MaxLimit     int `yaml:"max_limit,omitempty"`
}

// MonitorConfig configures the watch-list poller
type MonitorConfig struct {
	Enabled                *bool         `yaml:"enabled,omitempty"`
	CheckInterval          time.Duration `yaml:"check_interval,omitempty"`
	SourcePause            time.Duration `yaml:"source_pause,omitempty"`
	DefaultIntervalMinutes int           `yaml:"default_interval_minutes,omitempty"`
	NoWatermark            *bool         `yaml:"no_watermark,omitempty"` // Monitor jobs; defaults to true
}

// SchedulerConfig configures recurring templates
type SchedulerConfig struct {
	Enabled            *bool `yaml:"enabled,omitempty"`
	MinIntervalMinutes int   `yaml:"min_interval_minutes,omitempty"`
}

// RateLimitConfig configures the inbound limiter
type RateLimitConfig struct {
	Enabled           *bool         `yaml:"enabled,omitempty"`
	RequestsPerMinute int           `yaml:"requests_per_minute,omitempty"`
	Burst             int           `yaml:"burst,omitempty"`
	SweepInterval     time.Duration `yaml:"sweep_interval,omitempty"`
	IdleTTL           time.Duration `yaml:"idle_ttl,omitempty"`
	ExemptPaths       []string      `yaml:"exempt_paths,omitempty"`
}

// RetentionConfig configures the local artifact sweeper
type RetentionConfig struct {
	Enabled  *bool         `yaml:"enabled,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	MaxAge   time.Duration `yaml:"max_age,omitempty"`
}

// DiscoveryConfig configures the discovery strategy chain
type DiscoveryConfig struct {
	Strategies    []string      `yaml:"strategies,omitempty"` // Ordered: "page", "ytdlp"
	BaseURL       string        `yaml:"base_url,omitempty"`
	UserAgent     string        `yaml:"user_agent,omitempty"`
	RespectRobots bool          `yaml:"respect_robots,omitempty"`
	DelayPerHost  time.Duration `yaml:"delay_per_host,omitempty"`
	YTDLPPath     string        `yaml:"ytdlp_path,omitempty"`
	YTDLPTimeout  time.Duration `yaml:"ytdlp_timeout,omitempty"`
}

// FetchConfig configures the content fetch strategy chain
type FetchConfig struct {
	Strategies         []string      `yaml:"strategies,omitempty"` // Ordered: "direct", "page", "youtube"
	MaxRetries         int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay,omitempty"`
	MaxRequestsPerHost int           `yaml:"max_requests_per_host,omitempty"`
	MaxFileSizeBytes   int64         `yaml:"max_file_size_bytes,omitempty"`
	SemaphoreTimeout   time.Duration `yaml:"semaphore_timeout,omitempty"`
}

// ArchiveConfig configures the external store strategy chain
type ArchiveConfig struct {
	Roots         []string `yaml:"roots,omitempty"` // Ordered mount points; the first that accepts the file wins
	BaseFolder    string   `yaml:"base_folder,omitempty"`
	WriteMetadata *bool    `yaml:"write_metadata,omitempty"`
}

// SubtitleConfig configures optional subtitle generation
type SubtitleConfig struct {
	Enabled bool          `yaml:"enabled,omitempty"`
	Command string        `yaml:"command,omitempty"`
	Args    []string      `yaml:"args,omitempty"` // {input} and {output} are substituted
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SupervisorConfig configures restart backoff for background loops
type SupervisorConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// boolOr dereferences an optional flag with a fallback
func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// MonitorEnabled reports whether the watch-list poller should run
func (c *AppConfig) MonitorEnabled() bool { return boolOr(c.Monitor.Enabled, true) }

// MonitorNoWatermark reports whether monitor jobs ask for the watermark-free rendition
func (c *AppConfig) MonitorNoWatermark() bool { return boolOr(c.Monitor.NoWatermark, true) }

// SchedulerEnabled reports whether recurring templates should fire
func (c *AppConfig) SchedulerEnabled() bool { return boolOr(c.Scheduler.Enabled, true) }

// RateLimitEnabled reports whether the inbound limiter is installed
func (c *AppConfig) RateLimitEnabled() bool { return boolOr(c.RateLimit.Enabled, true) }

// RetentionEnabled reports whether the local sweeper should run
func (c *AppConfig) RetentionEnabled() bool { return boolOr(c.Retention.Enabled, true) }

// WriteMetadata reports whether the archive writes a YAML sidecar per item
func (c *AppConfig) WriteMetadata() bool { return boolOr(c.Archive.WriteMetadata, true) }
