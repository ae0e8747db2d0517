package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/clip-harvester/pkg/api"
	"github.com/Sriram-PR/clip-harvester/pkg/config"
	"github.com/Sriram-PR/clip-harvester/pkg/mcp"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// loadConfig reads, overrides from the environment and validates the configuration
func loadConfig(path, envFile string) (*config.AppConfig, []string, error) {
	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// setupLogger builds the process logger. The flag wins over the config level.
func setupLogger(flagLevel, cfgLevel string, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})

	raw := flagLevel
	if raw == "" {
		raw = cfgLevel
	}
	if raw == "" {
		raw = "info"
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", raw, err)
	}
	log.SetLevel(level)
	return log, nil
}

// prepare loads config and the logger shared by the long-running commands
func prepare(configPath, envFile, logLevel string, logOut, stderr io.Writer) (*config.AppConfig, *logrus.Logger, bool) {
	cfg, warnings, err := loadConfig(configPath, envFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return nil, nil, false
	}
	log, err := setupLogger(logLevel, cfg.LogLevel, logOut)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, nil, false
	}
	for _, w := range warnings {
		log.Warn(w)
	}
	logAppConfig(cfg, log)
	return cfg, log, true
}

// doServe runs the HTTP API and every background loop until ctx ends
func doServe(ctx context.Context, configPath, envFile, logLevel string, stdout, stderr io.Writer) int {
	cfg, log, ok := prepare(configPath, envFile, logLevel, stderr, stderr)
	if !ok {
		return 1
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error starting: %v\n", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := a.start(gctx, g); err != nil {
		fmt.Fprintf(stderr, "Error starting: %v\n", err)
		a.shutdown()
		return 1
	}
	srv := api.NewServer(a.svc, cfg.Server, a.limiter, cfg.RateLimit.ExemptPaths, version, log.WithField("component", "api"))
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	a.shutdown()
	if err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Shutdown complete.")
	return 0
}

// doMCPServer runs the MCP surface and the background loops until ctx ends.
// Logs go to stderr because the stdio transport owns stdout.
func doMCPServer(ctx context.Context, configPath, envFile, logLevel, transport string, port int, stderr io.Writer) int {
	cfg, log, ok := prepare(configPath, envFile, logLevel, stderr, stderr)
	if !ok {
		return 1
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error starting: %v\n", err)
		return 1
	}

	server, err := mcp.NewServer(a.svc, mcp.ServerConfig{Transport: transport, Port: port, Version: version}, log.WithField("component", "mcp"))
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		a.shutdown()
		return 1
	}

	// A stdio client hanging up ends the server; the loops go with it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if err := a.start(gctx, g); err != nil {
		fmt.Fprintf(stderr, "Error starting: %v\n", err)
		a.shutdown()
		return 1
	}
	log.Infof("Starting MCP server (transport: %s)", transport)
	g.Go(func() error {
		defer cancel()
		return server.Run(gctx)
	})

	err = g.Wait()
	a.shutdown()
	if err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}
	return 0
}

// doValidate is the testable implementation of the validate command
func doValidate(configPath, envFile string, stdout, stderr io.Writer) int {
	cfg, warnings, err := loadConfig(configPath, envFile)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: state_dir=%s local_storage_path=%s\n", cfg.StateDir, cfg.LocalStoragePath)
	fmt.Fprintf(stdout, "OK: discovery=%v fetch=%v archive_roots=%v\n", cfg.Discovery.Strategies, cfg.Fetch.Strategies, cfg.Archive.Roots)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// doStats opens the state directory read-only and prints aggregate counts
func doStats(configPath, envFile string, stdout, stderr io.Writer) int {
	cfg, _, err := loadConfig(configPath, envFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	store, err := storage.NewBadgerStore(cfg.StateDir, logrus.NewEntry(quiet))
	if err != nil {
		fmt.Fprintf(stderr, "Error opening state (is the service running?): %v\n", err)
		return 1
	}
	defer store.Close()

	st, err := store.Stats()
	if err != nil {
		fmt.Fprintf(stderr, "Error reading stats: %v\n", err)
		return 1
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(b))
	return 0
}

type treeArgs struct {
	root    string
	archive bool
	sizes   bool
}

// doTree prints a downloads or archive directory. An explicit root wins.
func doTree(configPath, envFile string, args treeArgs, stdout, stderr io.Writer) int {
	root := args.root
	if root == "" {
		cfg, _, err := loadConfig(configPath, envFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
		root = cfg.LocalStoragePath
		if args.archive {
			root = cfg.Archive.Roots[0]
		}
	}

	quiet := logrus.New()
	quiet.SetOutput(stderr)
	quiet.SetLevel(logrus.WarnLevel)
	if _, err := utils.WriteTree(stdout, root, utils.TreeOptions{Sizes: args.sizes}, logrus.NewEntry(quiet)); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// logAppConfig logs the effective settings once at startup
func logAppConfig(cfg *config.AppConfig, log *logrus.Logger) {
	log.Info("--- Effective Configuration ---")
	log.Infof("State dir: %s, local storage: %s", cfg.StateDir, cfg.LocalStoragePath)
	log.Infof("Listen: %s, API key required: %t", cfg.Server.ListenAddr, cfg.Server.APIKey != "")
	log.Infof("Queue min interval: %v, workers per job: %d, limit %d (max %d)",
		cfg.Queue.MinInterval, cfg.Processor.Workers, cfg.Processor.DefaultLimit, cfg.Processor.MaxLimit)
	log.Infof("Discovery: %v via %s, fetch: %v, archive roots: %v",
		cfg.Discovery.Strategies, cfg.Discovery.BaseURL, cfg.Fetch.Strategies, cfg.Archive.Roots)

	enabled := map[string]bool{
		"monitor":    cfg.MonitorEnabled(),
		"scheduler":  cfg.SchedulerEnabled(),
		"rate_limit": cfg.RateLimitEnabled(),
		"retention":  cfg.RetentionEnabled(),
		"subtitles":  cfg.Subtitles.Enabled,
	}
	names := make([]string, 0, len(enabled))
	for k := range enabled {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		log.Debugf("Feature %s enabled: %t", k, enabled[k])
	}
	log.Info("-----------------------------")
}
