package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/clip-harvester/pkg/archive"
	"github.com/Sriram-PR/clip-harvester/pkg/config"
	"github.com/Sriram-PR/clip-harvester/pkg/discover"
	"github.com/Sriram-PR/clip-harvester/pkg/fetch"
	"github.com/Sriram-PR/clip-harvester/pkg/harvest"
	"github.com/Sriram-PR/clip-harvester/pkg/queue"
	"github.com/Sriram-PR/clip-harvester/pkg/ratelimit"
	"github.com/Sriram-PR/clip-harvester/pkg/retention"
	"github.com/Sriram-PR/clip-harvester/pkg/schedule"
	"github.com/Sriram-PR/clip-harvester/pkg/service"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/subtitle"
	"github.com/Sriram-PR/clip-harvester/pkg/supervise"
	"github.com/Sriram-PR/clip-harvester/pkg/watch"
)

// app holds every long-lived component of a running process
type app struct {
	cfg     *config.AppConfig
	log     *logrus.Logger
	store   *storage.BadgerStore
	queue   *queue.JobQueue
	runner  *harvest.Runner
	monitor *watch.Monitor
	engine  *schedule.Engine
	sweeper *retention.Sweeper
	limiter *ratelimit.Limiter // nil when rate limiting is disabled
	hosts   *fetch.HostGate
	svc     *service.Service
}

// buildApp wires the collaborator chains, the processor and the service from cfg.
// cfg must already be validated.
func buildApp(cfg *config.AppConfig, log *logrus.Logger) (*app, error) {
	entry := func(component string) *logrus.Entry { return log.WithField("component", component) }

	store, err := storage.NewBadgerStore(cfg.StateDir, entry("storage"))
	if err != nil {
		return nil, err
	}

	httpClient := fetch.NewClient(cfg.HTTPClientSettings, entry("http"))
	requester := fetch.NewRequester(httpClient, fetch.RetryPolicy{
		MaxRetries:   cfg.Fetch.MaxRetries,
		InitialDelay: cfg.Fetch.InitialRetryDelay,
		MaxDelay:     cfg.Fetch.MaxRetryDelay,
	}, entry("requester"))
	hostDelay := fetch.NewRateLimiter(cfg.Discovery.DelayPerHost, entry("host_delay"))
	hosts := fetch.NewHostGate(cfg.Fetch.MaxRequestsPerHost, entry("host_gate"))

	disc, err := buildDiscovery(cfg, requester, hostDelay, entry("discover"))
	if err != nil {
		store.Close()
		return nil, err
	}
	fetcher, err := buildFetch(cfg, httpClient, requester, hosts, entry("fetch"))
	if err != nil {
		store.Close()
		return nil, err
	}
	storer := buildArchive(cfg, entry("archive"))

	var subtitler harvest.Subtitler
	if cfg.Subtitles.Enabled {
		subtitler = subtitle.NewCommandGenerator(cfg.Subtitles.Command, cfg.Subtitles.Args, cfg.Subtitles.Timeout, entry("subtitle"))
	}

	q := queue.NewJobQueue(cfg.Queue.MinInterval, entry("queue"))
	proc := harvest.NewProcessor(store, disc, fetcher, storer, subtitler, harvest.Options{
		Workers:   cfg.Processor.Workers,
		LocalRoot: cfg.LocalStoragePath,
	}, entry("processor"))
	runner := harvest.NewRunner(store, q, proc, entry("runner"))

	monitor := watch.NewMonitor(store, disc, runner, watch.Options{
		CheckInterval:          cfg.Monitor.CheckInterval,
		SourcePause:            cfg.Monitor.SourcePause,
		DefaultIntervalMinutes: cfg.Monitor.DefaultIntervalMinutes,
		Watermarked:            !cfg.MonitorNoWatermark(),
	}, entry("monitor"))
	engine := schedule.NewEngine(store, runner, entry("schedule"))
	sweeper := retention.NewSweeper(store, cfg.Retention.Interval, cfg.Retention.MaxAge, entry("retention"))

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled() {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, entry("ratelimit"))
	}

	svc := service.New(store, runner, monitor, engine, sweeper, service.Options{
		DefaultLimit:       cfg.Processor.DefaultLimit,
		MaxLimit:           cfg.Processor.MaxLimit,
		MinTemplateMinutes: cfg.Scheduler.MinIntervalMinutes,
	}, entry("service"))

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		queue:   q,
		runner:  runner,
		monitor: monitor,
		engine:  engine,
		sweeper: sweeper,
		limiter: limiter,
		hosts:   hosts,
		svc:     svc,
	}, nil
}

func buildDiscovery(cfg *config.AppConfig, requester *fetch.Requester, hostDelay *fetch.RateLimiter, log *logrus.Entry) (harvest.Discoverer, error) {
	var robots *fetch.RobotsHandler
	if cfg.Discovery.RespectRobots {
		robots = fetch.NewRobotsHandler(requester, hostDelay, cfg.Discovery.UserAgent, log)
	}
	var strategies []discover.Strategy
	for _, name := range cfg.Discovery.Strategies {
		switch name {
		case "page":
			strategies = append(strategies, discover.NewPageStrategy(requester, hostDelay, robots, discover.PageOptions{
				BaseURL:      cfg.Discovery.BaseURL,
				UserAgent:    cfg.Discovery.UserAgent,
				DelayPerHost: cfg.Discovery.DelayPerHost,
			}, log))
		case "ytdlp":
			s := discover.NewYTDLPStrategy(discover.YTDLPOptions{
				Path:    cfg.Discovery.YTDLPPath,
				BaseURL: cfg.Discovery.BaseURL,
				Timeout: cfg.Discovery.YTDLPTimeout,
			}, log)
			if !s.Available() {
				log.Warnf("yt-dlp not found at '%s', skipping ytdlp discovery", cfg.Discovery.YTDLPPath)
				continue
			}
			strategies = append(strategies, s)
		default:
			return nil, fmt.Errorf("unknown discovery strategy '%s'", name)
		}
	}
	return discover.NewChain(log, strategies...), nil
}

func buildFetch(cfg *config.AppConfig, client *http.Client, requester *fetch.Requester, hosts *fetch.HostGate, log *logrus.Entry) (harvest.Fetcher, error) {
	dl := fetch.NewDownloader(requester, hosts, fetch.DownloadOptions{
		UserAgent:        cfg.Discovery.UserAgent,
		Referer:          cfg.Discovery.BaseURL + "/",
		MaxFileSizeBytes: cfg.Fetch.MaxFileSizeBytes,
		SemaphoreTimeout: cfg.Fetch.SemaphoreTimeout,
	}, log)
	var strategies []fetch.Strategy
	for _, name := range cfg.Fetch.Strategies {
		switch name {
		case "direct":
			strategies = append(strategies, fetch.NewDirectStrategy(dl))
		case "page":
			strategies = append(strategies, fetch.NewPageResolver(dl, cfg.Discovery.BaseURL, cfg.Discovery.UserAgent, log))
		case "youtube":
			strategies = append(strategies, fetch.NewYouTubeStrategy(client, cfg.Fetch.MaxFileSizeBytes, log))
		default:
			return nil, fmt.Errorf("unknown fetch strategy '%s'", name)
		}
	}
	return fetch.NewChain(log, strategies...), nil
}

func buildArchive(cfg *config.AppConfig, log *logrus.Entry) harvest.Storer {
	var strategies []archive.Strategy
	for _, root := range cfg.Archive.Roots {
		strategies = append(strategies, archive.NewFolderStore(root, cfg.Archive.BaseFolder, cfg.WriteMetadata(), log))
	}
	return archive.NewChain(log, strategies...)
}

// start resumes interrupted work and launches the background loops under g.
// Each loop is supervised and restarts on failure until ctx ends.
func (a *app) start(ctx context.Context, g *errgroup.Group) error {
	if _, err := a.runner.Resume(); err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}

	opts := supervise.Options{
		InitialBackoff: a.cfg.Supervisor.InitialBackoff,
		MaxBackoff:     a.cfg.Supervisor.MaxBackoff,
	}
	loopLog := a.log.WithField("component", "supervisor")
	loop := func(name string, fn supervise.LoopFunc) {
		g.Go(func() error { return supervise.Run(ctx, name, fn, opts, loopLog) })
	}

	if a.cfg.SchedulerEnabled() {
		if err := a.engine.Start(ctx); err != nil {
			return err
		}
	}
	if a.cfg.MonitorEnabled() {
		loop("monitor", a.monitor.Run)
	}
	if a.cfg.RetentionEnabled() {
		loop("retention", a.sweeper.Run)
	}
	if a.limiter != nil {
		loop("ratelimit_sweeper", func(ctx context.Context) error {
			return a.limiter.RunSweeper(ctx, a.cfg.RateLimit.SweepInterval, a.cfg.RateLimit.IdleTTL)
		})
	}
	loop("badger_gc", func(ctx context.Context) error {
		return a.store.RunGC(ctx, a.cfg.DBGCInterval)
	})
	loop("host_eviction", func(ctx context.Context) error {
		return a.hosts.Sweep(ctx, 0)
	})
	return nil
}

// shutdown stops the engine and the queue, then closes the store
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.engine.Stop(ctx); err != nil {
		a.log.Warnf("Recurrence engine did not stop cleanly: %v", err)
	}
	if err := a.queue.Stop(ctx); err != nil {
		a.log.Warnf("Job queue did not drain: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Errorf("Error closing store: %v", err)
	}
}
