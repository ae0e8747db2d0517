// Package api serves the service surface over HTTP with echo.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/config"
	"github.com/Sriram-PR/clip-harvester/pkg/log"
	"github.com/Sriram-PR/clip-harvester/pkg/ratelimit"
	"github.com/Sriram-PR/clip-harvester/pkg/service"
)

const apiKeyHeader = "X-API-Key"

// publicPaths bypass the API key check
var publicPaths = map[string]struct{}{"/": {}, "/health": {}, "/docs": {}}

// Server is the HTTP surface
type Server struct {
	echo    *echo.Echo
	svc     *service.Service
	cfg     config.ServerConfig
	version string
	log     *logrus.Entry
}

// NewServer builds the echo instance and registers every route.
// limiter may be nil to disable inbound rate limiting.
func NewServer(svc *service.Service, cfg config.ServerConfig, limiter *ratelimit.Limiter, exempt []string, version string, logger *logrus.Entry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, svc: svc, cfg: cfg, version: version, log: logger}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(log.EchoRequestLogger(logger))
	if limiter != nil {
		e.Use(limiter.Middleware(exempt))
	}
	if cfg.APIKey != "" {
		e.Use(s.requireAPIKey)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/", s.info)
	e.GET("/health", s.health)
	e.GET("/docs", s.docs)

	v1 := e.Group("/api/v1")

	v1.POST("/jobs", s.createJob)
	v1.GET("/jobs", s.listJobs)
	v1.GET("/jobs/:id", s.getJob)
	v1.POST("/jobs/:id/cancel", s.cancelJob)
	v1.DELETE("/jobs/:id", s.deleteJob)

	v1.GET("/items", s.listItems)
	v1.GET("/items/:id", s.getItem)
	v1.POST("/items/:id/retry", s.retryItem)
	v1.GET("/items/:id/download", s.downloadItem)
	v1.GET("/items/:id/stream", s.streamItem)

	v1.POST("/sources", s.addSource)
	v1.GET("/sources", s.listSources)
	v1.POST("/sources/check", s.checkSources)
	v1.GET("/sources/status", s.monitorStatus)
	v1.DELETE("/sources/:value", s.removeSource)

	v1.POST("/templates", s.createTemplate)
	v1.GET("/templates", s.listTemplates)
	v1.GET("/templates/:id", s.getTemplate)
	v1.PUT("/templates/:id", s.updateTemplate)
	v1.DELETE("/templates/:id", s.deleteTemplate)
	v1.POST("/templates/:id/toggle", s.toggleTemplate)

	v1.GET("/stats", s.stats)
	v1.POST("/cleanup/run", s.runCleanup)
	v1.GET("/cleanup/status", s.cleanupStatus)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on the configured address until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP API listening on %s", s.cfg.ListenAddr)
		errCh <- s.echo.StartServer(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.log.Info("HTTP API shutting down...")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := publicPaths[c.Request().URL.Path]; ok {
			return next(c)
		}
		got := c.Request().Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
			return c.JSON(http.StatusUnauthorized, errorBody{Detail: "Invalid or missing API key"})
		}
		return next(c)
	}
}

func (s *Server) info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"name":    "clip-harvester",
		"version": s.version,
		"docs":    "/docs",
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Health())
}

type routeInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (s *Server) docs(c echo.Context) error {
	var routes []routeInfo
	for _, r := range s.echo.Routes() {
		routes = append(routes, routeInfo{Method: r.Method, Path: r.Path})
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return c.JSON(http.StatusOK, map[string]any{"routes": routes})
}
