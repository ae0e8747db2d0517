package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/service"
)

const serverName = "clip-harvester"

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	Transport string // "stdio" or "sse"
	Port      int
	Version   string
}

// Server exposes the service surface as MCP tools
type Server struct {
	mcpServer *server.MCPServer
	svc       *service.Service
	cfg       ServerConfig
	log       *logrus.Entry
	tools     int
}

// NewServer creates a new MCP server instance
func NewServer(svc *service.Service, cfg ServerConfig, logger *logrus.Entry) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = "stdio"
	}

	s := &Server{
		mcpServer: server.NewMCPServer(serverName, cfg.Version, server.WithLogging()),
		svc:       svc,
		cfg:       cfg,
		log:       logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools++
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	selector := []mcp.ToolOption{
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Enum("profile", "hashtag", "explore"),
			mcp.Description("Listing kind to harvest"),
		),
		mcp.WithString("value",
			mcp.Description("Profile handle or hashtag; ignored for explore"),
		),
	}

	// Jobs
	s.addTool(mcp.NewTool("create_job", append([]mcp.ToolOption{
		mcp.WithDescription("Queue a harvest job. Returns immediately with the job record."),
		mcp.WithNumber("limit", mcp.Description("Items to harvest, 1-20")),
		mcp.WithBoolean("no_watermark", mcp.Description("Prefer watermark-free renditions (default true)")),
		mcp.WithString("folder_override", mcp.Description("External folder instead of <mode>/<value>")),
		mcp.WithString("since", mcp.Description("Only items posted at or after this RFC3339 time")),
		mcp.WithString("until", mcp.Description("Only items posted at or before this RFC3339 time")),
	}, selector...)...), s.handleCreateJob)

	s.addTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List jobs, newest first"),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithString("mode", mcp.Description("Filter by mode")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default: 20)")),
	), s.handleListJobs)

	s.addTool(mcp.NewTool("get_job",
		mcp.WithDescription("Get a job with its items"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID")),
	), s.handleGetJob)

	s.addTool(mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending or running job"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID")),
	), s.handleCancelJob)

	s.addTool(mcp.NewTool("delete_job",
		mcp.WithDescription("Delete a job that is not running, with its items"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID")),
	), s.handleDeleteJob)

	// Items
	s.addTool(mcp.NewTool("list_items",
		mcp.WithDescription("List items of a job in discovery order, or all items newest first"),
		mcp.WithString("job_id", mcp.Description("Owning job (optional)")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of items (default: 50)")),
	), s.handleListItems)

	s.addTool(mcp.NewTool("retry_item",
		mcp.WithDescription("Queue another fetch/store attempt for an item that is not stored"),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("The item ID")),
	), s.handleRetryItem)

	// Sources
	s.addTool(mcp.NewTool("add_source",
		mcp.WithDescription("Watch a profile or hashtag and harvest each new item"),
		mcp.WithString("value", mcp.Required(), mcp.Description("Profile handle or hashtag")),
		mcp.WithString("mode", mcp.Enum("profile", "hashtag"), mcp.Description("Defaults to profile")),
		mcp.WithString("interval", mcp.Description("Poll interval such as 30m, 6h or 1d")),
	), s.handleAddSource)

	s.addTool(mcp.NewTool("remove_source",
		mcp.WithDescription("Stop watching a source; its history is kept"),
		mcp.WithString("value", mcp.Required(), mcp.Description("Profile handle or hashtag")),
	), s.handleRemoveSource)

	s.addTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List watched sources and the monitor status"),
	), s.handleListSources)

	s.addTool(mcp.NewTool("check_sources",
		mcp.WithDescription("Start a monitor cycle now"),
	), s.handleCheckSources)

	// Templates
	s.addTool(mcp.NewTool("create_template", append([]mcp.ToolOption{
		mcp.WithDescription("Save a job shape that runs on a fixed interval"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Template name, 1-100 characters")),
		mcp.WithString("interval", mcp.Required(), mcp.Description("Run interval such as 30m, 6h or 1d (minimum 5m)")),
		mcp.WithNumber("limit", mcp.Description("Items per run, 1-20")),
		mcp.WithBoolean("no_watermark", mcp.Description("Prefer watermark-free renditions (default true)")),
		mcp.WithString("folder_override", mcp.Description("External folder instead of <mode>/<value>")),
	}, selector...)...), s.handleCreateTemplate)

	s.addTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List recurrence templates"),
	), s.handleListTemplates)

	s.addTool(mcp.NewTool("toggle_template",
		mcp.WithDescription("Enable or disable a template"),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("The template ID")),
	), s.handleToggleTemplate)

	s.addTool(mcp.NewTool("delete_template",
		mcp.WithDescription("Delete a template"),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("The template ID")),
	), s.handleDeleteTemplate)

	// Maintenance
	s.addTool(mcp.NewTool("get_stats",
		mcp.WithDescription("Counts of jobs, items, templates and sources, plus queue depth"),
	), s.handleGetStats)

	s.addTool(mcp.NewTool("run_cleanup",
		mcp.WithDescription("Delete expired local files now"),
	), s.handleRunCleanup)

	s.log.Infof("Registered %d MCP tools", s.tools)
}

// Run serves the configured transport until ctx ends
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		err := server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && (ctx.Err() != nil || errors.Is(err, io.EOF)) {
			return nil
		}
		return err
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		errCh := make(chan error, 1)
		go func() { errCh <- sseServer.Start(addr) }()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			s.log.Info("Shutting down MCP server...")
			return sseServer.Shutdown(context.Background())
		}
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}
