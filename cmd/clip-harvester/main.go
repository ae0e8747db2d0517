package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const version = "0.4.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are accepted by every command that loads configuration
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML config file (optional; defaults and HARVESTER_* env apply without one)",
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "Environment file loaded before HARVESTER_* overrides",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "loglevel",
			Usage: "Log level (debug, info, warn, error); overrides log_level from config",
		},
	}
}

// exit turns a doX status code into the error urfave/cli reports
func exit(code int) error {
	if code == 0 {
		return nil
	}
	return cli.Exit("", code)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "clip-harvester",
		Usage:   "Harvest short-form video clips into an archive on demand, on a schedule or as sources post",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API with the monitor, scheduler and retention loops",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return exit(doServe(ctx, cmd.String("config"), cmd.String("env"), cmd.String("loglevel"), os.Stdout, os.Stderr))
				},
			},
			{
				Name:  "mcp-server",
				Usage: "Run the MCP server (stdio or SSE) with the background loops",
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:  "transport",
						Usage: "Transport type (stdio, sse)",
						Value: "stdio",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "HTTP port for the sse transport",
						Value: 8080,
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return exit(doMCPServer(ctx, cmd.String("config"), cmd.String("env"), cmd.String("loglevel"),
						cmd.String("transport"), int(cmd.Int("port")), os.Stderr))
				},
			},
			{
				Name:  "validate",
				Usage: "Check the configuration and print the effective warnings",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return exit(doValidate(cmd.String("config"), cmd.String("env"), os.Stdout, os.Stderr))
				},
			},
			{
				Name:  "stats",
				Usage: "Print record counts from the state directory (the service must be stopped)",
				Flags: commonFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return exit(doStats(cmd.String("config"), cmd.String("env"), os.Stdout, os.Stderr))
				},
			},
			{
				Name:  "tree",
				Usage: "Print the local downloads directory (or an archive root) as a tree",
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:  "root",
						Usage: "Directory to print; defaults to local_storage_path",
					},
					&cli.BoolFlag{
						Name:  "archive",
						Usage: "Print the first archive root instead of local storage",
					},
					&cli.BoolFlag{
						Name:  "sizes",
						Usage: "Show file sizes",
					},
				),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return exit(doTree(cmd.String("config"), cmd.String("env"), treeArgs{
						root:    cmd.String("root"),
						archive: cmd.Bool("archive"),
						sizes:   cmd.Bool("sizes"),
					}, os.Stdout, os.Stderr))
				},
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Fprintf(os.Stdout, "clip-harvester %s\n", version)
					return nil
				},
			},
		},
	}
}
