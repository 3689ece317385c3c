// Command agentd-mcp exposes agentd job control to MCP clients over stdio,
// optionally mirroring the API over HTTP for non-MCP callers.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/nixpig/agentd/internal/config"
	"github.com/nixpig/agentd/internal/httpapi"
	"github.com/nixpig/agentd/internal/job"
	"github.com/nixpig/agentd/internal/mcpserver"
	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/target"
	"github.com/nixpig/agentd/internal/tmux"
)

const version = "0.0.1"

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func run(sc *serverConfig) error {
	if err := sc.validate(); err != nil {
		return err
	}

	cfg, err := config.Load(config.Overrides{
		StateDir:  sc.dir,
		LogDir:    sc.logDir,
		Session:   sc.session,
		CLIWindow: sc.cliWindow,
	})
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if sc.debug {
		level = slog.LevelDebug
	}

	// Stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(cfg.StateDir, cfg.LogDir)
	if err != nil {
		return err
	}

	runnerPath, err := job.RunnerPath()
	if err != nil {
		return err
	}

	tm := tmux.NewClient()
	resolver := target.NewResolver(tm, st, cfg.CLIWindow)
	launcher := job.NewLauncher(st, tm, cfg.Session, runnerPath, logger)
	notifier := job.NewNotifier(st, tm, logger)
	control := job.NewControl(st, tm, cfg.Session, notifier, logger)

	if sc.httpAddr != "" {
		api := httpapi.New(st, resolver, launcher, control, logger)

		go func() {
			logger.Info("serving http api", "addr", sc.httpAddr)

			if err := http.ListenAndServe(sc.httpAddr, api.Router()); err != nil {
				logger.Error("http api", "err", err)
			}
		}()
	}

	srv := mcpserver.New(
		version,
		st,
		tm,
		resolver,
		launcher,
		control,
		cfg.Session,
		cfg.CLIWindow,
		logger,
	)

	logger.Info("serving mcp on stdio", "state_dir", cfg.StateDir, "session", cfg.Session)

	return srv.ServeStdio()
}
