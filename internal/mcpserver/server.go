// Package mcpserver exposes job control to MCP clients over stdio. Tools
// cover the full lifecycle (run, status, logs, stop) plus destination
// management, and read-only resources mirror job state under job:// and
// log:// URIs.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nixpig/agentd/internal/job"
	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/target"
	"github.com/nixpig/agentd/internal/tmux"
)

const serverName = "agentd"

// Server wires job control into an MCP server.
type Server struct {
	mcp       *server.MCPServer
	store     *store.Store
	tmux      *tmux.Client
	resolver  *target.Resolver
	launcher  *job.Launcher
	control   *job.Control
	session   string
	cliWindow string
	logger    *slog.Logger
}

// New builds the MCP server and registers all tools and resources.
func New(
	version string,
	st *store.Store,
	tm *tmux.Client,
	resolver *target.Resolver,
	launcher *job.Launcher,
	control *job.Control,
	session string,
	cliWindow string,
	logger *slog.Logger,
) *Server {
	s := &Server{
		store:     st,
		tmux:      tm,
		resolver:  resolver,
		launcher:  launcher,
		control:   control,
		session:   session,
		cliWindow: cliWindow,
		logger:    logger,
	}

	s.mcp = server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)

	s.registerTools()
	s.registerResources()

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("run",
		mcp.WithDescription("Start a shell command as a detached background job. Returns a token immediately; a completion message is sent to the destination pane when the job exits."),
		mcp.WithString("cmd", mcp.Required(), mcp.Description("Shell command to run")),
		mcp.WithString("target", mcp.Description("Explicit destination pane, e.g. main:1.0")),
		mcp.WithString("target_key", mcp.Description("Named destination recorded with set_target or bootstrap")),
		mcp.WithNumber("wait_seconds", mcp.Description("Wait up to this long for the job to finish before returning")),
	), s.handleRun)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Report job state and exit code. Without a token, lists all known jobs."),
		mcp.WithString("token", mcp.Description("Job token; omit to list all jobs")),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool("logs",
		mcp.WithDescription("Read a job's captured output."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Job token")),
		mcp.WithNumber("tail", mcp.Description("Return only the last N lines")),
	), s.handleLogs)

	s.mcp.AddTool(mcp.NewTool("stop",
		mcp.WithDescription("Forcefully terminate a running job. Idempotent."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Job token")),
	), s.handleStop)

	s.mcp.AddTool(mcp.NewTool("bootstrap",
		mcp.WithDescription("Create the job session and a control window, and record its pane as a named destination."),
		mcp.WithString("window", mcp.Description("Control window name")),
		mcp.WithString("key", mcp.Description("Destination key to record, defaults to 'default'")),
	), s.handleBootstrap)

	s.mcp.AddTool(mcp.NewTool("set_target",
		mcp.WithDescription("Record a pane address under a named key for later use as a destination."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Destination key")),
		mcp.WithString("target", mcp.Description("Pane address to record; defaults to the caller's own pane")),
	), s.handleSetTarget)

	s.mcp.AddTool(mcp.NewTool("get_target",
		mcp.WithDescription("Look up a recorded destination by key."),
		mcp.WithString("key", mcp.Description("Destination key, defaults to 'default'")),
	), s.handleGetTarget)

	s.mcp.AddTool(mcp.NewTool("list_targets",
		mcp.WithDescription("List all recorded destinations."),
	), s.handleListTargets)
}

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate("job://{token}", "Job status",
			mcp.WithTemplateDescription("Status record for a single job"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.readJobResource,
	)

	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate("log://{token}", "Job log",
			mcp.WithTemplateDescription("Captured output of a single job"),
			mcp.WithTemplateMIMEType("text/plain"),
		),
		s.readLogResource,
	)
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd, err := req.RequireString("cmd")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	dest, err := s.resolveDestination(
		req.GetString("target", ""),
		req.GetString("target_key", ""),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := job.Options{}
	if wait := req.GetFloat("wait_seconds", 0); wait > 0 {
		opts.WaitBudget = time.Duration(wait * float64(time.Second))
	}

	tok, err := s.launcher.Launch(ctx, cmd, dest, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("job started", "token", tok, "destination", dest)

	if opts.WaitBudget > 0 {
		if status, ok, _ := s.store.ExitStatus(tok); ok {
			return mcp.NewToolResultText(fmt.Sprintf("token: %s\nstate: done\nrc: %d", tok, status.Code)), nil
		}
	}

	return mcp.NewToolResultText(fmt.Sprintf("token: %s\ndestination: %s", tok, dest)), nil
}

// resolveDestination picks the pane completion messages go to. An explicit
// address wins, then a named key. With neither, the caller's own pane is
// used when the server runs inside tmux, falling back to automatic
// discovery otherwise.
func (s *Server) resolveDestination(explicit, key string) (target.Address, error) {
	switch {
	case explicit != "":
		return s.resolver.Resolve(target.Request{Explicit: explicit})
	case key != "":
		return s.resolver.Resolve(target.Request{Named: key})
	}

	dest, err := s.resolver.ResolveSelf()
	if err == nil {
		return dest, nil
	}
	if !errors.Is(err, target.ErrOutsideTmux) {
		return target.Address{}, err
	}

	return s.resolver.Resolve(target.Request{})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tok := req.GetString("token", "")

	if tok == "" {
		statuses, err := s.control.All()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(statusesDoc(statuses))
	}

	status, err := s.control.Status(tok)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(statusDoc(status))
}

func (s *Server) handleLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tok, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := s.control.Logs(tok, req.GetInt("tail", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tok, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.control.Stop(tok); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("stopped %s", tok)), nil
}

func (s *Server) handleBootstrap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window := req.GetString("window", s.cliWindow)
	key := req.GetString("key", target.DefaultKey)

	addr, err := target.Bootstrap(s.tmux, s.store, s.session, window, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s -> %s", key, addr)), nil
}

func (s *Server) handleSetTarget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var addr target.Address
	if explicit := req.GetString("target", ""); explicit != "" {
		addr, err = target.ParseAddress(explicit)
	} else {
		addr, err = s.resolver.ResolveSelf()
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.SetTarget(key, addr.String()); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("%s -> %s", key, addr)), nil
}

func (s *Server) handleGetTarget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", target.DefaultKey)

	pane, err := s.store.Target(key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no destination recorded for '%s'", key)), nil
	}

	return mcp.NewToolResultText(pane), nil
}

func (s *Server) handleListTargets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	targets, err := s.store.Targets()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(targets) == 0 {
		return mcp.NewToolResultText("no destinations recorded"), nil
	}

	var b strings.Builder
	for _, key := range sortedKeys(targets) {
		fmt.Fprintf(&b, "%s -> %s\n", key, targets[key])
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readJobResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tok, err := uriToken(req.Params.URI, "job://")
	if err != nil {
		return nil, err
	}

	status, err := s.control.Status(tok)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(statusDoc(status), "", "  ")
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) readLogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tok, err := uriToken(req.Params.URI, "log://")
	if err != nil {
		return nil, err
	}

	data, err := s.control.Logs(tok, 0)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     string(data),
		},
	}, nil
}

func uriToken(uri, scheme string) (string, error) {
	tok := strings.TrimPrefix(uri, scheme)
	if tok == "" || tok == uri {
		return "", fmt.Errorf("invalid resource uri '%s'", uri)
	}

	return tok, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}
