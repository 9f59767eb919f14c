// Package mcp exposes the exoswitch machine controls to AI assistants over
// the Model Context Protocol.
package mcp

import (
	"context"
	"log"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const serverVersion = "0.1.0"

// MCPServer exposes exoswitch controls via MCP.
type MCPServer struct {
	api    DaemonAPI
	logger zerolog.Logger
}

// New creates an MCPServer. Call Run() to start serving on stdio.
func New(cfg Config, logger zerolog.Logger) *MCPServer {
	return &MCPServer{
		api:    NewAPIClient(cfg.Daemon.Socket),
		logger: logger.With().Str("component", "mcp").Logger(),
	}
}

// SetDaemonAPI overrides the daemon API client. Intended for testing with a mock.
func (s *MCPServer) SetDaemonAPI(api DaemonAPI) {
	s.api = api
}

// Run registers the tools and serves on stdio. It blocks until stdin is
// closed or the context is cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	srv := s.newServer()

	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	s.logger.Info().Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *MCPServer) newServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"exoswitch",
		serverVersion,
		mcpserver.WithRecovery(),
	)
	s.registerTools(srv)
	return srv
}

func (s *MCPServer) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcplib.NewTool("get_status",
			mcplib.WithDescription("Get exoswitchd status: uptime, NATS health, managed server id and API endpoint"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetStatus,
	)

	srv.AddTool(
		mcplib.NewTool("machine_status",
			mcplib.WithDescription("Check whether the game server VM is running"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleMachineStatus,
	)

	srv.AddTool(
		mcplib.NewTool("start_machine",
			mcplib.WithDescription("Start the game server VM. Returns the provider job id to poll with job_status"),
			mcplib.WithDestructiveHintAnnotation(false),
		),
		s.handleStartMachine,
	)

	srv.AddTool(
		mcplib.NewTool("stop_machine",
			mcplib.WithDescription("Stop the game server VM. Returns the provider job id to poll with job_status"),
			mcplib.WithDestructiveHintAnnotation(true),
		),
		s.handleStopMachine,
	)

	srv.AddTool(
		mcplib.NewTool("job_status",
			mcplib.WithDescription("Get the provider's async job result. jobstatus is 0 while pending, 1 on success, 2 on failure"),
			mcplib.WithString("job_id", mcplib.Required(), mcplib.Description("Job id returned by start_machine or stop_machine")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleJobStatus,
	)

	srv.AddTool(
		mcplib.NewTool("reload_config",
			mcplib.WithDescription("Reload exoswitchd configuration from disk and environment"),
		),
		s.handleReloadConfig,
	)
}
