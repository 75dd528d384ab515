package mcp

import (
	"context"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"pkt.systems/pslog"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/store"
)

const (
	serverName    = "tokenguard"
	serverVersion = "0.1.0"
)

const (
	toolGuardStatus     = "guard.status"
	toolLockAcquire     = "guard.lock.acquire"
	toolLockRelease     = "guard.lock.release"
	toolAttemptsReset   = "guard.attempts.reset"
	toolPayloadValidate = "guard.payload.validate"
	toolEventsList      = "guard.events.list"
)

const serverInstructions = `tokenguard guards wallet token operations with per-identity operation
locks, failure throttling, and an advisory validation pipeline.

Start with guard.status to see table sizes and configured limits. Use
guard.lock.acquire and guard.lock.release for manual intervention on an
(identity, kind) slot; kinds are validation, issuance, and transaction.
guard.attempts.reset lifts a throttle block for one failure identifier.
guard.payload.validate dry-runs the schema gate and the advisory checks
against an asset payload without taking any lock. guard.events.list reviews
recorded guard events when an audit store is configured.

Tool failures return a JSON envelope with a stable error_code field.`

// Server serves the guard tool surface over MCP.
type Server struct {
	guard  *tokenguard.Guard
	store  store.AuditStore
	logger pslog.Logger
	mcp    *mcpsdk.Server
}

// Option configures the Server.
type Option func(*Server)

// WithStore wires an audit store so guard.events.list can serve queries.
func WithStore(st store.AuditStore) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithLogger sets the logger for tool diagnostics.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer builds the MCP facade for one guard instance.
func NewServer(guard *tokenguard.Guard, opts ...Option) *Server {
	s := &Server{
		guard:  guard,
		logger: pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, &mcpsdk.ServerOptions{
		Instructions: serverInstructions,
	})
	s.registerTools(s.mcp)
	return s
}

// Handler returns the streamable HTTP handler for the guard tool surface.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(_ *http.Request) *mcpsdk.Server {
		return s.mcp
	}, nil)
}

// Run serves a single stdio MCP session until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools(srv *mcpsdk.Server) {
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolGuardStatus,
		Description: "Report lock and attempt table sizes plus the guard's configured limits.",
	}, withGuardToolErrors(s.handleGuardStatusTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolLockAcquire,
		Description: "Manually acquire the operation lock for an (identity, kind) slot. Bypasses throttling and validation; intended for operator intervention.",
	}, withGuardToolErrors(s.handleLockAcquireTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolLockRelease,
		Description: "Release the operation lock for an (identity, kind) slot before its TTL lapses.",
	}, withGuardToolErrors(s.handleLockReleaseTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolAttemptsReset,
		Description: "Clear the failure record for one identifier, lifting its throttle block.",
	}, withGuardToolErrors(s.handleAttemptsResetTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolPayloadValidate,
		Description: "Dry-run the schema gate and advisory validation checks against an asset payload. Takes no lock and records no failure.",
	}, withGuardToolErrors(s.handlePayloadValidateTool))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolEventsList,
		Description: "List recorded guard events, most recent first. Requires a configured audit store.",
	}, withGuardToolErrors(s.handleEventsListTool))
}
