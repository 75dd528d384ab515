package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	guardhttp "github.com/tokenguard/tokenguard/http"
	guardmcp "github.com/tokenguard/tokenguard/mcp"
	"github.com/tokenguard/tokenguard/metrics"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the guard HTTP API (plus optional metrics and MCP listeners)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runServe(cmd.Context(), loggerWithLevel(baseLogger), configFromViper())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", defaultListen, "HTTP API listen address")
	flags.String("metrics-listen", "", "Prometheus listen address (empty disables)")
	flags.String("mcp-listen", "", "MCP streamable HTTP listen address (empty disables)")
	for _, name := range []string{"listen", "metrics-listen", "mcp-listen"} {
		mustBindFlag(name, flags)
	}
	return cmd
}

// listener pairs a purpose name with its HTTP server for logging and
// shutdown.
type listener struct {
	name   string
	server *http.Server
}

func runServe(ctx context.Context, logger pslog.Logger, cfg config) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.sweeper.Start(ctx)
	logger.Info("starting guardd",
		"pid", os.Getpid(),
		"store", cfg.Store,
		"lockTtl", cfg.LockTTL.String(),
		"maxAttempts", cfg.MaxAttempts,
		"attemptWindow", cfg.AttemptWindow.String(),
	)

	api := guardhttp.NewServer(a.guard,
		guardhttp.WithLogger(logger),
		guardhttp.WithAuditStore(a.store),
	)
	listeners := []listener{{
		name: "api",
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.registry))
		listeners = append(listeners, listener{
			name: "metrics",
			server: &http.Server{
				Addr:              cfg.MetricsListen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			},
		})
	}

	if cfg.MCPListen != "" {
		mcpSrv := guardmcp.NewServer(a.guard,
			guardmcp.WithStore(a.store),
			guardmcp.WithLogger(logger),
		)
		mux := http.NewServeMux()
		mux.Handle("/mcp", mcpSrv.Handler())
		listeners = append(listeners, listener{
			name: "mcp",
			server: &http.Server{
				Addr:              cfg.MCPListen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			},
		})
	}

	return serveAll(ctx, logger, listeners)
}

// serveAll runs every listener until the context is canceled or one fails,
// then drains them all within the shutdown timeout.
func serveAll(ctx context.Context, logger pslog.Logger, listeners []listener) error {
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		logger.Info("listening", "name", l.name, "addr", l.server.Addr)
		go func() {
			if err := l.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("listener failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, l := range listeners {
		if err := l.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "name", l.name, "error", err)
		}
	}
	return runErr
}
