package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	guardmcp "github.com/tokenguard/tokenguard/mcp"
)

func newMCPCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the guard MCP server on stdio (or over HTTP with --listen)",
		Long: `Run the guard MCP server. Without --listen the server speaks the MCP
stdio transport, the mode agent hosts spawn; logs go to stderr so stdout
stays clean for the protocol. With --listen it serves the streamable HTTP
transport under /mcp instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()
			logger := loggerWithLevel(baseLogger)
			cfg := configFromViper()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.sweeper.Start(ctx)

			srv := guardmcp.NewServer(a.guard,
				guardmcp.WithStore(a.store),
				guardmcp.WithLogger(logger),
			)

			listen, err := cmd.Flags().GetString("listen")
			if err != nil {
				return err
			}
			if listen == "" {
				logger.Info("serving mcp on stdio")
				return srv.Run(ctx)
			}

			mux := http.NewServeMux()
			mux.Handle("/mcp", srv.Handler())
			return serveAll(ctx, logger, []listener{{
				name: "mcp",
				server: &http.Server{
					Addr:              listen,
					Handler:           mux,
					ReadHeaderTimeout: 10 * time.Second,
				},
			}})
		},
	}
	cmd.Flags().String("listen", "", "serve MCP over streamable HTTP on this address instead of stdio")
	return cmd
}
