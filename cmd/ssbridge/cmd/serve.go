package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/ssbridge/internal/fetch"
	internalhttp "github.com/jmylchreest/ssbridge/internal/http"
	"github.com/jmylchreest/ssbridge/internal/http/handlers"
	"github.com/jmylchreest/ssbridge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversion proxy",
	Long: `Start the ssbridge HTTP server.

The server provides:
- GET /fragments?url=&start=&end=&t=&encrypted= returning converted fragments
- GET /healthz and /livez health checks
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	serverConfig := cfg.Server
	if cmd.Flags().Changed("host") {
		serverConfig.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		serverConfig.Port, _ = cmd.Flags().GetInt("port")
	}

	client := newHTTPClient()
	info := version.GetInfo()

	server := internalhttp.NewServer(serverConfig, logger, info.Version)
	handlers.NewHealthHandler(info.Version).WithOrigin(client).Register(server.API())
	handlers.NewFragmentHandler(fetch.NewHTTPFetcher(client, logger)).
		WithRetry(cfg.Fetch.RetryAttempts, cfg.Fetch.RetryDelay).
		WithLogger(logger).
		Register(server.API())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("starting ssbridge server",
		slog.String("address", serverConfig.Address()),
		slog.String("version", info.Version),
	)

	return server.ListenAndServe(ctx)
}
