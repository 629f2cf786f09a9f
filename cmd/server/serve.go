package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brandon/mailsync/internal/engine"
	"github.com/brandon/mailsync/internal/mcp"
	"github.com/brandon/mailsync/internal/tools"
)

var serveNoMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and serve the MCP tools on stdio",
	Long: `Run the background sync engine.

The scheduler runs quick syncs, deep syncs with body prefetch and the daily
cache sweep. Unless --no-mcp is given the MCP tools are served on stdio.
When metrics.addr is configured Prometheus metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := engine.New(cfg, logger)
		if err != nil {
			return err
		}
		defer closeEngine(e)
		if err := e.Start(ctx); err != nil {
			return err
		}
		logger.WithField("version", Version).Info("Starting mailsync")

		if cfg.Metrics.Addr != "" {
			srv := metricsServer(cfg.Metrics.Addr, e)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		if serveNoMCP {
			<-ctx.Done()
		} else {
			server := mcp.NewServer(tools.NewRegistry(e, logger), Version, logger)
			if err := server.Run(ctx); err != nil {
				logger.WithError(err).Error("Server error")
			}
		}

		logger.Info("Shutting down mailsync")
		return nil
	},
}

func metricsServer(addr string, e *engine.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()
	return srv
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoMCP, "no-mcp", false, "Run only the scheduler, without the stdio MCP server")
	rootCmd.AddCommand(serveCmd)
}
