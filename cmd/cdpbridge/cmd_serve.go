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

	"cdpbridge/internal/audit"
	"cdpbridge/internal/config"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/mcp"
	"cdpbridge/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser tools over MCP on stdin/stdout",
	Long: `Starts the MCP tool server. Requests are read from stdin and replies written
to stdout, so all logging goes to stderr or the configured log file.

The browser is launched lazily on the first tool call and terminated when
the client disconnects or the process receives SIGINT/SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New(true)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: rec.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logging.Boot("metrics listening on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Get(logging.CategoryBoot).Error("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			if !verbose {
				logging.SetLevel(c.Logging.Level)
			}
			logging.Get(logging.CategoryConfig).Info("reloaded %s (level %s)", configPath, logging.Level())
		})
		if err != nil && ctx.Err() == nil {
			logging.Get(logging.CategoryConfig).Warn("config watch stopped: %v", err)
		}
	}()

	bridge := newBridge(rec)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.GetTerminateGrace()+5*time.Second)
		defer cancel()
		if _, err := bridge.Close(closeCtx); err != nil {
			logging.Get(logging.CategoryBoot).Warn("close browser: %v", err)
		}
	}()

	server := mcp.NewServer(mcp.ServerInfo{Name: "cdpbridge", Version: version}, bridge, audit.New(bridge))
	logging.Boot("cdpbridge %s serving MCP on stdio", version)
	return server.Serve(ctx, mcp.Stdio{Reader: os.Stdin, Writer: os.Stdout})
}
