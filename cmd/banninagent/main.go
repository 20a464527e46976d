// Command banninagent runs the bannin host-resident monitoring agent.
//
// Usage:
//
//	banninagent start --host 127.0.0.1 --port 8642
//	banninagent mcp --host http://127.0.0.1:8642
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/bannin-agent/bannin/internal/agent"
	"github.com/bannin-agent/bannin/internal/config"
	"github.com/bannin-agent/bannin/internal/httpapi"
	"github.com/bannin-agent/bannin/internal/mcpserver"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "banninagent",
		Short: "Host-resident resource and LLM-usage monitoring agent",
	}
	root.AddCommand(startCmd())
	root.AddCommand(mcpCmd())
	return root
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("BANNIN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func startCmd() *cobra.Command {
	var host string
	var port int
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the monitoring agent's HTTP server and background collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if host != "" || port != 0 {
				bindHost := host
				if bindHost == "" {
					bindHost = "127.0.0.1"
				}
				bindPort := port
				if bindPort == 0 {
					bindPort = 8642
				}
				cfg.HTTP.BindAddr = fmt.Sprintf("%s:%d", bindHost, bindPort)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			a, err := agent.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("build agent: %w", err)
			}
			defer a.Close()

			resolvedConfigPath := configPath
			if resolvedConfigPath == "" {
				resolvedConfigPath = config.DefaultPath()
			}
			watcher := config.NewWatcher(cfg, resolvedConfigPath, a.PriceCachePath(), logger)
			watcher.SetPriceTableRefresher(a.PriceTableRefresher())
			watcher.OnReload(func(prev, next *config.Config) {
				logger.Info("config reloaded")
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			router := gin.New()
			router.Use(gin.Recovery())
			router.Use(otelgin.Middleware("bannin-agent"))
			httpapi.RegisterRoutes(router.Group("/"), a.Handlers)

			server := &http.Server{
				Addr:    cfg.HTTP.BindAddr,
				Handler: router,
			}

			errCh := make(chan error, 3)
			go func() {
				errCh <- a.Run(ctx)
			}()
			go func() {
				if err := watcher.Run(ctx); err != nil {
					errCh <- fmt.Errorf("config watcher: %w", err)
				}
			}()
			go func() {
				logger.Info("http server listening", "addr", cfg.HTTP.BindAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("http server: %w", err)
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					logger.Error("fatal error, shutting down", "error", err)
				}
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown did not complete cleanly", "error", err)
			}

			logger.Info("bannin agent stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bind host (default 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (default 8642)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.bannin/config.yaml)")
	return cmd
}

func mcpCmd() *cobra.Command {
	var agentURL string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run a stdio MCP server that proxies tool calls to a running bannin agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := mcpserver.New(agentURL, logger)
			return server.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&agentURL, "host", "http://127.0.0.1:8642", "base URL of the running bannin agent")
	return cmd
}
