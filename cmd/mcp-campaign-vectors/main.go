package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/app"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/config"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/logging"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/metrics"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/opsapi"
	"github.com/ZanzyTHEbar/mcp-campaign-vectors-go/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "mcp-campaign-vectors",
		Short:         "Resilient vector search for campaign entities over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildinfo.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, v, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LoggingConfig())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, v, logger)
		},
	}
	f := root.Flags()
	f.StringVar(&configFile, "config", "", "path to a YAML config file")
	f.String("libsql-url", "", "libSQL database URL (env LIBSQL_URL)")
	f.String("auth-token", "", "libSQL auth token (env LIBSQL_AUTH_TOKEN)")
	f.String("campaigns-dir", "", "directory holding one database per campaign")
	f.String("transport", "stdio", "MCP transport: stdio or sse")
	f.String("addr", ":8080", "SSE listen address")
	f.String("sse-endpoint", "/sse", "SSE endpoint path")
	f.String("ops-addr", "", "operations API listen address; empty disables it")
	f.String("log-level", "info", "log level")
	f.String("embeddings", "", "embeddings provider: openai, ollama, eino, hash")
	f.Int("embedding-dims", 768, "embedding dimensions")

	root.AddCommand(newValidateCmd(&configFile), newVersionCmd())
	return root
}

func serve(ctx context.Context, cfg *config.Config, v *viper.Viper, logger *zap.Logger) error {
	if cfg.Metrics.Prometheus {
		h, err := metrics.Enable()
		if err != nil {
			return fmt.Errorf("enable metrics: %w", err)
		}
		if h != nil && cfg.Server.OpsAddr == "" && cfg.Metrics.Addr != "" {
			go serveMetrics(ctx, cfg.Metrics.Addr, h, logger)
		}
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	// Only the local vector settings are applied without a restart.
	if v.ConfigFileUsed() != "" {
		config.Watch(ctx, v, func(next *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload rejected", zap.Error(err))
				return
			}
			logger.Info("config reloaded", zap.String("file", v.ConfigFileUsed()))
			if err := a.Service.UpdateLocalVectorConfig(next.LocalVectorConfig()); err != nil {
				logger.Warn("local vector config not applied", zap.Error(err))
			}
		})
	}
	logger.Info("vector service started",
		zap.String("version", buildinfo.Version),
		zap.Stringer("level", a.Service.Level()),
		zap.String("transport", cfg.Server.Transport),
	)

	mcpServer := server.NewMCPServer(a.Service, cfg.Embeddings.Dimensions, logger)
	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()
	g.Go(func() error {
		// the MCP server returning stops everything else
		defer stop()
		if cfg.Server.Transport == "sse" {
			return mcpServer.RunSSE(gctx, cfg.Server.Addr, cfg.Server.SSEEndpoint)
		}
		return mcpServer.Run(gctx)
	})
	if cfg.Server.OpsAddr != "" {
		ops := opsapi.New(a.Service, logger, cfg.Logging.Level == "debug")
		g.Go(func() error { return ops.Run(gctx, cfg.Server.OpsAddr) })
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func newValidateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load(*configFile, nil)
			if err != nil {
				return err
			}
			cfg.Database.AuthToken = redact(cfg.Database.AuthToken)
			cfg.Embeddings.APIKey = redact(cfg.Embeddings.APIKey)
			cfg.Redis.Password = redact(cfg.Redis.Password)
			cfg.Milvus.Password = redact(cfg.Milvus.Password)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (revision %s, built %s)\n",
				cmd.Root().Name(), buildinfo.Version, buildinfo.Revision, buildinfo.BuildDate)
		},
	}
}
