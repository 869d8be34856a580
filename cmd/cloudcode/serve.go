package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oriys/cloudcode/internal/api"
	"github.com/oriys/cloudcode/internal/api/controlplane"
	"github.com/oriys/cloudcode/internal/api/dataplane"
	cloudgrpc "github.com/oriys/cloudcode/internal/grpc"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/observability"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long:  "Serve function, trigger and job webhooks over HTTP, and optionally gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if grpcAddr != "" {
				cfg.Daemon.GRPCAddr = grpcAddr
			}
			if logLevel != "" {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.TracingEnabled,
				Endpoint:    cfg.Observability.TracingEndpoint,
				ServiceName: cfg.Observability.ServiceName,
				SampleRate:  cfg.Observability.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = observability.Shutdown(shutdownCtx)
			}()
			metrics.InitPrometheus(cfg.Observability.MetricsNamespace, nil)

			a, err := newApp(ctx, cfg, appOptions{withHub: true, withStorage: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srvCfg := api.ServerConfig{
				Gateway:        a.gateway,
				Hooks:          a.hooks,
				Jobs:           a.jobs,
				Hub:            a.hub,
				Checks:         map[string]dataplane.HealthCheck{},
				Metrics:        metrics.Global(),
				Limiter:        a.limiter,
				Breakers:       a.breakers,
				WebhookKey:     cfg.Parse.WebhookKey,
				AllowedOrigins: cfg.CORS.AllowedOrigins,
			}
			if a.pg != nil {
				srvCfg.Logs = controlplane.InvocationLogLister(a.pg)
				srvCfg.Checks["postgres"] = a.pg.Ping
			}
			if a.redis != nil {
				srvCfg.History = a.redis
				srvCfg.Checks["redis"] = a.redis.Ping
			}
			httpServer := api.NewServer(cfg.Daemon.HTTPAddr, srvCfg)

			var grpcServer *cloudgrpc.Server
			var grpcLis net.Listener
			if cfg.Daemon.GRPCAddr != "" {
				grpcLis, err = net.Listen("tcp", cfg.Daemon.GRPCAddr)
				if err != nil {
					return fmt.Errorf("listen grpc %s: %w", cfg.Daemon.GRPCAddr, err)
				}
				grpcServer = cloudgrpc.NewServer(cloudgrpc.Config{Gateway: a.gateway, Jobs: a.jobs})
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.hub.Run(gctx)
				return nil
			})
			g.Go(func() error {
				logging.Op().Info("HTTP server started",
					"addr", cfg.Daemon.HTTPAddr,
					"server_url", cfg.Parse.ServerURL,
					"functions", len(a.gateway.Functions()),
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			if grpcServer != nil {
				g.Go(func() error {
					return grpcServer.Serve(grpcLis)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				logging.Op().Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if grpcServer != nil {
					grpcServer.Stop()
				}
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown http: %w", err)
				}
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	return cmd
}
