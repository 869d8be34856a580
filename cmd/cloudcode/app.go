package main

import (
	"context"
	"time"

	"github.com/oriys/cloudcode/internal/circuitbreaker"
	"github.com/oriys/cloudcode/internal/config"
	"github.com/oriys/cloudcode/internal/gateway"
	"github.com/oriys/cloudcode/internal/hooks"
	"github.com/oriys/cloudcode/internal/hub"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/jobtracker"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/logsink"
	"github.com/oriys/cloudcode/internal/metrics"
	"github.com/oriys/cloudcode/internal/parse"
	"github.com/oriys/cloudcode/internal/ratelimit"
	"github.com/oriys/cloudcode/internal/store"
	"github.com/oriys/cloudcode/internal/upstream"
)

// app holds the wired components shared by serve and the local commands.
type app struct {
	cfg      *config.Config
	breakers *circuitbreaker.Registry
	gateway  *gateway.Gateway
	client   *parse.Client
	hooks    *hooks.Registry
	tracker  *jobtracker.Tracker
	jobs     *jobs.Manager
	hub      *hub.Hub
	pg       *store.PostgresStore
	redis    *store.RedisStatusStream
	logSink  logsink.LogSink
	limiter  *ratelimit.Limiter
}

type appOptions struct {
	withHub     bool
	withStorage bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Upstream.Breaker.Enabled {
		a.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			ErrorPct:       cfg.Upstream.Breaker.ErrorPct,
			WindowDuration: cfg.Upstream.Breaker.Window,
			OpenDuration:   cfg.Upstream.Breaker.OpenDuration,
			HalfOpenProbes: cfg.Upstream.Breaker.HalfOpenProbes,
			MinRequests:    cfg.Upstream.Breaker.MinRequests,
		})
	}
	transport := upstream.NewHTTPTransport(upstream.Options{
		Timeout:          cfg.Upstream.Timeout,
		MaxResponseBytes: cfg.Upstream.MaxResponseBytes,
		Breakers:         a.breakers,
	})

	if opts.withStorage {
		if cfg.Postgres.DSN != "" {
			pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
			if err != nil {
				return nil, err
			}
			a.pg = pg
		}
		if cfg.Redis.Addr != "" {
			rs, err := store.NewRedisStatusStream(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Jobs.StatusTTL)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.redis = rs
		}
	}

	a.logSink = a.buildLogSink()

	creds := parse.Credentials{
		ApplicationID: cfg.Parse.ApplicationID,
		MasterKey:     cfg.Parse.MasterKey,
		RESTAPIKey:    cfg.Parse.RESTAPIKey,
	}
	a.gateway = gateway.New(
		gateway.Config{ServerURL: cfg.Parse.ServerURL, Credentials: creds},
		transport,
		gateway.WithLogSink(a.logSink),
		gateway.WithMetrics(metrics.Global()),
	)
	a.client = parse.NewClient(cfg.Parse.ServerURL, creds, a.gateway.Transport(), parse.WithPageSize(cfg.Jobs.PageSize))
	if err := gateway.RegisterDefaults(a.gateway, a.client); err != nil {
		a.Close()
		return nil, err
	}

	a.hooks = hooks.NewRegistry()
	if err := hooks.RegisterDefaults(a.hooks, cfg.Parse.ReservedInstallationIDs); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RateLimit.Enabled {
		var backend ratelimit.Backend = ratelimit.NewMemoryBackend()
		if a.redis != nil {
			backend = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(a.redis.Client()))
		}
		a.limiter = ratelimit.New(backend, ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	if opts.withHub {
		a.hub = hub.New(cfg.CORS.AllowedOrigins)
	}

	a.tracker = jobtracker.New(cfg.Jobs.StatusTTL)
	managerOpts := []jobs.ManagerOption{jobs.WithManagerMetrics(metrics.Global())}
	if a.pg != nil {
		managerOpts = append(managerOpts, jobs.WithRunStore(a.pg))
	}
	if a.redis != nil {
		managerOpts = append(managerOpts, jobs.WithStatusSink(a.redis))
	}
	if a.hub != nil {
		managerOpts = append(managerOpts, jobs.WithStatusSink(a.hub))
	}
	a.jobs = jobs.NewManager(a.tracker, managerOpts...)
	migration := jobs.NewUserMigration(jobs.NewParseUserStore(a.client), cfg.Jobs.ProgressEvery)
	if err := a.jobs.Register(jobs.UserMigrationName, migration); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildLogSink() logsink.LogSink {
	var sinks []logsink.LogSink
	if a.cfg.Daemon.RequestLog {
		rl := logging.Default()
		rl.SetConsole(true)
		if a.cfg.Daemon.RequestLogFile != "" {
			if err := rl.SetOutput(a.cfg.Daemon.RequestLogFile); err != nil {
				logging.Op().Warn("request log file unavailable", "path", a.cfg.Daemon.RequestLogFile, "error", err)
			}
		}
		sinks = append(sinks, logsink.NewRequestLogSink(rl))
	}
	if a.pg != nil {
		sinks = append(sinks, logsink.NewBatcher(logsink.NewPostgresSink(a.pg)))
	}
	return logsink.Combine(sinks...)
}

// Close releases every component in reverse start order.
func (a *app) Close() {
	if a.jobs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.jobs.Shutdown(ctx); err != nil {
			logging.Op().Warn("job shutdown incomplete", "error", err)
		}
		cancel()
	}
	if a.tracker != nil {
		a.tracker.Close()
	}
	if a.logSink != nil {
		if err := a.logSink.Close(); err != nil {
			logging.Op().Warn("close invocation log sink", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
