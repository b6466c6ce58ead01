// Command gateway serves stored procedures over HTTP behind authentication,
// role-based authorization and per-client rate limits.
//
// Run with:
//
//	GATEWAY_POSTGRES_DATABASE=app GATEWAY_POSTGRES_USER=gateway \
//	    go run ./cmd/gateway -config gateway.yaml
//
// Every setting can be overridden from the environment with the GATEWAY_
// prefix, e.g. GATEWAY_SERVER_ADDR=:9090.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/audit"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/authz"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/config"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/executor"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/functions"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/gateway"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/lifecycle"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/ratelimit"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	migrate := flag.Bool("migrate", false, "apply the schema before serving")
	flag.Parse()

	var cfg gateway.Config
	if err := config.New().WithEnvPrefix("GATEWAY").WithFile(*configPath).Load(&cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := gateway.ParseLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *migrate); err != nil {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func run(ctx context.Context, cfg gateway.Config, logger *slog.Logger, migrate bool) error {
	pg, err := postgres.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	st := store.NewPostgres(pg)
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	var rdb *redis.Client
	if cfg.Cache.Backend == gateway.BackendRedis || cfg.RateLimit.Backend == gateway.BackendRedis {
		rdb, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var backend cache.Backend
	if cfg.Cache.Backend == gateway.BackendRedis {
		backend = cache.NewRedisBackend(rdb, cfg.Cache.TagTTL)
	} else {
		backend = cache.NewLRUBackend(cfg.Cache.Size, max(cfg.Cache.ConfigurationTTL, cfg.Cache.PermissionTTL, cfg.Auth.IdentityTTL))
	}
	configuration := cache.New[models.FunctionDefinition](cache.NameConfiguration, backend, cfg.Cache.ConfigurationTTL, logger)
	permissions := cache.New[authz.Entry](cache.NamePermission, backend, cfg.Cache.PermissionTTL, logger)
	identity := cache.New[models.Client](cache.NameIdentity, backend, cfg.Auth.IdentityTTL, logger)
	coordinator := cache.NewCoordinator(configuration, permissions, identity, logger, backend)

	validators := []auth.CredentialValidator{
		auth.NewBearerValidator(cfg.Auth, st, logger),
		auth.NewAPIKeyValidator(st, identity, logger),
	}
	if cfg.Auth.Delegated.Enabled {
		provider, err := auth.DiscoverProvider(ctx, cfg.Auth.Delegated)
		if err != nil {
			return err
		}
		validators = append(validators, auth.NewDelegatedValidator(cfg.Auth.Delegated, provider, st, logger))
	}

	var windows ratelimit.WindowStore = ratelimit.NewMemoryWindowStore()
	if cfg.RateLimit.Backend == gateway.BackendRedis {
		windows = ratelimit.NewRedisWindowStore(rdb)
	}
	limiter := ratelimit.New(windows,
		ratelimit.WithGrace(cfg.RateLimit.Grace),
		ratelimit.WithFailureMode(ratelimit.FailureMode(cfg.RateLimit.FailureMode)),
		ratelimit.WithLogger(logger),
	)

	health := map[string]gateway.HealthCheck{
		"postgres": st.Health,
		"cache":    coordinator.Health,
	}
	if rdb != nil {
		health["redis"] = rdb.Health
	}

	var objects audit.ObjectWriter
	if strings.EqualFold(cfg.Audit.Sink, audit.SinkArchive) {
		mc, err := minio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return err
		}
		defer mc.Close()
		if err := mc.EnsureBucket(ctx, cfg.Audit.Archive.Bucket); err != nil {
			return err
		}
		objects = mc
		health["minio"] = mc.Health
	}
	sink, err := audit.Open(cfg.Audit, logger, objects)
	if err != nil {
		return err
	}
	if z, ok := sink.(*audit.ZapSink); ok {
		defer z.Sync() //nolint:errcheck
	}

	pipeline := gateway.NewPipeline(gateway.Deps{
		Authenticator: auth.NewDispatcher(logger, validators...),
		Authorizer:    authz.NewEngine(st, permissions, logger),
		Limiter:       limiter,
		Resolver:      functions.NewResolver(st, configuration, logger),
		Executor:      executor.NewPostgres(pg, executor.WithTimeout(cfg.Executor.Timeout), executor.WithLogger(logger)),
		Audit:         audit.NewRecorder(sink, logger),
		Logger:        logger,
		DefaultBudget: cfg.RateLimit.DefaultBudget,
		DefaultWindow: cfg.RateLimit.DefaultWindow,
	})

	guard, err := gateway.NewGuard(cfg.RateLimit.GuardRate, cfg.RateLimit.GuardBurst, cfg.RateLimit.GuardSize)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	hooks := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithOnStart(func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			logger.Info("gateway listening",
				slog.String("addr", ln.Addr().String()),
				slog.String("cache_backend", cfg.Cache.Backend),
				slog.String("ratelimit_backend", cfg.RateLimit.Backend),
				slog.String("audit_sink", cfg.Audit.Sink),
				slog.Bool("delegated_auth", cfg.Auth.Delegated.Enabled),
			)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			return nil
		}),
	}
	if archive, ok := sink.(*audit.ArchiveSink); ok {
		// Stop hooks run in reverse, so the final flush happens after the
		// server has drained.
		flushCtx, stopFlush := context.WithCancel(context.Background())
		hooks = append(hooks,
			lifecycle.WithOnStart(func(context.Context) error {
				go archive.Run(flushCtx)
				return nil
			}),
			lifecycle.WithOnStop(func(ctx context.Context) error {
				stopFlush()
				return archive.Close(ctx)
			}),
		)
	}
	hooks = append(hooks, lifecycle.WithOnStop(srv.Shutdown))
	svc := lifecycle.NewService("gateway", version, hooks...)
	health["gateway"] = svc.Health

	deps := gateway.ServerDeps{
		Config:   cfg.Server,
		Pipeline: pipeline,
		Caches:   coordinator,
		Guard:    guard,
		Health:   health,
		Logger:   logger,
	}
	if issuer := auth.NewTokenIssuer(cfg.Auth, st); issuer != nil {
		deps.Issuer = issuer
	}
	srv.Handler = gateway.NewRouter(deps)

	if err := svc.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		return err
	}
	return serveErr
}
