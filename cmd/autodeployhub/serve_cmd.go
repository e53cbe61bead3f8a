package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ironsupr/AutoDeployHub/db"
	"github.com/ironsupr/AutoDeployHub/internal/app/migrate"
	"github.com/ironsupr/AutoDeployHub/internal/cluster"
	"github.com/ironsupr/AutoDeployHub/internal/cluster/kubernetes"
	"github.com/ironsupr/AutoDeployHub/internal/docker"
	"github.com/ironsupr/AutoDeployHub/internal/git"
	httpx "github.com/ironsupr/AutoDeployHub/internal/http"
	"github.com/ironsupr/AutoDeployHub/internal/lock"
	"github.com/ironsupr/AutoDeployHub/internal/repository"
	"github.com/ironsupr/AutoDeployHub/internal/repository/memory"
	"github.com/ironsupr/AutoDeployHub/internal/repository/postgres"
	"github.com/ironsupr/AutoDeployHub/internal/service/deploy"
	"github.com/ironsupr/AutoDeployHub/internal/service/logs"
	"github.com/ironsupr/AutoDeployHub/internal/service/orchestrator"
	"github.com/ironsupr/AutoDeployHub/internal/service/webhook"
	"github.com/ironsupr/AutoDeployHub/internal/service/workload"
	"github.com/ironsupr/AutoDeployHub/internal/telemetry"
	"github.com/ironsupr/AutoDeployHub/internal/workspace"
	"github.com/ironsupr/AutoDeployHub/internal/ws"
	"github.com/ironsupr/AutoDeployHub/pkg/config"
	"github.com/ironsupr/AutoDeployHub/pkg/logger"
)

const (
	serviceName     = "autodeployhub"
	shutdownTimeout = 10 * time.Second
)

type store interface {
	repository.WorkloadRepository
	repository.AttemptRepository
	Ping(ctx context.Context) error
}

type clusterDeployer interface {
	orchestrator.Deployer
	Ping(ctx context.Context) error
}

type serveOpts struct {
	*rootOpts
}

func newServe(parent *rootOpts) *serveOpts {
	return &serveOpts{rootOpts: parent}
}

func (opts *serveOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the deployment API server",
		RunE:  opts.RunE,
	}
}

func (opts *serveOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	cfg := config.LoadServerConfig()
	log := logger.New(serviceName, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: buildVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	locker := openLocker(cfg, log)
	defer locker.Close()

	dockerClient, err := docker.New(cfg.DockerHost, docker.WithBuildTimeout(cfg.BuildTimeout))
	if err != nil {
		return fmt.Errorf("configure docker client: %w", err)
	}
	defer dockerClient.Close()

	deployer := openCluster(cfg, log)

	work, err := workspace.New(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("prepare workspace root: %w", err)
	}
	fetcher := git.NewFetcher(work, cfg.GitTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub()
	defer hub.Close()
	logSvc := logs.New(repo, hub, log)
	runner := orchestrator.New(fetcher, dockerClient, deployer, logSvc, cfg.ImageNamespace, log, orchestrator.WithMetrics(registry))
	deploySvc := deploy.New(repo, repo, runner, locker, log)
	workloadSvc := workload.New(repo, log, workload.WithWorkspaceCleanup(work.CleanupByHint))

	router := httpx.NewRouter(log, workloadSvc, deploySvc, logSvc, webhook.New(cfg.WebhookSecret), dockerClient, httpx.Config{
		JWTSecret:      cfg.JWTSecret,
		ImageNamespace: cfg.ImageNamespace,
		Registerer:     registry,
		Gatherer:       registry,
		Health: map[string]httpx.HealthCheck{
			"database": repo.Ping,
			"docker":   dockerClient.Ping,
			"cluster":  deployer.Ping,
		},
		Limiter: openRateLimiter(cfg, log),
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		deploySvc.Wait()
		log.Info("api server stopped")
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	return nil
}

// openStore returns the postgres repository when DATABASE_URL is set, applying
// pending migrations first, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, attempts are kept in memory")
		return memory.New(), func() {}, nil
	}
	runner, err := migrate.New(cfg.DatabaseURL, db.Migrations, db.MigrationsDir, log)
	if err != nil {
		return nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	repo := postgres.New(pool)
	if err := repo.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	return repo, pool.Close, nil
}

func openLocker(cfg config.ServerConfig, log *slog.Logger) lock.Locker {
	if cfg.RedisAddr == "" {
		return lock.NewMemory()
	}
	locker, err := lock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL, log)
	if err != nil {
		log.Warn("redis lock unavailable, using in-process locks", "error", err)
		return lock.NewMemory()
	}
	return locker
}

func openRateLimiter(cfg config.ServerConfig, log *slog.Logger) httpx.RateLimiter {
	if cfg.RedisAddr == "" {
		return httpx.NewMemoryRateLimiter()
	}
	limiter, err := httpx.NewRedisRateLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Warn("redis rate limiter unavailable, using in-process limiter", "error", err)
		return httpx.NewMemoryRateLimiter()
	}
	return limiter
}

func openCluster(cfg config.ServerConfig, log *slog.Logger) clusterDeployer {
	deployer, err := kubernetes.New(kubernetes.Config{
		Namespace:       cfg.K8sNamespace,
		ContainerPort:   cfg.K8sContainerPort,
		ReplaceExisting: cfg.K8sReplace,
		RolloutTimeout:  cfg.K8sRolloutTimeout,
	}, log)
	if err != nil {
		log.Warn("kubernetes configuration unavailable", "error", err)
		return cluster.Unavailable{Err: err}
	}
	return deployer
}
