package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"identityrecon/internal/config"
	"identityrecon/internal/database"
	"identityrecon/internal/handlers"
	"identityrecon/internal/lock"
	"identityrecon/internal/logger"
	"identityrecon/internal/metrics"
	"identityrecon/internal/service"
	"identityrecon/internal/store"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(os.Stdout, cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// run wires dependencies, serves HTTP until SIGINT/SIGTERM, then shuts down
// gracefully.
func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	checks := map[string]handlers.CheckFunc{"database": db.Health}
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		locker = lock.NewRedis(client, cfg.LockTTL)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		log.Info("using redis identity locks")
	}

	var storeOpts []store.Option
	if db.Dialect == database.Postgres {
		storeOpts = append(storeOpts, store.WithRowLocks())
	}

	svc := service.NewReconciliationService(
		store.NewSQL(db.Conn, storeOpts...),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithLocker(locker),
		service.WithTimeout(cfg.ResolveTimeout),
	)

	router := handlers.NewRouter(
		handlers.NewIdentifyHandler(svc, log),
		handlers.NewHealthHandler(checks),
		registry,
		log,
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
