package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"missioncontrol/internal/app"
	"missioncontrol/internal/archive"
	"missioncontrol/internal/backend"
	"missioncontrol/internal/backend/memory"
	"missioncontrol/internal/backend/postgres"
	"missioncontrol/internal/backend/redis"
	"missioncontrol/internal/config"
	"missioncontrol/internal/kv/sqlite"
	"missioncontrol/internal/state"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := state.NewMetrics(registry)

	localDB, err := sqlite.Open(cfg.LocalDBPath)
	if err != nil {
		log.Fatalf("local database failed: %v", err)
	}

	opts := []state.Option{
		state.WithMetrics(metrics),
		state.WithIdentity(cfg.Identity),
		state.WithDebounce(cfg.Debounce),
		state.WithEchoWindow(cfg.EchoWindow),
		state.WithConnectTimeout(cfg.ConnectTimeout),
	}

	if cfg.MinioEndpoint != "" {
		archiver, err := archive.New(archive.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("archive setup failed: %v", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: archive bucket unavailable, snapshots will fail: %v", err)
		}
		log.Printf("Archiving snapshots to bucket %s", cfg.MinioBucket)
		opts = append(opts, state.WithPersistHook(archiver.Persist))
	}

	var (
		service *app.Service
		closer  func() error
	)
	if cfg.Backend == "local" {
		log.Printf("Using local storage at %s", localDB.Path())
		local, err := state.OpenLocal(ctx, localDB, opts...)
		if err != nil {
			log.Fatalf("local store failed: %v", err)
		}
		service = app.NewService(local)
		closer = local.Close
	} else {
		remote, err := openBackend(cfg)
		if err != nil {
			log.Printf("WARNING: %s backend unavailable, serving offline default: %v", cfg.Backend, err)
			remote = backend.Unavailable(err)
		}
		store := state.New(remote, append(opts, state.WithLocalMirror(localDB))...)
		if err := store.Start(ctx); err != nil {
			log.Fatalf("state store failed to start: %v", err)
		}
		service = app.NewService(store)
		closer = func() error {
			err := store.Close()
			if cerr := localDB.Close(); err == nil {
				err = cerr
			}
			return err
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Mission Control listening on %s (backend %s)", cfg.Addr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := closer(); err != nil {
		log.Printf("store close error: %v", err)
	}
}

func openBackend(cfg config.Config) (backend.Backend, error) {
	switch cfg.Backend {
	case "postgres":
		log.Printf("Using PostgreSQL document %s", cfg.DocumentPath)
		return postgres.Open(cfg.DatabaseURL, cfg.DocumentPath)
	case "memory":
		log.Printf("Using in-memory document store")
		return memory.New(), nil
	default:
		log.Printf("Using Redis key %s", cfg.RedisKey)
		return redis.New(cfg.RedisURL, cfg.RedisKey)
	}
}
