package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kassa/internal/infrastructure/postgres"
	"kassa/internal/interfaces/scheduler"
	"kassa/internal/shared/config"
	"kassa/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize telemetry (if enabled)
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		})
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	// Apply pending database migrations
	if err := postgres.RunMigrations(cfg.Database.MigrationURL()); err != nil {
		return err
	}

	// Initialize dependencies
	deps, err := NewDependencies(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Initialize the sync scheduler (if enabled)
	var sched *scheduler.Scheduler
	var pool *scheduler.WorkerPool
	if cfg.Sync.Enabled {
		pool = scheduler.NewWorkerPool(cfg.Sync.WorkerCount, time.Second, cfg.Sync.QueueSize)
		pool.Start()

		sched = scheduler.New(
			cfg.Sync.Interval,
			cfg.Sync.RunOnStartup,
			deps.ConnectionService,
			deps.SyncService,
			pool,
			deps.StateStore,
		)
		sched.Start()
		log.Printf("Sync scheduler started with interval %s", cfg.Sync.Interval)
	} else {
		log.Println("Sync scheduler is disabled")
	}

	// Setup routes with middleware
	handler := SetupRoutes(deps, cfg)

	// Start HTTP servers
	srv, redirectSrv := StartServers(NewServerConfigFromConfig(handler, cfg))

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	GracefulShutdown(srv, redirectSrv, sched, pool, 30*time.Second)
	return nil
}
