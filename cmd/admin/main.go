package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"kassa/internal/domain/categoryrule"
	"kassa/internal/domain/connection"
	"kassa/internal/domain/importer"
	syncdomain "kassa/internal/domain/sync"
	"kassa/internal/infrastructure/crypto"
	"kassa/internal/infrastructure/postgres"
	"kassa/internal/infrastructure/providers"
	"kassa/internal/shared/config"
)

const usage = `Kassa Admin CLI - Management commands for the Kassa API

Usage:
  admin <command> [options]

Commands:
  migrate   Apply, roll back, or inspect database migrations
  sync      Run transaction synchronization for bank connections

Examples:
  # Apply all pending migrations
  admin migrate up

  # Roll back the most recent migration
  admin migrate down

  # Show the current schema version
  admin migrate version

  # Sync one connection regardless of its schedule
  admin sync --connection-id=1f8a3c2e-5b7d-4e9f-8a1b-2c3d4e5f6a7b

  # Sync every active connection
  admin sync --all

  # Sync with a shorter timeout
  admin sync --all --timeout=5m`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "migrate":
		runMigrate(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

func runMigrate(args []string) {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	m, err := postgres.NewMigrator(cfg.Database.MigrationURL())
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations applied")
	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rolled back one migration")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("Failed to read version: %v", err)
		}
		fmt.Printf("version: %d dirty: %v\n", version, dirty)
	default:
		fmt.Printf("Unknown migrate direction: %s (want up, down, or version)\n", direction)
		os.Exit(1)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	connectionID := fs.String("connection-id", "", "Connection ID to sync")
	allConnections := fs.Bool("all", false, "Sync every active connection")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  admin sync --connection-id=1f8a3c2e-5b7d-4e9f-8a1b-2c3d4e5f6a7b")
		fmt.Println("  admin sync --all")
		fmt.Println("  admin sync --all --timeout=1h")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *connectionID == "" && !*allConnections {
		fmt.Println("Error: must specify --connection-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	connectionRepo := postgres.NewConnectionRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	ruleRepo := postgres.NewRuleRepository(db)
	importJobRepo := postgres.NewImportJobRepository(db)

	registry := providers.NewRegistry(
		providers.NewSwedbankClient(cfg.Providers.Swedbank.ClientID, cfg.Providers.Swedbank.ClientSecret, cfg.Providers.Swedbank.BaseURL),
		providers.NewSEBClient(cfg.Providers.SEB.ClientID, cfg.Providers.SEB.ClientSecret, cfg.Providers.SEB.BaseURL),
		providers.NewAvanzaClient(cfg.Providers.Avanza.BaseURL),
	)

	connectionService := connection.NewService(connectionRepo, registry, encryptor)
	ruleService := categoryrule.NewService(ruleRepo)
	importService := importer.NewService(transactionRepo, importJobRepo, ruleService)
	syncService := syncdomain.NewService(connectionService, importService, cfg.Sync.LookbackDays)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startTime := time.Now()

	if *allConnections {
		results, err := syncService.SyncAll(ctx)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		for _, result := range results {
			printSyncResult(result)
		}
	} else {
		// Admin syncs bypass ownership, so fetch through the repository.
		conn, err := connectionRepo.GetByID(ctx, *connectionID)
		if err != nil {
			log.Fatalf("Failed to load connection: %v", err)
		}
		if conn == nil {
			log.Fatalf("Connection %s not found", *connectionID)
		}

		result, err := syncService.SyncConnection(ctx, conn)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		printSyncResult(result)
	}

	elapsed := time.Since(startTime)
	log.Printf("Sync completed in %v", elapsed)
}

func printSyncResult(result *syncdomain.Result) {
	fmt.Printf("\n=== Connection %s (%s) ===\n", result.ConnectionID, result.BankName)
	fmt.Printf("  Accounts:   %d\n", result.Accounts)
	fmt.Printf("  Fetched:    %d\n", result.Fetched)
	fmt.Printf("  Imported:   %d\n", result.Imported)
	fmt.Printf("  Duplicates: %d\n", result.Duplicates)
	fmt.Printf("  Failed:     %d\n", result.Failed)

	if len(result.Errors) > 0 {
		fmt.Printf("  Errors:     %d\n", len(result.Errors))
		for i, e := range result.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(result.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}
