package main

import (
	"log"

	"kassa/internal/domain/authstate"
	"kassa/internal/domain/categoryrule"
	"kassa/internal/domain/connection"
	"kassa/internal/domain/importer"
	syncdomain "kassa/internal/domain/sync"
	"kassa/internal/infrastructure/crypto"
	"kassa/internal/infrastructure/postgres"
	"kassa/internal/infrastructure/providers"
	httphandlers "kassa/internal/interfaces/http"
	"kassa/internal/shared/auth"
	"kassa/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	BankHandler        *httphandlers.BankHandler
	ImportHandler      *httphandlers.ImportHandler
	RuleHandler        *httphandlers.RuleHandler
	TransactionHandler *httphandlers.TransactionHandler

	// Auth
	JWT *auth.JWT

	// Services (for the scheduler)
	ConnectionService *connection.Service
	SyncService       *syncdomain.Service
	StateStore        *authstate.Store
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	// Initialize encryptor for token storage
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	connectionRepo := postgres.NewConnectionRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	ruleRepo := postgres.NewRuleRepository(db)
	importJobRepo := postgres.NewImportJobRepository(db)

	// Initialize bank clients
	registry := providers.NewRegistry(
		providers.NewSwedbankClient(cfg.Providers.Swedbank.ClientID, cfg.Providers.Swedbank.ClientSecret, cfg.Providers.Swedbank.BaseURL),
		providers.NewSEBClient(cfg.Providers.SEB.ClientID, cfg.Providers.SEB.ClientSecret, cfg.Providers.SEB.BaseURL),
		providers.NewAvanzaClient(cfg.Providers.Avanza.BaseURL),
	)

	// Initialize domain services
	connectionService := connection.NewService(connectionRepo, registry, encryptor)
	ruleService := categoryrule.NewService(ruleRepo)
	importService := importer.NewService(transactionRepo, importJobRepo, ruleService)
	syncService := syncdomain.NewService(connectionService, importService, cfg.Sync.LookbackDays)

	// In-memory stores for the two-phase flows
	stateStore := authstate.NewStore(authstate.DefaultTTL, authstate.DefaultMaxPending)
	uploadStore := importer.NewUploadStore(cfg.Uploads.TTL, cfg.Uploads.MaxPending)

	// Initialize auth components
	jwt := auth.NewJWT(cfg.JWT.Secret)

	// Initialize handlers
	bankHandler := httphandlers.NewBankHandler(connectionService, stateStore, syncService, cfg.Providers.RedirectURL, registry.Names())
	importHandler := httphandlers.NewImportHandler(importService, uploadStore)
	ruleHandler := httphandlers.NewRuleHandler(ruleService)
	transactionHandler := httphandlers.NewTransactionHandler(transactionRepo)

	return &Dependencies{
		DB:                 db,
		BankHandler:        bankHandler,
		ImportHandler:      importHandler,
		RuleHandler:        ruleHandler,
		TransactionHandler: transactionHandler,
		JWT:                jwt,
		ConnectionService:  connectionService,
		SyncService:        syncService,
		StateStore:         stateStore,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
