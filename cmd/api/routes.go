package main

import (
	"log"
	"net/http"

	httphandlers "kassa/internal/interfaces/http"
	"kassa/internal/shared/config"
	"kassa/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Bank redirect landing. The bank calls back here after the user
	// approves access, before our session is re-established.
	mux.HandleFunc("/api/bank/callback", deps.BankHandler.HandleCallback)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)

	mux.Handle("/api/bank/authorize", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleAuthorize)))
	mux.Handle("/api/bank/connect", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleConnect)))
	mux.Handle("/api/connections", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleConnections)))
	mux.Handle("/api/connections/{id}", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleConnectionByID)))
	mux.Handle("/api/connections/{id}/accounts", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleConnectionAccounts)))
	mux.Handle("/api/connections/{id}/sync", authMiddleware(http.HandlerFunc(deps.BankHandler.HandleConnectionSync)))
	mux.Handle("/api/transactions", authMiddleware(http.HandlerFunc(deps.TransactionHandler.HandleListTransactions)))
	mux.Handle("/api/transactions/{id}", authMiddleware(http.HandlerFunc(deps.TransactionHandler.HandleTransactionByID)))
	mux.Handle("/api/rules", authMiddleware(http.HandlerFunc(deps.RuleHandler.HandleRules)))
	mux.Handle("/api/rules/{id}", authMiddleware(http.HandlerFunc(deps.RuleHandler.HandleRuleByID)))
	mux.Handle("/api/imports", authMiddleware(http.HandlerFunc(deps.ImportHandler.HandleImports)))
	mux.Handle("/api/imports/upload", authMiddleware(http.HandlerFunc(deps.ImportHandler.HandleUpload)))
	mux.Handle("/api/imports/confirm", authMiddleware(http.HandlerFunc(deps.ImportHandler.HandleConfirm)))
	mux.Handle("/api/imports/uploads/{id}", authMiddleware(http.HandlerFunc(deps.ImportHandler.HandleDiscard)))
	mux.Handle("/api/imports/{id}", authMiddleware(http.HandlerFunc(deps.ImportHandler.HandleImportByID)))

	// Apply global middleware
	var handler http.Handler = mux
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(middleware.Tracing(handler))
	}
	handler = middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(handler))

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}
