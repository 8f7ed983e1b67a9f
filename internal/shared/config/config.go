package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Sync       SyncConfig
	Providers  ProvidersConfig
	Uploads    UploadsConfig
	TLS        TLSConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type EncryptionConfig struct {
	Key string
}

type SyncConfig struct {
	Enabled      bool
	Interval     time.Duration
	LookbackDays int
	WorkerCount  int
	QueueSize    int
	RunOnStartup bool
}

type ProvidersConfig struct {
	RedirectURL string
	Swedbank    PSD2ProviderConfig
	SEB         PSD2ProviderConfig
	Avanza      AvanzaProviderConfig
}

type PSD2ProviderConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

type AvanzaProviderConfig struct {
	BaseURL string
}

type UploadsConfig struct {
	TTL        time.Duration
	MaxPending int
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse sync scheduler configuration
	syncEnabled := getBoolEnv("SYNC_ENABLED", true)
	syncInterval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	syncLookbackDays, err := strconv.Atoi(getEnv("SYNC_LOOKBACK_DAYS", "90"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_LOOKBACK_DAYS: %w", err)
	}
	syncWorkers, err := strconv.Atoi(getEnv("SYNC_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_WORKERS: %w", err)
	}
	syncQueueSize, err := strconv.Atoi(getEnv("SYNC_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_QUEUE_SIZE: %w", err)
	}
	syncRunOnStartup := getBoolEnv("SYNC_RUN_ON_STARTUP", false)

	// Parse upload staging configuration
	uploadTTL, err := time.ParseDuration(getEnv("UPLOAD_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_TTL: %w", err)
	}
	uploadMaxPending, err := strconv.Atoi(getEnv("UPLOAD_MAX_PENDING", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_MAX_PENDING: %w", err)
	}

	// Parse TLS configuration
	tlsEnabled := getBoolEnv("TLS_ENABLED", false)
	tlsCertPath := getEnv("TLS_CERT_PATH", "")
	tlsKeyPath := getEnv("TLS_KEY_PATH", "")
	tlsRedirectHTTP := getBoolEnv("TLS_REDIRECT_HTTP", false)

	// Parse allowed hosts (comma-separated list)
	allowedHostsStr := getEnv("ALLOWED_HOSTS", "")
	var allowedHosts []string
	if allowedHostsStr != "" {
		for _, host := range strings.Split(allowedHostsStr, ",") {
			host = strings.TrimSpace(host)
			if host != "" {
				allowedHosts = append(allowedHosts, host)
			}
		}
	}

	// Construct the bank redirect URL from HOST_URL unless overridden
	redirectURL := getEnv("BANK_REDIRECT_URL", "")
	if redirectURL == "" {
		if hostURL := getEnv("HOST_URL", ""); hostURL != "" {
			redirectURL = fmt.Sprintf("%s%s", hostURL, "/api/bank/callback")
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("HOST", "0.0.0.0"),
			AllowedHosts: allowedHosts,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "kassa"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "kassa"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Sync: SyncConfig{
			Enabled:      syncEnabled,
			Interval:     syncInterval,
			LookbackDays: syncLookbackDays,
			WorkerCount:  syncWorkers,
			QueueSize:    syncQueueSize,
			RunOnStartup: syncRunOnStartup,
		},
		Providers: ProvidersConfig{
			RedirectURL: redirectURL,
			Swedbank: PSD2ProviderConfig{
				ClientID:     getEnv("SWEDBANK_CLIENT_ID", ""),
				ClientSecret: getEnv("SWEDBANK_CLIENT_SECRET", ""),
				BaseURL:      getEnv("SWEDBANK_BASE_URL", ""),
			},
			SEB: PSD2ProviderConfig{
				ClientID:     getEnv("SEB_CLIENT_ID", ""),
				ClientSecret: getEnv("SEB_CLIENT_SECRET", ""),
				BaseURL:      getEnv("SEB_BASE_URL", ""),
			},
			Avanza: AvanzaProviderConfig{
				BaseURL: getEnv("AVANZA_BASE_URL", ""),
			},
		},
		Uploads: UploadsConfig{
			TTL:        uploadTTL,
			MaxPending: uploadMaxPending,
		},
		TLS: TLSConfig{
			Enabled:      tlsEnabled,
			CertPath:     tlsCertPath,
			KeyPath:      tlsKeyPath,
			RedirectHTTP: tlsRedirectHTTP,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "kassa-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("OTEL_METRICS_PORT", "9091"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Encryption.Key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if cfg.Sync.LookbackDays <= 0 {
		return nil, fmt.Errorf("SYNC_LOOKBACK_DAYS must be positive")
	}

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return nil, fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if cfg.TLS.KeyPath == "" {
			return nil, fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// MigrationURL returns the connection string in URL form for golang-migrate.
func (c *DatabaseConfig) MigrationURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
