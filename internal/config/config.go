// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"house-ledger/internal/cache"
	"house-ledger/internal/domain"
	"house-ledger/pkg/db" // Import db package for its Config struct
)

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	ServerPort     string
	Environment    string
	LogLevel       string
	RequestTimeout time.Duration
	DB             db.Config
	Redis          cache.Config
	Ledger         LedgerConfig
}

// LedgerConfig holds gateway behaviour settings.
type LedgerConfig struct {
	FaucetAmount decimal.Decimal
	// FaucetDegradedMode lets the faucet answer with a flagged, unconfirmed
	// success when the store is unavailable. Off unless explicitly enabled.
	FaucetDegradedMode bool
	AddressPrefix      string
	AddressHexLength   int
}

// IsProduction reports whether raw store errors must be hidden from callers.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// LoadConfig loads configuration from environment variables, after reading an
// optional .env file from the working directory.
// It returns an AppConfig instance or an error if any variable is invalid.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	maxOpen, err := getEnvInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	maxIdle, err := getEnvInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	connLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := getEnvDuration("REDIS_CACHE_TTL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := getEnvDuration("REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	hexLength, err := getEnvInt("ADDRESS_HEX_LENGTH", 40)
	if err != nil {
		return nil, err
	}
	degraded, err := getEnvBool("LEDGER_FAUCET_DEGRADED_MODE", false)
	if err != nil {
		return nil, err
	}
	faucetAmount, err := decimal.NewFromString(getEnv("LEDGER_FAUCET_AMOUNT", "1000"))
	if err != nil || !domain.ValidAmount(faucetAmount) {
		return nil, fmt.Errorf("invalid LEDGER_FAUCET_AMOUNT: must be a positive decimal with at most %d decimal places", domain.AmountScale)
	}

	return &AppConfig{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		Environment:    getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: requestTimeout,
		DB: db.Config{
			Driver:          getEnv("DB_DRIVER", db.DriverPostgres),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "ledgerdb"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			Path:            getEnv("DB_PATH", "ledger.db"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: connLifetime,
		},
		Redis: cache.Config{
			Addr:          os.Getenv("REDIS_ADDR"), // Empty disables the cache
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			TTL:           cacheTTL,
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "ledger:balance.changed"),
		},
		Ledger: LedgerConfig{
			FaucetAmount:       faucetAmount,
			FaucetDegradedMode: degraded,
			AddressPrefix:      getEnv("ADDRESS_PREFIX", "0x"),
			AddressHexLength:   hexLength,
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
