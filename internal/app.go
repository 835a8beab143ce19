// internal/app.go
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	router "house-ledger/internal/api"
	"house-ledger/internal/api/handler"
	"house-ledger/internal/cache"
	"house-ledger/internal/config"
	"house-ledger/internal/domain"
	"house-ledger/internal/repository"
	"house-ledger/internal/repository/sqlrepo"
	"house-ledger/internal/service"
	"house-ledger/internal/util"
	"house-ledger/pkg/db"
)

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *zap.Logger
	DB     *sqlx.DB
	Cache  *cache.Redis // nil when REDIS_ADDR is unset

	// Repositories
	BalanceRepository repository.BalanceRepository
	AuditRepository   repository.AuditRepository

	// Services
	LedgerService service.LedgerService

	// HTTP API
	HTTPHandler http.Handler
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize initializes all application components.
func (app *Application) Initialize(ctx context.Context) error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.Config = cfg

	// 2. Initialize Logger
	logger, err := util.InitLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Logger.Info("Application configuration loaded successfully.", zap.String("env", cfg.Environment))

	// 3. Connect to Database and apply the schema
	database, err := db.Open(app.Config.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = database
	if err := db.Migrate(ctx, app.DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	app.Logger.Info("Database connection established.", zap.String("driver", app.DB.DriverName()))

	// 4. Optional advisory cache
	opts := []service.Option{service.WithLogger(app.Logger.Named("ledger"))}
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis, app.Logger.Named("cache"))
		if err != nil {
			return fmt.Errorf("failed to connect to cache: %w", err)
		}
		app.Cache = redisCache
		opts = append(opts, service.WithCache(redisCache), service.WithPublisher(redisCache))
	}

	// 5. Initialize Repositories
	app.BalanceRepository = sqlrepo.NewBalanceRepository()
	app.AuditRepository = sqlrepo.NewAuditRepository()
	app.Logger.Info("Repositories initialized.")

	// 6. Initialize Services
	app.LedgerService = service.NewLedgerService(
		app.DB, // This is the DBTxBeginner
		app.DB, // This is the DBExecutor
		app.BalanceRepository,
		app.AuditRepository,
		db.BeginTx,
		db.CommitTx,
		db.RollbackTx,
		opts...,
	)
	app.Logger.Info("Services initialized.")

	// 7. Initialize HTTP Handlers and Router
	ledgerHandler := handler.NewLedgerHandler(
		app.LedgerService,
		domain.NewAddressValidator(cfg.Ledger.AddressPrefix, cfg.Ledger.AddressHexLength),
		handler.Options{
			FaucetAmount:       cfg.Ledger.FaucetAmount,
			FaucetDegradedMode: cfg.Ledger.FaucetDegradedMode,
			ExposeErrors:       !cfg.IsProduction(),
		},
		app.Logger.Named("http"),
	)
	app.HTTPHandler = router.NewRouter(ledgerHandler, app.Logger, cfg.RequestTimeout)
	app.Logger.Info("HTTP router and handlers initialized.")

	return nil
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			app.Logger.Warn("Failed to close cache connection", zap.Error(err))
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", zap.Error(err))
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		app.Logger.Info("Database connection closed.")
	}
	app.Logger.Info("Application shut down gracefully.")
	_ = app.Logger.Sync()
	return nil
}
