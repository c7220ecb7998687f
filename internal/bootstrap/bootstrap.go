// Package bootstrap assembles the stores and the record service from
// configuration. Both binaries start from here.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/puzzle-records/internal/config"
	"github.com/puzzle-records/internal/metrics"
	"github.com/puzzle-records/internal/postgres"
	"github.com/puzzle-records/internal/redis"
	"github.com/puzzle-records/internal/service"
	"github.com/puzzle-records/internal/sqlite"
	"github.com/puzzle-records/internal/verifier"
)

// Ledger is a migratable record store
type Ledger interface {
	service.Ledger
	Migrate(ctx context.Context) error
	Close()
}

// OpenLedger connects the configured ledger driver and applies its schema
func OpenLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Ledger, error) {
	var (
		ledger Ledger
		err    error
	)
	switch cfg.Ledger.Driver {
	case config.DriverSQLite:
		logger.Info("opening SQLite ledger", "path", cfg.SQLite.Path)
		ledger, err = sqlite.Open(ctx, cfg.SQLite.Path, logger)
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		ledger, err = postgres.NewRepository(ctx, &cfg.Postgres, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s ledger: %w", cfg.Ledger.Driver, err)
	}

	if err := ledger.Migrate(ctx); err != nil {
		ledger.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return ledger, nil
}

// App holds the wired record service and the connections behind it
type App struct {
	Config  *config.Config
	Service *service.RecordService
	Metrics *metrics.Metrics
	Redis   *goredis.Client
	Ledger  Ledger
}

// New connects both stores and builds the record service
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	ledger, err := OpenLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	client, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	catalog := cfg.Catalog()
	m := metrics.New()
	svc := service.NewRecordService(
		redis.NewSessionStore(client, cfg.Session.TTL, logger),
		ledger,
		redis.NewRankingCache(client, catalog, logger),
		verifier.NewRegistry(),
		catalog,
		service.SettingsFromConfig(cfg),
		m,
		logger,
	)

	return &App{
		Config:  cfg,
		Service: svc,
		Metrics: m,
		Redis:   client,
		Ledger:  ledger,
	}, nil
}

// Close releases both store connections
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		slog.Default().Warn("closing redis client", "error", err)
	}
	a.Ledger.Close()
}
