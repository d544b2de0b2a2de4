// Package storage builds the configured coordinator storage backend.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/storage/memory"
	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/storage/postgres"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const postgresDriver = "postgres"

// Factory creates storage instances based on configuration.
type Factory struct {
	lggr logger.SugaredLogger
}

// NewStorageFactory creates a new storage factory.
func NewStorageFactory(lggr logger.SugaredLogger) *Factory {
	return &Factory{lggr: lggr}
}

// CreateStorage creates a storage instance based on the provided configuration.
// The returned close function releases the database pool and is a no-op for memory storage.
func (f *Factory) CreateStorage(ctx context.Context, config model.StorageConfig) (common.CoordinatorStorage, func() error, error) {
	switch config.StorageType {
	case model.StorageTypeMemory:
		return memory.NewInMemoryStorage(), func() error { return nil }, nil
	case model.StorageTypePostgreSQL:
		return f.createPostgreSQLStorage(ctx, config)
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", config.StorageType)
	}
}

func (f *Factory) createPostgreSQLStorage(ctx context.Context, config model.StorageConfig) (common.CoordinatorStorage, func() error, error) {
	if config.ConnectionURL == "" {
		return nil, nil, fmt.Errorf("PostgreSQL connection URL is required")
	}

	db, err := sql.Open(postgresDriver, config.ConnectionURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	sqlxDB := sqlx.NewDb(db, postgresDriver)
	if err := postgres.RunMigrations(sqlxDB); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to run PostgreSQL migrations: %w", err)
	}

	f.lggr.Infow("Connected to PostgreSQL storage", "maxOpenConns", config.MaxOpenConns)
	return postgres.NewDatabaseStorage(sqlxDB, logger.Named(f.lggr, "PostgresStorage")), db.Close, nil
}
