package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/database/migrations"
	"github.com/revaspay/commissions/internal/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB initializes the database connection with configuration
func InitDB(dbConfig config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dbConfig.URL), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(dbConfig.MaxIdle)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrations.RunMigrations(db, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// OpenRepository returns the repository selected by DATABASE_DRIVER together
// with a function that releases it.
func OpenRepository(dbConfig config.DatabaseConfig, log *slog.Logger) (store.Repository, func(), error) {
	switch dbConfig.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory repository, data is lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	case config.DriverPostgres, "":
		db, err := InitDB(dbConfig, log)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return store.NewGormRepository(db), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", dbConfig.Driver)
	}
}
