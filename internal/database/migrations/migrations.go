package migrations

import (
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrationsList holds all migrations, appended in file order by each init()
var migrationsList []*gormigrate.Migration

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB, logger *slog.Logger) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)

	if err := m.Migrate(); err != nil {
		logger.Error("could not migrate", "error", err)
		return err
	}
	logger.Info("migrations ran successfully", "count", len(migrationsList))
	return nil
}

// RollbackLast reverts the most recent migration
func RollbackLast(db *gorm.DB, logger *slog.Logger) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)
	if err := m.RollbackLast(); err != nil {
		logger.Error("could not roll back", "error", err)
		return err
	}
	logger.Info("rolled back last migration")
	return nil
}
