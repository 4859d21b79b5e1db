package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Wikid82/cerberus/internal/models"
)

// Connect bootstraps a SQLite database using the provided filesystem path.
func Connect(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// Migrate creates or updates the tables backing the rule store.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.SignatureRule{},
		&models.ThreatRule{},
		&models.BlockedIP{},
		&models.GeoBlockRule{},
		&models.ThreatEvent{},
		&models.Setting{},
		&models.AuditEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
