// package database provides gorm connection management for postgres and sqlite.
package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/blockedby/tg-forwarder/internal/models"
)

// DB wraps a GORM instance.
type DB struct {
	GORM *gorm.DB
}

// New opens a database connection. The driver is chosen by the URL scheme:
// postgres:// goes through the postgres driver, anything else is treated as
// a sqlite file path (file: prefix is stripped).
func New(_ context.Context, databaseURL string) (*DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "file:"))
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &DB{GORM: gormDB}, nil
}

// Migrate creates or updates the schema for all models.
func (db *DB) Migrate() error {
	return db.GORM.AutoMigrate(
		&models.Chat{},
		&models.ForwardRule{},
		&models.Keyword{},
		&models.ReplaceRule{},
		&models.PushChannel{},
		&models.DedupSettings{},
	)
}

// Ping checks if the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.GORM.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (db *DB) Close() {
	if sqlDB, err := db.GORM.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
