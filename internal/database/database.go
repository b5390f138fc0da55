package database

import (
	"fmt"

	"github.com/coinfolio/coinfolio-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the SQLite database at path and migrates the schema.
// The connection pool is capped at a single connection: SQLite allows one
// writer at a time, and serialising access in the pool turns would-be
// SQLITE_BUSY errors from concurrent scheduler cycles into ordinary queuing.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&types.User{},
		&types.Asset{},
		&types.Account{},
		&types.Holding{},
		&types.Order{},
		&types.Transaction{},
		&types.PriceQuote{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
