package database

import (
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Store errors the API layer maps to status codes
var (
	ErrNotFound = errors.New("record not found")
)

// Config holds database connection settings
type Config struct {
	Driver     string
	DSN        string
	MigrateURL string
}

// DB wraps the database connection and provides the stores
type DB struct {
	*gorm.DB
	config *Config
}

// New creates a new database connection
func New(config *Config) (*DB, error) {
	var dialector gorm.Dialector

	switch config.Driver {
	case "postgres":
		dialector = postgres.Open(config.DSN)
	case "sqlite", "sqlite3": // Accept both "sqlite" and "sqlite3"
		dialector = sqlite.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{
		DB:     db,
		config: config,
	}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	m, err := migrate.New("file://migrations", db.config.MigrateURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Println("No migrations to run")
	}

	return nil
}

// AutoMigrate builds the schema directly from the models. Used by tests;
// deployments run Migrate instead.
func (db *DB) AutoMigrate() error {
	return db.DB.AutoMigrate(
		&User{},
		&PasswordResetToken{},
		&Credential{},
		&EmailConfiguration{},
		&WebhookSetting{},
		&DeliveryLog{},
	)
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
