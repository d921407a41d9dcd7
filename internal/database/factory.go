package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/webuildtrades/postcode-lookup/internal/database/migrations"
)

// newSQLiteDB creates a new SQLite database connection.
func newSQLiteDB(config FullConfig) (*DB, error) {
	if config.Path != ":memory:" {
		if err := ensureDirExists(filepath.Dir(config.Path)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Timestamps are written and parsed as UTC.
	db, err := sql.Open("sqlite3", config.Path+"?_journal=WAL&_foreign_keys=on&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// In-memory databases are per connection.
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize SQLite schema: %w", err)
	}

	return &DB{db: db, driver: DriverSQLite}, nil
}

// newPostgresDB opens PostgreSQL through the pgx stdlib adapter.
func newPostgresDB(config FullConfig) (*DB, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for PostgreSQL")
	}
	connConfig, err := pgx.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL connection string: %w", err)
	}
	db := stdlib.OpenDB(*connConfig)
	return finishNetworkDB(db, config, DriverPostgres, migrations.DialectPostgres)
}

// newMySQLDB opens MySQL with the options the stores rely on.
func newMySQLDB(config FullConfig) (*DB, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for MySQL")
	}
	dsn, err := mysql.ParseDSN(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL connection string: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	// Updates that change nothing must still report the matched row.
	dsn.ClientFoundRows = true

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)
	return finishNetworkDB(db, config, DriverMySQL, migrations.DialectMySQL)
}

func finishNetworkDB(db *sql.DB, config FullConfig, driver DriverType, dialect string) (*DB, error) {
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if !config.SkipMigrations {
		if err := migrations.NewMigrationRunner(db, dialect).Up(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %s migrations: %w", driver, err)
		}
	}

	return &DB{db: db, driver: driver}, nil
}

// Migrator returns a goose runner for the connection's dialect.
func (d *DB) Migrator() (*migrations.MigrationRunner, error) {
	switch d.driver {
	case DriverPostgres:
		return migrations.NewMigrationRunner(d.db, migrations.DialectPostgres), nil
	case DriverMySQL:
		return migrations.NewMigrationRunner(d.db, migrations.DialectMySQL), nil
	default:
		return nil, fmt.Errorf("%s uses the inline schema, not migrations", d.driver)
	}
}

// initSQLiteSchema creates the SQLite tables and indexes.
func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		api_key TEXT UNIQUE,
		rate_limit INTEGER NOT NULL DEFAULT 0 CHECK (rate_limit >= 0),
		allowed_domains TEXT NOT NULL DEFAULT '[]',
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		api_key_generated_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS api_usage (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('success', 'error')),
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_api_usage_user_timestamp ON api_usage(user_id, timestamp);

	CREATE TABLE IF NOT EXISTS residential_addresses (
		id TEXT PRIMARY KEY,
		postcode TEXT NOT NULL,
		building_number TEXT NOT NULL,
		street_address TEXT NOT NULL,
		town TEXT NOT NULL,
		full_address TEXT NOT NULL,
		created_by TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_residential_addresses_postcode ON residential_addresses(postcode);
	CREATE INDEX IF NOT EXISTS idx_residential_addresses_created_at ON residential_addresses(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
