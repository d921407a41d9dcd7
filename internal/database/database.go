// Package database implements the profile, usage and address stores on
// database/sql for SQLite, PostgreSQL and MySQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/webuildtrades/postcode-lookup/internal/addressbook"
	"github.com/webuildtrades/postcode-lookup/internal/apikey"
	"github.com/webuildtrades/postcode-lookup/internal/usage"
)

var (
	_ apikey.ProfileStore = (*DB)(nil)
	_ usage.Store         = (*DB)(nil)
	_ addressbook.Store   = (*DB)(nil)
)

// DriverType represents the database driver type.
type DriverType string

const (
	// DriverSQLite represents the SQLite database driver.
	DriverSQLite DriverType = "sqlite"
	// DriverPostgres represents the PostgreSQL database driver.
	DriverPostgres DriverType = "postgres"
	// DriverMySQL represents the MySQL database driver.
	DriverMySQL DriverType = "mysql"
)

// DB represents the database connection.
type DB struct {
	db     *sql.DB
	driver DriverType
}

// FullConfig contains the complete database configuration for all drivers.
type FullConfig struct {
	// Driver specifies which database driver to use (sqlite, postgres, mysql).
	Driver DriverType
	// Path is the path to the SQLite database file.
	Path string
	// DatabaseURL is the PostgreSQL or MySQL connection string.
	DatabaseURL string
	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
	// SkipMigrations leaves the postgres/mysql schema untouched on connect.
	SkipMigrations bool
}

// DefaultFullConfig returns a default database configuration.
func DefaultFullConfig() FullConfig {
	return FullConfig{
		Driver:          DriverSQLite,
		Path:            "data/postcode-lookup.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// NewFromConfig creates a new database connection based on the configuration.
func NewFromConfig(config FullConfig) (*DB, error) {
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = DefaultFullConfig().MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = DefaultFullConfig().MaxIdleConns
	}
	switch config.Driver {
	case DriverSQLite:
		return newSQLiteDB(config)
	case DriverPostgres:
		return newPostgresDB(config)
	case DriverMySQL:
		return newMySQLDB(config)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// DB returns the underlying connection pool.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Driver returns the driver the connection was opened with.
func (d *DB) Driver() DriverType {
	return d.driver
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database connection is nil")
	}
	return d.db.PingContext(ctx)
}

// ensureDirExists creates the directory if it doesn't exist.
func ensureDirExists(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	} else if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s exists and is not a directory", dir)
	}
	return nil
}
