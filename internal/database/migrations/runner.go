// Package migrations applies the embedded goose migrations for the
// PostgreSQL and MySQL drivers. SQLite uses the inline schema instead.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed sql/postgres/*.sql sql/mysql/*.sql
var embedded embed.FS

// Dialects with embedded migrations.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// MigrationRunner manages database migrations using goose.
type MigrationRunner struct {
	db      *sql.DB
	dialect string
}

// NewMigrationRunner creates a new migration runner for dialect.
func NewMigrationRunner(db *sql.DB, dialect string) *MigrationRunner {
	return &MigrationRunner{db: db, dialect: dialect}
}

func (m *MigrationRunner) dir() (string, error) {
	switch m.dialect {
	case DialectPostgres, DialectMySQL:
		return "sql/" + m.dialect, nil
	default:
		return "", fmt.Errorf("no migrations for dialect %q", m.dialect)
	}
}

// prepare validates the runner and configures goose. Callers hold gooseMu.
func (m *MigrationRunner) prepare() (string, error) {
	if m.db == nil {
		return "", fmt.Errorf("database connection is nil")
	}
	dir, err := m.dir()
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(embedded)
	if err := goose.SetDialect(m.dialect); err != nil {
		return "", fmt.Errorf("failed to set goose dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())
	return dir, nil
}

// Up applies all pending migrations under a cross-instance lock.
func (m *MigrationRunner) Up() error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, err := m.prepare()
	if err != nil {
		return err
	}
	release, err := m.acquireLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if err := goose.Up(m.db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *MigrationRunner) Down() error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, err := m.prepare()
	if err != nil {
		return err
	}
	release, err := m.acquireLock()
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer release()

	if err := goose.Down(m.db, dir); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Status returns the current migration version, 0 if none applied.
func (m *MigrationRunner) Status() (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if _, err := m.prepare(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

// acquireLock takes the dialect's named/advisory lock.
func (m *MigrationRunner) acquireLock() (func(), error) {
	switch m.dialect {
	case DialectPostgres:
		return m.retryLock(
			"SELECT pg_try_advisory_lock($1)",
			"SELECT pg_advisory_unlock($1)",
			int64(7316052841),
		)
	case DialectMySQL:
		return m.retryLock(
			"SELECT GET_LOCK(?, 10) = 1",
			"SELECT RELEASE_LOCK(?)",
			"postcode-lookup-migrations",
		)
	default:
		return func() {}, nil
	}
}

func (m *MigrationRunner) retryLock(acquireQuery, releaseQuery string, key any) (func(), error) {
	const maxRetries = 10
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var acquired sql.NullBool
		if err := m.db.QueryRow(acquireQuery, key).Scan(&acquired); err != nil {
			return nil, fmt.Errorf("failed to try migration lock: %w", err)
		}
		if acquired.Valid && acquired.Bool {
			return func() { _, _ = m.db.Exec(releaseQuery, key) }, nil
		}
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("failed to acquire migration lock after %d retries", maxRetries)
}
