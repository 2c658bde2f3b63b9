package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrMigrationFailed is returned by Open when the schema cannot be brought up to date.
var ErrMigrationFailed = errors.New("migration failed")

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// loadMigrations reads the embedded migrations/NNN_name.sql files in version order.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		base := strings.TrimSuffix(entry.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration file %s: expected NNN_name.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration file %s: invalid version", entry.Name())
		}
		body, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", migrations[i].Version)
		}
	}
	return migrations, nil
}

// initMigrations creates the version bookkeeping table.
func initMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

// getCurrentVersion returns the highest applied version, 0 for a fresh store.
func getCurrentVersion(db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// applyMigration runs one migration and records it in the same transaction.
func applyMigration(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("migration %03d_%s: record version: %w", m.Version, m.Name, err)
	}
	return tx.Commit()
}

// runMigrations brings the store up to the latest version. When an existing
// store has pending migrations, a backup copy is written first.
func runMigrations(db *sql.DB, path string, log zerolog.Logger) error {
	if err := initMigrations(db); err != nil {
		return fmt.Errorf("%w: init: %v", ErrMigrationFailed, err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	current, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("%w: read version: %v", ErrMigrationFailed, err)
	}

	var pending []Migration
	for _, m := range migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if current > 0 {
		backup, err := backupDatabase(db, path, current)
		if err != nil {
			return fmt.Errorf("%w: backup: %v", ErrMigrationFailed, err)
		}
		if backup != "" {
			log.Info().Str("backup", backup).Int("from_version", current).Msg("backed up store before migrating")
		}
	}

	for _, m := range pending {
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}

// backupDatabase writes a consistent copy of the store to <path>.backup-v<version>.
// In-memory stores are not backed up.
func backupDatabase(db *sql.DB, path string, version int) (string, error) {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return "", nil
	}
	backup := fmt.Sprintf("%s.backup-v%d", path, version)
	if _, err := os.Stat(backup); err == nil {
		if err := os.Remove(backup); err != nil {
			return "", err
		}
	}
	quoted := strings.ReplaceAll(backup, "'", "''")
	if _, err := db.Exec("VACUUM INTO '" + quoted + "'"); err != nil {
		return "", err
	}
	return backup, nil
}
