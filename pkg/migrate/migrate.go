package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/rs/zerolog/log"
)

// Migrator applies versioned SQL migrations from an embedded filesystem
type Migrator struct {
	db            *sql.DB
	migrationsFS  fs.FS
	migrationsDir string
}

// NewMigrator creates a new migration runner
func NewMigrator(cfg *config.DatabaseConfig, migrationsFS fs.FS, migrationsDir string) (*Migrator, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{
		db:            db,
		migrationsFS:  migrationsFS,
		migrationsDir: migrationsDir,
	}, nil
}

// Migration is a single versioned schema change
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// EnsureMigrationsTable creates the tracking table if it doesn't exist
func (m *Migrator) EnsureMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedVersions returns the versions already recorded, in order
func (m *Migrator) AppliedVersions() ([]int, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// LoadMigrations reads every migration file from the embedded filesystem,
// sorted by version
func (m *Migrator) LoadMigrations() ([]*Migration, error) {
	entries, err := fs.ReadDir(m.migrationsFS, m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		migration, err := m.parseMigrationFile(entry.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping invalid migration file")
			continue
		}
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFile extracts the version, name, and up/down SQL from a
// file named like "001_initial_schema.sql"
func (m *Migrator) parseMigrationFile(filename string) (*Migration, error) {
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid migration filename format: %s", filename)
	}

	var version int
	if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil {
		return nil, fmt.Errorf("failed to parse version from filename %s: %w", filename, err)
	}

	content, err := fs.ReadFile(m.migrationsFS, filepath.Join(m.migrationsDir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration file %s: %w", filename, err)
	}

	upSQL, downSQL := splitMigration(string(content))

	return &Migration{
		Version: version,
		Name:    strings.TrimSuffix(strings.Join(parts[1:], "_"), ".sql"),
		UpSQL:   upSQL,
		DownSQL: downSQL,
	}, nil
}

// splitMigration separates a migration file into its up and down parts
// using "-- +migrate Up" / "-- +migrate Down" markers
func splitMigration(content string) (string, string) {
	var upLines, downLines []string
	var inDown bool

	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case "-- +migrate Up":
			inDown = false
			continue
		case "-- +migrate Down":
			inDown = true
			continue
		}
		if inDown {
			downLines = append(downLines, line)
		} else {
			upLines = append(upLines, line)
		}
	}
	return strings.Join(upLines, "\n"), strings.Join(downLines, "\n")
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	if err := m.EnsureMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}

	appliedMap := make(map[int]bool)
	for _, version := range applied {
		appliedMap[version] = true
	}

	var pending []*Migration
	for _, migration := range migrations {
		if !appliedMap[migration.Version] {
			pending = append(pending, migration)
		}
	}

	if len(pending) == 0 {
		log.Info().Msg("No pending migrations")
		return nil
	}

	log.Info().Int("count", len(pending)).Msg("Running pending migrations")

	for _, migration := range pending {
		record := func(tx *sql.Tx) error {
			_, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
			return err
		}
		if err := m.applyInTx(migration.UpSQL, record); err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applied migration")
	}
	return nil
}

// Down rolls back the last applied migration
func (m *Migrator) Down() error {
	if err := m.EnsureMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info().Msg("No migrations to roll back")
		return nil
	}
	lastVersion := applied[len(applied)-1]

	migrations, err := m.LoadMigrations()
	if err != nil {
		return err
	}

	var target *Migration
	for _, migration := range migrations {
		if migration.Version == lastVersion {
			target = migration
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration file for version %d not found", lastVersion)
	}

	unrecord := func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", target.Version)
		return err
	}
	if err := m.applyInTx(target.DownSQL, unrecord); err != nil {
		return fmt.Errorf("failed to roll back migration %d (%s): %w", target.Version, target.Name, err)
	}

	log.Info().Int("version", target.Version).Str("name", target.Name).Msg("Rolled back migration")
	return nil
}

// applyInTx executes the migration SQL and the bookkeeping statement in
// a single transaction
func (m *Migrator) applyInTx(migrationSQL string, bookkeep func(*sql.Tx) error) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migrationSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if err := bookkeep(tx); err != nil {
		return fmt.Errorf("failed to update migration records: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
