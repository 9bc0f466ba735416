package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Each entry upgrades the schema by one version. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		bucket TEXT NOT NULL,
		key BLOB NOT NULL,
		value BLOB,
		updated INTEGER NOT NULL,
		PRIMARY KEY (bucket, key)
	);`,
}

// migrate brings db up to len(migrations), recording each applied version and
// when it ran in schema_version.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than this binary (%d)", version, len(migrations))
	}

	for ; version < len(migrations); version++ {
		if err := applyMigration(db, version+1, migrations[version]); err != nil {
			return err
		}
		log.Debug("schema migrated", "version", version+1)
	}
	return nil
}

func applyMigration(db *sql.DB, version int, stmt string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	if _, err := tx.Exec(stmt); err != nil {
		return fmt.Errorf("migration %d: %w", version, errors.Join(err, tx.Rollback()))
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version, applied) VALUES (?, ?)",
		version, time.Now().Unix()); err != nil {
		return fmt.Errorf("migration %d: %w", version, errors.Join(err, tx.Rollback()))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	return nil
}
