package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settingsd/internal/logging"
	"settingsd/internal/store"

	_ "modernc.org/sqlite"
)

var log = logging.For("store.sqlite")

var _ store.Store = (*Store)(nil)

// Store implements store.Store on a SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	log.Debug("opened", "path", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// DBPath returns the database file path.
func (s *Store) DBPath() string { return s.dbPath }

func (s *Store) Get(bucket, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow("SELECT value FROM settings WHERE bucket = ? AND key = ?", string(bucket), key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Set upserts a value.
func (s *Store) Set(bucket, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(`INSERT INTO settings (bucket, key, value, updated) VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET value = excluded.value, updated = excluded.updated`,
		string(bucket), key, value, time.Now().UnixNano())
	return err
}

func (s *Store) Delete(bucket, key []byte) error {
	_, err := s.db.Exec("DELETE FROM settings WHERE bucket = ? AND key = ?", string(bucket), key)
	return err
}

type row struct {
	key, value []byte
}

func (s *Store) rows(bucket []byte) ([]row, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings WHERE bucket = ? ORDER BY key", string(bucket))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ForEach visits keys in byte order. Rows are read up front, so fn may call
// back into the store.
func (s *Store) ForEach(bucket []byte, fn func(key, value []byte) error) error {
	rows, err := s.rows(bucket)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Snapshot(bucket []byte) (map[string][]byte, error) {
	rows, err := s.rows(bucket)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(rows))
	for _, r := range rows {
		result[string(r.key)] = r.value
	}
	return result, nil
}

// Close closes the database.
func (s *Store) Close() error {
	log.Debug("closing", "path", s.dbPath)
	return s.db.Close()
}
