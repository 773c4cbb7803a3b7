// Package record provides the runtime's persistence boundary: a
// SQLite-backed store of opaque record envelopes addressed by key. Context
// types reference records by key and resolve them through the Loader
// interface; the store knows nothing about context semantics.
package record

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// ErrNotFound indicates no record exists for the requested key.
var ErrNotFound = errors.New("record: not found")

// Record is the opaque envelope stored per key. Data is typically JSON but
// the store does not inspect it.
type Record struct {
	Key  string
	Type string
	Data []byte
}

// Loader resolves a record by key. The context subsystem depends on this
// interface only, never on the concrete store.
type Loader interface {
	LoadRecord(ctx context.Context, key string) (*Record, error)
}

// Store provides durable storage for record envelopes.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path, applying
// required pragmas and the schema. Safe to call more than once for the
// same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveRecord inserts or replaces the record under its key.
func (s *Store) SaveRecord(ctx context.Context, rec *Record) error {
	if rec.Key == "" {
		return fmt.Errorf("record: key must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (key, type, data) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET type = excluded.type, data = excluded.data,
		 updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		rec.Key, rec.Type, rec.Data)
	if err != nil {
		return fmt.Errorf("record: save %q: %w", rec.Key, err)
	}
	return nil
}

// LoadRecord implements Loader. Returns ErrNotFound when no record exists
// for the key.
func (s *Store) LoadRecord(ctx context.Context, key string) (*Record, error) {
	rec := &Record{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT type, data FROM records WHERE key = ?`, key).Scan(&rec.Type, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record: load %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("record: load %q: %w", key, err)
	}
	return rec, nil
}

// SaveJSON marshals v and stores it under the key with the given type tag.
func (s *Store) SaveJSON(ctx context.Context, key, typeTag string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("record: marshal %q: %w", key, err)
	}
	return s.SaveRecord(ctx, &Record{Key: key, Type: typeTag, Data: data})
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}
