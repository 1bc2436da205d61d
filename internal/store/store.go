// Package store is the SQLite persistence collaborator. It implements the
// license repository, the generator spec registry, the product catalog and
// the per-order fulfillment flags on a single database file.
//
// License keys are stored ciphertext-only; the hash column (keyed HMAC of
// the plaintext) carries a unique index, which is what makes the
// check-then-insert of the generation loop safe under concurrent requests.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the license database under dataDir.
func Open(dataDir string) (*Store, error) {
	dataDir = filepath.Clean(dataDir)
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("dataDir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "keymint.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open license db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		charset TEXT NOT NULL,
		chunks INTEGER NOT NULL,
		chunk_length INTEGER NOT NULL,
		separator TEXT NOT NULL DEFAULT '',
		prefix TEXT NOT NULL DEFAULT '',
		suffix TEXT NOT NULL DEFAULT '',
		expires_in INTEGER NOT NULL DEFAULT 0,
		times_activated_max INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		sells_stock INTEGER NOT NULL DEFAULT 0,
		generator_id INTEGER REFERENCES generators(id),
		delivered_quantity INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS license_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER,
		product_id INTEGER,
		license_key TEXT NOT NULL,
		hash TEXT NOT NULL,
		valid_for INTEGER,
		expires_at INTEGER,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		times_activated INTEGER NOT NULL DEFAULT 0,
		times_activated_max INTEGER,
		created_at INTEGER NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_license_keys_hash ON license_keys(hash);
	CREATE INDEX IF NOT EXISTS idx_license_keys_order ON license_keys(order_id);
	CREATE INDEX IF NOT EXISTS idx_license_keys_product_status ON license_keys(product_id, status);

	CREATE TABLE IF NOT EXISTS fulfilled_orders (
		order_id INTEGER PRIMARY KEY,
		fulfilled_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init license schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
