package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zingerfi/confide-go/internal/securestore"

	_ "github.com/mattn/go-sqlite3"
)

const createKeysTable = `
CREATE TABLE IF NOT EXISTS private_keys (
	identity_id TEXT PRIMARY KEY,
	private_key TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// SQLite is a Store backed by a SQLite database file on the device.
//
// Each call opens the database, runs one statement and closes the handle
// again before returning, on success and on error alike.
type SQLite struct {
	path       string
	passphrase string
	locks      identityLocks
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithPassphrase seals stored values with the securestore envelope.
// Values written without a passphrase are still readable.
func WithPassphrase(passphrase string) SQLiteOption {
	return func(s *SQLite) {
		s.passphrase = passphrase
	}
}

// NewSQLite returns a store for the database file at path. The file and its
// parent directory are created on first use.
func NewSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("keystore: database path is required")
	}
	s := &SQLite{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// withDB opens the database, ensures the schema and runs fn. The handle is
// always closed before withDB returns.
func (s *SQLite) withDB(ctx context.Context, fn func(*sql.DB) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create keystore directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", s.path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close keystore: %w", cerr)
		}
	}()

	if _, err := db.ExecContext(ctx, createKeysTable); err != nil {
		return fmt.Errorf("initialize keystore: %w", err)
	}
	return fn(db)
}

// Put upserts the key text for identityID, sealing it when a passphrase is set.
func (s *SQLite) Put(ctx context.Context, identityID, privateKeyText string) error {
	if err := validateIdentity(identityID); err != nil {
		return err
	}
	if privateKeyText == "" {
		return ErrEmptyKey
	}

	value := privateKeyText
	if s.passphrase != "" {
		sealed, err := securestore.SealString(s.passphrase, privateKeyText)
		if err != nil {
			return fmt.Errorf("seal private key: %w", err)
		}
		value = sealed
	}

	unlock := s.locks.lock(identityID)
	defer unlock()

	return s.withDB(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO private_keys (identity_id, private_key, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(identity_id) DO UPDATE SET
				private_key = excluded.private_key,
				updated_at = excluded.updated_at`,
			identityID, value, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("store private key: %w", err)
		}
		return nil
	})
}

// Get returns the stored key text and whether a row exists. Sealed values
// are opened with the configured passphrase.
func (s *SQLite) Get(ctx context.Context, identityID string) (string, bool, error) {
	if err := validateIdentity(identityID); err != nil {
		return "", false, err
	}

	var value string
	found := false
	err := s.withDB(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT private_key FROM private_keys WHERE identity_id = ?`, identityID)
		switch err := row.Scan(&value); err {
		case nil:
			found = true
			return nil
		case sql.ErrNoRows:
			return nil
		default:
			return fmt.Errorf("load private key: %w", err)
		}
	})
	if err != nil || !found {
		return "", false, err
	}

	if securestore.IsSealed(value) {
		opened, err := securestore.OpenString(s.passphrase, value)
		if err != nil {
			return "", false, fmt.Errorf("unseal private key: %w", err)
		}
		value = opened
	}
	return value, true, nil
}

// Delete removes the row of identityID, if any.
func (s *SQLite) Delete(ctx context.Context, identityID string) error {
	if err := validateIdentity(identityID); err != nil {
		return err
	}

	unlock := s.locks.lock(identityID)
	defer unlock()

	return s.withDB(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM private_keys WHERE identity_id = ?`, identityID); err != nil {
			return fmt.Errorf("delete private key: %w", err)
		}
		return nil
	})
}
