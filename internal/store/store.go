// Package store is a small persistent key-value store backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zangezia/DLGuard/pkg/models"
	_ "modernc.org/sqlite"
)

// PendingKey holds the download awaiting confirmation
const PendingKey = "pendingDownload"

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store is safe for concurrent use
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// SQLite serializes writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value under key and whether it exists
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing a missing key is not an error
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// LoadPending returns the stored pending download, or nil if there is none
func (s *Store) LoadPending(ctx context.Context) (*models.PendingDownload, error) {
	data, ok, err := s.Get(ctx, PendingKey)
	if err != nil || !ok {
		return nil, err
	}

	var pending models.PendingDownload
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("decode pending download: %w", err)
	}
	return &pending, nil
}

// SavePending replaces the pending download
func (s *Store) SavePending(ctx context.Context, pending models.PendingDownload) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encode pending download: %w", err)
	}
	return s.Set(ctx, PendingKey, data)
}

// ClearPending forgets the pending download
func (s *Store) ClearPending(ctx context.Context) error {
	return s.Remove(ctx, PendingKey)
}
