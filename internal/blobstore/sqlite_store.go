// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirrus7/ready-or-not-sub011/internal/log"
	"github.com/sirrus7/ready-or-not-sub011/internal/metrics"
	"github.com/sirrus7/ready-or-not-sub011/internal/persistence/sqlite"
)

const (
	sqliteSchemaVersion = 1
	sqliteSchema        = `
	CREATE TABLE IF NOT EXISTS media_blobs (
		file_name TEXT PRIMARY KEY,
		blob_data BLOB NOT NULL,
		size INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL,
		stored_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_blobs_expires ON media_blobs(expires_at_ms);
	`
)

// SQLiteStore keeps blobs in a single SQLite table. Every write is one
// statement, so a reader never observes a partially written entry.
type SQLiteStore struct {
	path  string
	clock Clock
	db    lazyHandle[*sql.DB]
}

// NewSQLiteStore returns a store for dbPath. The database is not opened
// until the first operation.
func NewSQLiteStore(dbPath string, clock Clock) *SQLiteStore {
	if clock == nil {
		clock = realClock{}
	}
	s := &SQLiteStore{path: dbPath, clock: clock}
	s.db.open = s.open
	return s
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return nil, err
	}
	db, err := sqlite.Open(ctx, s.path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, sqliteSchemaVersion, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger := log.WithComponent("blobstore")
	logger.Info().
		Str(log.FieldEvent, "blobstore.opened").
		Str(log.FieldPath, s.path).
		Msg("opened sqlite blob store")
	return db, nil
}

// Backend implements Store.
func (s *SQLiteStore) Backend() string { return "sqlite" }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, fileName string, data []byte, expiresAt time.Time) error {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
	INSERT INTO media_blobs (file_name, blob_data, size, expires_at_ms, stored_at_ms)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(file_name) DO UPDATE SET
		blob_data = excluded.blob_data,
		size = excluded.size,
		expires_at_ms = excluded.expires_at_ms,
		stored_at_ms = excluded.stored_at_ms
	`, key, data, len(data), expiresAt.UnixMilli(), s.clock.Now().UnixMilli())
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, fileName string) (*Entry, error) {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return nil, err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return nil, err
	}

	var (
		data              []byte
		expiresMs, stored int64
	)
	err = db.QueryRowContext(ctx,
		"SELECT blob_data, expires_at_ms, stored_at_ms FROM media_blobs WHERE file_name = ?", key,
	).Scan(&data, &expiresMs, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordBlobLookup(s.Backend(), "miss")
		return nil, nil
	}
	if err != nil {
		metrics.RecordBlobLookup(s.Backend(), "error")
		return nil, err
	}

	entry := &Entry{
		FileName:  key,
		Data:      data,
		ExpiresAt: time.UnixMilli(expiresMs),
		StoredAt:  time.UnixMilli(stored),
	}
	if entry.Expired(s.clock.Now()) {
		// Guard on expiry so a concurrent fresh Set is not thrown away.
		if _, err := db.ExecContext(ctx,
			"DELETE FROM media_blobs WHERE file_name = ? AND expires_at_ms = ?", key, expiresMs); err != nil {
			return nil, err
		}
		metrics.RecordBlobLookup(s.Backend(), "expired")
		metrics.BlobExpiredDeletedTotal.Inc()
		return nil, nil
	}
	metrics.RecordBlobLookup(s.Backend(), "hit")
	return entry, nil
}

// Has implements Store.
func (s *SQLiteStore) Has(ctx context.Context, fileName string) (bool, error) {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return false, err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM media_blobs WHERE file_name = ? AND expires_at_ms > ?",
		key, s.clock.Now().UnixMilli(),
	).Scan(&n)
	return n > 0, err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, fileName string) error {
	key, err := NormalizeKey(fileName)
	if err != nil {
		return err
	}
	db, err := s.db.get(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM media_blobs WHERE file_name = ?", key)
	return err
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	db, err := s.db.get(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM media_blobs")
	return err
}

// CleanupExpired implements Store.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int, error) {
	db, err := s.db.get(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM media_blobs WHERE expires_at_ms <= ?", s.clock.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	metrics.BlobExpiredDeletedTotal.Add(float64(n))
	return int(n), nil
}

// Keys implements Store.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	db, err := s.db.get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT file_name FROM media_blobs ORDER BY file_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.db.markClosed()
	if db, ok := s.db.peek(); ok {
		return db.Close()
	}
	return nil
}
