package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS starter_cache (
	cache_key     TEXT PRIMARY KEY,
	urn           TEXT NOT NULL,
	generation_id TEXT NOT NULL,
	cached_at     TEXT NOT NULL,
	payload       TEXT NOT NULL
)`

// SQLiteStore keeps entries in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}

	// SQLite has one writer; a single connection serialises writes and
	// avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: init sqlite: %v", ErrUnavailable, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the entry for key.
func (s *SQLiteStore) Load(ctx context.Context, key string) (*Entry, error) {
	var (
		e         Entry
		cachedAt  string
		payloadJS string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT urn, generation_id, cached_at, payload FROM starter_cache WHERE cache_key = ?`, key).
		Scan(&e.URN, &e.GenerationID, &cachedAt, &payloadJS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrUnavailable, key, err)
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, cachedAt); err != nil {
		return nil, fmt.Errorf("%w: cached_at for %s: %v", ErrUnavailable, key, err)
	}
	if err := json.Unmarshal([]byte(payloadJS), &e.Payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, key, err)
	}
	return &e, nil
}

// Save upserts the entry in one statement.
func (s *SQLiteStore) Save(ctx context.Context, key string, e *Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO starter_cache (cache_key, urn, generation_id, cached_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			urn = excluded.urn,
			generation_id = excluded.generation_id,
			cached_at = excluded.cached_at,
			payload = excluded.payload`,
		key, e.URN, e.GenerationID, e.CreatedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes the row for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM starter_cache WHERE cache_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAll removes every row.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM starter_cache`)
	if err != nil {
		return 0, fmt.Errorf("%w: delete all: %v", ErrUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
