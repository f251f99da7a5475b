// Package cache memoizes generation results per school with a time-based
// expiry. Storage is pluggable: memory, one file per entry, SQLite or Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/scrypster/schoolintel/pkg/types"
)

var (
	// ErrMiss is returned by Store.Load when no entry exists for a key.
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable wraps storage I/O and decoding failures.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrDisabled is returned by ResultCache.Set when caching is turned off.
	ErrDisabled = errors.New("cache disabled")
)

// Entry is one persisted generation result.
type Entry struct {
	URN          string                  `json:"urn"`
	GenerationID string                  `json:"generation_id"`
	CreatedAt    time.Time               `json:"cached_at"`
	Payload      *types.GenerationResult `json:"payload"`
}

// Store persists entries by key. Save replaces any existing entry for the
// key in a single step; readers never observe a partial entry.
type Store interface {
	Load(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	DeleteAll(ctx context.Context) (int, error)
	Close() error
}

// Key derives the storage key for a school URN.
func Key(urn string) string {
	sum := sha256.Sum256([]byte("starters_" + urn))
	return hex.EncodeToString(sum[:])
}
