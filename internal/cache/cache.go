package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/pkg/types"
)

// Stats counts cache activity since construction.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Expired uint64 `json:"expired"`
	Writes  uint64 `json:"writes"`
	Errors  uint64 `json:"errors"`
}

// ResultCache returns a stored GenerationResult while it is younger than
// the TTL. Storage errors are logged and reported as misses.
type ResultCache struct {
	store   Store
	ttl     time.Duration
	enabled bool
	now     func() time.Time
	logger  *zap.Logger

	hits, misses, expired, writes, errs atomic.Uint64
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *ResultCache) { c.logger = l }
}

// New creates a cache over store. When enabled is false the store is never
// touched: Get always misses and Set returns ErrDisabled.
func New(store Store, ttl time.Duration, enabled bool, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:   store,
		ttl:     ttl,
		enabled: enabled && store != nil,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")
	return c
}

// Enabled reports whether results are persisted.
func (c *ResultCache) Enabled() bool { return c.enabled }

// TTL returns the validity window.
func (c *ResultCache) TTL() time.Duration { return c.ttl }

// Get returns a copy of the cached result for urn if present and fresh.
func (c *ResultCache) Get(ctx context.Context, urn string) (*types.GenerationResult, bool) {
	if !c.enabled {
		c.misses.Add(1)
		return nil, false
	}

	key := Key(urn)
	e, err := c.store.Load(ctx, key)
	switch {
	case errors.Is(err, ErrMiss):
		c.misses.Add(1)
		return nil, false
	case err != nil:
		c.errs.Add(1)
		c.misses.Add(1)
		c.logger.Warn("cache read failed, treating as miss", zap.String("urn", urn), zap.Error(err))
		return nil, false
	}

	if e.URN != urn || e.Payload == nil {
		c.misses.Add(1)
		c.logger.Warn("cache entry does not match request", zap.String("urn", urn), zap.String("entry_urn", e.URN))
		return nil, false
	}

	if age := c.now().Sub(e.CreatedAt); age > c.ttl {
		c.expired.Add(1)
		c.misses.Add(1)
		c.logger.Debug("cache entry expired", zap.String("urn", urn), zap.Duration("age", age))
		return nil, false
	}

	c.hits.Add(1)
	return e.Payload.Clone().Normalize(), true
}

// Set stores result for urn, replacing any existing entry.
func (c *ResultCache) Set(ctx context.Context, urn string, result *types.GenerationResult) error {
	if !c.enabled {
		return ErrDisabled
	}
	if result == nil {
		return fmt.Errorf("cache: nil result for %s", urn)
	}

	e := &Entry{
		URN:          urn,
		GenerationID: uuid.NewString(),
		CreatedAt:    c.now().UTC(),
		Payload:      result.Clone().Normalize(),
	}
	if err := c.store.Save(ctx, Key(urn), e); err != nil {
		c.errs.Add(1)
		return err
	}
	c.writes.Add(1)
	c.logger.Debug("cached result", zap.String("urn", urn), zap.String("generation_id", e.GenerationID))
	return nil
}

// Invalidate removes the entry for urn and returns how many were removed.
func (c *ResultCache) Invalidate(ctx context.Context, urn string) (int, error) {
	if !c.enabled {
		return 0, nil
	}
	ok, err := c.store.Delete(ctx, Key(urn))
	if err != nil {
		c.errs.Add(1)
		return 0, err
	}
	if ok {
		return 1, nil
	}
	return 0, nil
}

// InvalidateAll removes every entry.
func (c *ResultCache) InvalidateAll(ctx context.Context) (int, error) {
	if !c.enabled {
		return 0, nil
	}
	n, err := c.store.DeleteAll(ctx)
	if err != nil {
		c.errs.Add(1)
	}
	return n, err
}

// Stats returns a snapshot of the counters.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Expired: c.expired.Load(),
		Writes:  c.writes.Load(),
		Errors:  c.errs.Load(),
	}
}

// Close releases the underlying store.
func (c *ResultCache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
