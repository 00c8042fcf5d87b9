// Package resolver implements the read path for short-code resolution and
// the fast click-accounting tier. It combines the Redis cache with durable
// storage: the cache absorbs the hot read set and click bursts, while the
// database stays authoritative. Cache failures always degrade to direct
// storage access.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shortapp/shortener/internal/cache"
	"github.com/shortapp/shortener/internal/entity"
	"github.com/shortapp/shortener/internal/metrics"
)

const (
	defaultResolveTTL         = time.Hour
	defaultCounterTTL         = time.Hour
	defaultCounterFallbackTTL = 5 * time.Minute
	defaultLastAccessedWindow = time.Minute
)

// Cache is the key-value tier consumed by the resolver. Implementations must
// return cache.ErrCacheMiss for absent keys.
type Cache interface {
	Get(ctx context.Context, key string, v any) error
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	GetCounter(ctx context.Context, key string) (int64, error)
	SetCounter(ctx context.Context, key string, n int64, ttl time.Duration) error
	IncrementWithSeed(ctx context.Context, key string, seed int64, ttl time.Duration) (int64, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// Store is the durable side of the resolution and accounting paths.
type Store interface {
	FindAnyByCode(ctx context.Context, code string) (*entity.ShortURL, error)
	GetClickCount(ctx context.Context, id int64) (int64, error)
	IncrementClickCount(ctx context.Context, id int64) error
	SyncClickCount(ctx context.Context, id, count int64) error
	TouchLastAccessed(ctx context.Context, id int64, window time.Duration) (bool, error)
}

// RedirectStore resolves short codes and accounts clicks.
type RedirectStore struct {
	cache   Cache
	store   Store
	metrics metrics.Recorder
	logger  *slog.Logger

	resolveTTL         time.Duration
	counterTTL         time.Duration
	counterFallbackTTL time.Duration
	lastAccessedWindow time.Duration
}

// Option overrides one of the RedirectStore's TTL or coalescing windows.
type Option func(*RedirectStore)

// WithResolveTTL bounds the freshness window of resolution cache entries.
func WithResolveTTL(d time.Duration) Option {
	return func(rs *RedirectStore) {
		rs.resolveTTL = d
	}
}

// WithCounterTTL bounds the validity of fast click counters seeded by a click.
func WithCounterTTL(d time.Duration) Option {
	return func(rs *RedirectStore) {
		rs.counterTTL = d
	}
}

// WithCounterFallbackTTL bounds counters seeded from a durable read.
func WithCounterFallbackTTL(d time.Duration) Option {
	return func(rs *RedirectStore) {
		rs.counterFallbackTTL = d
	}
}

// WithLastAccessedWindow sets the last_accessed_at coalescing window.
func WithLastAccessedWindow(d time.Duration) Option {
	return func(rs *RedirectStore) {
		rs.lastAccessedWindow = d
	}
}

// New creates a RedirectStore with the default TTL policy (resolution 1h,
// click counters 1h, durable fallback 5m, last-access coalescing 1m).
func New(c Cache, s Store, rec metrics.Recorder, logger *slog.Logger, opts ...Option) *RedirectStore {
	rs := &RedirectStore{
		cache:              c,
		store:              s,
		metrics:            rec,
		logger:             logger,
		resolveTTL:         defaultResolveTTL,
		counterTTL:         defaultCounterTTL,
		counterFallbackTTL: defaultCounterFallbackTTL,
		lastAccessedWindow: defaultLastAccessedWindow,
	}

	for _, opt := range opts {
		opt(rs)
	}

	return rs
}

func codeKey(code string) string {
	return "short_url:code:" + code
}

func clickCountKey(id int64) string {
	return fmt.Sprintf("short_url:%d:click_count", id)
}

// counterKeyPattern matches every fast click counter; used by SyncAll.
const counterKeyPattern = "short_url:*:click_count"

func idFromCounterKey(key string) (int64, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return 0, false
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// Resolve returns the active record for code. A cache hit is served only if
// the cached record is still active; anything else falls through to durable
// storage. Deleted records report entity.ErrURLNotFound, expired ones
// entity.ErrURLGone. Negative results are not cached.
func (rs *RedirectStore) Resolve(ctx context.Context, code string) (*entity.ShortURL, error) {
	const op = "resolver.RedirectStore.Resolve"

	key := codeKey(code)

	var cached entity.ShortURL
	err := rs.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		if cached.Active() {
			rs.metrics.CacheLookup("hit")
			return &cached, nil
		}
		// Entry went stale between invalidation points; drop it and re-read.
		rs.dropKeys(ctx, key)
		rs.metrics.CacheLookup("miss")
	case errors.Is(err, cache.ErrCacheMiss):
		rs.metrics.CacheLookup("miss")
	default:
		rs.metrics.CacheLookup("error")
		rs.logger.Warn("resolution cache unavailable, falling back to storage",
			slog.String("op", op), slog.Any("err", err))
	}

	url, err := rs.store.FindAnyByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if url.DeletedAt != nil {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}
	if url.Expired() {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLGone)
	}

	if err := rs.cache.Set(ctx, key, url, rs.resolveTTL); err != nil {
		rs.logger.Warn("failed to populate resolution cache",
			slog.String("op", op), slog.Any("err", err))
	}

	return url, nil
}

// Populate warms the resolution cache for a freshly created record, saving
// the cold-miss tax on the first redirect.
func (rs *RedirectStore) Populate(ctx context.Context, url *entity.ShortURL) {
	const op = "resolver.RedirectStore.Populate"

	if url.ShortCode == "" || !url.Active() {
		return
	}

	if err := rs.cache.Set(ctx, codeKey(url.ShortCode), url, rs.resolveTTL); err != nil {
		rs.logger.Warn("failed to warm resolution cache",
			slog.String("op", op), slog.Any("err", err))
	}
}

// RecordClick counts one access through the fast counter tier. An absent
// counter is seeded from the durable value plus the click being recorded.
// If the cache is unavailable the click is written through to storage
// directly.
func (rs *RedirectStore) RecordClick(ctx context.Context, id int64) error {
	const op = "resolver.RedirectStore.RecordClick"

	key := clickCountKey(id)

	_, err := rs.cache.GetCounter(ctx, key)
	switch {
	case err == nil:
		if _, err := rs.cache.IncrementWithSeed(ctx, key, 1, rs.counterTTL); err == nil {
			return nil
		}
		rs.metrics.CacheLookup("error")
	case errors.Is(err, cache.ErrCacheMiss):
		durable, derr := rs.store.GetClickCount(ctx, id)
		if derr != nil {
			return fmt.Errorf("%s: %w", op, derr)
		}

		if _, cerr := rs.cache.IncrementWithSeed(ctx, key, durable+1, rs.counterTTL); cerr == nil {
			return nil
		}
		rs.metrics.CacheLookup("error")
	default:
		rs.metrics.CacheLookup("error")
	}

	// Counter tier unavailable; degrade to a direct durable increment.
	rs.logger.Warn("fast counter unavailable, incrementing durable count",
		slog.String("op", op), slog.Int64("id", id))

	if err := rs.store.IncrementClickCount(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// EffectiveClickCount returns the fast-counter value when present, else the
// durable value. The durable read is cached briefly to bound read
// amplification on hot records.
func (rs *RedirectStore) EffectiveClickCount(ctx context.Context, id int64) (int64, error) {
	const op = "resolver.RedirectStore.EffectiveClickCount"

	key := clickCountKey(id)

	n, err := rs.cache.GetCounter(ctx, key)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		rs.metrics.CacheLookup("error")
		rs.logger.Warn("fast counter unavailable, reading durable count",
			slog.String("op", op), slog.Any("err", err))
	}

	durable, err := rs.store.GetClickCount(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := rs.cache.SetCounter(ctx, key, durable, rs.counterFallbackTTL); err != nil {
		rs.logger.Warn("failed to cache durable click count",
			slog.String("op", op), slog.Any("err", err))
	}

	return durable, nil
}

// SyncClickCount reconciles the fast counter for id into durable storage and
// clears the counter entry. Safe to call concurrently with further clicks;
// an increment landing between the write-through and the clear is a bounded
// accepted loss.
func (rs *RedirectStore) SyncClickCount(ctx context.Context, id int64) error {
	const op = "resolver.RedirectStore.SyncClickCount"

	key := clickCountKey(id)

	n, err := rs.cache.GetCounter(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := rs.store.SyncClickCount(ctx, id, n); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := rs.cache.Delete(ctx, key); err != nil {
		rs.logger.Warn("failed to clear synced click counter",
			slog.String("op", op), slog.Any("err", err))
	}

	rs.metrics.ClickSynced()

	return nil
}

// SyncAll reconciles every pending fast counter. Invoked periodically by the
// background syncer; each record is synced independently so one failure does
// not abort the sweep.
func (rs *RedirectStore) SyncAll(ctx context.Context) error {
	const op = "resolver.RedirectStore.SyncAll"

	keys, err := rs.cache.ScanKeys(ctx, counterKeyPattern)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, key := range keys {
		id, ok := idFromCounterKey(key)
		if !ok {
			continue
		}

		if err := rs.SyncClickCount(ctx, id); err != nil {
			rs.logger.Error("failed to sync click count",
				slog.String("op", op), slog.Int64("id", id), slog.Any("err", err))
		}
	}

	return nil
}

// TouchLastAccessed updates the record's last access timestamp, coalesced to
// at most one write per window.
func (rs *RedirectStore) TouchLastAccessed(ctx context.Context, id int64) error {
	const op = "resolver.RedirectStore.TouchLastAccessed"

	if _, err := rs.store.TouchLastAccessed(ctx, id, rs.lastAccessedWindow); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Invalidate removes both the resolution entry and the fast counter for a
// record. Called on every mutation that affects cached fields or
// active-status.
func (rs *RedirectStore) Invalidate(ctx context.Context, code string, id int64) {
	keys := []string{clickCountKey(id)}
	if code != "" {
		keys = append(keys, codeKey(code))
	}

	rs.dropKeys(ctx, keys...)
}

func (rs *RedirectStore) dropKeys(ctx context.Context, keys ...string) {
	if err := rs.cache.Delete(ctx, keys...); err != nil {
		rs.logger.Warn("failed to invalidate cache entries",
			slog.String("op", "resolver.RedirectStore.dropKeys"), slog.Any("err", err))
	}
}
