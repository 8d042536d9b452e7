package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/audit-trail/internal/adapter/metrics"
)

// defaultCacheSize bounds the number of keys remembered at once.
const defaultCacheSize = 10000

type cacheEntry struct {
	owner     string
	found     bool
	expiresAt time.Time
}

// IdentityRepository implements domain.IdentityRepository using PostgreSQL
// as the source of truth and an in-memory, time-based cache.
type IdentityRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]cacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	maxSize  int
	metrics  *metrics.AuditMetrics
	now      func() time.Time
}

// NewIdentityRepository creates a new instance of the PostgreSQL identity repository.
func NewIdentityRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.AuditMetrics) *IdentityRepository {
	return &IdentityRepository{
		db:       db,
		logger:   logger.With("component", "identity_repository"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		maxSize:  defaultCacheSize,
		metrics:  m,
		now:      time.Now,
	}
}

// Resolve returns the owner of an active, unexpired key. It first checks the
// local cache and falls back to the database on a miss or an expired entry.
// Unknown keys are cached too, so repeated bad keys do not hit the database.
func (r *IdentityRepository) Resolve(ctx context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	entry, found := r.cache[key]
	r.mu.RUnlock()

	if found && r.now().Before(entry.expiresAt) {
		if r.metrics != nil {
			r.metrics.IdentityCacheHits.Inc()
		}
		return entry.owner, entry.found, nil
	}

	if r.metrics != nil {
		r.metrics.IdentityCacheMisses.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have filled the entry while we waited for the lock.
	entry, found = r.cache[key]
	if found && r.now().Before(entry.expiresAt) {
		return entry.owner, entry.found, nil
	}

	var owner string
	query := `SELECT owner FROM api_keys WHERE key = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW())`
	err := r.db.QueryRowContext(ctx, query, key).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// unknown or inactive key
	case err != nil:
		// Errors are not cached; the next request retries the database.
		r.logger.Error("Failed to resolve API key", "error", err)
		return "", false, fmt.Errorf("failed to resolve api key: %w", err)
	}

	r.store(key, cacheEntry{
		owner:     owner,
		found:     err == nil,
		expiresAt: r.now().Add(r.cacheTTL),
	})
	return owner, err == nil, nil
}

// store inserts an entry, evicting expired entries first and an arbitrary one
// when the cache is still full. Callers hold the write lock.
func (r *IdentityRepository) store(key string, entry cacheEntry) {
	if len(r.cache) >= r.maxSize {
		now := r.now()
		for k, e := range r.cache {
			if !now.Before(e.expiresAt) {
				delete(r.cache, k)
			}
		}
		for k := range r.cache {
			if len(r.cache) < r.maxSize {
				break
			}
			delete(r.cache, k)
		}
	}
	r.cache[key] = entry
}
