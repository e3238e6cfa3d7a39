// Package notifications serves notification feeds through a short-lived cache and
// owns the write path that creates, reads and deletes notification rows.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/hearth-social/backend/internal/cache"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/metrics"
	"github.com/hearth-social/backend/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds how stale a cached page can be
	DefaultTTL = 60 * time.Second

	cacheName = "notifications"

	generationStripes = 256
)

// Store is the key-value surface the cache needs
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Page is one page of a user's feed as served to clients and stored in the cache
type Page struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int64                 `json:"unread_count"`
	Page          int                   `json:"page"`
	Limit         int                   `json:"limit"`
}

// Cache stores serialized feed pages keyed by (user, page, limit).
// A nil *Cache or a nil store behaves as a permanently empty cache.
type Cache struct {
	store Store
	ttl   time.Duration

	// invalidation counters, striped by user id
	gens [generationStripes]atomic.Uint64
}

// NewCache creates a page cache. ttl <= 0 uses DefaultTTL.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// PageKey returns the cache key for one page of userID's feed
func PageKey(userID string, page, limit int) string {
	return fmt.Sprintf("%s%d:%d", userPrefix(userID), page, limit)
}

// userPrefix ends with ':' so user "1" never matches user "10"
func userPrefix(userID string) string {
	return "notifications:" + userID + ":"
}

// GetPage returns the cached page, or false on a miss. Store errors count as a miss.
func (c *Cache) GetPage(ctx context.Context, userID string, page, limit int) (*Page, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	m := metrics.Get()
	key := PageKey(userID, page, limit)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			m.CacheErrorsTotal.WithLabelValues(cacheName, "get").Inc()
			logger.Log.Warn("Notification cache read failed, falling back to database",
				zap.String("key", key),
				zap.Error(err))
		}
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
		return nil, false
	}

	var p Page
	if err := json.Unmarshal(data, &p); err != nil {
		m.CacheErrorsTotal.WithLabelValues(cacheName, "decode").Inc()
		logger.Log.Warn("Discarding undecodable notification cache entry",
			zap.String("key", key),
			zap.Error(err))
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
		return nil, false
	}

	m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	return &p, true
}

// SetPage stores p with the cache TTL. Failures are logged and otherwise ignored.
func (c *Cache) SetPage(ctx context.Context, userID string, page, limit int, p *Page) {
	if c == nil || c.store == nil || p == nil {
		return
	}
	key := PageKey(userID, page, limit)

	data, err := json.Marshal(p)
	if err != nil {
		logger.Log.Error("Failed to encode notification page", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetEx(ctx, key, data, c.ttl); err != nil {
		metrics.Get().CacheErrorsTotal.WithLabelValues(cacheName, "set").Inc()
		logger.Log.Warn("Notification cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Generation returns a token that changes whenever userID's pages are invalidated
// by this process. Users sharing a stripe share the token.
func (c *Cache) Generation(userID string) uint64 {
	if c == nil {
		return 0
	}
	return c.stripe(userID).Load()
}

// SetPageIfCurrent stores p only if userID has not been invalidated since gen was
// taken. A page read from the database before an invalidation is never left behind
// by this process; invalidations from other instances are bounded by the TTL.
func (c *Cache) SetPageIfCurrent(ctx context.Context, userID string, page, limit int, p *Page, gen uint64) bool {
	if c == nil || c.store == nil || c.Generation(userID) != gen {
		return false
	}
	c.SetPage(ctx, userID, page, limit, p)

	// An invalidation that landed during the write may have run its delete first
	if c.Generation(userID) != gen {
		if _, err := c.store.DeleteByPrefix(ctx, userPrefix(userID)); err != nil {
			logger.Log.Warn("Failed to drop notification page stored across an invalidation",
				logger.WithUserID(userID),
				zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Cache) stripe(userID string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &c.gens[h.Sum32()%generationStripes]
}

// InvalidateUser deletes every cached page belonging to userID
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	if c == nil {
		return nil
	}
	c.stripe(userID).Add(1)
	if c.store == nil {
		return nil
	}
	n, err := c.store.DeleteByPrefix(ctx, userPrefix(userID))
	metrics.Get().CacheInvalidationsTotal.WithLabelValues(cacheName).Add(float64(n))
	if err != nil {
		metrics.Get().CacheErrorsTotal.WithLabelValues(cacheName, "invalidate").Inc()
		return fmt.Errorf("invalidate notifications for %s: %w", userID, err)
	}
	return nil
}
