package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/models"
	"github.com/kjstillabower/weather-node/internal/observability"
)

// DefaultMaxAge is the age after which a short poll refetches.
const DefaultMaxAge = 5 * time.Minute

// Backend persists the last entry outside the process. Load returns
// (zero, false, nil) when nothing is stored.
type Backend interface {
	Load(ctx context.Context) (models.Entry, bool, error)
	Save(ctx context.Context, entry models.Entry) error
}

// WeatherCache holds the most recent reading of one poller. Safe for
// concurrent readers; the owning poller is the only writer.
type WeatherCache struct {
	mu      sync.RWMutex
	entry   models.Entry
	filled  bool
	backend Backend
	now     func() time.Time
	logger  *zap.Logger
}

// New creates an empty in-memory cache.
func New(logger *zap.Logger) *WeatherCache {
	return NewWithBackend(nil, logger)
}

// NewWithBackend creates a cache that writes every Put through to backend.
// A nil backend keeps the cache purely in memory.
func NewWithBackend(backend Backend, logger *zap.Logger) *WeatherCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherCache{
		backend: backend,
		now:     time.Now,
		logger:  logger,
	}
}

// Get returns the stored entry, or false when nothing has been stored.
func (c *WeatherCache) Get() (models.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry, c.filled
}

// Put replaces the stored entry with reading, stamped with the current time.
// Backend errors are logged and counted; the in-memory entry is always updated.
func (c *WeatherCache) Put(ctx context.Context, reading models.Reading) {
	entry := models.Entry{Reading: reading, StoredAt: c.now()}

	c.mu.Lock()
	c.entry = entry
	c.filled = true
	c.mu.Unlock()

	if c.backend == nil {
		return
	}
	if err := c.backend.Save(ctx, entry); err != nil {
		observability.CacheBackendOpsTotal.WithLabelValues("save", "error").Inc()
		c.logger.Warn("cache backend save failed", zap.Error(err))
		return
	}
	observability.CacheBackendOpsTotal.WithLabelValues("save", "success").Inc()
}

// IsStale reports whether the cache is empty or its entry is at least maxAge old.
func (c *WeatherCache) IsStale(maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filled {
		return true
	}
	return c.entry.Age(c.now()) >= maxAge
}

// Restore primes the cache from the backend. It is a no-op without a backend
// or when the cache already holds an entry.
func (c *WeatherCache) Restore(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	c.mu.RLock()
	filled := c.filled
	c.mu.RUnlock()
	if filled {
		return nil
	}

	entry, ok, err := c.backend.Load(ctx)
	if err != nil {
		observability.CacheBackendOpsTotal.WithLabelValues("load", "error").Inc()
		return err
	}
	if !ok {
		observability.CacheBackendOpsTotal.WithLabelValues("load", "miss").Inc()
		return nil
	}
	observability.CacheBackendOpsTotal.WithLabelValues("load", "hit").Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.filled {
		c.entry = entry
		c.filled = true
		c.logger.Info("cache restored from backend", zap.Time("storedAt", entry.StoredAt))
	}
	return nil
}
