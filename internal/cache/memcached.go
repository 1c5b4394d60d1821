package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-node/internal/models"
)

const (
	keyPrefix = "weathernode:"

	// DefaultBackendTTL bounds how long a persisted reading survives in memcached.
	DefaultBackendTTL = 24 * time.Hour

	maxRelativeExp = 30 * 24 * time.Hour
)

// MemcachedBackend stores one entry under a fixed key in memcached.
type MemcachedBackend struct {
	client *memcache.Client
	key    string
	ttl    time.Duration
}

// NewMemcachedBackend creates a MemcachedBackend. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"); name identifies the
// owning node and becomes part of the key. timeout, maxIdleConns and ttl use
// defaults if zero.
func NewMemcachedBackend(addrs, name string, timeout time.Duration, maxIdleConns int, ttl time.Duration) (*MemcachedBackend, error) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return nil, errors.New("memcached key name must be non-empty and contain no whitespace")
	}
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	if ttl <= 0 || ttl > maxRelativeExp {
		ttl = DefaultBackendTTL
	}
	return &MemcachedBackend{client: client, key: keyPrefix + name, ttl: ttl}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Load implements Backend.Load.
func (b *MemcachedBackend) Load(ctx context.Context) (models.Entry, bool, error) {
	if ctx.Err() != nil {
		return models.Entry{}, false, ctx.Err()
	}
	item, err := b.client.Get(b.key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Entry{}, false, nil
		}
		return models.Entry{}, false, err
	}
	entry, err := decodeEntry(item.Value)
	if err != nil {
		return models.Entry{}, false, err
	}
	return entry, true, nil
}

// Save implements Backend.Save.
func (b *MemcachedBackend) Save(ctx context.Context, entry models.Entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.client.Set(&memcache.Item{
		Key:        b.key,
		Value:      raw,
		Expiration: int32(b.ttl.Seconds()),
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (b *MemcachedBackend) Ping() error {
	return b.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (b *MemcachedBackend) Close() error {
	return b.client.Close()
}

// decodeEntry keeps numbers as json.Number, matching what the API client decodes.
func decodeEntry(raw []byte) (models.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var entry models.Entry
	if err := dec.Decode(&entry); err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}
