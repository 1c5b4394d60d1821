package main

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/cache"
	"github.com/kjstillabower/weather-node/internal/client"
	"github.com/kjstillabower/weather-node/internal/config"
	"github.com/kjstillabower/weather-node/internal/node"
	"github.com/kjstillabower/weather-node/internal/observability"
	"github.com/kjstillabower/weather-node/internal/poller"
	"github.com/kjstillabower/weather-node/internal/ratelimit"
)

// deviceBuilder creates weather pollers for the controller. Each poller gets
// its own limiter, client and cache; memcached backends are kept for health
// checks and shutdown.
type deviceBuilder struct {
	cfg    *config.Config
	sink   poller.Sink
	notes  poller.Notifier
	logger *zap.Logger

	mu       sync.Mutex
	backends []*cache.MemcachedBackend
}

func newDeviceBuilder(cfg *config.Config, sink poller.Sink, notes poller.Notifier, logger *zap.Logger) *deviceBuilder {
	return &deviceBuilder{cfg: cfg, sink: sink, notes: notes, logger: logger}
}

// Build satisfies node.Factory.
func (b *deviceBuilder) Build(address, apiKey, location string) (node.Device, error) {
	return b.buildPoller(address, apiKey, location)
}

func (b *deviceBuilder) buildPoller(address, apiKey, location string) (*poller.Poller, error) {
	limiter := ratelimit.New(b.cfg.CallLimit, b.cfg.CallWindow, b.logger)
	observability.RegisterCallWindowGauge(limiter.InWindow)

	wc, err := client.NewWeatherAPIClientWithRetry(
		b.cfg.WeatherAPIURL,
		b.cfg.WeatherAPITimeout,
		b.cfg.RetryAttempts,
		b.cfg.RetryDelay,
		limiter,
		b.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	if b.cfg.BreakerEnabled {
		wc.SetCircuitBreaker(client.NewCircuitBreaker(client.BreakerConfig{
			Name:             "weatherapi_" + address,
			FailureThreshold: b.cfg.BreakerFailureThreshold,
			OpenTimeout:      b.cfg.BreakerOpenTimeout,
		}, b.logger))
	}

	wcache, err := b.buildCache(address)
	if err != nil {
		return nil, err
	}

	return poller.New(poller.Config{
		Address:  address,
		APIKey:   apiKey,
		Location: location,
		MaxAge:   b.cfg.CacheMaxAge,
	}, wc, wcache, b.sink, b.notes, b.logger), nil
}

func (b *deviceBuilder) buildCache(address string) (*cache.WeatherCache, error) {
	if b.cfg.CacheBackend != "memcached" {
		return cache.New(b.logger), nil
	}
	backend, err := cache.NewMemcachedBackend(
		b.cfg.MemcachedAddrs,
		address,
		b.cfg.MemcachedTimeout,
		b.cfg.MemcachedMaxIdleConns,
		b.cfg.MemcachedTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("memcached backend: %w", err)
	}
	b.mu.Lock()
	b.backends = append(b.backends, backend)
	b.mu.Unlock()
	b.logger.Info("cache backend: memcached", zap.String("address", address), zap.String("addrs", b.cfg.MemcachedAddrs))
	return cache.NewWithBackend(backend, b.logger), nil
}

// Ping checks every memcached backend. Nil when none are in use.
func (b *deviceBuilder) Ping() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, backend := range b.backends {
		if err := backend.Ping(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases memcached connections.
func (b *deviceBuilder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, backend := range b.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.backends = nil
	return errors.Join(errs...)
}
