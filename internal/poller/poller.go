package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/cache"
	"github.com/kjstillabower/weather-node/internal/channel"
	"github.com/kjstillabower/weather-node/internal/client"
	"github.com/kjstillabower/weather-node/internal/config"
	"github.com/kjstillabower/weather-node/internal/location"
	"github.com/kjstillabower/weather-node/internal/models"
	"github.com/kjstillabower/weather-node/internal/observability"
)

var (
	// ErrNotConfigured is the parent of every credential or location error.
	ErrNotConfigured   = errors.New("weather node not configured")
	ErrMissingAPIKey   = fmt.Errorf("%w: api key missing", ErrNotConfigured)
	ErrMissingLocation = fmt.Errorf("%w: location missing", ErrNotConfigured)
	ErrInvalidLocation = fmt.Errorf("%w: location invalid", ErrNotConfigured)
)

// ForecastDays is the number of forecast days requested per cycle.
const ForecastDays = 1

// Sink receives what the poller reports to the host.
type Sink interface {
	SetAvailable(address string, available bool)
	SetChannels(address string, set channel.Set)
}

// Notifier raises and clears user-visible notices.
type Notifier interface {
	AddNotice(key, message string)
	RemoveNotice(key string)
}

// Config identifies one weather node and its credentials.
type Config struct {
	Address  string
	APIKey   string
	Location string
	// MaxAge is the cache age at which a short poll refetches.
	MaxAge time.Duration
}

// Poller fetches, caches and maps weather for one location. Cycles never
// overlap: concurrent triggers queue on mu and run back to back.
type Poller struct {
	cfg      Config
	client   client.WeatherClient
	cache    *cache.WeatherCache
	sink     Sink
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	stopped atomic.Bool

	// dataMu guards the fields below and is never held across network calls.
	dataMu  sync.Mutex
	state   State
	last    channel.Set
	hasLast bool
}

// New creates a Poller. notifier may be nil.
func New(cfg Config, wc client.WeatherClient, wcache *cache.WeatherCache, sink Sink, notifier Notifier, logger *zap.Logger) *Poller {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = cache.DefaultMaxAge
	}
	if wcache == nil {
		wcache = cache.New(logger)
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		client:   wc,
		cache:    wcache,
		sink:     sink,
		notifier: notifier,
		logger:   logger.With(zap.String("address", cfg.Address)),
		now:      time.Now,
	}
}

// Address returns the node address.
func (p *Poller) Address() string {
	return p.cfg.Address
}

// State returns the state of the most recent cycle.
func (p *Poller) State() State {
	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	return p.state
}

// Start primes the cache from its backend and runs an unconditional fetch.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.cache.Restore(ctx); err != nil {
		p.logger.Warn("cache restore failed", zap.Error(err))
	}
	return p.run(ctx, TriggerStart)
}

// ShortPoll refetches only when the cache is empty or stale.
func (p *Poller) ShortPoll(ctx context.Context) error {
	return p.run(ctx, TriggerShortPoll)
}

// LongPoll always refetches.
func (p *Poller) LongPoll(ctx context.Context) error {
	return p.run(ctx, TriggerLongPoll)
}

// Query re-emits the last known channel values without touching the network.
// Before the first successful cycle it maps the cached entry, if any.
func (p *Poller) Query(ctx context.Context) error {
	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	if p.stopped.Load() {
		return nil
	}
	set, ok := p.last, p.hasLast
	if !ok {
		entry, cached := p.cache.Get()
		if !cached {
			p.logger.Debug("query before first reading, nothing to report")
			observability.PollCyclesTotal.WithLabelValues(TriggerQuery.String(), "skipped").Inc()
			return nil
		}
		set = channel.Map(entry.Reading)
		p.last, p.hasLast = set, true
	}
	p.sink.SetChannels(p.cfg.Address, set)
	observability.PollCyclesTotal.WithLabelValues(TriggerQuery.String(), "success").Inc()
	return nil
}

// Stop ignores all later triggers and reports the node unavailable. A cycle
// already in progress completes but does not report.
func (p *Poller) Stop(ctx context.Context) error {
	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	if p.stopped.Swap(true) {
		return nil
	}
	p.logger.Info("stopping weather node")
	p.sink.SetAvailable(p.cfg.Address, false)
	return nil
}

func (p *Poller) run(ctx context.Context, trigger Trigger) error {
	if p.stopped.Load() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		return nil
	}

	if trigger == TriggerShortPoll && !p.cache.IsStale(p.cfg.MaxAge) {
		observability.PollCyclesTotal.WithLabelValues(trigger.String(), "skipped").Inc()
		return nil
	}

	logger := p.logger.With(
		zap.String("cycleId", uuid.NewString()),
		zap.String("trigger", trigger.String()))
	p.setState(StateFetching)
	start := time.Now()

	err := p.fetch(ctx, logger)
	observability.PollCycleDuration.WithLabelValues(trigger.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		p.fail(logger, trigger, err)
		return err
	}
	p.setState(StateSuccess)
	observability.PollCyclesTotal.WithLabelValues(trigger.String(), "success").Inc()
	logger.Info("weather updated", zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Poller) fetch(ctx context.Context, logger *zap.Logger) error {
	key := p.cfg.APIKey
	if config.IsUnset(config.ParamAPIKey, key) {
		p.notifier.AddNotice(config.ParamAPIKey, config.Notice(config.ParamAPIKey))
		return ErrMissingAPIKey
	}
	if config.IsUnset(config.ParamLocation, p.cfg.Location) {
		p.notifier.AddNotice(config.ParamLocation, config.Notice(config.ParamLocation))
		return ErrMissingLocation
	}
	q := location.Normalize(p.cfg.Location)
	if q == "" {
		p.notifier.AddNotice(config.ParamLocation, config.Notice(config.ParamLocation))
		return ErrInvalidLocation
	}

	current, err := p.client.Request(ctx, client.EndpointCurrent, client.CurrentParams(key, q))
	if err != nil {
		return fmt.Errorf("current conditions: %w", err)
	}

	forecast, err := p.client.Request(ctx, client.EndpointForecast, client.ForecastParams(key, q, ForecastDays))
	if err != nil {
		logger.Warn("forecast unavailable, continuing without it", zap.Error(err))
		forecast = nil
	}

	reading := models.MergeReading(current, forecast, p.now())
	p.cache.Put(ctx, reading)

	set, defects := channel.MapWithDefects(reading)
	for _, d := range defects {
		observability.ChannelDefectsTotal.WithLabelValues(d.Channel).Inc()
		logger.Warn("weather field defaulted", zap.String("channel", d.Channel), zap.String("field", d.Field), zap.Error(d.Err))
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	p.last, p.hasLast = set, true
	if p.stopped.Load() {
		return nil
	}
	p.sink.SetChannels(p.cfg.Address, set)
	p.sink.SetAvailable(p.cfg.Address, true)
	p.notifier.RemoveNotice(config.ParamAPIKey)
	p.notifier.RemoveNotice(config.ParamLocation)
	return nil
}

func (p *Poller) fail(logger *zap.Logger, trigger Trigger, err error) {
	p.setState(StateFailed)
	observability.PollCyclesTotal.WithLabelValues(trigger.String(), "failed").Inc()
	if errors.Is(err, ErrNotConfigured) {
		logger.Error("weather node not configured", zap.Error(err))
	} else {
		logger.Error("weather update failed", zap.Error(err))
	}

	p.dataMu.Lock()
	defer p.dataMu.Unlock()
	if !p.stopped.Load() {
		p.sink.SetAvailable(p.cfg.Address, false)
	}
}

func (p *Poller) setState(s State) {
	p.dataMu.Lock()
	p.state = s
	p.dataMu.Unlock()
}

type nopNotifier struct{}

func (nopNotifier) AddNotice(string, string) {}
func (nopNotifier) RemoveNotice(string)      {}
