package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-node/internal/cache"
	"github.com/kjstillabower/weather-node/internal/channel"
	"github.com/kjstillabower/weather-node/internal/client"
	"github.com/kjstillabower/weather-node/internal/config"
	"github.com/kjstillabower/weather-node/internal/models"
	"github.com/kjstillabower/weather-node/internal/ratelimit"
)

const (
	currentBody  = `{"current":{"temp_f":72.5,"humidity":65,"pressure_in":30.01,"wind_degree":270,"wind_mph":8.1,"precip_in":0.02,"condition":{"text":"Partly cloudy"}}}`
	forecastBody = `{"forecast":{"forecastday":[{"day":{"daily_chance_of_rain":40}}]}}`
)

func doc(t testing.TB, s string) models.Document {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var d models.Document
	if err := dec.Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d
}

type fakeClient struct {
	mu          sync.Mutex
	endpoints   []string
	params      []url.Values
	current     models.Document
	currentErr  error
	forecast    models.Document
	forecastErr error
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *fakeClient) Request(ctx context.Context, endpoint string, params url.Values) (models.Document, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = append(c.endpoints, endpoint)
	c.params = append(c.params, params)
	if endpoint == client.EndpointForecast {
		return c.forecast, c.forecastErr
	}
	return c.current, c.currentErr
}

func (c *fakeClient) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.endpoints...)
}

type recordingSink struct {
	mu        sync.Mutex
	available []bool
	sets      []channel.Set
}

func (s *recordingSink) SetAvailable(address string, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = append(s.available, available)
}

func (s *recordingSink) SetChannels(address string, set channel.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = append(s.sets, set)
}

func (s *recordingSink) lastAvailable() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.available) == 0 {
		return false, false
	}
	return s.available[len(s.available)-1], true
}

func (s *recordingSink) lastSet() (channel.Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sets) == 0 {
		return channel.Set{}, false
	}
	return s.sets[len(s.sets)-1], true
}

type mapNotifier struct {
	mu      sync.Mutex
	notices map[string]string
}

func (n *mapNotifier) AddNotice(key, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.notices == nil {
		n.notices = map[string]string{}
	}
	n.notices[key] = message
}

func (n *mapNotifier) RemoveNotice(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.notices, key)
}

func (n *mapNotifier) has(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.notices[key]
	return ok
}

type fixture struct {
	poller   *Poller
	client   *fakeClient
	cache    *cache.WeatherCache
	sink     *recordingSink
	notifier *mapNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "weather"
	}
	f := &fixture{
		client:   &fakeClient{current: doc(t, currentBody), forecast: doc(t, forecastBody)},
		cache:    cache.New(nil),
		sink:     &recordingSink{},
		notifier: &mapNotifier{},
	}
	f.poller = New(cfg, f.client, f.cache, f.sink, f.notifier, nil)
	return f
}

func configured() Config {
	return Config{Address: "weather", APIKey: "k-123", Location: "19103"}
}

func TestPoller_ShortPollSkipsFreshCache(t *testing.T) {
	f := newFixture(t, configured())
	ctx := context.Background()

	if err := f.poller.ShortPoll(ctx); err != nil {
		t.Fatalf("first ShortPoll() error = %v", err)
	}
	if err := f.poller.ShortPoll(ctx); err != nil {
		t.Fatalf("second ShortPoll() error = %v", err)
	}

	calls := f.client.calls()
	if len(calls) != 2 || calls[0] != client.EndpointCurrent || calls[1] != client.EndpointForecast {
		t.Errorf("calls = %v, want exactly one current+forecast pair", calls)
	}
}

func TestPoller_ShortPollRefetchesStaleCache(t *testing.T) {
	cfg := configured()
	cfg.MaxAge = time.Millisecond
	f := newFixture(t, cfg)
	ctx := context.Background()

	_ = f.poller.ShortPoll(ctx)
	time.Sleep(5 * time.Millisecond)
	_ = f.poller.ShortPoll(ctx)

	if n := len(f.client.calls()); n != 4 {
		t.Errorf("calls = %d, want 4 (two full cycles)", n)
	}
}

func TestPoller_LongPollAlwaysRefetches(t *testing.T) {
	f := newFixture(t, configured())
	ctx := context.Background()

	_ = f.poller.LongPoll(ctx)
	_ = f.poller.LongPoll(ctx)

	if n := len(f.client.calls()); n != 4 {
		t.Errorf("calls = %d, want 4 (long poll ignores the cache)", n)
	}
}

func TestPoller_SuccessEmitsChannels(t *testing.T) {
	f := newFixture(t, configured())
	f.notifier.AddNotice(config.ParamAPIKey, "stale notice")

	if err := f.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.poller.State() != StateSuccess {
		t.Errorf("State() = %v, want success", f.poller.State())
	}
	if avail, ok := f.sink.lastAvailable(); !ok || !avail {
		t.Error("node should be reported available")
	}
	set, ok := f.sink.lastSet()
	if !ok {
		t.Fatal("no channel set emitted")
	}
	checks := map[string]any{
		"ST": 72.5, "CLITEMP": 72.5, "CLIHUM": int64(65), "BARPRES": 30.01,
		"WINDDIR": int64(270), "WINDSPD": 8.1, "RAINRT": 0.02, "GV0": int64(40), "GV1": "Partly cloudy",
	}
	for id, want := range checks {
		v, _ := set.Get(id)
		if v.Any() != want {
			t.Errorf("%s = %v, want %v", id, v.Any(), want)
		}
	}
	if f.notifier.has(config.ParamAPIKey) {
		t.Error("successful cycle should clear config notices")
	}
	if _, ok := f.cache.Get(); !ok {
		t.Error("successful cycle should fill the cache")
	}

	params := f.client.params[0]
	if params.Get("key") != "k-123" || params.Get("q") != "19103" || params.Get("aqi") != "no" {
		t.Errorf("current params = %v", params)
	}
	if f.client.params[1].Get("days") != "1" {
		t.Errorf("forecast params = %v, want days=1", f.client.params[1])
	}
}

func TestPoller_NotConfigured(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		notice  string
	}{
		{"missing key", Config{Location: "19103"}, ErrMissingAPIKey, config.ParamAPIKey},
		{"placeholder key", Config{APIKey: config.Placeholder(config.ParamAPIKey), Location: "19103"}, ErrMissingAPIKey, config.ParamAPIKey},
		{"missing location", Config{APIKey: "k"}, ErrMissingLocation, config.ParamLocation},
		{"whitespace location", Config{APIKey: "k", Location: "   "}, ErrMissingLocation, config.ParamLocation},
		{"placeholder location", Config{APIKey: "k", Location: config.Placeholder(config.ParamLocation)}, ErrMissingLocation, config.ParamLocation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.cfg)
			err := f.poller.LongPoll(context.Background())
			if !errors.Is(err, tc.wantErr) || !errors.Is(err, ErrNotConfigured) {
				t.Fatalf("LongPoll() error = %v, want %v", err, tc.wantErr)
			}
			if n := len(f.client.calls()); n != 0 {
				t.Errorf("calls = %d, want none", n)
			}
			if avail, ok := f.sink.lastAvailable(); !ok || avail {
				t.Error("node should be reported unavailable")
			}
			if !f.notifier.has(tc.notice) {
				t.Errorf("notice %q not raised", tc.notice)
			}
			if f.poller.State() != StateFailed {
				t.Errorf("State() = %v, want failed", f.poller.State())
			}
		})
	}
}

func TestPoller_NormalizesLocation(t *testing.T) {
	tests := map[string]string{
		" 40.1 , -75.3 ": "40.1,-75.3",
		"New York,NY":    "New York,NY",
		"Philadelphia":   "Philadelphia",
		"Salt Lake City": "Salt_Lake_City",
	}
	for raw, want := range tests {
		cfg := configured()
		cfg.Location = raw
		f := newFixture(t, cfg)
		_ = f.poller.LongPoll(context.Background())
		if got := f.client.params[0].Get("q"); got != want {
			t.Errorf("location %q sent as q=%q, want %q", raw, got, want)
		}
	}
}

func TestPoller_CurrentFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, configured())
	ctx := context.Background()
	if err := f.poller.LongPoll(ctx); err != nil {
		t.Fatalf("LongPoll() error = %v", err)
	}
	before, _ := f.cache.Get()

	f.client.mu.Lock()
	f.client.currentErr = client.ErrTransport
	f.client.endpoints = nil
	f.client.mu.Unlock()

	err := f.poller.LongPoll(ctx)
	if !errors.Is(err, client.ErrTransport) {
		t.Fatalf("LongPoll() error = %v, want ErrTransport", err)
	}
	if calls := f.client.calls(); len(calls) != 1 {
		t.Errorf("calls = %v, want only the current request", calls)
	}
	after, _ := f.cache.Get()
	if !after.StoredAt.Equal(before.StoredAt) {
		t.Error("failed cycle must not replace the cached entry")
	}
	if avail, _ := f.sink.lastAvailable(); avail {
		t.Error("node should be reported unavailable after a failed cycle")
	}
	if f.poller.State() != StateFailed {
		t.Errorf("State() = %v, want failed", f.poller.State())
	}
}

func TestPoller_ForecastFailureContinues(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, configured())
	f.client.forecastErr = client.ErrTransport
	f.poller = New(configured(), f.client, f.cache, f.sink, f.notifier, zap.New(core))

	if err := f.poller.LongPoll(context.Background()); err != nil {
		t.Fatalf("LongPoll() error = %v, want nil", err)
	}
	set, _ := f.sink.lastSet()
	if v, _ := set.Get("GV0"); v.Any() != int64(0) {
		t.Errorf("GV0 = %v, want default 0", v.Any())
	}
	if v, _ := set.Get("ST"); v.Any() != 72.5 {
		t.Errorf("ST = %v, want 72.5", v.Any())
	}
	if avail, _ := f.sink.lastAvailable(); !avail {
		t.Error("node should be available when only the forecast failed")
	}
	if logs.FilterMessage("forecast unavailable, continuing without it").Len() != 1 {
		t.Errorf("expected forecast warning, got %v", logs.All())
	}
}

func TestPoller_Query(t *testing.T) {
	f := newFixture(t, configured())
	ctx := context.Background()

	if err := f.poller.Query(ctx); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, ok := f.sink.lastSet(); ok {
		t.Error("Query() before any reading should emit nothing")
	}

	_ = f.poller.LongPoll(ctx)
	f.sink.sets = nil
	_ = f.poller.Query(ctx)
	if _, ok := f.sink.lastSet(); !ok {
		t.Error("Query() should re-emit the last channel set")
	}
	if n := len(f.client.calls()); n != 2 {
		t.Errorf("calls = %d, Query() must not hit the network", n)
	}
}

type memBackend struct{ entry models.Entry }

func (b *memBackend) Load(ctx context.Context) (models.Entry, bool, error) { return b.entry, true, nil }
func (b *memBackend) Save(ctx context.Context, e models.Entry) error      { b.entry = e; return nil }

func TestPoller_QueryUsesRestoredCache(t *testing.T) {
	reading := models.MergeReading(doc(t, currentBody), doc(t, forecastBody), time.Now())
	wc := cache.NewWithBackend(&memBackend{entry: models.Entry{Reading: reading, StoredAt: time.Now()}}, nil)
	fc := &fakeClient{currentErr: client.ErrTransport}
	sink := &recordingSink{}
	p := New(configured(), fc, wc, sink, nil, nil)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want transport failure")
	}
	_ = p.Query(context.Background())
	set, ok := sink.lastSet()
	if !ok {
		t.Fatal("Query() should emit values restored from the backend")
	}
	if v, _ := set.Get("GV1"); v.Any() != "Partly cloudy" {
		t.Errorf("GV1 = %v, want Partly cloudy", v.Any())
	}
}

func TestPoller_StopIgnoresLaterTriggers(t *testing.T) {
	f := newFixture(t, configured())
	ctx := context.Background()

	if err := f.poller.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if avail, ok := f.sink.lastAvailable(); !ok || avail {
		t.Error("Stop() should report unavailable")
	}
	_ = f.poller.LongPoll(ctx)
	_ = f.poller.ShortPoll(ctx)
	_ = f.poller.Query(ctx)
	if n := len(f.client.calls()); n != 0 {
		t.Errorf("calls after Stop = %d, want 0", n)
	}
	if _, ok := f.sink.lastSet(); ok {
		t.Error("no channels should be emitted after Stop")
	}
	_ = f.poller.Stop(ctx)
	if n := len(f.sink.available); n != 1 {
		t.Errorf("second Stop() reported again (%d reports)", n)
	}
}

func TestPoller_CyclesDoNotOverlap(t *testing.T) {
	f := newFixture(t, configured())
	f.client.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.poller.LongPoll(context.Background())
		}()
	}
	wg.Wait()

	if m := f.client.maxInFlight.Load(); m != 1 {
		t.Errorf("max concurrent requests = %d, want 1", m)
	}
	if n := len(f.client.calls()); n != 10 {
		t.Errorf("calls = %d, want 10 (five back-to-back cycles)", n)
	}
}

// TestPoller_WithWeatherAPIClient runs two short polls through the real client
// and limiter against a stub upstream.
func TestPoller_WithWeatherAPIClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/current.json":
			_, _ = w.Write([]byte(currentBody))
		case "/forecast.json":
			_, _ = w.Write([]byte(forecastBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	limiter := ratelimit.New(10, time.Minute, nil)
	wc, err := client.NewWeatherAPIClient(srv.URL, time.Second, limiter, nil)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}
	sink := &recordingSink{}
	p := New(configured(), wc, cache.New(nil), sink, nil, nil)

	ctx := context.Background()
	if err := p.ShortPoll(ctx); err != nil {
		t.Fatalf("ShortPoll() error = %v", err)
	}
	if err := p.ShortPoll(ctx); err != nil {
		t.Fatalf("ShortPoll() error = %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("upstream hits = %d, want 2", n)
	}
	if n := limiter.InWindow(); n != 2 {
		t.Errorf("limiter InWindow() = %d, want 2", n)
	}
	set, _ := sink.lastSet()
	if v, _ := set.Get("CLIHUM"); v.Any() != int64(65) {
		t.Errorf("CLIHUM = %v, want 65", v.Any())
	}
}

func TestStateAndTriggerStrings(t *testing.T) {
	if StateIdle.String() != "idle" || StateFailed.String() != "failed" || State(99).String() != "unknown" {
		t.Error("unexpected State strings")
	}
	if TriggerShortPoll.String() != "short_poll" || TriggerLongPoll.String() != "long_poll" || Trigger(99).String() != "unknown" {
		t.Error("unexpected Trigger strings")
	}
}
