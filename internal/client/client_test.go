package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testKey = "test-api-key-12345"

type countingLimiter struct {
	waits atomic.Int32
}

func (l *countingLimiter) Wait() time.Duration {
	l.waits.Add(1)
	return 0
}

// newTestClient returns a client whose retry sleeps are recorded instead of slept.
func newTestClient(t *testing.T, baseURL string) (*WeatherAPIClient, *countingLimiter, *[]time.Duration) {
	t.Helper()
	limiter := &countingLimiter{}
	c, err := NewWeatherAPIClient(baseURL, 2*time.Second, limiter, nil)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}
	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return c, limiter, &sleeps
}

// scriptedServer answers with statuses[i] for the i-th request (last one repeats).
func scriptedServer(t *testing.T, statuses []int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(hits.Add(1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statuses[i])
		if statuses[i] == http.StatusOK {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestNewWeatherAPIClient_Validation(t *testing.T) {
	if _, err := NewWeatherAPIClient("https://api.test.com/v1", time.Second, nil, nil); err == nil {
		t.Error("NewWeatherAPIClient() with nil limiter error = nil, want error")
	}
	if _, err := NewWeatherAPIClient("://bad", time.Second, &countingLimiter{}, nil); err == nil {
		t.Error("NewWeatherAPIClient() with bad URL error = nil, want error")
	}
	c, err := NewWeatherAPIClient("", 0, &countingLimiter{}, nil)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() defaults error = %v", err)
	}
	if c.baseURL != DefaultBaseURL || c.timeout != DefaultTimeout || c.attempts != DefaultAttempts || c.retryDelay != DefaultRetryDelay {
		t.Errorf("defaults = %q %v %d %v", c.baseURL, c.timeout, c.attempts, c.retryDelay)
	}
}

func TestWeatherAPIClient_Request_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/forecast.json" {
			t.Errorf("path = %q, want /v1/forecast.json", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != testKey || q.Get("q") != "40.1,-75.3" || q.Get("aqi") != "no" || q.Get("days") != "1" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"forecast":{"forecastday":[{"day":{"daily_chance_of_rain":30}}]}}`))
	}))
	defer srv.Close()

	c, limiter, sleeps := newTestClient(t, srv.URL+"/v1/")
	doc, err := c.Request(context.Background(), EndpointForecast, ForecastParams(testKey, "40.1,-75.3", 1))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, ok := doc["forecast"].(map[string]any); !ok {
		t.Errorf("doc = %v, want forecast object", doc)
	}
	if n := limiter.waits.Load(); n != 1 {
		t.Errorf("limiter waits = %d, want 1", n)
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
}

func TestWeatherAPIClient_Request_RetriesThenSucceeds(t *testing.T) {
	srv, hits := scriptedServer(t, []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK}, `{"current":{"temp_f":50}}`)

	c, limiter, sleeps := newTestClient(t, srv.URL)
	doc, err := c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "19103"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if doc["current"] == nil {
		t.Errorf("doc = %v, want current", doc)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3", n)
	}
	if n := limiter.waits.Load(); n != 3 {
		t.Errorf("limiter waits = %d, want 3 (one per attempt)", n)
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != DefaultRetryDelay || (*sleeps)[1] != DefaultRetryDelay {
		t.Errorf("sleeps = %v, want two of %v", *sleeps, DefaultRetryDelay)
	}
}

func TestWeatherAPIClient_Request_ExhaustsRetries(t *testing.T) {
	srv, hits := scriptedServer(t, []int{http.StatusInternalServerError}, "")

	c, limiter, _ := newTestClient(t, srv.URL)
	_, err := c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "19103"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Request() error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Errorf("Request() error = %v, want wrapped ErrUpstreamStatus", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3", n)
	}
	if n := limiter.waits.Load(); n != 3 {
		t.Errorf("limiter waits = %d, want 3", n)
	}
}

func TestWeatherAPIClient_Request_ApplicationErrorNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"error body with 200", http.StatusOK},
		{"error body with 400", http.StatusBadRequest},
		{"error body with 403", http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
			}))
			defer srv.Close()

			c, limiter, sleeps := newTestClient(t, srv.URL)
			_, err := c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "Nowhere"))
			if !errors.Is(err, ErrApplication) {
				t.Fatalf("Request() error = %v, want ErrApplication", err)
			}
			if errors.Is(err, ErrTransport) {
				t.Errorf("Request() error = %v, must not be ErrTransport", err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Request() error = %T, want *APIError", err)
			}
			if apiErr.Message != "No matching location found." || apiErr.Code != 1006 || apiErr.StatusCode != tc.status {
				t.Errorf("APIError = %+v", apiErr)
			}
			if hits.Load() != 1 || limiter.waits.Load() != 1 || len(*sleeps) != 0 {
				t.Errorf("hits=%d waits=%d sleeps=%v, want a single attempt", hits.Load(), limiter.waits.Load(), *sleeps)
			}
		})
	}
}

func TestWeatherAPIClient_Request_MalformedBodyRetried(t *testing.T) {
	srv, hits := scriptedServer(t, []int{http.StatusOK}, `{"current": `)

	c, _, _ := newTestClient(t, srv.URL)
	_, err := c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "19103"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Request() error = %v, want ErrTransport", err)
	}
	if got := CategorizeError(err); got != ErrorCategoryParsing {
		t.Errorf("CategorizeError() = %q, want %q", got, ErrorCategoryParsing)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3", n)
	}
}

func TestWeatherAPIClient_Request_TransportErrorRedactsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, limiter, _ := newTestClient(t, base)
	_, err := c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "19103"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Request() error = %v, want ErrTransport", err)
	}
	if strings.Contains(err.Error(), testKey) {
		t.Errorf("error %q leaks the API key", err)
	}
	if n := limiter.waits.Load(); n != 3 {
		t.Errorf("limiter waits = %d, want 3", n)
	}
}

func TestWeatherAPIClient_Request_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	limiter := &countingLimiter{}
	c, err := NewWeatherAPIClientWithRetry(srv.URL, 30*time.Millisecond, 2, 0, limiter, nil)
	if err != nil {
		t.Fatalf("NewWeatherAPIClientWithRetry() error = %v", err)
	}
	_, err = c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "19103"))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Request() error = %v, want ErrTransport", err)
	}
	if strings.Contains(err.Error(), testKey) {
		t.Errorf("error %q leaks the API key", err)
	}
	if n := limiter.waits.Load(); n != 1 {
		t.Errorf("limiter waits = %d, want 1 (refused attempt must not take a slot)", n)
	}
}

func TestWeatherAPIClient_CircuitBreakerStopsRetries(t *testing.T) {
	srv, hits := scriptedServer(t, []int{http.StatusInternalServerError}, "")

	c, limiter, _ := newTestClient(t, srv.URL)
	c.SetCircuitBreaker(NewCircuitBreaker(BreakerConfig{Name: "test_open", FailureThreshold: 1, OpenTimeout: time.Hour}, nil))

	_, err := c.Request(context.Background(), EndpointCurrent, CurrentParams(testKey, "19103"))
	if !errors.Is(err, ErrTransport) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Request() error = %v, want ErrTransport wrapping ErrCircuitOpen", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1 (breaker opened after first failure)", n)
	}
	if n := limiter.waits.Load(); n != 2 {
		t.Errorf("limiter waits = %d, want 2", n)
	}
}

func TestWeatherAPIClient_CircuitBreakerIgnoresApplicationErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":2006,"message":"API key is invalid."}}`))
	}))
	defer srv.Close()

	c, _, _ := newTestClient(t, srv.URL)
	c.SetCircuitBreaker(NewCircuitBreaker(BreakerConfig{Name: "test_app", FailureThreshold: 1, OpenTimeout: time.Hour}, nil))

	for i := 0; i < 3; i++ {
		_, err := c.Request(context.Background(), EndpointCurrent, CurrentParams("bad-key", "19103"))
		if !errors.Is(err, ErrApplication) {
			t.Fatalf("Request() #%d error = %v, want ErrApplication", i+1, err)
		}
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hits = %d, want 3 (breaker must stay closed)", n)
	}
}

func TestParams(t *testing.T) {
	p := ForecastParams("k", "New York,NY", 1)
	if p.Get("key") != "k" || p.Get("q") != "New York,NY" || p.Get("aqi") != "no" || p.Get("days") != "1" {
		t.Errorf("ForecastParams() = %v", p)
	}
	if CurrentParams("k", "x").Has("days") {
		t.Error("CurrentParams() must not set days")
	}
}
