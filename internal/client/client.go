package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/models"
	"github.com/kjstillabower/weather-node/internal/observability"
)

const (
	DefaultBaseURL    = "https://api.weatherapi.com/v1"
	DefaultTimeout    = 10 * time.Second
	DefaultAttempts   = 3
	DefaultRetryDelay = 5 * time.Second

	EndpointCurrent  = "current.json"
	EndpointForecast = "forecast.json"

	maxBodyBytes = 1 << 20
)

// WeatherClient performs WeatherAPI.com requests.
type WeatherClient interface {
	Request(ctx context.Context, endpoint string, params url.Values) (models.Document, error)
}

// Limiter is consulted once before every attempt, retries included.
type Limiter interface {
	Wait() time.Duration
}

var (
	// ErrTransport is returned after every attempt failed on the network, with a
	// non-2xx status, or with an undecodable body.
	ErrTransport = errors.New("weather API unreachable")
	// ErrApplication is returned when the provider reports an error in the body.
	// These are not retried.
	ErrApplication = errors.New("weather API rejected request")
	// ErrUpstreamStatus marks a single attempt that got a non-2xx status.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	// ErrCircuitOpen marks an attempt refused by the circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// APIError is the provider-reported error from an error.message body field.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%v: %s (code %d, HTTP %d)", ErrApplication, e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%v: %s (HTTP %d)", ErrApplication, e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return ErrApplication
}

// WeatherAPIClient talks to WeatherAPI.com with a fixed request timeout, a fixed
// number of attempts and a fixed delay between them. Retry delays are plain
// sleeps; ctx only bounds individual HTTP attempts.
type WeatherAPIClient struct {
	baseURL    string
	timeout    time.Duration
	attempts   int
	retryDelay time.Duration
	client     *http.Client
	limiter    Limiter
	breaker    *gobreaker.CircuitBreaker
	sleep      func(time.Duration)
	logger     *zap.Logger
}

// NewWeatherAPIClient creates a client with the default retry policy.
func NewWeatherAPIClient(baseURL string, timeout time.Duration, limiter Limiter, logger *zap.Logger) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithRetry(baseURL, timeout, DefaultAttempts, DefaultRetryDelay, limiter, logger)
}

// NewWeatherAPIClientWithRetry creates a client with an explicit retry policy.
// attempts counts the first try; retryDelay is the pause between attempts.
func NewWeatherAPIClientWithRetry(baseURL string, timeout time.Duration, attempts int, retryDelay time.Duration, limiter Limiter, logger *zap.Logger) (*WeatherAPIClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if retryDelay < 0 {
		retryDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		attempts:   attempts,
		retryDelay: retryDelay,
		limiter:    limiter,
		sleep:      time.Sleep,
		logger:     logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every attempt in cb. An open breaker ends the request
// immediately with ErrTransport.
func (c *WeatherAPIClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// CurrentParams builds the query for the current-conditions endpoint.
func CurrentParams(apiKey, q string) url.Values {
	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("q", q)
	params.Set("aqi", "no")
	return params
}

// ForecastParams builds the query for the forecast endpoint.
func ForecastParams(apiKey, q string, days int) url.Values {
	params := CurrentParams(apiKey, q)
	params.Set("days", strconv.Itoa(days))
	return params
}

// Request GETs endpoint with params and returns the decoded JSON object.
func (c *WeatherAPIClient) Request(ctx context.Context, endpoint string, params url.Values) (models.Document, error) {
	label := endpointLabel(endpoint)
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			observability.WeatherAPIRetriesTotal.WithLabelValues(label).Inc()
			c.logger.Warn("weather API attempt failed, retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("delay", c.retryDelay),
				zap.Error(lastErr))
			c.sleep(c.retryDelay)
		}

		doc, err := c.attempt(ctx, endpoint, params)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, ErrApplication) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return nil, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
	}

	err := fmt.Errorf("%w: %s: %w", ErrTransport, endpoint, lastErr)
	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return nil, err
}

// attempt takes a limiter slot only once the breaker has admitted the call.
func (c *WeatherAPIClient) attempt(ctx context.Context, endpoint string, params url.Values) (models.Document, error) {
	if c.breaker == nil {
		c.limiter.Wait()
		return c.callAPI(ctx, endpoint, params)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		c.limiter.Wait()
		return c.callAPI(ctx, endpoint, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	doc, ok := result.(models.Document)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T from circuit breaker", result)
	}
	return doc, nil
}

func (c *WeatherAPIClient) callAPI(ctx context.Context, endpoint string, params url.Values) (models.Document, error) {
	start := time.Now()
	label := endpointLabel(endpoint)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(label, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	c.logger.Debug("weather API request", zap.String("endpoint", endpoint), zap.String("q", params.Get("q")))
	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(label, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(label, "error").Observe(time.Since(start).Seconds())
		return nil, redact(err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(label, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(label, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	doc, decodeErr := decode(body)
	if decodeErr == nil {
		if apiErr := applicationError(doc, resp.StatusCode); apiErr != nil {
			return nil, apiErr
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamStatus, resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("parse response: %w", decodeErr)
	}
	return doc, nil
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decode(body []byte) (models.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc models.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("empty JSON document")
	}
	return doc, nil
}

// applicationError extracts {"error": {"code": ..., "message": ...}}.
func applicationError(doc models.Document, statusCode int) *APIError {
	raw, ok := doc["error"]
	if !ok {
		return nil
	}
	apiErr := &APIError{StatusCode: statusCode, Message: "unknown error"}
	if m, ok := raw.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok && msg != "" {
			apiErr.Message = msg
		}
		if code, ok := m["code"].(json.Number); ok {
			if n, err := code.Int64(); err == nil {
				apiErr.Code = int(n)
			}
		}
	}
	return apiErr
}

// redact drops the request URL (which carries the API key) from transport errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if errors.Is(uerr.Err, context.DeadlineExceeded) || uerr.Timeout() {
			return fmt.Errorf("request timeout: %s: %w", uerr.Op, uerr.Err)
		}
		return fmt.Errorf("http request failed: %s: %w", uerr.Op, uerr.Err)
	}
	return fmt.Errorf("http request failed: %w", err)
}

func endpointLabel(endpoint string) string {
	return strings.TrimSuffix(strings.TrimLeft(endpoint, "/"), ".json")
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
