// Package client talks to the sensor data provider and the notification
// service over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sensorsp/widget-engine/internal/circuitbreaker"
	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/observability"
)

// SensorProvider returns the latest reading for one sensor or across all
// sensors. A nil reading with a nil error means the provider has no data.
type SensorProvider interface {
	GetLatestReadingForSensor(ctx context.Context, sensorID string) (*models.Reading, error)
	GetLatestReadingOverall(ctx context.Context) (*models.Reading, error)
}

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	// ErrNoReading marks a successful call that returned no usable reading.
	ErrNoReading = errors.New("no reading returned")
)

// Options configures the HTTP clients. Zero values use the defaults noted per field.
type Options struct {
	// Timeout bounds one HTTP attempt (default 8s).
	Timeout time.Duration
	// RetryAttempts is the total number of attempts (default 1, no retry).
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// HTTPClient overrides the client built by NewHTTPClient.
	HTTPClient *http.Client
	// Breaker, when set, guards every call.
	Breaker *circuitbreaker.CircuitBreaker
	// Token is sent as a bearer token when non-empty.
	Token string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 1
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// SensorClient reads sensor data from GET {base}/sensors.
type SensorClient struct {
	baseURL *url.URL
	opts    Options
}

// NewSensorClient validates baseURL and returns a client.
func NewSensorClient(baseURL string, opts Options) (*SensorClient, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &SensorClient{baseURL: u, opts: opts.withDefaults()}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("invalid API URL: empty")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL: unsupported scheme %q", u.Scheme)
	}
	return u, nil
}

// GetLatestReadingForSensor returns the newest reading whose sensorId matches.
func (c *SensorClient) GetLatestReadingForSensor(ctx context.Context, sensorID string) (*models.Reading, error) {
	readings, err := c.listReadings(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	matching := readings[:0]
	for _, r := range readings {
		if r.SensorID == sensorID {
			matching = append(matching, r)
		}
	}
	return newest(matching), nil
}

// GetLatestReadingOverall returns the newest reading across all sensors.
func (c *SensorClient) GetLatestReadingOverall(ctx context.Context) (*models.Reading, error) {
	readings, err := c.listReadings(ctx, "")
	if err != nil {
		return nil, err
	}
	return newest(readings), nil
}

func (c *SensorClient) listReadings(ctx context.Context, sensorID string) ([]models.Reading, error) {
	var readings []models.Reading
	call := func(ctx context.Context) error {
		var err error
		readings, err = c.withRetry(ctx, func(ctx context.Context) ([]models.Reading, error) {
			return c.callAPI(ctx, sensorID)
		})
		return err
	}
	if c.opts.Breaker != nil {
		if err := c.opts.Breaker.Call(ctx, call); err != nil {
			return nil, err
		}
		return readings, nil
	}
	if err := call(ctx); err != nil {
		return nil, err
	}
	return readings, nil
}

func (c *SensorClient) withRetry(ctx context.Context, fn func(context.Context) ([]models.Reading, error)) ([]models.Reading, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.SensorAPIRetriesTotal.Inc()
			timer := time.NewTimer(backoff(attempt, c.opts.RetryBaseDelay, c.opts.RetryMaxDelay))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	if c.opts.RetryAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *SensorClient) callAPI(ctx context.Context, sensorID string) ([]models.Reading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	u := *c.baseURL
	u.Path += "/sensors"
	if sensorID != "" {
		u.RawQuery = url.Values{"sensorId": {sensorID}}.Encode()
	}
	req, err := newRequest(reqCtx, u.String(), c.opts.Token)
	if err != nil {
		observability.SensorAPICallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		observability.SensorAPICallsTotal.WithLabelValues("error").Inc()
		observability.SensorAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, wrapTransportError(err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.SensorAPICallsTotal.WithLabelValues(status).Inc()
	observability.SensorAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var readings []models.Reading
	if err := json.Unmarshal(body, &readings); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return readings, nil
}

// newest returns the reading with the latest timestamp. Readings with an
// unparseable timestamp sort after every dated one.
func newest(readings []models.Reading) *models.Reading {
	if len(readings) == 0 {
		return nil
	}
	sorted := append([]models.Reading(nil), readings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, okI := models.ParseTimestamp(sorted[i].Timestamp)
		tj, okJ := models.ParseTimestamp(sorted[j].Timestamp)
		if okI != okJ {
			return okI
		}
		return ti.After(tj)
	})
	r := sorted[0]
	return &r
}

func newRequest(ctx context.Context, rawURL, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set(observability.CorrelationIDHeader, corrID)
	}
	return req, nil
}

func wrapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("request timeout: %w", err)
	}
	return fmt.Errorf("http request failed: %w", err)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	return strings.Contains(err.Error(), "http request failed")
}

func backoff(attempt int, base, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
