package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sensorsp/widget-engine/internal/circuitbreaker"
	"github.com/sensorsp/widget-engine/internal/models"
	"github.com/sensorsp/widget-engine/internal/observability"
)

func sensorServer(t *testing.T, readings []models.Reading) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/sensors" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(readings)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewSensorClient_InvalidURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"empty", "", true},
		{"no scheme", "sensors.local", true},
		{"ftp", "ftp://sensors.local", true},
		{"valid", "http://sensors.local/api/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewSensorClient(tt.url, Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewSensorClient() expected error, got nil")
				}
				if c != nil {
					t.Error("NewSensorClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSensorClient() unexpected error: %v", err)
			}
		})
	}
}

// TestSensorClient_GetLatestReadingOverall verifies the newest reading by
// timestamp is returned regardless of response order.
func TestSensorClient_GetLatestReadingOverall(t *testing.T) {
	srv, _ := sensorServer(t, []models.Reading{
		{SensorID: "a", Temperature: 20, Timestamp: "2024-05-01T08:00:00Z"},
		{SensorID: "b", Temperature: 25, Humidity: 60, Status: "normal", Location: "Lab", Timestamp: "2024-05-01T10:00:00.000Z"},
		{SensorID: "a", Temperature: 22, Timestamp: "not a date"},
	})
	c, err := NewSensorClient(srv.URL+"/api", Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewSensorClient() error = %v", err)
	}

	got, err := c.GetLatestReadingOverall(context.Background())
	if err != nil {
		t.Fatalf("GetLatestReadingOverall() error = %v", err)
	}
	if got == nil || got.SensorID != "b" || got.Temperature != 25 || got.Location != "Lab" {
		t.Errorf("GetLatestReadingOverall() = %+v, want sensor b", got)
	}
}

func TestSensorClient_GetLatestReadingForSensor(t *testing.T) {
	srv, _ := sensorServer(t, []models.Reading{
		{SensorID: "a", Temperature: 20, Timestamp: "2024-05-01T08:00:00Z"},
		{SensorID: "a", Temperature: 21, Timestamp: "2024-05-01T09:00:00Z"},
		{SensorID: "b", Temperature: 25, Timestamp: "2024-05-01T10:00:00Z"},
	})
	c, _ := NewSensorClient(srv.URL+"/api", Options{})

	got, err := c.GetLatestReadingForSensor(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetLatestReadingForSensor() error = %v", err)
	}
	if got == nil || got.Temperature != 21 {
		t.Errorf("GetLatestReadingForSensor(a) = %+v, want temperature 21", got)
	}

	got, err = c.GetLatestReadingForSensor(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetLatestReadingForSensor(missing) error = %v", err)
	}
	if got != nil {
		t.Errorf("GetLatestReadingForSensor(missing) = %+v, want nil", got)
	}
}

func TestSensorClient_SendsSensorQueryAndHeaders(t *testing.T) {
	var gotQuery, gotAuth, gotCorr string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("sensorId")
		gotAuth = r.Header.Get("Authorization")
		gotCorr = r.Header.Get(observability.CorrelationIDHeader)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, _ := NewSensorClient(srv.URL, Options{Token: "secret"})
	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	if _, err := c.GetLatestReadingForSensor(ctx, "s-42"); err != nil {
		t.Fatalf("GetLatestReadingForSensor() error = %v", err)
	}
	if gotQuery != "s-42" {
		t.Errorf("sensorId query = %q, want s-42", gotQuery)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotAuth)
	}
	if gotCorr != "corr-1" {
		t.Errorf("correlation header = %q, want corr-1", gotCorr)
	}
}

func TestSensorClient_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantCat ErrorCategory
	}{
		{"not found", http.StatusNotFound, "", ErrNotFound, ErrorCategoryNotFound},
		{"unauthorized", http.StatusUnauthorized, "", ErrUnauthorized, ErrorCategoryUpstream},
		{"server error", http.StatusBadGateway, "", ErrUpstreamFailure, ErrorCategoryUpstream},
		{"bad json", http.StatusOK, "{", nil, ErrorCategoryParsing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewSensorClient(srv.URL, Options{})
			_, err := c.GetLatestReadingOverall(context.Background())
			if err == nil {
				t.Fatal("GetLatestReadingOverall() expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := CategorizeError(err); got != tt.wantCat {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.wantCat)
			}
		})
	}
}

// TestSensorClient_RetriesUpstreamFailure verifies 5xx responses are retried
// up to RetryAttempts.
func TestSensorClient_RetriesUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"sensorId":"a","temperatura":19.5,"fecha":"2024-05-01T10:00:00Z"}]`))
	}))
	defer srv.Close()

	c, _ := NewSensorClient(srv.URL, Options{
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	got, err := c.GetLatestReadingOverall(context.Background())
	if err != nil {
		t.Fatalf("GetLatestReadingOverall() error = %v", err)
	}
	if got == nil || got.Temperature != 19.5 {
		t.Errorf("GetLatestReadingOverall() = %+v, want temperature 19.5", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestSensorClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := NewSensorClient(srv.URL, Options{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.GetLatestReadingOverall(context.Background())
	if err == nil {
		t.Fatal("GetLatestReadingOverall() expected timeout error")
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", CategorizeError(err))
	}
	if time.Since(start) > time.Second {
		t.Errorf("call took %v, want under 1s", time.Since(start))
	}
}

// TestSensorClient_BreakerOpens verifies the breaker short-circuits calls
// after repeated upstream failures.
func TestSensorClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute})
	c, _ := NewSensorClient(srv.URL, Options{Breaker: breaker})

	for i := 0; i < 2; i++ {
		_, _ = c.GetLatestReadingOverall(context.Background())
	}
	_, err := c.GetLatestReadingOverall(context.Background())
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("third call error = %v, want ErrOpen", err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2", calls.Load())
	}
}

func TestAlertClient_ActiveAlerts(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true,"data":[
			{"_id":"1","name":"Temperatura alta","status":"active"},
			{"_id":"2","name":"Humedad baja","status":"inactive"},
			{"_id":"3","name":"Sensor caído"}
		]}`))
	}))
	defer srv.Close()

	c, err := NewAlertClient(srv.URL, Options{})
	if err != nil {
		t.Fatalf("NewAlertClient() error = %v", err)
	}
	names, err := c.ActiveAlerts(context.Background(), "user 1")
	if err != nil {
		t.Fatalf("ActiveAlerts() error = %v", err)
	}
	if gotPath != "/notifications/user/user 1/active" {
		t.Errorf("path = %q", gotPath)
	}
	if len(names) != 2 || names[0] != "Temperatura alta" || names[1] != "Sensor caído" {
		t.Errorf("ActiveAlerts() = %v", names)
	}
}

func TestAlertClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"user unknown"}`))
	}))
	defer srv.Close()

	c, _ := NewAlertClient(srv.URL, Options{})
	if _, err := c.ActiveAlerts(context.Background(), "u"); !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("ActiveAlerts() error = %v, want ErrUpstreamFailure", err)
	}
	names, err := c.ActiveAlerts(context.Background(), "")
	if err != nil || names != nil {
		t.Errorf("ActiveAlerts(\"\") = (%v, %v), want (nil, nil)", names, err)
	}
}

func TestNewHTTPClient_Modes(t *testing.T) {
	for _, mode := range []string{"", TransportHTTP1, TransportHTTP2, TransportH2C} {
		if _, err := NewHTTPClient(mode, 0); err != nil {
			t.Errorf("NewHTTPClient(%q) error = %v", mode, err)
		}
	}
	if _, err := NewHTTPClient("h3", 0); err == nil {
		t.Error("NewHTTPClient(h3) expected error")
	}
}
