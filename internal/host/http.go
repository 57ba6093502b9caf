package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sensorsp/widget-engine/internal/observability"
)

// ErrCallbackFailed is returned when the host callback answers with a non-2xx status.
var ErrCallbackFailed = errors.New("host callback failed")

// HTTPHost forwards host calls to a callback server:
// POST {base}/render, {base}/schedule and {base}/navigate.
type HTTPHost struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPHost creates an HTTPHost. A nil client uses http.DefaultClient.
func NewHTTPHost(baseURL string, client *http.Client, timeout time.Duration) *HTTPHost {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPHost{baseURL: strings.TrimRight(baseURL, "/"), client: client, timeout: timeout}
}

func (h *HTTPHost) Render(ctx context.Context, req RenderRequest) error {
	return h.post(ctx, "/render", req)
}

type scheduleRequest struct {
	IntervalSeconds int64  `json:"intervalSeconds"`
	Interval        string `json:"interval"`
}

func (h *HTTPHost) RequestInterval(ctx context.Context, interval time.Duration) error {
	return h.post(ctx, "/schedule", scheduleRequest{
		IntervalSeconds: int64(interval / time.Second),
		Interval:        interval.String(),
	})
}

// CanOpen accepts only links into the main application.
func (h *HTTPHost) CanOpen(_ context.Context, link string) bool {
	return appLink(link)
}

type navigateRequest struct {
	URL string `json:"url"`
}

func (h *HTTPHost) Open(ctx context.Context, link string) error {
	return h.post(ctx, "/navigate", navigateRequest{URL: link})
}

func (h *HTTPHost) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set(observability.CorrelationIDHeader, corrID)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("host %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s HTTP %d", ErrCallbackFailed, path, resp.StatusCode)
	}
	return nil
}
