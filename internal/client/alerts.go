package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/sensorsp/widget-engine/internal/observability"
)

// AlertCounter lists the names of the active notification rules of a user.
type AlertCounter interface {
	ActiveAlerts(ctx context.Context, userID string) ([]string, error)
}

// AlertClient reads GET {base}/notifications/user/{userId}/active.
type AlertClient struct {
	baseURL *url.URL
	opts    Options
}

type alertsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    []struct {
		ID     string `json:"_id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"data"`
}

// NewAlertClient validates baseURL and returns a client. Breaker and retry
// options are ignored; the alert count is best effort.
func NewAlertClient(baseURL string, opts Options) (*AlertClient, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &AlertClient{baseURL: u, opts: opts.withDefaults()}, nil
}

func (c *AlertClient) ActiveAlerts(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	rawURL := c.baseURL.String() + "/notifications/user/" + url.PathEscape(userID) + "/active"
	req, err := newRequest(reqCtx, rawURL, c.opts.Token)
	if err != nil {
		observability.AlertAPICallsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		observability.AlertAPICallsTotal.WithLabelValues("error").Inc()
		return nil, wrapTransportError(err)
	}
	defer resp.Body.Close()
	observability.AlertAPICallsTotal.WithLabelValues(statusLabel(resp.StatusCode)).Inc()

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed alertsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamFailure, parsed.Message)
	}

	names := make([]string, 0, len(parsed.Data))
	for _, a := range parsed.Data {
		if a.Status != "" && a.Status != "active" {
			continue
		}
		names = append(names, a.Name)
	}
	return names, nil
}
