// Package host implements the boundary to the widget host runtime: render
// requests, scheduling hints and navigation intents.
package host

import (
	"context"
	"strings"
	"time"

	"github.com/sensorsp/widget-engine/internal/render"
)

// Deep links consumed by the main application.
const (
	LinkMain   = "sensorsp://"
	LinkAlerts = "sensorsp://notifications"
)

// RenderRequest is one render call for one instance.
type RenderRequest struct {
	InstanceKey int64          `json:"instanceKey"`
	VariantName string         `json:"variantName"`
	Payload     render.Payload `json:"payload"`
}

// Renderer draws a widget instance.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) error
}

// Scheduler receives the advisory update interval.
type Scheduler interface {
	RequestInterval(ctx context.Context, interval time.Duration) error
}

// Navigator opens deep links in the main application.
type Navigator interface {
	CanOpen(ctx context.Context, link string) bool
	Open(ctx context.Context, link string) error
}

// Host is the full host boundary.
type Host interface {
	Renderer
	Scheduler
	Navigator
}

// appLink reports whether link targets the main application.
func appLink(link string) bool {
	return strings.HasPrefix(link, LinkMain)
}
