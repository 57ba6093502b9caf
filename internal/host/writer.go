package host

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// WriterHost prints every host call as one JSON line. Used by widgetctl.
type WriterHost struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterHost writes to w.
func NewWriterHost(w io.Writer) *WriterHost {
	return &WriterHost{w: w}
}

type line struct {
	Type     string         `json:"type"`
	Render   *RenderRequest `json:"render,omitempty"`
	Interval string         `json:"interval,omitempty"`
	URL      string         `json:"url,omitempty"`
}

func (h *WriterHost) Render(_ context.Context, req RenderRequest) error {
	return h.write(line{Type: "render", Render: &req})
}

func (h *WriterHost) RequestInterval(_ context.Context, interval time.Duration) error {
	return h.write(line{Type: "schedule", Interval: interval.String()})
}

func (h *WriterHost) CanOpen(_ context.Context, link string) bool {
	return appLink(link)
}

func (h *WriterHost) Open(_ context.Context, link string) error {
	return h.write(line{Type: "navigate", URL: link})
}

func (h *WriterHost) write(l line) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return json.NewEncoder(h.w).Encode(l)
}
