// Package render maps a widget variant and snapshot to the payload sent to
// the host. Selection is a pure function of its inputs.
package render

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sensorsp/widget-engine/internal/models"
)

// Click actions understood by the host.
const (
	ActionRefresh    = "REFRESH"
	ActionOpenApp    = "OPEN_APP"
	ActionOpenAlerts = "OPEN_ALERTS"
)

// MaxAlertDetails bounds the alert names listed by the full variant.
const MaxAlertDetails = 3

// Options carry per-render inputs that are not part of the snapshot.
type Options struct {
	Theme    models.Theme
	DarkMode bool
	// Now anchors relative labels. It is required; a zero Now leaves
	// LastUpdate empty.
	Now time.Time
}

// Payload is the presentation data for one render request.
type Payload struct {
	Variant     models.Variant `json:"variant"`
	WidgetName  string         `json:"widgetName"`
	Status      string         `json:"status"`
	StatusColor string         `json:"statusColor"`
	StatusIcon  string         `json:"statusIcon"`
	Temperature string         `json:"temperature"`
	Humidity    string         `json:"humidity"`
	Location    string         `json:"location"`
	Offline     bool           `json:"isOffline"`
	TapAction   string         `json:"tapAction"`
	Dark        bool           `json:"darkMode"`
	Palette     Palette        `json:"palette"`

	// extended and full
	LastUpdate string   `json:"lastUpdate,omitempty"`
	AlertCount int      `json:"alertCount"`
	Actions    []string `json:"actions,omitempty"`

	// full only
	Actuator     string   `json:"actuator,omitempty"`
	AlertDetails []string `json:"alertDetails,omitempty"`
}

// Select builds the payload for variantName. Unrecognized names render compact.
func Select(variantName string, snap models.Snapshot, opts Options) Payload {
	variant, _ := models.ParseVariant(variantName)
	switch variant {
	case models.VariantFull:
		return full(snap, opts)
	case models.VariantExtended:
		return extended(snap, opts)
	default:
		return compact(snap, opts)
	}
}

// HostWidgetName returns the registered host widget for a variant.
func HostWidgetName(v models.Variant) string {
	switch v {
	case models.VariantFull:
		return models.HostLargeWidget
	case models.VariantExtended:
		return models.HostMediumWidget
	default:
		return models.HostSmallWidget
	}
}

func compact(snap models.Snapshot, opts Options) Payload {
	palette, dark := paletteFor(opts.Theme, opts.DarkMode)
	status := snap.Status.Category()
	return Payload{
		Variant:     models.VariantCompact,
		WidgetName:  HostWidgetName(models.VariantCompact),
		Status:      status.String(),
		StatusColor: status.Color(),
		StatusIcon:  status.Icon(),
		Temperature: snap.Temperature,
		Humidity:    snap.Humidity,
		Location:    snap.Location,
		Offline:     snap.Offline,
		TapAction:   ActionOpenApp,
		Dark:        dark,
		Palette:     palette,
	}
}

func extended(snap models.Snapshot, opts Options) Payload {
	p := compact(snap, opts)
	p.Variant = models.VariantExtended
	p.WidgetName = HostWidgetName(models.VariantExtended)
	p.LastUpdate = lastUpdateLabel(snap, opts.Now)
	p.AlertCount = snap.Alerts
	p.Actions = []string{ActionRefresh}
	return p
}

func full(snap models.Snapshot, opts Options) Payload {
	p := extended(snap, opts)
	p.Variant = models.VariantFull
	p.WidgetName = HostWidgetName(models.VariantFull)
	p.Actuator = snap.Actuator
	if n := len(snap.AlertNames); n > 0 {
		if n > MaxAlertDetails {
			n = MaxAlertDetails
		}
		p.AlertDetails = append([]string(nil), snap.AlertNames[:n]...)
	}
	p.Actions = []string{ActionRefresh, ActionOpenApp, ActionOpenAlerts}
	return p
}

// lastUpdateLabel describes the reading time relative to now, falling back to
// the capture time when the reading timestamp does not parse.
func lastUpdateLabel(snap models.Snapshot, now time.Time) string {
	if now.IsZero() {
		return ""
	}
	at, ok := models.ParseTimestamp(snap.ReadingTime)
	if !ok {
		if snap.CapturedAt.IsZero() {
			return ""
		}
		at = snap.CapturedAt
	}
	if at.After(now) {
		return "now"
	}
	return humanize.RelTime(at, now, "ago", "from now")
}
