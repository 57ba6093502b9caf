package models

import "strings"

// Variant is the visual size class of a widget instance.
type Variant string

const (
	VariantCompact  Variant = "compact"
	VariantExtended Variant = "extended"
	VariantFull     Variant = "full"
)

// Registered host widget names.
const (
	HostSmallWidget  = "SensorSPSmallWidget"
	HostMediumWidget = "SensorSPMediumWidget"
	HostLargeWidget  = "SensorSPLargeWidget"
)

// ParseVariant resolves a variant name or host widget name.
// Unrecognized names return (VariantCompact, false).
func ParseVariant(name string) (Variant, bool) {
	switch strings.TrimSpace(name) {
	case string(VariantCompact), HostSmallWidget:
		return VariantCompact, true
	case string(VariantExtended), HostMediumWidget:
		return VariantExtended, true
	case string(VariantFull), HostLargeWidget:
		return VariantFull, true
	default:
		return VariantCompact, false
	}
}

// EventType is a host-delivered lifecycle event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdate  EventType = "update"
	EventResized EventType = "resized"
	EventRemoved EventType = "removed"
	EventTapped  EventType = "tapped"
)

// ParseEventType accepts the short names and the host's WIDGET_* spellings.
// Unrecognized values are returned unchanged so callers can log them.
func ParseEventType(s string) EventType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADDED", "WIDGET_ADDED":
		return EventAdded
	case "UPDATE", "WIDGET_UPDATE":
		return EventUpdate
	case "RESIZED", "WIDGET_RESIZED":
		return EventResized
	case "REMOVED", "DELETED", "WIDGET_DELETED":
		return EventRemoved
	case "TAPPED", "CLICK", "WIDGET_CLICK":
		return EventTapped
	default:
		return EventType(s)
	}
}

// SubAction is the user action attached to a tap.
type SubAction string

const (
	SubActionNone       SubAction = ""
	SubActionRefresh    SubAction = "refresh"
	SubActionOpenApp    SubAction = "open_app"
	SubActionOpenAlerts SubAction = "open_alerts"
)

// ParseSubAction accepts the short names and the host's click action spellings.
// Unrecognized values return SubActionNone.
func ParseSubAction(s string) SubAction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REFRESH":
		return SubActionRefresh
	case "OPEN_APP":
		return SubActionOpenApp
	case "OPEN_ALERTS":
		return SubActionOpenAlerts
	default:
		return SubActionNone
	}
}

// Event is one lifecycle event for one widget instance.
type Event struct {
	InstanceID  int64     `json:"instanceId"`
	VariantName string    `json:"variantName"`
	Type        EventType `json:"eventType"`
	SubAction   SubAction `json:"subAction,omitempty"`
	DarkMode    bool      `json:"darkMode,omitempty"`
}
