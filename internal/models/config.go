package models

import "strings"

// Theme is the per-instance color preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// ParseTheme returns ThemeAuto for anything other than light or dark.
func ParseTheme(s string) Theme {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeLight:
		return ThemeLight
	case ThemeDark:
		return ThemeDark
	default:
		return ThemeAuto
	}
}

// WidgetConfig is the per-instance configuration written by the configuration flow.
type WidgetConfig struct {
	SensorID   string `json:"sensorId"`
	SensorName string `json:"sensorName"`
	UserID     string `json:"userId"`
	Theme      Theme  `json:"theme"`
}
