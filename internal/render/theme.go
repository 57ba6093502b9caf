package render

import "github.com/sensorsp/widget-engine/internal/models"

// Palette is the set of colors a payload is drawn with.
type Palette struct {
	Background       string `json:"background"`
	Text             string `json:"text"`
	TextSecondary    string `json:"textSecondary"`
	Border           string `json:"border"`
	CardBackground   string `json:"cardBackground"`
	AlertBadge       string `json:"alertBadge"`
	OfflineIndicator string `json:"offlineIndicator"`
	RefreshButton    string `json:"refreshButton"`
}

var (
	LightPalette = Palette{
		Background:       "#FFFFFF",
		Text:             "#000000",
		TextSecondary:    "#666666",
		Border:           "rgba(0, 0, 0, 0.1)",
		CardBackground:   "rgba(255, 255, 255, 0.9)",
		AlertBadge:       "#FF3B30",
		OfflineIndicator: "#FF9500",
		RefreshButton:    "#007AFF",
	}
	DarkPalette = Palette{
		Background:       "#1a1a1a",
		Text:             "#FFFFFF",
		TextSecondary:    "#CCCCCC",
		Border:           "rgba(255, 255, 255, 0.1)",
		CardBackground:   "rgba(28, 28, 30, 0.9)",
		AlertBadge:       "#FF453A",
		OfflineIndicator: "#FF9F0A",
		RefreshButton:    "#0A84FF",
	}
)

// paletteFor resolves the instance theme; auto follows the host dark mode hint.
func paletteFor(theme models.Theme, darkMode bool) (Palette, bool) {
	dark := darkMode
	switch theme {
	case models.ThemeDark:
		dark = true
	case models.ThemeLight:
		dark = false
	}
	if dark {
		return DarkPalette, true
	}
	return LightPalette, false
}
