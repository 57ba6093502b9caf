package fetch

import (
	"strconv"
	"time"

	"github.com/sensorsp/widget-engine/internal/models"
)

// Placeholder strings used when nothing better is known.
const (
	PlaceholderTemperature = "--°C"
	PlaceholderHumidity    = "--%"
	NoLocationLabel        = "no location"
	NoDataLabel            = "no data"
)

// SnapshotFromReading formats a provider reading for display.
// Unrecognized status strings categorize as normal.
func SnapshotFromReading(r models.Reading, alertNames []string, now time.Time) models.Snapshot {
	status := models.ParseStatus(r.Status).Category()
	location := r.Location
	if location == "" {
		location = NoLocationLabel
	}
	return models.Snapshot{
		Temperature: formatNumber(r.Temperature) + "°C",
		Humidity:    formatNumber(r.Humidity) + "%",
		Status:      status,
		StatusColor: status.Color(),
		StatusIcon:  status.Icon(),
		Location:    location,
		Actuator:    r.Actuator,
		ReadingTime: r.Timestamp,
		Alerts:      len(alertNames),
		AlertNames:  alertNames,
		Offline:     false,
		CapturedAt:  now,
	}
}

// DefaultSnapshot is the last-resort snapshot when neither the provider nor
// the cache has anything for the instance.
func DefaultSnapshot(now time.Time) models.Snapshot {
	return models.Snapshot{
		Temperature: PlaceholderTemperature,
		Humidity:    PlaceholderHumidity,
		Status:      models.StatusNormal,
		StatusColor: models.StatusNormal.Color(),
		StatusIcon:  models.StatusNormal.Icon(),
		Location:    NoDataLabel,
		ReadingTime: now.UTC().Format(time.RFC3339),
		Offline:     true,
		CapturedAt:  now,
	}
}

// formatNumber prints the shortest representation: 25 -> "25", 25.5 -> "25.5".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
