package models

import "time"

// Snapshot is the display-ready representation of the latest known reading
// for one widget instance. Staleness is derived from CapturedAt; Offline only
// says the value was not backed by a fetch that succeeded during this event.
type Snapshot struct {
	Temperature string    `json:"temperature"`
	Humidity    string    `json:"humidity"`
	Status      Status    `json:"status"`
	StatusColor string    `json:"statusColor"`
	StatusIcon  string    `json:"statusIcon"`
	Location    string    `json:"location"`
	Actuator    string    `json:"actuator,omitempty"`
	ReadingTime string    `json:"lastUpdate"`
	Alerts      int       `json:"alerts"`
	AlertNames  []string  `json:"alertNames,omitempty"`
	Offline     bool      `json:"isOffline"`
	CapturedAt  time.Time `json:"cachedAt"`
}

// Age returns how long ago the snapshot was captured relative to now.
// A capture time in the future yields a negative age.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}
