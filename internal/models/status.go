package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the display category of a reading.
// StatusUnknown only appears as a parse result; snapshots store Category().
type Status int

const (
	StatusUnknown Status = iota
	StatusNormal
	StatusCold
	StatusHot
)

// statusTable maps provider status strings to a category.
var statusTable = map[string]Status{
	"normal":   StatusNormal,
	"frio":     StatusCold,
	"cold":     StatusCold,
	"caliente": StatusHot,
	"hot":      StatusHot,
}

// ParseStatus maps a provider status string to a Status.
// Unrecognized values return StatusUnknown.
func ParseStatus(s string) Status {
	if st, ok := statusTable[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return StatusUnknown
}

// Category collapses StatusUnknown to StatusNormal.
func (s Status) Category() Status {
	switch s {
	case StatusNormal, StatusCold, StatusHot:
		return s
	default:
		return StatusNormal
	}
}

func (s Status) String() string {
	switch s.Category() {
	case StatusCold:
		return "cold"
	case StatusHot:
		return "hot"
	default:
		return "normal"
	}
}

// Color returns the hex display color for the status category.
func (s Status) Color() string {
	switch s.Category() {
	case StatusCold:
		return "#4ECDC4"
	case StatusHot:
		return "#FF6B6B"
	default:
		return "#51CF66"
	}
}

// Icon returns the icon name for the status category.
func (s Status) Icon() string {
	switch s.Category() {
	case StatusCold:
		return "snow"
	case StatusHot:
		return "flame"
	default:
		return "checkmark-circle"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	*s = ParseStatus(raw).Category()
	return nil
}
