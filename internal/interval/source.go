package interval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrUnavailable means the power state cannot be determined.
var ErrUnavailable = errors.New("power state unavailable")

// LowBatteryThreshold is the level (percent) under which a discharging
// device counts as power saving when no explicit saver flag is reported.
const LowBatteryThreshold = 20

// PowerState is what a PowerSource knows about the device.
// Nil fields were not reported.
type PowerState struct {
	PowerSave    *bool    `json:"powerSave,omitempty"`
	BatteryLevel *float64 `json:"batteryLevel,omitempty"`
	Charging     bool     `json:"charging,omitempty"`
}

// Saving reports whether the device should be treated as power saving.
// An explicit flag wins; otherwise a discharging battery under
// LowBatteryThreshold counts. ErrUnavailable if neither was reported.
func (s PowerState) Saving() (bool, error) {
	if s.PowerSave != nil {
		return *s.PowerSave, nil
	}
	if s.BatteryLevel != nil {
		return *s.BatteryLevel < LowBatteryThreshold && !s.Charging, nil
	}
	return false, ErrUnavailable
}

// PowerSource queries the device power state. Implementations may block.
type PowerSource interface {
	PowerState(ctx context.Context) (PowerState, error)
}

// HostState holds the last state reported by the host. It is unavailable
// until the first Set.
type HostState struct {
	mu    sync.RWMutex
	state PowerState
	set   bool
}

// Set records a report from the host.
func (h *HostState) Set(s PowerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
	h.set = true
}

func (h *HostState) PowerState(ctx context.Context) (PowerState, error) {
	if err := ctx.Err(); err != nil {
		return PowerState{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.set {
		return PowerState{}, ErrUnavailable
	}
	return h.state, nil
}

// Static always reports the same state.
type Static PowerState

func (s Static) PowerState(context.Context) (PowerState, error) {
	return PowerState(s), nil
}

// FileSource reads sysfs-style files. SaverPath holds a boolean flag;
// CapacityPath a battery percentage; StatusPath a charge status such as
// "Charging" or "Discharging". Empty paths are skipped.
type FileSource struct {
	SaverPath    string
	CapacityPath string
	StatusPath   string
}

func (f FileSource) PowerState(ctx context.Context) (PowerState, error) {
	if err := ctx.Err(); err != nil {
		return PowerState{}, err
	}
	var state PowerState

	if f.SaverPath != "" {
		raw, err := readTrimmed(f.SaverPath)
		if err != nil {
			return PowerState{}, err
		}
		saving, err := parseFlag(raw)
		if err != nil {
			return PowerState{}, fmt.Errorf("%s: %w", f.SaverPath, err)
		}
		state.PowerSave = &saving
	}

	if f.CapacityPath != "" {
		raw, err := readTrimmed(f.CapacityPath)
		if err != nil {
			return PowerState{}, err
		}
		level, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return PowerState{}, fmt.Errorf("%s: invalid battery level %q", f.CapacityPath, raw)
		}
		state.BatteryLevel = &level
	}

	if f.StatusPath != "" {
		raw, err := readTrimmed(f.StatusPath)
		if err != nil {
			return PowerState{}, err
		}
		switch strings.ToLower(raw) {
		case "charging", "full":
			state.Charging = true
		}
	}

	if state.PowerSave == nil && state.BatteryLevel == nil {
		return PowerState{}, ErrUnavailable
	}
	return state, nil
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read power state: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid power save flag %q", s)
	}
}
