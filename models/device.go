package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Device status values as reported by the registration subsystem
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
)

// Device is read-only here; the registration subsystem owns it.
type Device struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Model      string `json:"model" yaml:"model"`
	Status     string `json:"status" yaml:"status"` // online, offline
	Resolution string `json:"resolution" yaml:"resolution"`
	LastSeen   int64  `json:"last_seen" yaml:"last_seen"`
}

// Online reports whether the device can accept a session
func (d *Device) Online() bool {
	return d != nil && d.Status == DeviceOnline
}

// Size is a width/height pair in either view or device units
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both dimensions are positive
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// ParseResolution parses "1080x2400" (as printed by `wm size`) into a Size
func ParseResolution(resolution string) (Size, error) {
	parts := strings.Split(strings.TrimSpace(resolution), "x")
	if len(parts) != 2 {
		return Size{}, fmt.Errorf("invalid resolution %q", resolution)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid resolution width %q: %w", resolution, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Size{}, fmt.Errorf("invalid resolution height %q: %w", resolution, err)
	}
	size := Size{Width: float64(w), Height: float64(h)}
	if !size.Valid() {
		return Size{}, fmt.Errorf("invalid resolution %q", resolution)
	}
	return size, nil
}
