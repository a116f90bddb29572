package models

import "time"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GestureEvent is a raw pointer interaction in view coordinates
type GestureEvent struct {
	Origin    Point
	End       Point
	StartTime time.Time
	EndTime   time.Time
}

// GestureKind distinguishes the two touch primitives
type GestureKind string

const (
	GestureTap   GestureKind = "tap"
	GestureSwipe GestureKind = "swipe"
)

// Gesture is a classified interaction in device coordinates.
// For a tap only To is meaningful.
type Gesture struct {
	Kind       GestureKind `json:"kind"`
	From       DevicePoint `json:"from"`
	To         DevicePoint `json:"to"`
	DurationMs int         `json:"duration_ms,omitempty"`
}

// DevicePoint is a rounded device-space coordinate
type DevicePoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}
