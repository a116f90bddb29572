package service

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"remoteconsole/models"
)

// Gesture classification thresholds
const (
	// TapMaxDistance is measured in view units, before scaling. A 5 unit
	// jitter in a 320 wide view is about 17 device units on a 1080 wide
	// screen and must still count as a tap.
	TapMaxDistance   = 10.0
	TapMaxDuration   = 300 * time.Millisecond
	MinSwipeDuration = 200 * time.Millisecond
)

// Classify turns a pointer interaction into a device-space tap or swipe.
// Tap detection uses the displacement the operator actually made on the
// rendered element; both endpoints are then scaled by
// deviceRes/element per axis and rounded to whole pixels.
func Classify(ev models.GestureEvent, deviceRes, element models.Size) models.Gesture {
	from := scalePoint(ev.Origin, deviceRes, element)
	to := scalePoint(ev.End, deviceRes, element)

	duration := ev.EndTime.Sub(ev.StartTime)
	if duration < 0 {
		duration = 0
	}
	distance := math.Hypot(ev.End.X-ev.Origin.X, ev.End.Y-ev.Origin.Y)

	if distance < TapMaxDistance && duration < TapMaxDuration {
		return models.Gesture{Kind: models.GestureTap, From: to, To: to}
	}
	if duration < MinSwipeDuration {
		duration = MinSwipeDuration
	}
	return models.Gesture{
		Kind:       models.GestureSwipe,
		From:       from,
		To:         to,
		DurationMs: int(duration / time.Millisecond),
	}
}

func scalePoint(p models.Point, deviceRes, element models.Size) models.DevicePoint {
	return models.DevicePoint{
		X: int(math.Round(p.X * deviceRes.Width / element.Width)),
		Y: int(math.Round(p.Y * deviceRes.Height / element.Height)),
	}
}

// Compile-time interface check.
var _ SessionObserver = (*GestureTranslator)(nil)

// GestureTranslator pairs pointer-down/up events from the rendered mirror
// element and forwards the classified gesture as TAP or SWIPE commands.
type GestureTranslator struct {
	commands CommandSender
	modes    ModeSource
	now      func() time.Time

	mu        sync.Mutex
	deviceRes models.Size
	viewport  models.Size
	down      *models.Point
	downAt    time.Time
}

func NewGestureTranslator(commands CommandSender, modes ModeSource) *GestureTranslator {
	return &GestureTranslator{
		commands: commands,
		modes:    modes,
		now:      time.Now,
	}
}

// SetDeviceResolution overrides the resolution taken from the device record
func (g *GestureTranslator) SetDeviceResolution(size models.Size) {
	g.mu.Lock()
	g.deviceRes = size
	g.mu.Unlock()
}

// SetViewport records the rendered size of the mirror element
func (g *GestureTranslator) SetViewport(size models.Size) {
	g.mu.Lock()
	g.viewport = size
	g.mu.Unlock()
}

// Geometry returns the device resolution and the rendered element size
func (g *GestureTranslator) Geometry() (device, viewport models.Size) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deviceRes, g.viewport
}

func (g *GestureTranslator) PointerDown(p models.Point) {
	g.mu.Lock()
	g.down = &p
	g.downAt = g.now()
	g.mu.Unlock()
}

// PointerUp completes the gesture started by PointerDown and sends it to
// the device. Nothing is sent unless mirroring with control is active.
func (g *GestureTranslator) PointerUp(p models.Point) (models.Gesture, error) {
	g.mu.Lock()
	down := g.down
	downAt := g.downAt
	deviceRes := g.deviceRes
	viewport := g.viewport
	g.down = nil
	g.mu.Unlock()

	if down == nil {
		return models.Gesture{}, ErrNoPointerDown
	}
	if state := g.modes.State(); !state.Mirror || !state.Control {
		return models.Gesture{}, ErrInputDisabled
	}
	if !deviceRes.Valid() || !viewport.Valid() {
		return models.Gesture{}, ErrGeometryUnknown
	}

	gesture := Classify(models.GestureEvent{
		Origin:    *down,
		End:       p,
		StartTime: downAt,
		EndTime:   g.now(),
	}, deviceRes, viewport)

	var err error
	switch gesture.Kind {
	case models.GestureTap:
		_, err = g.commands.Send(models.CmdTap, map[string]interface{}{
			"x": gesture.To.X,
			"y": gesture.To.Y,
		})
	case models.GestureSwipe:
		_, err = g.commands.Send(models.CmdSwipe, map[string]interface{}{
			"x1":       gesture.From.X,
			"y1":       gesture.From.Y,
			"x2":       gesture.To.X,
			"y2":       gesture.To.Y,
			"duration": gesture.DurationMs,
		})
	}
	if err != nil {
		return gesture, fmt.Errorf("forwarding %s: %w", gesture.Kind, err)
	}
	return gesture, nil
}

func (g *GestureTranslator) SessionStarted(_ models.Session, device models.Device) {
	size, err := models.ParseResolution(device.Resolution)
	if err != nil {
		if device.Resolution != "" {
			log.Printf("⚠️ [%s] %v", device.ID, err)
		}
		return
	}
	g.SetDeviceResolution(size)
}

func (g *GestureTranslator) SessionEnded() {
	g.mu.Lock()
	g.down = nil
	g.deviceRes = models.Size{}
	g.mu.Unlock()
}
