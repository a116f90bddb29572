package service

import (
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"remoteconsole/models"
)

// FrameStats counts relay traffic. Drops are silent but counted.
type FrameStats struct {
	Received       uint64 `json:"received"`
	Stored         uint64 `json:"stored"`
	DroppedStale   uint64 `json:"dropped_stale"`
	DroppedInvalid uint64 `json:"dropped_invalid"`
}

// Compile-time interface check.
var _ SessionObserver = (*FrameRelay)(nil)

// FrameRelay keeps a single latest-wins slot per visual mode. A frame whose
// mode is not the arbiter's active mode is dropped, and a slot is cleared as
// soon as its mode stops being active.
type FrameRelay struct {
	modes ModeSource
	now   func() time.Time

	mu    sync.RWMutex
	slots map[models.Mode]models.Frame
	stats FrameStats

	subsMu sync.Mutex
	subs   map[int]func(models.Frame)
	subID  int

	unsubscribe func()
}

func NewFrameRelay(modes ModeSource) *FrameRelay {
	r := &FrameRelay{
		modes: modes,
		now:   time.Now,
		slots: make(map[models.Mode]models.Frame),
		subs:  make(map[int]func(models.Frame)),
	}
	r.unsubscribe = modes.OnChange(r.handleModeChange)
	return r
}

// OnFrame stores image as the newest frame for mode and notifies
// subscribers. It reports whether the frame was kept.
func (r *FrameRelay) OnFrame(mode models.Mode, image []byte) bool {
	r.mu.Lock()
	r.stats.Received++

	if mode == models.ModeNone || len(image) == 0 {
		r.stats.DroppedInvalid++
		r.mu.Unlock()
		return false
	}
	if r.modes.State().Active() != mode {
		r.stats.DroppedStale++
		r.mu.Unlock()
		return false
	}
	contentType := mimetype.Detect(image).String()
	if !strings.HasPrefix(contentType, "image/") {
		r.stats.DroppedInvalid++
		r.mu.Unlock()
		return false
	}

	frame := models.Frame{
		Mode:        mode,
		Image:       image,
		ContentType: contentType,
		CapturedAt:  r.now(),
	}
	r.slots[mode] = frame
	r.stats.Stored++
	r.mu.Unlock()

	r.subsMu.Lock()
	subs := make([]func(models.Frame), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subsMu.Unlock()
	for _, fn := range subs {
		fn(frame)
	}
	return true
}

// Latest returns the stored frame for mode
func (r *FrameRelay) Latest(mode models.Mode) (models.Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	frame, ok := r.slots[mode]
	return frame, ok
}

// Clear empties the slot for mode so a frozen image is never shown
func (r *FrameRelay) Clear(mode models.Mode) {
	r.mu.Lock()
	delete(r.slots, mode)
	r.mu.Unlock()
}

// Reset empties both slots; counters are kept for diagnostics
func (r *FrameRelay) Reset() {
	r.mu.Lock()
	r.slots = make(map[models.Mode]models.Frame)
	r.mu.Unlock()
}

func (r *FrameRelay) Stats() FrameStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Subscribe registers a renderer callback for stored frames
func (r *FrameRelay) Subscribe(fn func(models.Frame)) func() {
	r.subsMu.Lock()
	id := r.subID
	r.subID++
	r.subs[id] = fn
	r.subsMu.Unlock()
	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *FrameRelay) handleModeChange(prev, next ModeState) {
	if prev.Camera && !next.Camera {
		r.Clear(models.ModeCamera)
	}
	// a control sub-mode switch also needs a fresh image
	if prev.Mirror && (!next.Mirror || prev.Control != next.Control) {
		r.Clear(models.ModeScreen)
	}
}

func (r *FrameRelay) SessionStarted(models.Session, models.Device) {}

func (r *FrameRelay) SessionEnded() {
	r.Reset()
}

func (r *FrameRelay) Close() {
	r.unsubscribe()
}
