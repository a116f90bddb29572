package service

import (
	"log"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"remoteconsole/models"
)

// maxPlaybackQueue bounds recorded clips waiting for local playback
const maxPlaybackQueue = 4

// PhotoView is the photo viewer slice
type PhotoView struct {
	Source      models.CommandType `json:"source"`
	Name        string             `json:"name,omitempty"`
	ContentType string             `json:"content_type"`
	Size        int                `json:"size"`
	Image       []byte             `json:"-"`
}

// AudioView is one clip queued for playback
type AudioView struct {
	ContentType string `json:"content_type"`
	DurationMs  int    `json:"duration_ms,omitempty"`
	Audio       []byte `json:"-"`
}

// Views holds what command results populate in the operator UI
type Views struct {
	Alerts    []models.Notification         `json:"alerts"`
	Files     *models.FileListing           `json:"files,omitempty"`
	Photo     *PhotoView                    `json:"photo,omitempty"`
	Playback  []AudioView                   `json:"playback"`
	Stats     *models.DeviceStats           `json:"stats,omitempty"`
	Errors    map[models.CommandType]string `json:"errors,omitempty"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

// Compile-time interface check.
var _ SessionObserver = (*ResultRouter)(nil)

// ResultRouter is the dispatch table from command type to UI slice. It is
// a plain subscriber of CommandChannel; unknown types are ignored.
type ResultRouter struct {
	mu    sync.RWMutex
	views Views

	unsubscribe func()
}

func NewResultRouter(commands *CommandChannel) *ResultRouter {
	r := &ResultRouter{}
	r.resetLocked()
	r.unsubscribe = commands.SubscribeAll(r.Route)
	return r
}

// Route applies one completion to the matching slice
func (r *ResultRouter) Route(result models.CommandResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !result.Success {
		if result.Error != "" {
			r.views.Errors[result.Type] = result.Error
		} else {
			r.views.Errors[result.Type] = "failed"
		}
		r.views.UpdatedAt = time.Now()
		return
	}
	delete(r.views.Errors, result.Type)

	var err error
	switch result.Type {
	case models.CmdNotifications:
		var alerts []models.Notification
		if err = result.Decode(&alerts); err == nil {
			r.views.Alerts = alerts
		}
	case models.CmdGallery, models.CmdFiles:
		var listing models.FileListing
		if err = result.Decode(&listing); err == nil {
			r.views.Files = &listing
		}
	case models.CmdViewFile, models.CmdCameraCapture:
		var photo models.Photo
		if err = result.Decode(&photo); err == nil {
			r.views.Photo = &PhotoView{
				Source:      result.Type,
				Name:        photo.Name,
				ContentType: mimetype.Detect(photo.Image).String(),
				Size:        len(photo.Image),
				Image:       photo.Image,
			}
		}
	case models.CmdAudioRecord:
		var clip models.AudioClip
		if err = result.Decode(&clip); err == nil {
			r.views.Playback = append(r.views.Playback, AudioView{
				ContentType: mimetype.Detect(clip.Audio).String(),
				DurationMs:  clip.DurationMs,
				Audio:       clip.Audio,
			})
			if len(r.views.Playback) > maxPlaybackQueue {
				r.views.Playback = r.views.Playback[len(r.views.Playback)-maxPlaybackQueue:]
			}
		}
	case models.CmdStats:
		var stats models.DeviceStats
		if err = result.Decode(&stats); err == nil {
			r.views.Stats = &stats
		}
	default:
		return
	}
	if err != nil {
		log.Printf("⚠️ Undecodable %s result: %v", result.Type, err)
		r.views.Errors[result.Type] = err.Error()
	}
	r.views.UpdatedAt = time.Now()
}

// Views returns a copy of every slice
func (r *ResultRouter) Views() Views {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := r.views
	v.Alerts = append([]models.Notification(nil), r.views.Alerts...)
	v.Playback = append([]AudioView(nil), r.views.Playback...)
	v.Errors = make(map[models.CommandType]string, len(r.views.Errors))
	for k, e := range r.views.Errors {
		v.Errors[k] = e
	}
	return v
}

// Photo returns the image currently in the photo viewer
func (r *ResultRouter) Photo() (PhotoView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.views.Photo == nil {
		return PhotoView{}, false
	}
	return *r.views.Photo, true
}

// NextClip pops the oldest clip waiting for playback
func (r *ResultRouter) NextClip() (AudioView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views.Playback) == 0 {
		return AudioView{}, false
	}
	clip := r.views.Playback[0]
	r.views.Playback = r.views.Playback[1:]
	return clip, true
}

// LastStats returns the most recent STATS result
func (r *ResultRouter) LastStats() *models.DeviceStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.views.Stats == nil {
		return nil
	}
	s := *r.views.Stats
	return &s
}

func (r *ResultRouter) resetLocked() {
	r.views = Views{Errors: make(map[models.CommandType]string)}
}

func (r *ResultRouter) SessionStarted(models.Session, models.Device) {}

func (r *ResultRouter) SessionEnded() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
}

func (r *ResultRouter) Close() {
	r.unsubscribe()
}
