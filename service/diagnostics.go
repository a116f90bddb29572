package service

import (
	"errors"
	"log"
	"sync"
	"time"

	"remoteconsole/models"
)

// DiagnosticsPeriod is how often an active session re-requests device stats
const DiagnosticsPeriod = 500 * time.Millisecond

// Diagnostics is the aggregated health view shown to the operator
type Diagnostics struct {
	Device          *models.DeviceStats `json:"device,omitempty"`
	Frames          FrameStats          `json:"frames"`
	Commands        CommandStats        `json:"commands"`
	PeerState       string              `json:"peer_state,omitempty"`
	PacketsReceived uint64              `json:"packets_received"`
	AutoSync        bool                `json:"auto_sync"`
	Polls           uint64              `json:"polls"`
}

// LinkState reports whether a persistent media path is up
type LinkState interface {
	Connected() bool
}

// CameraSync is the part of the mode arbiter the poller drives
type CameraSync interface {
	State() ModeState
	RefreshCamera() error
}

// Compile-time interface check.
var _ SessionObserver = (*DiagnosticsPoller)(nil)

// DiagnosticsPoller runs while a session is active. Every tick it requests
// STATS and, with auto-sync on and the camera active, re-issues the camera
// start so the camera view keeps refreshing. The re-issue is skipped while
// the peer link carries a real stream.
type DiagnosticsPoller struct {
	commands CommandSender
	modes    CameraSync
	link     LinkState
	period   time.Duration

	mu       sync.Mutex
	autoSync bool
	polls    uint64
	stop     chan struct{}
	done     chan struct{}
}

func NewDiagnosticsPoller(commands CommandSender, modes CameraSync, link LinkState, period time.Duration, autoSync bool) *DiagnosticsPoller {
	if period <= 0 {
		period = DiagnosticsPeriod
	}
	return &DiagnosticsPoller{
		commands: commands,
		modes:    modes,
		link:     link,
		period:   period,
		autoSync: autoSync,
	}
}

func (p *DiagnosticsPoller) SetAutoSync(on bool) {
	p.mu.Lock()
	p.autoSync = on
	p.mu.Unlock()
}

func (p *DiagnosticsPoller) AutoSync() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoSync
}

// Polls returns the number of ticks since the poller was created
func (p *DiagnosticsPoller) Polls() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// Running reports whether the ticker is active
func (p *DiagnosticsPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *DiagnosticsPoller) SessionStarted(models.Session, models.Device) {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop, p.done = stop, done
	p.mu.Unlock()

	go p.run(stop, done)
}

// SessionEnded stops the ticker and waits for an in-progress tick
func (p *DiagnosticsPoller) SessionEnded() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (p *DiagnosticsPoller) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *DiagnosticsPoller) tick() {
	p.mu.Lock()
	p.polls++
	autoSync := p.autoSync
	p.mu.Unlock()

	if _, err := p.commands.Send(models.CmdStats, nil); err != nil && !errors.Is(err, ErrNoSession) {
		log.Printf("⚠️ Stats poll failed: %v", err)
	}

	if !autoSync || !p.modes.State().Camera {
		return
	}
	if p.link != nil && p.link.Connected() {
		return
	}
	if err := p.modes.RefreshCamera(); err != nil && !errors.Is(err, ErrNoSession) {
		log.Printf("⚠️ Camera auto-sync failed: %v", err)
	}
}
