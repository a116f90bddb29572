package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MirrorState represents the lifecycle state of the screen mirror
type MirrorState int

const (
	MirrorStopped  MirrorState = iota // Not running
	MirrorRunning                     // Capturing
	MirrorStopping                    // Waiting for the capture loop to exit
)

func (s MirrorState) String() string {
	return [...]string{"STOPPED", "RUNNING", "STOPPING"}[s]
}

// maxCaptureFailures stops the loop after this many screencaps fail in a row
const maxCaptureFailures = 5

// MirrorLoop captures screenshots at a fixed pace and hands them to emit.
// adb screencap has no streaming mode, so each frame is a full PNG.
type MirrorLoop struct {
	device  Device
	emit    func(image []byte)
	limiter *rate.Limiter

	mu     sync.Mutex
	state  MirrorState
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMirrorLoop(device Device, fps float64, emit func(image []byte)) *MirrorLoop {
	if fps <= 0 {
		fps = 5
	}
	return &MirrorLoop{
		device:  device,
		emit:    emit,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
		state:   MirrorStopped,
	}
}

// Start begins capturing; starting a running mirror is a no-op
func (m *MirrorLoop) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case MirrorRunning:
		return nil
	case MirrorStopping:
		return errors.New("mirror is stopping, retry later")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = MirrorRunning
	log.Printf("🖥️ Mirror started")

	go m.run(ctx, m.done)
	return nil
}

// Stop ends capturing and waits for the loop to exit
func (m *MirrorLoop) Stop() {
	m.mu.Lock()
	if m.state != MirrorRunning {
		m.mu.Unlock()
		return
	}
	m.state = MirrorStopping
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *MirrorLoop) State() MirrorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MirrorLoop) run(ctx context.Context, done chan struct{}) {
	frameCount := 0
	failures := 0
	start := time.Now()

	defer func() {
		m.mu.Lock()
		m.state = MirrorStopped
		m.cancel = nil
		m.mu.Unlock()
		close(done)
		log.Printf("🛑 Mirror stopped after %d frames in %v", frameCount, time.Since(start).Round(time.Second))
	}()

	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}

		image, err := m.device.Screenshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Printf("⚠️ Screencap failed (%d/%d): %v", failures, maxCaptureFailures, err)
			if failures >= maxCaptureFailures {
				return
			}
			continue
		}
		failures = 0
		frameCount++
		m.emit(image)
	}
}
