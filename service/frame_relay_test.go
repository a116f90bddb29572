package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
)

func newTestRelay() (*FrameRelay, *ModeArbiter) {
	a := NewModeArbiter(&recordingSender{})
	return NewFrameRelay(a), a
}

func TestFrameRelay_StoresFrameForActiveMode(t *testing.T) {
	r, a := newTestRelay()
	defer r.Close()
	img := pngBytes(t)

	var rendered []models.Frame
	r.Subscribe(func(f models.Frame) { rendered = append(rendered, f) })

	require.NoError(t, a.RequestMirrorStart(false))
	assert.True(t, r.OnFrame(models.ModeScreen, img))

	frame, ok := r.Latest(models.ModeScreen)
	require.True(t, ok)
	assert.Equal(t, "image/png", frame.ContentType)
	assert.Equal(t, img, frame.Image)
	require.Len(t, rendered, 1)
	assert.Equal(t, models.ModeScreen, rendered[0].Mode)
}

func TestFrameRelay_LatestWins(t *testing.T) {
	r, a := newTestRelay()
	defer r.Close()
	require.NoError(t, a.RequestCameraStart())

	first := pngBytes(t)
	second := append(pngBytes(t), 0x00) // still a PNG to the sniffer
	require.True(t, r.OnFrame(models.ModeCamera, first))
	require.True(t, r.OnFrame(models.ModeCamera, second))

	frame, ok := r.Latest(models.ModeCamera)
	require.True(t, ok)
	assert.Equal(t, second, frame.Image)
	assert.Equal(t, uint64(2), r.Stats().Stored)
}

func TestFrameRelay_DropsStaleCameraFrame(t *testing.T) {
	r, a := newTestRelay()
	defer r.Close()
	img := pngBytes(t)

	require.NoError(t, a.RequestCameraStart())
	require.True(t, r.OnFrame(models.ModeCamera, img))

	a.StopCamera()
	_, ok := r.Latest(models.ModeCamera)
	assert.False(t, ok, "camera slot is cleared when the camera stops")

	require.NoError(t, a.RequestMirrorStart(true))
	require.True(t, r.OnFrame(models.ModeScreen, img))

	// a camera frame still in flight after the switch
	assert.False(t, r.OnFrame(models.ModeCamera, img))
	_, ok = r.Latest(models.ModeCamera)
	assert.False(t, ok)
	screen, ok := r.Latest(models.ModeScreen)
	require.True(t, ok)
	assert.Equal(t, img, screen.Image)
	assert.Equal(t, uint64(1), r.Stats().DroppedStale)
}

func TestFrameRelay_DropsInvalidFrames(t *testing.T) {
	r, a := newTestRelay()
	defer r.Close()
	require.NoError(t, a.RequestMirrorStart(false))

	assert.False(t, r.OnFrame(models.ModeScreen, nil))
	assert.False(t, r.OnFrame(models.ModeNone, pngBytes(t)))
	assert.False(t, r.OnFrame(models.ModeScreen, []byte(`{"not":"an image"}`)))

	_, ok := r.Latest(models.ModeScreen)
	assert.False(t, ok)
	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(3), stats.DroppedInvalid)
	assert.Zero(t, stats.Stored)
}

func TestFrameRelay_NoModeDropsEverything(t *testing.T) {
	r, _ := newTestRelay()
	defer r.Close()

	assert.False(t, r.OnFrame(models.ModeScreen, pngBytes(t)))
	assert.False(t, r.OnFrame(models.ModeCamera, pngBytes(t)))
	assert.Equal(t, uint64(2), r.Stats().DroppedStale)
}

func TestFrameRelay_SessionEndedClearsSlots(t *testing.T) {
	r, a := newTestRelay()
	defer r.Close()
	require.NoError(t, a.RequestMirrorStart(false))
	require.True(t, r.OnFrame(models.ModeScreen, pngBytes(t)))

	r.SessionEnded()
	_, ok := r.Latest(models.ModeScreen)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), r.Stats().Stored, "counters survive a reset")
}
