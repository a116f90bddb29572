package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
	"remoteconsole/transport"
)

func newTestConsole(t *testing.T) (*Console, *fakeDevice) {
	consoleEnd, deviceEnd := transport.NewMemoryPair()
	device := newFakeDevice(deviceEnd)
	c := NewConsole(Options{
		Transport:         consoleEnd,
		Devices:           testDirectory(),
		Credential:        "op-token",
		StartTimeout:      time.Second,
		DiagnosticsPeriod: time.Hour,
	})
	t.Cleanup(c.Close)
	return c, device
}

func TestConsole_MirrorCameraScenario(t *testing.T) {
	c, device := newTestConsole(t)
	img := pngBytes(t)

	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)

	// mirror, view-only
	require.NoError(t, c.StartMirror(false))
	device.sendFrame(models.ModeScreen, img)
	frame, ok := c.LatestFrame(models.ModeScreen)
	require.True(t, ok)
	assert.Equal(t, img, frame.Image)
	snap := c.Snapshot()
	assert.Equal(t, ModeState{Mirror: true}, snap.Mode)
	assert.Equal(t, models.ModeScreen, snap.ActiveMode)

	// camera is refused without reaching the device
	sent := len(device.received())
	assert.ErrorIs(t, c.StartCamera(), ErrConflict)
	assert.Len(t, device.received(), sent)

	// input is view-only
	c.SetViewport(mirrorFrame)
	c.PointerDown(models.Point{X: 10, Y: 10})
	_, err = c.PointerUp(models.Point{X: 10, Y: 10})
	assert.ErrorIs(t, err, ErrInputDisabled)
	assert.Empty(t, device.receivedOf(models.CmdTap))

	// stopping the mirror clears the frame
	c.StopMirror()
	_, ok = c.LatestFrame(models.ModeScreen)
	assert.False(t, ok)
	assert.Equal(t, models.ModeNone, c.Snapshot().ActiveMode)

	// camera now starts and its frames show up
	require.NoError(t, c.StartCamera())
	device.sendFrame(models.ModeCamera, img)
	_, ok = c.LatestFrame(models.ModeCamera)
	assert.True(t, ok)

	assert.Len(t, device.receivedOf(models.CmdStartMirror), 1)
	assert.Len(t, device.receivedOf(models.CmdStopMirror), 1)
	assert.Len(t, device.receivedOf(models.CmdStartCamera), 1)
}

func TestConsole_ControlMirrorForwardsGestures(t *testing.T) {
	c, device := newTestConsole(t)
	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)

	require.NoError(t, c.StartMirror(true))
	c.SetViewport(mirrorFrame)
	c.PointerDown(models.Point{X: 100, Y: 100})
	gesture, err := c.PointerUp(models.Point{X: 104, Y: 103})
	require.NoError(t, err)
	assert.Equal(t, models.GestureTap, gesture.Kind)

	taps := device.receivedOf(models.CmdTap)
	require.Len(t, taps, 1)
	assert.EqualValues(t, 351, taps[0].Payload["x"])
	assert.EqualValues(t, 348, taps[0].Payload["y"])
}

func TestConsole_SendCommandRoutesCaptureThroughArbiter(t *testing.T) {
	c, device := newTestConsole(t)
	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)

	_, err = c.SendCommand(models.CmdStartMirror, map[string]interface{}{"control": true})
	require.NoError(t, err)
	assert.Equal(t, ModeState{Mirror: true, Control: true}, c.Snapshot().Mode)

	_, err = c.SendCommand(models.CmdStartCamera, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, device.receivedOf(models.CmdStartCamera))

	id, err := c.SendCommand(models.CmdNotifications, nil)
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestConsole_StopResetsEverything(t *testing.T) {
	c, device := newTestConsole(t)
	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)

	require.NoError(t, c.StartMirror(false))
	device.sendFrame(models.ModeScreen, pngBytes(t))
	device.setAutoComplete(false)
	_, err = c.SendCommand(models.CmdGallery, nil)
	require.NoError(t, err)
	require.Len(t, c.Snapshot().Pending, 1)

	c.Stop()
	snap := c.Snapshot()
	assert.Equal(t, models.SessionIdle, snap.State)
	assert.Nil(t, snap.Session)
	assert.Empty(t, snap.Pending)
	assert.Equal(t, ModeState{}, snap.Mode)
	_, ok := c.LatestFrame(models.ModeScreen)
	assert.False(t, ok)
	_, ok = c.LatestFrame(models.ModeCamera)
	assert.False(t, ok)

	c.Stop() // idle: no-op
	assert.Equal(t, 1, device.stops)
}

func TestConsole_RequiresSession(t *testing.T) {
	c, device := newTestConsole(t)

	assert.ErrorIs(t, c.StartSignaling(), ErrNoSession)
	assert.ErrorIs(t, c.StartCamera(), ErrNoSession)
	assert.Equal(t, ModeState{}, c.Snapshot().Mode, "failed start leaves no claim")
	assert.Empty(t, device.received())
}

func TestConsole_FramesFromOtherSessionsAreIgnored(t *testing.T) {
	c, device := newTestConsole(t)
	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)
	require.NoError(t, c.StartMirror(false))

	device.end.Emit(models.EventFrame, models.FrameMessage{
		SessionID: "stale-session",
		Mode:      models.ModeScreen,
		Image:     pngBytes(t),
	}, nil)
	_, ok := c.LatestFrame(models.ModeScreen)
	assert.False(t, ok)
}

func TestConsole_OnChangeFires(t *testing.T) {
	c, _ := newTestConsole(t)
	changes := 0
	c.OnChange(func() { changes++ })

	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)
	require.NoError(t, c.StartCamera())
	c.SetAutoSync(true)

	assert.GreaterOrEqual(t, changes, 4)
	assert.True(t, c.Diagnostics().AutoSync)
}

func TestConsole_RefusedAutoSyncReleasesCamera(t *testing.T) {
	c, device := newTestConsole(t)
	_, err := c.StartSession(context.Background(), testDeviceID)
	require.NoError(t, err)
	c.SetAutoSync(true)

	require.NoError(t, c.StartCamera())
	device.setAutoComplete(false)

	c.poller.tick()
	require.Len(t, device.receivedOf(models.CmdStartCamera), 2)
	device.complete(models.CmdStartCamera, false, nil)

	assert.Equal(t, ModeState{}, c.Snapshot().Mode)
	assert.NoError(t, c.StartMirror(false))
}
