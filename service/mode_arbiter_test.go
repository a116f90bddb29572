package service

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remoteconsole/models"
	"remoteconsole/transport"
)

func TestModeArbiter_CameraStart(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)

	require.NoError(t, a.RequestCameraStart())
	assert.Equal(t, ModeState{Camera: true}, a.State())
	assert.Equal(t, models.ModeCamera, a.State().Active())
	assert.Equal(t, []models.CommandType{models.CmdStartCamera}, sender.types())

	// already active: nothing new is sent
	require.NoError(t, a.RequestCameraStart())
	assert.Equal(t, 1, sender.count())
}

func TestModeArbiter_ConflictSendsNothing(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)

	require.NoError(t, a.RequestMirrorStart(false))
	before := sender.count()

	err := a.RequestCameraStart()
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before, sender.count())
	assert.Equal(t, ModeState{Mirror: true}, a.State())

	a.StopMirror()
	require.NoError(t, a.RequestCameraStart())

	before = sender.count()
	assert.ErrorIs(t, a.RequestMirrorStart(true), ErrConflict)
	assert.Equal(t, before, sender.count())
}

func TestModeArbiter_MirrorSubModes(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)

	require.NoError(t, a.RequestMirrorStart(true))
	assert.Equal(t, ModeState{Mirror: true, Control: true}, a.State())
	assert.Equal(t, true, sender.last().Payload["control"])

	require.NoError(t, a.RequestMirrorStart(true), "same sub-mode is a no-op")
	assert.Equal(t, 1, sender.count())

	assert.ErrorIs(t, a.RequestMirrorStart(false), ErrConflict)
	assert.Equal(t, ModeState{Mirror: true, Control: true}, a.State())
}

func TestModeArbiter_StopIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)

	a.StopCamera()
	a.StopMirror()
	assert.Zero(t, sender.count(), "stopping an inactive mode sends nothing")

	require.NoError(t, a.RequestCameraStart())
	a.StopCamera()
	a.StopCamera()
	assert.Equal(t, []models.CommandType{models.CmdStartCamera, models.CmdStopCamera}, sender.types())
	assert.Equal(t, ModeState{}, a.State())
}

func TestModeArbiter_SendFailureReleasesClaim(t *testing.T) {
	sender := &recordingSender{}
	sender.failWith(errors.New("not connected"))
	a := NewModeArbiter(sender)

	var transitions [][2]ModeState
	a.OnChange(func(prev, next ModeState) { transitions = append(transitions, [2]ModeState{prev, next}) })

	err := a.RequestCameraStart()
	require.Error(t, err)
	assert.Equal(t, ModeState{}, a.State())
	assert.Equal(t, [][2]ModeState{
		{{}, {Camera: true}},
		{{Camera: true}, {}},
	}, transitions)

	sender.failWith(nil)
	require.NoError(t, a.RequestMirrorStart(false), "released claim no longer blocks the mirror")
}

func TestModeArbiter_FailedCompletionReleasesClaim(t *testing.T) {
	console, deviceEnd := transport.NewMemoryPair()
	device := newFakeDevice(deviceEnd)
	device.setAutoComplete(false)
	device.sessionID = "s1"
	ch := NewCommandChannel(console, 0)
	ch.SessionStarted(models.Session{ID: "s1"}, models.Device{})
	a := NewModeArbiter(ch)
	defer a.Close()

	require.NoError(t, a.RequestMirrorStart(true))
	require.True(t, a.State().Mirror)

	device.complete(models.CmdStartMirror, false, nil)
	assert.Equal(t, ModeState{}, a.State())

	require.NoError(t, a.RequestCameraStart())
	device.complete(models.CmdStartCamera, true, nil)
	assert.True(t, a.State().Camera, "successful completion keeps the claim")
}

func TestModeArbiter_StaleFailureDoesNotReleaseNewClaim(t *testing.T) {
	console, deviceEnd := transport.NewMemoryPair()
	device := newFakeDevice(deviceEnd)
	device.setAutoComplete(false)
	device.sessionID = "s1"
	ch := NewCommandChannel(console, 0)
	ch.SessionStarted(models.Session{ID: "s1"}, models.Device{})
	a := NewModeArbiter(ch)
	defer a.Close()

	require.NoError(t, a.RequestCameraStart())
	a.StopCamera()
	require.NoError(t, a.RequestCameraStart())

	// failure of the first start, echoing its request id
	device.end.Emit(models.EventCommandCompleted, models.CommandResult{
		Type:      models.CmdStartCamera,
		RequestID: 1,
		Success:   false,
	}, nil)
	assert.True(t, a.State().Camera)
}

func TestModeArbiter_ResetClearsWithoutCommands(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)
	require.NoError(t, a.RequestMirrorStart(true))

	a.SessionEnded()
	assert.Equal(t, ModeState{}, a.State())
	assert.Equal(t, 1, sender.count())
}

func TestModeArbiter_ConcurrentRequestsStayExclusive(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)

	var mu sync.Mutex
	violations := 0
	a.OnChange(func(_, next ModeState) {
		if next.Camera && next.Mirror {
			mu.Lock()
			violations++
			mu.Unlock()
		}
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				switch rng.Intn(4) {
				case 0:
					_ = a.RequestCameraStart()
				case 1:
					_ = a.RequestMirrorStart(rng.Intn(2) == 0)
				case 2:
					a.StopCamera()
				case 3:
					a.StopMirror()
				}
				s := a.State()
				if s.Camera && s.Mirror {
					mu.Lock()
					violations++
					mu.Unlock()
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assert.Zero(t, violations)
}

func TestModeArbiter_RefusedRefreshReleasesCamera(t *testing.T) {
	console, deviceEnd := transport.NewMemoryPair()
	device := newFakeDevice(deviceEnd)
	device.setAutoComplete(false)
	device.sessionID = "s1"
	ch := NewCommandChannel(console, 0)
	ch.SessionStarted(models.Session{ID: "s1"}, models.Device{})
	a := NewModeArbiter(ch)
	defer a.Close()

	require.NoError(t, a.RequestCameraStart())
	device.complete(models.CmdStartCamera, true, nil)

	require.NoError(t, a.RefreshCamera())
	starts := device.receivedOf(models.CmdStartCamera)
	require.Len(t, starts, 2)
	assert.NotEqual(t, starts[0].RequestID, starts[1].RequestID)

	device.complete(models.CmdStartCamera, false, nil)
	assert.Equal(t, ModeState{}, a.State())
	require.NoError(t, a.RequestMirrorStart(false))
}

func TestModeArbiter_RefreshWithoutCameraSendsNothing(t *testing.T) {
	sender := &recordingSender{}
	a := NewModeArbiter(sender)
	defer a.Close()

	require.NoError(t, a.RefreshCamera())
	assert.Zero(t, sender.count())
}
