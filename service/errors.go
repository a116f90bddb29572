package service

import "errors"

var (
	// ErrDeviceOffline means the device is unknown, offline, or refused because it is offline
	ErrDeviceOffline = errors.New("device offline")
	// ErrConnectFailed covers rejection, timeout and transport failure during start
	ErrConnectFailed = errors.New("connect failed")
	// ErrSessionBusy is returned when a session is already connecting or active
	ErrSessionBusy = errors.New("session already in progress")
	// ErrNoSession is returned by operations that need an active session
	ErrNoSession = errors.New("no active session")
	// ErrUnknownDevice is returned by directories for ids they do not hold
	ErrUnknownDevice = errors.New("unknown device")

	// ErrConflict means the capture pipeline is claimed by the other mode
	ErrConflict = errors.New("capture mode conflict")

	// ErrCommandTimeout is reported in a synthesized result when a command deadline expires
	ErrCommandTimeout = errors.New("command timed out")

	// ErrInputDisabled means pointer input arrived without mirror control
	ErrInputDisabled = errors.New("input requires mirror with control")
	// ErrNoPointerDown means pointer-up arrived without a matching pointer-down
	ErrNoPointerDown = errors.New("pointer up without pointer down")
	// ErrGeometryUnknown means device resolution or viewport size is not set
	ErrGeometryUnknown = errors.New("device resolution or viewport unknown")

	// ErrSignalingActive is returned by Start while a peer link exists
	ErrSignalingActive = errors.New("signaling already started")
	// ErrNoPeerLink is returned when remote signaling arrives without a local offer
	ErrNoPeerLink = errors.New("no peer link")
)
