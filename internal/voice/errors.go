package voice

import "errors"

// Errors reported by the voice engine. None of them cross the device boundary
// as panics; the turn controller delivers all of them through its listener.
var (
	ErrUnsupportedCapability = errors.New("capability not supported")
	ErrEmptyInput            = errors.New("empty input")
	ErrAlreadyActive         = errors.New("session already active")
	ErrAlreadyRunning        = errors.New("controller already running")
	ErrRecognition           = errors.New("recognition error")
	ErrPlaybackFailed        = errors.New("playback failed")
	ErrDeviceConflict        = errors.New("capture and playback active at the same time")
	ErrInvalidOption         = errors.New("invalid option")
	ErrClosed                = errors.New("controller closed")
	// ErrDeviceLost is wrapped by provider errors for a device that went away.
	ErrDeviceLost = errors.New("device lost")
)

// Kind classifies an error for metrics labels and UI payloads.
type Kind string

const (
	KindUnsupportedCapability Kind = "unsupported_capability"
	KindEmptyInput            Kind = "empty_input"
	KindAlreadyActive         Kind = "already_active"
	KindAlreadyRunning        Kind = "already_running"
	KindRecognition           Kind = "recognition_error"
	KindPlaybackFailed        Kind = "playback_failed"
	KindDeviceConflict        Kind = "device_conflict"
	KindInvalidOption         Kind = "invalid_option"
	KindClosed                Kind = "closed"
	KindDeviceLost            Kind = "device_lost"
	KindUnknown               Kind = "unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrDeviceLost, KindDeviceLost},
	{ErrUnsupportedCapability, KindUnsupportedCapability},
	{ErrEmptyInput, KindEmptyInput},
	{ErrAlreadyActive, KindAlreadyActive},
	{ErrAlreadyRunning, KindAlreadyRunning},
	{ErrRecognition, KindRecognition},
	{ErrPlaybackFailed, KindPlaybackFailed},
	{ErrDeviceConflict, KindDeviceConflict},
	{ErrInvalidOption, KindInvalidOption},
	{ErrClosed, KindClosed},
}

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
