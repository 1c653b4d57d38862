// Package capability defines the boundary between the voice engine and the
// platform that owns the microphone and the speaker.
package capability

import (
	"context"

	"voice-interaction-engine/internal/voice"
)

// Capabilities reports which device features are available.
type Capabilities struct {
	Capture  bool `json:"capture"`
	Playback bool `json:"playback"`
	// Audio is set when the platform can stream raw PCM instead of
	// recognizing speech itself.
	Audio bool `json:"audio,omitempty"`
}

// RecognizerCallback receives results from one recognizer activation.
type RecognizerCallback interface {
	// OnResult is called for every interim or final result.
	OnResult(text string, isFinal bool)

	// OnError is called when the platform reports a recognition failure.
	OnError(err error)

	// OnEnd is called when the underlying capture stops, whoever stopped it.
	OnEnd()
}

// Recognizer is a speech-to-text device handle.
type Recognizer interface {
	// Start opens the microphone and begins delivering results to cb.
	// It must not block until speech arrives.
	Start(ctx context.Context, cb RecognizerCallback) error

	// Stop asks the device to finish; pending results and OnEnd still follow.
	Stop() error

	// Abort releases the microphone immediately. Callbacks after Abort are
	// allowed but are ignored by the session.
	Abort()
}

// SynthesizerCallback receives progress of one synthesis activation.
type SynthesizerCallback interface {
	OnStart()
	OnEnd()
	OnError(err error)
}

// SpeakRequest describes one text-to-speech activation.
type SpeakRequest struct {
	Text   string
	Locale string
	Rate   float64
}

// Synthesizer is a text-to-speech device handle.
type Synthesizer interface {
	// Speak begins speaking and returns without waiting for the audio to finish.
	Speak(ctx context.Context, req SpeakRequest, cb SynthesizerCallback) error

	// Cancel stops in-flight speech. Safe to call when idle.
	Cancel()
}

// Provider abstracts platform availability. Components depend on it instead
// of a concrete platform so they can run against a fake.
type Provider interface {
	Probe() Capabilities

	// CreateCapture returns a recognizer for locale or an error wrapping
	// voice.ErrUnsupportedCapability.
	CreateCapture(locale string) (Recognizer, error)

	// CreatePlayback returns a synthesizer for locale or an error wrapping
	// voice.ErrUnsupportedCapability.
	CreatePlayback(locale string) (Synthesizer, error)
}

// Require returns voice.ErrUnsupportedCapability unless every requested
// feature is available.
func Require(p Provider, capture, playback bool) error {
	caps := p.Probe()
	switch {
	case capture && !caps.Capture:
		return Unsupported("capture")
	case playback && !caps.Playback:
		return Unsupported("playback")
	}
	return nil
}

// UnsupportedError names the missing feature. It matches
// voice.ErrUnsupportedCapability with errors.Is.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return e.Feature + ": " + voice.ErrUnsupportedCapability.Error()
}

func (e *UnsupportedError) Unwrap() error {
	return voice.ErrUnsupportedCapability
}

// Unsupported builds the error providers return for a missing feature.
func Unsupported(feature string) error {
	return &UnsupportedError{Feature: feature}
}
