package fake

import (
	"context"
	"errors"
	"sync"

	"voice-interaction-engine/internal/voice/capability"
)

// ErrDevice is returned by fake devices configured to fail on start.
var ErrDevice = errors.New("fake device failure")

// Recognizer is a scripted capability.Recognizer.
type Recognizer struct {
	p      *Provider
	Locale string

	mu       sync.Mutex
	cb       capability.RecognizerCallback
	open     bool
	starts   int
	stops    int
	aborts   int
	startErr error
	abortFn  func()
}

// FailStartWith makes the next Start calls return err.
func (r *Recognizer) FailStartWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

// PanicOnAbort installs a hook run inside Abort, used to simulate a device
// in an inconsistent state.
func (r *Recognizer) PanicOnAbort(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abortFn = func() { panic(v) }
}

// Start implements capability.Recognizer.
func (r *Recognizer) Start(_ context.Context, cb capability.RecognizerCallback) error {
	r.mu.Lock()
	r.starts++
	if r.startErr != nil {
		err := r.startErr
		r.mu.Unlock()
		return err
	}
	r.cb = cb
	wasOpen := r.open
	r.open = true
	r.mu.Unlock()

	if !wasOpen {
		r.p.acquire(true)
	}
	return nil
}

// Stop implements capability.Recognizer.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	if r.p.option(func(p *Provider) bool { return p.EndOnStop }) {
		r.End()
	}
	return nil
}

// Abort implements capability.Recognizer. It releases the microphone without
// calling back.
func (r *Recognizer) Abort() {
	r.mu.Lock()
	r.aborts++
	hook := r.abortFn
	r.mu.Unlock()

	r.releaseMic()
	if hook != nil {
		hook()
	}
}

// Interim delivers a non-final result.
func (r *Recognizer) Interim(text string) {
	if cb := r.callback(); cb != nil {
		cb.OnResult(text, false)
	}
}

// Final delivers a final result.
func (r *Recognizer) Final(text string) {
	if cb := r.callback(); cb != nil {
		cb.OnResult(text, true)
	}
}

// End releases the microphone and reports the end of capture.
func (r *Recognizer) End() {
	r.releaseMic()
	if cb := r.callback(); cb != nil {
		cb.OnEnd()
	}
}

// Fail reports a recognition error followed by the end of capture.
func (r *Recognizer) Fail(err error) {
	cb := r.callback()
	if cb != nil {
		cb.OnError(err)
	}
	r.releaseMic()
	if cb != nil {
		cb.OnEnd()
	}
}

// Open reports whether the microphone is held.
func (r *Recognizer) Open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Counts returns how many times Start, Stop and Abort were called.
func (r *Recognizer) Counts() (starts, stops, aborts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops, r.aborts
}

func (r *Recognizer) callback() capability.RecognizerCallback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cb
}

func (r *Recognizer) releaseMic() {
	r.mu.Lock()
	wasOpen := r.open
	r.open = false
	r.mu.Unlock()
	if wasOpen {
		r.p.release(true)
	}
}

// Synthesizer is a scripted capability.Synthesizer.
type Synthesizer struct {
	p      *Provider
	Locale string

	mu       sync.Mutex
	cb       capability.SynthesizerCallback
	open     bool
	spoken   []capability.SpeakRequest
	cancels  int
	speakErr error
}

// FailSpeakWith makes the next Speak calls return err.
func (s *Synthesizer) FailSpeakWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speakErr = err
}

// Speak implements capability.Synthesizer.
func (s *Synthesizer) Speak(_ context.Context, req capability.SpeakRequest, cb capability.SynthesizerCallback) error {
	s.mu.Lock()
	if s.speakErr != nil {
		err := s.speakErr
		s.mu.Unlock()
		return err
	}
	s.cb = cb
	s.spoken = append(s.spoken, req)
	wasOpen := s.open
	s.open = true
	s.mu.Unlock()

	if !wasOpen {
		s.p.acquire(false)
	}
	if s.p.option(func(p *Provider) bool { return p.StartOnSpeak }) {
		cb.OnStart()
	}
	return nil
}

// Cancel implements capability.Synthesizer.
func (s *Synthesizer) Cancel() {
	s.mu.Lock()
	s.cancels++
	cb := s.cb
	s.mu.Unlock()

	s.releaseSpeaker()
	if cb != nil && s.p.option(func(p *Provider) bool { return p.EndOnCancel }) {
		cb.OnEnd()
	}
}

// Finish completes the current utterance.
func (s *Synthesizer) Finish() {
	s.releaseSpeaker()
	if cb := s.callback(); cb != nil {
		cb.OnEnd()
	}
}

// Fail reports a synthesis error.
func (s *Synthesizer) Fail(err error) {
	s.releaseSpeaker()
	if cb := s.callback(); cb != nil {
		cb.OnError(err)
	}
}

// Spoken returns every request passed to Speak.
func (s *Synthesizer) Spoken() []capability.SpeakRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capability.SpeakRequest(nil), s.spoken...)
}

// LastText returns the text of the latest Speak call.
func (s *Synthesizer) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spoken) == 0 {
		return ""
	}
	return s.spoken[len(s.spoken)-1].Text
}

// Open reports whether the speaker is held.
func (s *Synthesizer) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Cancels returns how many times Cancel was called.
func (s *Synthesizer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *Synthesizer) callback() capability.SynthesizerCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

func (s *Synthesizer) releaseSpeaker() {
	s.mu.Lock()
	wasOpen := s.open
	s.open = false
	s.mu.Unlock()
	if wasOpen {
		s.p.release(false)
	}
}
