package playback

import (
	"context"
	"errors"
	"sync"
	"testing"

	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability/fake"
)

type testListener struct {
	mu      sync.Mutex
	started int
	ended   []voice.EndReason
	errs    []error
}

func (l *testListener) OnStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
}

func (l *testListener) OnEnded(reason voice.EndReason, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, reason)
	l.errs = append(l.errs, err)
}

func (l *testListener) getEnded() []voice.EndReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]voice.EndReason{}, l.ended...)
}

func newSession(t *testing.T) (*Session, *fake.Provider, *fake.Synthesizer, *testListener) {
	t.Helper()
	p := fake.New()
	synth, err := p.CreatePlayback("en-US")
	if err != nil {
		t.Fatalf("CreatePlayback: %v", err)
	}
	l := &testListener{}
	return New(synth, l), p, synth.(*fake.Synthesizer), l
}

func TestSession_SpeakCompletes(t *testing.T) {
	s, p, synth, l := newSession(t)

	if err := s.Speak(context.Background(), "What is 2 plus 2?", voice.Options{Rate: 0.9}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !s.Speaking() {
		t.Fatal("expected session to be speaking")
	}
	if l.started != 1 {
		t.Errorf("expected started once, got %d", l.started)
	}

	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0].Rate != 0.9 || spoken[0].Locale != "en-US" {
		t.Errorf("unexpected speak request: %+v", spoken)
	}

	synth.Finish()

	if s.Speaking() {
		t.Error("expected session idle after finish")
	}
	if got := l.getEnded(); len(got) != 1 || got[0] != voice.EndCompleted {
		t.Errorf("expected [completed], got %v", got)
	}
	if p.OpenPlaybacks() != 0 {
		t.Errorf("expected speaker released, got %d", p.OpenPlaybacks())
	}
}

func TestSession_SpeakEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		s, _, synth, l := newSession(t)

		err := s.Speak(context.Background(), text, voice.DefaultOptions())
		if !errors.Is(err, voice.ErrEmptyInput) {
			t.Errorf("Speak(%q): expected ErrEmptyInput, got %v", text, err)
		}
		if s.State() != StateIdle {
			t.Errorf("Speak(%q): expected StateIdle, got %v", text, s.State())
		}
		if len(synth.Spoken()) != 0 || len(l.getEnded()) != 0 {
			t.Errorf("Speak(%q): expected no device activity", text)
		}
	}
}

func TestSession_SpeakEmptyWhileSpeaking_KeepsState(t *testing.T) {
	s, _, synth, _ := newSession(t)

	if err := s.Speak(context.Background(), "hello", voice.DefaultOptions()); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if err := s.Speak(context.Background(), " ", voice.DefaultOptions()); !errors.Is(err, voice.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if !s.Speaking() || s.Text() != "hello" {
		t.Error("empty speak must not disturb the running activation")
	}
	if synth.Cancels() != 0 {
		t.Error("empty speak must not cancel the device")
	}
}

func TestSession_LastCallWins(t *testing.T) {
	s, p, synth, l := newSession(t)

	if err := s.Speak(context.Background(), "first", voice.DefaultOptions()); err != nil {
		t.Fatalf("Speak first: %v", err)
	}
	if err := s.Speak(context.Background(), "second", voice.DefaultOptions()); err != nil {
		t.Fatalf("Speak second: %v", err)
	}

	if synth.Cancels() != 1 {
		t.Errorf("expected previous activation cancelled once, got %d", synth.Cancels())
	}
	if p.OpenPlaybacks() != 1 {
		t.Errorf("expected exactly one open speaker, got %d", p.OpenPlaybacks())
	}
	if p.Violations() != 0 {
		t.Errorf("expected no overlapping audio streams, got %d violations", p.Violations())
	}
	if got := l.getEnded(); len(got) != 1 || got[0] != voice.EndCancelled {
		t.Errorf("expected [cancelled], got %v", got)
	}

	synth.Finish()
	if got := l.getEnded(); len(got) != 2 || got[1] != voice.EndCompleted {
		t.Errorf("expected second activation to complete, got %v", got)
	}
	if s.Text() != "second" {
		t.Errorf("expected text 'second', got %q", s.Text())
	}
}

func TestSession_Cancel(t *testing.T) {
	s, p, synth, l := newSession(t)

	// Safe when nothing is speaking.
	s.Cancel()
	if len(l.getEnded()) != 0 {
		t.Error("cancel while idle must not report an end")
	}

	if err := s.Speak(context.Background(), "hello", voice.DefaultOptions()); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	s.Cancel()
	s.Cancel()

	if got := l.getEnded(); len(got) != 1 || got[0] != voice.EndCancelled {
		t.Errorf("expected single [cancelled], got %v", got)
	}
	if p.OpenPlaybacks() != 0 {
		t.Errorf("expected speaker released, got %d", p.OpenPlaybacks())
	}

	// A late natural end from the cancelled activation is ignored.
	synth.Finish()
	if got := l.getEnded(); len(got) != 1 {
		t.Errorf("expected late end to be ignored, got %v", got)
	}
}

func TestSession_CancelWithDeviceEndCallback(t *testing.T) {
	p := fake.New()
	p.EndOnCancel = true
	synthI, _ := p.CreatePlayback("en-US")
	l := &testListener{}
	s := New(synthI, l)

	if err := s.Speak(context.Background(), "hello", voice.DefaultOptions()); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	s.Cancel()

	if got := l.getEnded(); len(got) != 1 || got[0] != voice.EndCancelled {
		t.Errorf("device end after cancel must not produce a second end, got %v", got)
	}
}

func TestSession_DeviceError(t *testing.T) {
	s, _, synth, l := newSession(t)

	if err := s.Speak(context.Background(), "hello", voice.DefaultOptions()); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	synth.Fail(errors.New("audio-busy"))

	got := l.getEnded()
	if len(got) != 1 || got[0] != voice.EndFailed {
		t.Fatalf("expected [failed], got %v", got)
	}
	if !errors.Is(l.errs[0], voice.ErrPlaybackFailed) {
		t.Errorf("expected ErrPlaybackFailed, got %v", l.errs[0])
	}
	if s.Speaking() {
		t.Error("expected idle after device error")
	}
}

func TestSession_SpeakStartFailure(t *testing.T) {
	s, _, synth, _ := newSession(t)
	synth.FailSpeakWith(fake.ErrDevice)

	if err := s.Speak(context.Background(), "hello", voice.DefaultOptions()); !errors.Is(err, fake.ErrDevice) {
		t.Fatalf("expected device error, got %v", err)
	}
	if s.Speaking() {
		t.Error("expected idle after failed start")
	}
}

func TestSession_NilSynthesizer(t *testing.T) {
	s := New(nil, &testListener{})
	if err := s.Speak(context.Background(), "hi", voice.DefaultOptions()); !errors.Is(err, voice.ErrUnsupportedCapability) {
		t.Errorf("expected ErrUnsupportedCapability, got %v", err)
	}
	s.Cancel()
}
