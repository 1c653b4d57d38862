package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability/fake"
)

// testListener records session output.
type testListener struct {
	mu         sync.Mutex
	utterances []voice.Utterance
	ended      []endResult
}

type endResult struct {
	transcript string
	err        error
}

func (l *testListener) OnUtterance(u voice.Utterance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utterances = append(l.utterances, u)
}

func (l *testListener) OnEnded(transcript string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, endResult{transcript, err})
}

func (l *testListener) getEnded() []endResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]endResult{}, l.ended...)
}

func (l *testListener) getUtterances() []voice.Utterance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]voice.Utterance{}, l.utterances...)
}

func newSession(t *testing.T, opts ...Option) (*Session, *fake.Provider, *fake.Recognizer, *testListener) {
	t.Helper()
	p := fake.New()
	rec, err := p.CreateCapture("en-US")
	if err != nil {
		t.Fatalf("CreateCapture: %v", err)
	}
	l := &testListener{}
	return New(rec, l, opts...), p, rec.(*fake.Recognizer), l
}

func TestSession_InitialState(t *testing.T) {
	s, _, _, _ := newSession(t)

	if s.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", s.State())
	}
	if s.Listening() {
		t.Error("expected Listening to be false")
	}
	if s.Transcript() != "" {
		t.Errorf("expected empty transcript, got %q", s.Transcript())
	}
}

func TestSession_SingleShot_FinalClosesActivation(t *testing.T) {
	s, p, rec, l := newSession(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.OpenCaptures() != 1 {
		t.Fatalf("expected 1 open capture, got %d", p.OpenCaptures())
	}

	rec.Interim("the answer")
	rec.Interim("the answer is")
	rec.Final("the answer is four")
	// Late result after the single final must be ignored.
	rec.Final("ignored")

	if s.State() != StateIdle {
		t.Errorf("expected StateIdle after final, got %v", s.State())
	}
	if got := s.Transcript(); got != "the answer is four" {
		t.Errorf("expected transcript 'the answer is four', got %q", got)
	}

	utts := l.getUtterances()
	if len(utts) != 3 {
		t.Fatalf("expected 3 utterances, got %d", len(utts))
	}
	finals := 0
	for i, u := range utts {
		if u.IsFinal {
			finals++
		}
		if i > 0 && u.Timestamp.Before(utts[i-1].Timestamp) {
			t.Errorf("utterance %d timestamp went backwards", i)
		}
	}
	if finals != 1 {
		t.Errorf("expected exactly 1 final utterance, got %d", finals)
	}

	ended := l.getEnded()
	if len(ended) != 1 || ended[0].transcript != "the answer is four" || ended[0].err != nil {
		t.Errorf("unexpected ended events: %+v", ended)
	}
	if p.OpenCaptures() != 0 {
		t.Errorf("expected microphone released, got %d open", p.OpenCaptures())
	}
}

func TestSession_Continuous_ConcatenatesFinals(t *testing.T) {
	s, _, rec, l := newSession(t, WithContinuous(true))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.Final("once upon a time")
	rec.Interim("there")
	rec.Final(" there was a fox ")

	if !s.Listening() {
		t.Fatal("continuous session should keep listening after a final")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ended := l.getEnded()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended event, got %d", len(ended))
	}
	if ended[0].transcript != "once upon a time there was a fox" {
		t.Errorf("unexpected transcript %q", ended[0].transcript)
	}
}

func TestSession_StartTwice_AlreadyActive(t *testing.T) {
	s, p, rec, _ := newSession(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := s.Start(context.Background())
	if !errors.Is(err, voice.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	starts, _, _ := rec.Counts()
	if starts != 1 {
		t.Errorf("expected device started once, got %d", starts)
	}
	if p.OpenCaptures() != 1 {
		t.Errorf("expected exactly one active capture, got %d", p.OpenCaptures())
	}
	if s.State() != StateListening {
		t.Errorf("expected state unchanged (LISTENING), got %v", s.State())
	}
}

func TestSession_PlatformEnd_FlipsToIdleWithoutStop(t *testing.T) {
	s, _, rec, l := newSession(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.End()

	if s.State() != StateIdle {
		t.Errorf("expected StateIdle after platform end, got %v", s.State())
	}
	if len(l.getEnded()) != 1 {
		t.Error("expected one ended event")
	}

	// Restart must be accepted after a platform-driven end.
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("restart after end: %v", err)
	}
}

func TestSession_RecognitionError(t *testing.T) {
	s, p, rec, l := newSession(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.Interim("hel")
	rec.Fail(errors.New("network"))

	ended := l.getEnded()
	if len(ended) != 1 {
		t.Fatalf("expected exactly 1 ended event, got %d", len(ended))
	}
	if !errors.Is(ended[0].err, voice.ErrRecognition) {
		t.Errorf("expected ErrRecognition, got %v", ended[0].err)
	}
	if !errors.Is(s.Err(), voice.ErrRecognition) {
		t.Errorf("expected Err() to report recognition error, got %v", s.Err())
	}
	if p.OpenCaptures() != 0 {
		t.Errorf("expected microphone released after error, got %d", p.OpenCaptures())
	}
}

func TestSession_Abort_ReleasesAndSilencesLateCallbacks(t *testing.T) {
	s, p, rec, l := newSession(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Abort()

	if p.OpenCaptures() != 0 {
		t.Errorf("expected microphone released, got %d", p.OpenCaptures())
	}

	rec.Final("late")
	rec.End()

	if len(l.getUtterances()) != 0 {
		t.Error("expected late utterance after abort to be ignored")
	}
	if len(l.getEnded()) != 0 {
		t.Error("expected no ended event after abort")
	}

	// Idempotent.
	s.Abort()
	s.Abort()
}

func TestSession_Abort_DevicePanicIsContained(t *testing.T) {
	s, p, rec, _ := newSession(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.PanicOnAbort("device gone")

	s.Abort()

	if s.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", s.State())
	}
	if p.OpenCaptures() != 0 {
		t.Errorf("expected microphone released, got %d", p.OpenCaptures())
	}
}

func TestSession_OldGenerationIgnored(t *testing.T) {
	p := fake.New()
	p.EndOnStop = false
	recI, _ := p.CreateCapture("en-US")
	rec := recI.(*fake.Recognizer)
	l := &testListener{}
	s := New(rec, l)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Abort()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	// The fake reuses the latest callback, so simulate a stale activation by
	// invoking the first generation directly.
	stale := &activation{s: s, gen: 1}
	stale.OnResult("stale", true)
	stale.OnEnd()

	if len(l.getUtterances()) != 0 || len(l.getEnded()) != 0 {
		t.Error("expected callbacks from a previous generation to be dropped")
	}
	if !s.Listening() {
		t.Error("current activation must be unaffected")
	}
}

func TestSession_StartFailure(t *testing.T) {
	s, p, rec, _ := newSession(t)
	rec.FailStartWith(fake.ErrDevice)

	err := s.Start(context.Background())
	if !errors.Is(err, fake.ErrDevice) {
		t.Fatalf("expected device error, got %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected StateIdle after failed start, got %v", s.State())
	}
	if p.OpenCaptures() != 0 {
		t.Errorf("expected no open capture, got %d", p.OpenCaptures())
	}
}

func TestSession_NilRecognizer(t *testing.T) {
	s := New(nil, &testListener{})
	if err := s.Start(context.Background()); !errors.Is(err, voice.ErrUnsupportedCapability) {
		t.Errorf("expected ErrUnsupportedCapability, got %v", err)
	}
	s.Abort()
}

func TestSession_TimestampsNonDecreasing(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(-time.Second), base.Add(time.Second)}
	i := 0
	clock := func() time.Time {
		ts := stamps[i%len(stamps)]
		i++
		return ts
	}

	s, _, rec, l := newSession(t, WithClock(clock), WithContinuous(true))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.Interim("a")
	rec.Interim("ab")
	rec.Final("abc")

	utts := l.getUtterances()
	if !utts[1].Timestamp.Equal(base) {
		t.Errorf("expected clamped timestamp %v, got %v", base, utts[1].Timestamp)
	}
	if !utts[2].Timestamp.After(utts[1].Timestamp) {
		t.Error("expected later timestamp for the final")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "IDLE"},
		{StateListening, "LISTENING"},
		{StateStopping, "STOPPING"},
		{State(7), "UNKNOWN(7)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.s, got, tt.want)
		}
	}
}
