// Package playback manages one speech-output ("speak") activation at a time.
package playback

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability"
)

// State represents the lifecycle state of a playback session.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Listener receives playback progress.
type Listener interface {
	OnStarted()

	// OnEnded is called exactly once per activation. err is non-nil only
	// for voice.EndFailed and wraps voice.ErrPlaybackFailed.
	OnEnded(reason voice.EndReason, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session wraps one synthesizer handle.
// Overlapping Speak calls pre-empt: the running activation is cancelled
// (and reported as cancelled) before the new one starts.
type Session struct {
	mu       sync.Mutex
	synth    capability.Synthesizer
	listener Listener
	log      zerolog.Logger

	state State
	gen   uint64
	text  string
}

// New creates an idle session around synth. synth may be nil, in which case
// Speak fails with voice.ErrUnsupportedCapability.
func New(synth capability.Synthesizer, listener Listener, opts ...Option) *Session {
	s := &Session{
		synth:    synth,
		listener: listener,
		log:      log.With().Str("component", "playback").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speaking reports whether the speaker is held.
func (s *Session) Speaking() bool {
	return s.State() == StateSpeaking
}

// Text returns the text of the current or last activation.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Speak starts speaking text. Blank text returns voice.ErrEmptyInput and
// leaves the session untouched.
func (s *Session) Speak(ctx context.Context, text string, opts voice.Options) error {
	if strings.TrimSpace(text) == "" {
		s.log.Debug().Msg("Speak ignored, empty text")
		return voice.ErrEmptyInput
	}
	if s.synth == nil {
		return capability.Unsupported("playback")
	}
	opts = opts.WithDefaults()

	s.mu.Lock()
	preempted := s.state == StateSpeaking
	s.gen++
	gen := s.gen
	s.state = StateSpeaking
	s.text = text
	s.mu.Unlock()

	if preempted {
		s.log.Debug().Msg("Speak pre-empts running playback")
		s.synth.Cancel()
		s.listener.OnEnded(voice.EndCancelled, nil)
	}

	req := capability.SpeakRequest{Text: text, Locale: opts.Locale, Rate: opts.Rate}
	if err := s.synth.Speak(ctx, req, &activation{s: s, gen: gen}); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("Playback device failed to start")
		return fmt.Errorf("start playback: %w", err)
	}
	return nil
}

// Cancel stops in-flight speech and reports voice.EndCancelled. Safe to call
// at any time; a no-op when idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateIdle
	s.mu.Unlock()

	s.synth.Cancel()
	s.listener.OnEnded(voice.EndCancelled, nil)
}

func (s *Session) current(gen uint64) bool {
	return gen == s.gen && s.state == StateSpeaking
}

func (s *Session) onStart(gen uint64) {
	s.mu.Lock()
	ok := s.current(gen)
	s.mu.Unlock()
	if ok {
		s.listener.OnStarted()
	}
}

func (s *Session) onEnd(gen uint64) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.listener.OnEnded(voice.EndCompleted, nil)
}

func (s *Session) onError(gen uint64, err error) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Error().Err(err).Msg("Playback device error")
	s.synth.Cancel()
	s.listener.OnEnded(voice.EndFailed, fmt.Errorf("%w: %w", voice.ErrPlaybackFailed, err))
}

type activation struct {
	s   *Session
	gen uint64
}

func (a *activation) OnStart()          { a.s.onStart(a.gen) }
func (a *activation) OnEnd()            { a.s.onEnd(a.gen) }
func (a *activation) OnError(err error) { a.s.onError(a.gen, err) }
