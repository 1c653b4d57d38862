// Package capture manages one speech-capture ("listen") activation at a time.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability"
)

// State represents the lifecycle state of a capture session.
type State int

const (
	// StateIdle - no microphone held.
	StateIdle State = iota
	// StateListening - microphone open, results accepted.
	StateListening
	// StateStopping - stop requested, waiting for the device to end.
	// Late final results are still accepted.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Listener receives the output of a session.
type Listener interface {
	// OnUtterance is called for every accepted interim or final result, in
	// arrival order.
	OnUtterance(u voice.Utterance)

	// OnEnded is called once per activation when the device stops on its own,
	// after Stop, or after a recognition error (err wraps voice.ErrRecognition).
	// It is not called after Abort.
	OnEnded(transcript string, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithContinuous keeps the activation open after a final result; the
// transcript is every final result joined by spaces. Without it the first
// final result closes accumulation and the session asks the device to stop.
func WithContinuous(continuous bool) Option {
	return func(s *Session) { s.continuous = continuous }
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock overrides time.Now for utterance timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session wraps one recognizer handle.
// Thread-safe; listener callbacks run without the session lock held.
//
// State transitions:
//
//	IDLE --Start()--> LISTENING --Stop()--> STOPPING --device end--> IDLE
//	                      │                                  ▲
//	                      └──── device end / error / Abort() ┘
//
// Every Start opens a new generation; device callbacks carrying an older
// generation, or arriving after the activation ended, are dropped.
type Session struct {
	mu         sync.Mutex
	rec        capability.Recognizer
	listener   Listener
	continuous bool
	log        zerolog.Logger
	now        func() time.Time

	state     State
	gen       uint64
	finals    []string
	closed    bool // a final was accepted in single-shot mode
	lastStamp time.Time
	err       error
}

// New creates an idle session around rec. rec may be nil, in which case
// Start fails with voice.ErrUnsupportedCapability.
func New(rec capability.Recognizer, listener Listener, opts ...Option) *Session {
	s := &Session{
		rec:      rec,
		listener: listener,
		log:      log.With().Str("component", "capture").Logger(),
		now:      time.Now,
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

// Listening reports whether the microphone is held (listening or stopping).
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}

// Transcript returns the final results of the current or last activation.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

// Err returns the recognition error that ended the last activation, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) transcriptLocked() string {
	return strings.Join(s.finals, " ")
}

// Start transitions IDLE→LISTENING.
// A second Start while listening is ignored with a warning and returns
// voice.ErrAlreadyActive; the running activation is untouched.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.rec == nil {
		s.mu.Unlock()
		return capability.Unsupported("capture")
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.log.Warn().Str("state", state.String()).Msg("Capture start ignored, already listening")
		return voice.ErrAlreadyActive
	}
	s.gen++
	gen := s.gen
	s.state = StateListening
	s.finals = nil
	s.closed = false
	s.err = nil
	s.mu.Unlock()

	if err := s.rec.Start(ctx, &activation{s: s, gen: gen}); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateIdle
		}
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("Capture device failed to start")
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// Stop asks the device to finish. The session stays in STOPPING until the
// device reports its end, so a trailing final result is not lost.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	s.mu.Unlock()

	if err := s.rec.Stop(); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Abort releases the device immediately and invalidates the activation.
// It never panics and never calls the listener. Idempotent.
func (s *Session) Abort() {
	s.mu.Lock()
	s.gen++
	s.state = StateIdle
	rec := s.rec
	s.mu.Unlock()

	if rec == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Capture device panicked during abort")
		}
	}()
	rec.Abort()
}

func (s *Session) onResult(gen uint64, text string, isFinal bool) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateIdle || s.closed {
		s.mu.Unlock()
		s.log.Debug().Uint64("gen", gen).Bool("final", isFinal).Msg("Late capture result ignored")
		return
	}
	stamp := s.now()
	if stamp.Before(s.lastStamp) {
		stamp = s.lastStamp
	}
	s.lastStamp = stamp

	stopDevice := false
	if isFinal {
		s.finals = append(s.finals, strings.TrimSpace(text))
		if !s.continuous {
			s.closed = true
			if s.state == StateListening {
				s.state = StateStopping
				stopDevice = true
			}
		}
	}
	rec := s.rec
	s.mu.Unlock()

	s.listener.OnUtterance(voice.Utterance{Text: text, IsFinal: isFinal, Timestamp: stamp})

	if stopDevice {
		if err := rec.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("Capture device stop after final failed")
		}
	}
}

func (s *Session) onError(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	transcript := s.transcriptLocked()
	s.err = fmt.Errorf("%w: %w", voice.ErrRecognition, err)
	ended := s.err
	rec := s.rec
	s.mu.Unlock()

	s.log.Error().Err(err).Uint64("gen", gen).Msg("Recognition error, capture ended")
	rec.Abort()
	s.listener.OnEnded(transcript, ended)
}

func (s *Session) onEnd(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	transcript := s.transcriptLocked()
	s.mu.Unlock()

	s.listener.OnEnded(transcript, nil)
}

// activation binds device callbacks to the generation that started them.
type activation struct {
	s   *Session
	gen uint64
}

func (a *activation) OnResult(text string, isFinal bool) { a.s.onResult(a.gen, text, isFinal) }
func (a *activation) OnError(err error)                  { a.s.onError(a.gen, err) }
func (a *activation) OnEnd()                             { a.s.onEnd(a.gen) }
