// Package session binds one connected device to a turn controller and fans
// controller events out to the device UI, Kafka, the Q&A backend and metrics.
package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-interaction-engine/internal/models"
	"voice-interaction-engine/internal/observability/logging"
	"voice-interaction-engine/internal/observability/metrics"
	"voice-interaction-engine/internal/quizbank"
	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability"
	"voice-interaction-engine/internal/voice/capability/remote"
	"voice-interaction-engine/internal/voice/turn"
)

const workQueueSize = 64

// Publisher receives finished turns and session results.
type Publisher interface {
	PublishTurn(ctx context.Context, event models.TurnEvent) error
	PublishResult(ctx context.Context, event models.ResultEvent) error
}

// Submitter forwards a single-question transcript to the Q&A backend.
type Submitter interface {
	Ask(ctx context.Context, email, question string) error
}

// Notifier pushes UI events to the device.
type Notifier interface {
	Notify(event any) error
}

// Params describe the dialogue a device asked for.
type Params struct {
	Mode       turn.Mode
	Quiz       quizbank.Quiz
	Prompt     string // optional spoken prompt in single-question mode
	Email      string
	Options    voice.Options
	PromptRate float64 // zero speaks prompts at Options.Rate
	Continuous bool
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Publisher Publisher
	Submitter Submitter // nil disables submission
	Metrics   *metrics.Metrics
}

type Option func(*Session)

// WithAudioSink forwards device PCM frames to w.
func WithAudioSink(w io.Writer) Option {
	return func(s *Session) { s.audio = w }
}

// WithID fixes the session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session is one device's dialogue. It implements turn.Listener and
// remote.Handler.
type Session struct {
	id      string
	params  Params
	ctrl    *turn.Controller
	ui      Notifier
	deps    Deps
	audio   io.Writer
	log     zerolog.Logger
	started time.Time

	mu        sync.Mutex
	published map[int]bool
	closed    bool
	work      chan func()
	done      chan struct{}
	closeOnce sync.Once
}

var _ turn.Listener = (*Session)(nil)
var _ remote.Handler = (*Session)(nil)

// New creates an idle session. Unsupported device capabilities are returned.
func New(provider capability.Provider, ui Notifier, params Params, deps Deps, opts ...Option) (*Session, error) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	s := &Session{
		params:    params,
		ui:        ui,
		deps:      deps,
		started:   time.Now(),
		published: make(map[int]bool),
		work:      make(chan func(), workQueueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.log = logging.WithSession(s.id, params.Mode.String())

	var questions []voice.QuizQuestion
	switch params.Mode {
	case turn.ModeQuiz:
		questions = params.Quiz.VoiceQuestions()
	case turn.ModeSingleQuestion:
		if p := strings.TrimSpace(params.Prompt); p != "" {
			questions = []voice.QuizQuestion{{Prompt: p}}
		}
	}

	ctrl, err := turn.New(provider, turn.Config{
		SessionID:  s.id,
		Mode:       params.Mode,
		Questions:  questions,
		Options:    params.Options,
		Continuous: params.Continuous,
		PromptRate: params.PromptRate,
	}, s, turn.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	s.ctrl = ctrl

	deps.Metrics.RecordSessionStart(params.Mode.String())
	go s.worker()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Controller returns the underlying turn controller.
func (s *Session) Controller() *turn.Controller { return s.ctrl }

// Ready announces the session to the device.
func (s *Session) Ready() {
	snap := s.ctrl.Session()
	s.notify(Event{
		Kind:      EventReady,
		SessionID: s.id,
		Mode:      s.params.Mode.String(),
		State:     snap.State.String(),
		Total:     snap.Total,
	})
}

// Close disposes the controller and waits for queued publishing to finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.ctrl.Close()

		s.mu.Lock()
		s.closed = true
		close(s.work)
		s.mu.Unlock()
		<-s.done

		s.deps.Metrics.RecordSessionEnd(time.Since(s.started).Seconds())
		s.log.Info().Dur("duration", time.Since(s.started)).Msg("Session closed")
	})
}

// enqueue runs fn on the session worker. Controller events can still arrive
// after Close from a device goroutine; their work runs inline.
func (s *Session) enqueue(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.work <- fn
	s.mu.Unlock()
}

func (s *Session) worker() {
	defer close(s.done)
	for fn := range s.work {
		fn()
	}
}

func (s *Session) notify(ev Event) {
	if s.ui == nil {
		return
	}
	if err := s.ui.Notify(ev); err != nil {
		s.log.Debug().Err(err).Str("kind", ev.Kind).Msg("UI event not delivered")
	}
}

// remote.Handler

func (s *Session) OnControl(action string) {
	s.log.Debug().Str("action", action).Msg("Control")
	switch action {
	case remote.ActionStart:
		_ = s.ctrl.Start()
	case remote.ActionStop:
		_ = s.ctrl.Stop()
	case remote.ActionCancel:
		s.ctrl.Cancel()
	case remote.ActionEnd:
		s.ctrl.End()
	default:
		s.log.Warn().Str("action", action).Msg("Unknown control action")
	}
}

func (s *Session) OnAudio(frame []byte) {
	s.deps.Metrics.RecordAudioReceived(len(frame))
	if s.audio == nil {
		return
	}
	if _, err := s.audio.Write(frame); err != nil {
		s.log.Warn().Err(err).Msg("Forwarding audio failed")
	}
}

// turn.Listener

func (s *Session) OnTranscriptUpdate(u voice.Utterance) {
	if u.IsFinal {
		s.deps.Metrics.RecordFinalTranscript()
	} else {
		s.deps.Metrics.RecordPartialTranscript()
	}
	s.notify(Event{Kind: EventTranscript, SessionID: s.id, Text: u.Text, Final: u.IsFinal})
}

func (s *Session) OnTurnChange(t turn.Turn) {
	s.notify(Event{Kind: EventTurn, SessionID: s.id, Turn: viewOf(t)})
	if !s.settled(t) {
		return
	}

	s.deps.Metrics.RecordTurn(t.Kind.String(), t.State.String())
	if t.Verdict != "" {
		s.deps.Metrics.RecordAnswer(t.Verdict)
	}
	if s.deps.Publisher == nil {
		return
	}
	ev := models.TurnEvent{
		EventType: models.EventTypeTurn,
		SessionID: s.id,
		Mode:      s.params.Mode.String(),
		Timestamp: time.Now().UnixMilli(),
		Index:     t.Index,
		Speaker:   t.Speaker.String(),
		Kind:      t.Kind.String(),
		State:     t.State.String(),
		Content:   t.Content,
		Question:  t.Question,
		Verdict:   t.Verdict,
	}
	s.enqueue(func() {
		if err := s.deps.Publisher.PublishTurn(context.Background(), ev); err != nil {
			s.log.Warn().Err(err).Int("turn", ev.Index).Msg("Turn event not published")
		}
	})
}

// settled reports whether t has reached its final form for the first time.
// Quiz answers settle once their verdict is attached.
func (s *Session) settled(t turn.Turn) bool {
	switch t.State {
	case turn.TurnComplete:
		if s.params.Mode == turn.ModeQuiz && t.Kind == turn.KindAnswer && t.Verdict == "" {
			return false
		}
	case turn.TurnCancelled:
	default:
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.published[t.Index] {
		return false
	}
	s.published[t.Index] = true
	return true
}

func (s *Session) OnScoreChange(score int) {
	s.notify(Event{Kind: EventScore, SessionID: s.id, Score: &score, Total: len(s.params.Quiz.Questions)})
}

func (s *Session) OnResult(transcript string) {
	s.notify(Event{Kind: EventResult, SessionID: s.id, Text: transcript})

	mode := s.params.Mode
	s.publishResult(models.ResultEvent{Transcript: transcript})

	if mode != turn.ModeSingleQuestion || s.deps.Submitter == nil {
		return
	}
	email := s.params.Email
	s.enqueue(func() {
		err := s.deps.Submitter.Ask(context.Background(), email, transcript)
		if err != nil {
			s.notify(errorEvent(s.id, err))
			return
		}
		s.log.Info().Msg("Question forwarded to Q&A backend")
	})
}

func (s *Session) OnError(err error) {
	s.deps.Metrics.RecordError(string(voice.KindOf(err)))
	s.notify(errorEvent(s.id, err))
}

func (s *Session) OnDone(snap turn.Session) {
	score := snap.Score
	s.notify(Event{Kind: EventDone, SessionID: s.id, Score: &score, Total: snap.Total})
	if snap.Mode != turn.ModeQuiz {
		return
	}
	s.deps.Metrics.RecordQuizScore(snap.Score, snap.Total)
	s.publishResult(models.ResultEvent{Score: snap.Score, Total: snap.Total, Turns: len(snap.Turns)})
}

func (s *Session) OnStateChange(from, to turn.State) {
	s.deps.Metrics.RecordStateChange(to.String())
	s.notify(Event{Kind: EventState, SessionID: s.id, From: from.String(), State: to.String()})
}

func (s *Session) publishResult(ev models.ResultEvent) {
	if s.deps.Publisher == nil {
		return
	}
	ev.EventType = models.EventTypeResult
	ev.SessionID = s.id
	ev.Mode = s.params.Mode.String()
	ev.Timestamp = time.Now().UnixMilli()
	if ev.Turns == 0 {
		ev.Turns = len(s.ctrl.Session().Turns)
	}
	s.enqueue(func() {
		if err := s.deps.Publisher.PublishResult(context.Background(), ev); err != nil {
			s.log.Warn().Err(err).Msg("Result event not published")
		}
	})
}
