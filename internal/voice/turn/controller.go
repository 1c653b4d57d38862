// Package turn coordinates capture and playback into a turn-based dialogue.
//
// The Controller owns one Session and drives it through
//
//	Idle -> Prompting -> Capturing -> Evaluating -> Feedback -> ... -> Done
//
// Commands and device callbacks are serialized: each one runs as a step with
// the state lock held, and the listener events a step produces are delivered
// after the lock is released, in order.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability"
	"voice-interaction-engine/internal/voice/capture"
	"voice-interaction-engine/internal/voice/evaluate"
	"voice-interaction-engine/internal/voice/playback"
)

// Feedback phrases spoken in quiz mode.
const (
	FeedbackCorrect = "Correct answer!"
	feedbackWrong   = "Wrong answer. The correct answer is %s"
	feedbackFinal   = "Quiz over. Your final score is %d out of %d"
)

// WrongFeedback returns the feedback spoken for an incorrect answer.
func WrongFeedback(expected string) string {
	return fmt.Sprintf(feedbackWrong, strings.TrimSpace(expected))
}

// FinalFeedback returns the closing utterance of a quiz.
func FinalFeedback(score, total int) string {
	return fmt.Sprintf(feedbackFinal, score, total)
}

// Config describes the dialogue a Controller runs.
type Config struct {
	// SessionID identifies the session; a random UUID is used when empty.
	SessionID string
	Mode      Mode
	Questions []voice.QuizQuestion
	Options   voice.Options
	// Continuous keeps a Dictation capture open across final results until
	// Stop is called. SingleQuestion and Quiz always capture a single phrase.
	Continuous bool
	// PromptRate is the speed for question prompts. Zero uses Options.Rate;
	// feedback always uses Options.Rate.
	PromptRate float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithContext sets the context passed to device Start and Speak calls.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) { c.ctx = ctx }
}

// Controller is the turn-taking state machine.
type Controller struct {
	provider capability.Provider
	cfg      Config
	listener Listener
	log      zerolog.Logger
	ctx      context.Context

	steps  executor // state machine steps, run with mu held
	events executor // listener calls, run without mu

	mu           sync.Mutex
	state        State
	turns        []Turn
	score        int
	cursor       int
	scored       []bool
	epoch        uint64
	capture      *capture.Session
	playback     *playback.Session
	active       int // index of the turn bound to the current activation, -1 if none
	finalPending bool
	closed       bool
	outbox       []func()
}

// New validates cfg against the provider and returns an idle Controller.
// A missing capability is fatal and returned here, not through the listener.
func New(provider capability.Provider, cfg Config, listener Listener, opts ...Option) (*Controller, error) {
	if provider == nil {
		return nil, capability.Unsupported("provider")
	}
	cfg.Options = cfg.Options.WithDefaults()
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.PromptRate == 0 {
		cfg.PromptRate = cfg.Options.Rate
	}
	if cfg.PromptRate < voice.MinRate || cfg.PromptRate > voice.MaxRate {
		return nil, fmt.Errorf("%w: prompt rate %.2f outside [%.1f, %.1f]", voice.ErrInvalidOption, cfg.PromptRate, voice.MinRate, voice.MaxRate)
	}
	switch cfg.Mode {
	case ModeDictation, ModeSingleQuestion:
	case ModeQuiz:
		if len(cfg.Questions) == 0 {
			return nil, fmt.Errorf("%w: quiz has no questions", voice.ErrInvalidOption)
		}
	default:
		return nil, fmt.Errorf("%w: mode %s", voice.ErrInvalidOption, cfg.Mode)
	}
	for i, q := range cfg.Questions {
		if cfg.Mode == ModeQuiz && strings.TrimSpace(q.ExpectedAnswer) == "" {
			return nil, fmt.Errorf("%w: question %d has no expected answer", voice.ErrInvalidOption, i)
		}
	}

	needPlayback := cfg.Mode == ModeQuiz || (cfg.Mode == ModeSingleQuestion && len(cfg.Questions) > 0)
	if err := capability.Require(provider, true, needPlayback); err != nil {
		return nil, err
	}

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if listener == nil {
		listener = BaseListener{}
	}
	c := &Controller{
		provider: provider,
		cfg:      cfg,
		listener: listener,
		ctx:      context.Background(),
		active:   -1,
		scored:   make([]bool, len(cfg.Questions)),
	}
	c.log = log.With().Str("component", "turn").Str("sessionId", cfg.SessionID).Logger()
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.cfg.SessionID }

// Mode returns the dialogue mode.
func (c *Controller) Mode() Mode { return c.cfg.Mode }

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the dialogue.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start begins the dialogue from Idle or restarts it from Done. In any other
// state it returns voice.ErrAlreadyRunning and leaves the state unchanged.
func (c *Controller) Start() error { return c.call(c.start) }

// Stop ends the current capture; the transcript is delivered when the device
// reports the end. It is a no-op outside Capturing.
func (c *Controller) Stop() error { return c.call(c.stop) }

// Cancel aborts every in-flight activation and returns to Idle. In Done the
// state is kept and only the closing utterance is silenced. Both devices are
// released when Cancel returns.
func (c *Controller) Cancel() { c.do(c.cancel) }

// End releases all devices and moves to Done.
func (c *Controller) End() { c.do(c.end) }

// Close ends the session and rejects later commands with voice.ErrClosed.
func (c *Controller) Close() {
	c.do(func() {
		c.end()
		c.closed = true
	})
}

// call runs fn as a step and waits for it. Listener events produced by the
// step may still be in flight on another goroutine when call returns.
//
// Commands must not be issued from inside a step; listener callbacks may
// issue them freely.
func (c *Controller) call(fn func() error) error {
	errc := make(chan error, 1)
	c.post(func() { errc <- fn() })
	return <-errc
}

func (c *Controller) do(fn func()) {
	_ = c.call(func() error {
		fn()
		return nil
	})
}

// post queues fn as a step without waiting. Device callbacks use it, possibly
// from inside a running step.
func (c *Controller) post(fn func()) {
	c.steps.add(fn)
	if !c.steps.run(c.runStep) {
		// The draining goroutine delivers the events of fn, and may be
		// holding mu right now.
		return
	}
	c.events.run(func(emit func()) { emit() })
}

func (c *Controller) runStep(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
	c.events.add(c.outbox...)
	c.outbox = nil
}

// Helpers below run inside a step with c.mu held.

func (c *Controller) emit(fn func()) {
	c.outbox = append(c.outbox, fn)
}

func (c *Controller) setState(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State transition")
	c.emit(func() { c.listener.OnStateChange(from, to) })
}

func (c *Controller) report(err error) {
	ev := c.log.Error()
	if errors.Is(err, voice.ErrAlreadyRunning) || errors.Is(err, voice.ErrEmptyInput) || errors.Is(err, voice.ErrDeviceConflict) {
		ev = c.log.Warn()
	}
	ev.Err(err).Str("kind", string(voice.KindOf(err))).Str("state", c.state.String()).Msg("Session error")
	c.emit(func() { c.listener.OnError(err) })
}

func (c *Controller) addTurn(t Turn) int {
	t.Index = len(c.turns)
	c.turns = append(c.turns, t)
	c.emit(func() { c.listener.OnTurnChange(t) })
	return t.Index
}

func (c *Controller) updateTurn(i int, fn func(*Turn)) {
	if i < 0 || i >= len(c.turns) {
		return
	}
	fn(&c.turns[i])
	t := c.turns[i]
	c.emit(func() { c.listener.OnTurnChange(t) })
}

func (c *Controller) settleTurn(i int, st TurnState) {
	if i < 0 || i >= len(c.turns) || c.turns[i].State == st {
		return
	}
	c.updateTurn(i, func(t *Turn) { t.State = st })
}

func (c *Controller) snapshotLocked() Session {
	return Session{
		ID:     c.cfg.SessionID,
		Mode:   c.cfg.Mode,
		State:  c.state,
		Turns:  append([]Turn(nil), c.turns...),
		Score:  c.score,
		Cursor: c.cursor,
		Total:  len(c.cfg.Questions),
	}
}

// Steps.

func (c *Controller) start() error {
	if c.closed {
		c.report(voice.ErrClosed)
		return voice.ErrClosed
	}
	switch c.state {
	case StateIdle:
	case StateDone:
		c.releaseDevices()
		c.cancelActiveTurns()
		c.cursor = 0
		c.score = 0
		c.scored = make([]bool, len(c.cfg.Questions))
		c.emit(func() { c.listener.OnScoreChange(0) })
	default:
		err := fmt.Errorf("%w: state %s", voice.ErrAlreadyRunning, c.state)
		c.report(err)
		return err
	}

	switch c.cfg.Mode {
	case ModeDictation:
		c.enterCapturing()
	case ModeSingleQuestion:
		if len(c.cfg.Questions) == 0 {
			c.enterCapturing()
			return nil
		}
		c.enterPrompting(c.cfg.Questions[0].Prompt)
	case ModeQuiz:
		c.enterPrompting(c.cfg.Questions[c.cursor].Prompt)
	}
	return nil
}

func (c *Controller) stop() error {
	if c.closed {
		return voice.ErrClosed
	}
	if c.state != StateCapturing || c.capture == nil {
		return nil
	}
	if err := c.capture.Stop(); err != nil {
		c.report(err)
		return err
	}
	return nil
}

func (c *Controller) cancel() {
	if c.closed {
		return
	}
	c.releaseDevices()
	c.cancelActiveTurns()
	if c.state != StateDone {
		c.setState(StateIdle)
	}
}

func (c *Controller) end() {
	if c.closed {
		return
	}
	c.releaseDevices()
	c.cancelActiveTurns()
	if c.state != StateDone {
		c.setState(StateDone)
		s := c.snapshotLocked()
		c.emit(func() { c.listener.OnDone(s) })
	}
}

// releaseDevices invalidates every activation and frees both devices.
func (c *Controller) releaseDevices() {
	c.epoch++
	c.finalPending = false
	if c.capture != nil {
		c.capture.Abort()
		c.capture = nil
	}
	if c.playback != nil {
		c.playback.Cancel()
		c.playback = nil
	}
	c.active = -1
}

func (c *Controller) cancelActiveTurns() {
	for i := range c.turns {
		if c.turns[i].State == TurnActive || c.turns[i].State == TurnPending {
			c.settleTurn(i, TurnCancelled)
		}
	}
}

func (c *Controller) questionIndex() int {
	if c.cfg.Mode == ModeDictation || len(c.cfg.Questions) == 0 {
		return -1
	}
	return c.cursor
}

func (c *Controller) enterPrompting(prompt string) {
	c.setState(StatePrompting)
	c.active = c.addTurn(Turn{
		Speaker:  SpeakerSystem,
		Kind:     KindPrompt,
		Content:  prompt,
		State:    TurnActive,
		Question: c.questionIndex(),
	})
	if err := c.speak(prompt, c.cfg.PromptRate); err != nil {
		c.report(err)
		if errors.Is(err, voice.ErrUnsupportedCapability) {
			c.settleTurn(c.active, TurnCancelled)
			c.setState(StateIdle)
			return
		}
		// Nothing is playing; go straight to listening.
		c.settleTurn(c.active, TurnComplete)
		c.enterCapturing()
	}
}

func (c *Controller) enterCapturing() {
	if c.playback != nil && c.playback.Speaking() {
		c.report(fmt.Errorf("%w: capture requested while speaking", voice.ErrDeviceConflict))
		c.epoch++
		c.playback.Cancel()
	}
	c.playback = nil

	c.setState(StateCapturing)
	c.active = c.addTurn(Turn{
		Speaker:  SpeakerUser,
		Kind:     KindAnswer,
		State:    TurnActive,
		Question: c.questionIndex(),
	})

	rec, err := c.provider.CreateCapture(c.cfg.Options.Locale)
	if err != nil {
		c.abandonCapture(err)
		return
	}
	c.epoch++
	continuous := c.cfg.Mode == ModeDictation && c.cfg.Continuous
	c.capture = capture.New(rec, &captureEvents{c: c, epoch: c.epoch},
		capture.WithContinuous(continuous),
		capture.WithLogger(c.log.With().Str("component", "capture").Logger()))
	if err := c.capture.Start(c.ctx); err != nil {
		c.capture = nil
		c.abandonCapture(err)
	}
}

func (c *Controller) abandonCapture(err error) {
	c.report(err)
	c.settleTurn(c.active, TurnCancelled)
	c.active = -1
	c.setState(StateIdle)
}

// speak starts a fresh playback activation bound to a new epoch.
func (c *Controller) speak(text string, rate float64) error {
	if strings.TrimSpace(text) == "" {
		return voice.ErrEmptyInput
	}
	if c.capture != nil && c.capture.Listening() {
		c.report(fmt.Errorf("%w: playback requested while listening", voice.ErrDeviceConflict))
		c.epoch++
		c.capture.Abort()
	}
	c.capture = nil

	synth, err := c.provider.CreatePlayback(c.cfg.Options.Locale)
	if err != nil {
		return err
	}
	c.epoch++
	c.playback = playback.New(synth, &playbackEvents{c: c, epoch: c.epoch},
		playback.WithLogger(c.log.With().Str("component", "playback").Logger()))
	opts := c.cfg.Options
	opts.Rate = rate
	if err := c.playback.Speak(c.ctx, text, opts); err != nil {
		c.playback = nil
		return err
	}
	return nil
}

func (c *Controller) onUtterance(epoch uint64, u voice.Utterance) {
	if epoch != c.epoch || c.state != StateCapturing || c.capture == nil {
		return
	}
	content := c.capture.Transcript()
	if !u.IsFinal {
		content = strings.TrimSpace(content + " " + strings.TrimSpace(u.Text))
	}
	c.emit(func() { c.listener.OnTranscriptUpdate(u) })
	c.updateTurn(c.active, func(t *Turn) { t.Content = content })
}

func (c *Controller) onCaptureEnded(epoch uint64, transcript string, err error) {
	if epoch != c.epoch || c.state != StateCapturing {
		return
	}
	c.capture = nil
	answer := c.active
	c.active = -1

	if err != nil {
		c.report(err)
		if c.cfg.Mode != ModeQuiz || errors.Is(err, voice.ErrDeviceLost) {
			c.settleTurn(answer, TurnCancelled)
			c.setState(StateIdle)
			return
		}
		c.updateTurn(answer, func(t *Turn) {
			t.Content = transcript
			t.State = TurnComplete
		})
		c.evaluateAnswer(answer, "", true)
		return
	}

	c.updateTurn(answer, func(t *Turn) {
		t.Content = transcript
		t.State = TurnComplete
	})
	if c.cfg.Mode == ModeQuiz {
		c.evaluateAnswer(answer, transcript, false)
		return
	}
	c.setState(StateIdle)
	c.emit(func() { c.listener.OnResult(transcript) })
}

func (c *Controller) evaluateAnswer(answer int, transcript string, failed bool) {
	c.setState(StateEvaluating)
	q := c.cfg.Questions[c.cursor]
	verdict := evaluate.Incorrect
	if !failed {
		verdict = evaluate.Evaluate(transcript, q)
	}
	c.updateTurn(answer, func(t *Turn) { t.Verdict = verdict.String() })
	c.log.Info().Int("question", c.cursor).Str("verdict", verdict.String()).Msg("Answer evaluated")

	msg := WrongFeedback(q.ExpectedAnswer)
	if verdict == evaluate.Correct {
		msg = FeedbackCorrect
		if !c.scored[c.cursor] {
			c.scored[c.cursor] = true
			c.score++
			score := c.score
			c.emit(func() { c.listener.OnScoreChange(score) })
		}
	}
	c.enterFeedback(msg)
}

func (c *Controller) enterFeedback(msg string) {
	c.setState(StateFeedback)
	c.active = c.addTurn(Turn{
		Speaker:  SpeakerSystem,
		Kind:     KindFeedback,
		Content:  msg,
		State:    TurnActive,
		Question: c.cursor,
	})
	if err := c.speak(msg, c.cfg.Options.Rate); err != nil {
		c.report(err)
		c.settleTurn(c.active, TurnComplete)
		c.advance()
	}
}

func (c *Controller) advance() {
	c.active = -1
	if c.cursor+1 < len(c.cfg.Questions) {
		c.cursor++
		c.enterPrompting(c.cfg.Questions[c.cursor].Prompt)
		return
	}
	c.finish()
}

func (c *Controller) finish() {
	c.setState(StateDone)
	msg := FinalFeedback(c.score, len(c.cfg.Questions))
	c.active = c.addTurn(Turn{
		Speaker:  SpeakerSystem,
		Kind:     KindFeedback,
		Content:  msg,
		State:    TurnActive,
		Question: -1,
	})
	c.finalPending = true
	if err := c.speak(msg, c.cfg.Options.Rate); err != nil {
		c.report(err)
		c.finalPending = false
		c.settleTurn(c.active, TurnComplete)
		c.active = -1
	}
	s := c.snapshotLocked()
	c.log.Info().Int("score", s.Score).Int("total", s.Total).Msg("Quiz finished")
	c.emit(func() { c.listener.OnDone(s) })
}

func (c *Controller) onPlaybackEnded(epoch uint64, reason voice.EndReason, err error) {
	if epoch != c.epoch || reason == voice.EndCancelled {
		return
	}
	c.playback = nil
	done := c.active
	c.active = -1
	if err != nil {
		c.report(err)
		if errors.Is(err, voice.ErrDeviceLost) {
			c.finalPending = false
			c.settleTurn(done, TurnCancelled)
			if c.state != StateDone {
				c.setState(StateIdle)
			}
			return
		}
	}
	c.settleTurn(done, TurnComplete)

	switch c.state {
	case StatePrompting:
		c.enterCapturing()
	case StateFeedback:
		c.advance()
	case StateDone:
		c.finalPending = false
	}
}

// captureEvents and playbackEvents bind session callbacks to the epoch of the
// activation that produced them.

type captureEvents struct {
	c     *Controller
	epoch uint64
}

func (e *captureEvents) OnUtterance(u voice.Utterance) {
	e.c.post(func() { e.c.onUtterance(e.epoch, u) })
}

func (e *captureEvents) OnEnded(transcript string, err error) {
	e.c.post(func() { e.c.onCaptureEnded(e.epoch, transcript, err) })
}

type playbackEvents struct {
	c     *Controller
	epoch uint64
}

func (e *playbackEvents) OnStarted() {}

func (e *playbackEvents) OnEnded(reason voice.EndReason, err error) {
	e.c.post(func() { e.c.onPlaybackEnded(e.epoch, reason, err) })
}
