package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability"
)

var (
	// ErrHandshake is returned when the device does not open with a hello.
	ErrHandshake = errors.New("remote: handshake failed")
	// ErrConnectionClosed is delivered to every open activation when the
	// device disconnects.
	ErrConnectionClosed = fmt.Errorf("remote: connection closed: %w", voice.ErrDeviceLost)
)

const defaultWriteTimeout = 5 * time.Second

// Handler receives device traffic that is not bound to an activation.
type Handler interface {
	// OnControl is called for a control message from the device UI.
	OnControl(action string)
	// OnAudio is called for every binary PCM frame.
	OnAudio(frame []byte)
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the connection logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// WithWriteTimeout bounds every websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// Conn is a capability.Provider backed by one device connection.
// Device callbacks are delivered from the Run goroutine.
type Conn struct {
	ws           *websocket.Conn
	log          zerolog.Logger
	writeTimeout time.Duration

	wmu sync.Mutex

	mu      sync.Mutex
	caps    capability.Capabilities
	listens map[string]capability.RecognizerCallback
	speaks  map[string]capability.SynthesizerCallback
	audioOn bool
	closed  bool
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{
		ws:           ws,
		log:          log.With().Str("component", "remote").Logger(),
		writeTimeout: defaultWriteTimeout,
		listens:      make(map[string]capability.RecognizerCallback),
		speaks:       make(map[string]capability.SynthesizerCallback),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handshake reads the device hello and records its capabilities.
func (c *Conn) Handshake(timeout time.Duration) (capability.Capabilities, error) {
	if timeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		defer c.ws.SetReadDeadline(time.Time{})
	}
	var m Message
	if err := c.ws.ReadJSON(&m); err != nil {
		return capability.Capabilities{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if m.Type != TypeHello || m.Capabilities == nil {
		return capability.Capabilities{}, fmt.Errorf("%w: expected %s, got %q", ErrHandshake, TypeHello, m.Type)
	}

	c.mu.Lock()
	c.caps = *m.Capabilities
	caps := c.caps
	c.mu.Unlock()

	c.log.Info().
		Bool("capture", caps.Capture).
		Bool("playback", caps.Playback).
		Bool("audio", caps.Audio).
		Msg("Device connected")
	return caps, nil
}

// Run reads device messages until the connection closes or ctx is done.
// On exit every open activation receives ErrConnectionClosed.
func (c *Conn) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()
	defer c.shutdown()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read device message: %w", err)
		}
		if mt == websocket.BinaryMessage {
			if h != nil {
				h.OnAudio(data)
			}
			continue
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed device message")
			continue
		}
		c.dispatch(m, h)
	}
}

func (c *Conn) dispatch(m Message, h Handler) {
	switch m.Type {
	case TypeListenResult:
		if cb := c.listen(m.ID, false); cb != nil {
			cb.OnResult(m.Text, m.Final)
		}
	case TypeListenError:
		if cb := c.listen(m.ID, false); cb != nil {
			cb.OnError(fmt.Errorf("device: %s", m.Error))
		}
	case TypeListenEnd:
		if cb := c.listen(m.ID, true); cb != nil {
			cb.OnEnd()
		}
	case TypeSpeakStart:
		if cb := c.speak(m.ID, false); cb != nil {
			cb.OnStart()
		}
	case TypeSpeakEnd:
		if cb := c.speak(m.ID, true); cb != nil {
			cb.OnEnd()
		}
	case TypeSpeakError:
		if cb := c.speak(m.ID, true); cb != nil {
			cb.OnError(fmt.Errorf("device: %s", m.Error))
		}
	case TypeControl:
		if h != nil {
			h.OnControl(m.Action)
		}
	default:
		c.log.Debug().Str("type", m.Type).Msg("Ignoring device message")
	}
}

// listen looks up an activation, optionally retiring it. Unknown ids belong
// to aborted or finished activations and are dropped.
func (c *Conn) listen(id string, retire bool) capability.RecognizerCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.listens[id]
	if !ok {
		c.log.Debug().Str("id", id).Msg("Dropping event for retired capture")
		return nil
	}
	if retire {
		delete(c.listens, id)
	}
	return cb
}

func (c *Conn) speak(id string, retire bool) capability.SynthesizerCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.speaks[id]
	if !ok {
		c.log.Debug().Str("id", id).Msg("Dropping event for retired playback")
		return nil
	}
	if retire {
		delete(c.speaks, id)
	}
	return cb
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listens := c.listens
	speaks := c.speaks
	c.listens = make(map[string]capability.RecognizerCallback)
	c.speaks = make(map[string]capability.SynthesizerCallback)
	c.mu.Unlock()

	c.ws.Close()
	for _, cb := range listens {
		cb.OnError(ErrConnectionClosed)
	}
	for _, cb := range speaks {
		cb.OnError(ErrConnectionClosed)
	}
	c.log.Info().Int("captures", len(listens)).Int("playbacks", len(speaks)).Msg("Device disconnected")
}

// Close tears the connection down.
func (c *Conn) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

func (c *Conn) send(m Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteJSON(m); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

// Notify pushes a UI event to the device.
func (c *Conn) Notify(event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ui event: %w", err)
	}
	return c.send(Message{Type: TypeUI, Event: raw})
}

// OpenAudio asks the device to stream microphone PCM as binary frames.
func (c *Conn) OpenAudio() error {
	c.mu.Lock()
	if c.audioOn {
		c.mu.Unlock()
		return nil
	}
	c.audioOn = true
	c.mu.Unlock()
	return c.send(Message{Type: TypeAudioStart})
}

// CloseAudio stops the PCM stream.
func (c *Conn) CloseAudio() error {
	c.mu.Lock()
	if !c.audioOn {
		c.mu.Unlock()
		return nil
	}
	c.audioOn = false
	c.mu.Unlock()
	return c.send(Message{Type: TypeAudioStop})
}

// Probe implements capability.Provider.
func (c *Conn) Probe() capability.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// CreateCapture implements capability.Provider.
func (c *Conn) CreateCapture(locale string) (capability.Recognizer, error) {
	if !c.Probe().Capture {
		return nil, capability.Unsupported("capture")
	}
	return &recognizer{c: c, locale: locale}, nil
}

// CreatePlayback implements capability.Provider.
func (c *Conn) CreatePlayback(locale string) (capability.Synthesizer, error) {
	if !c.Probe().Playback {
		return nil, capability.Unsupported("playback")
	}
	return &synthesizer{c: c, locale: locale}, nil
}

func (c *Conn) register(cb any) (string, error) {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrConnectionClosed
	}
	switch cb := cb.(type) {
	case capability.RecognizerCallback:
		c.listens[id] = cb
	case capability.SynthesizerCallback:
		c.speaks[id] = cb
	}
	return id, nil
}

func (c *Conn) retire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listens, id)
	delete(c.speaks, id)
}

type recognizer struct {
	c      *Conn
	locale string

	mu sync.Mutex
	id string
}

func (r *recognizer) Start(_ context.Context, cb capability.RecognizerCallback) error {
	id, err := r.c.register(cb)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()

	if err := r.c.send(Message{Type: TypeListenStart, ID: id, Locale: r.locale}); err != nil {
		r.c.retire(id)
		return err
	}
	return nil
}

func (r *recognizer) current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *recognizer) Stop() error {
	id := r.current()
	if id == "" {
		return nil
	}
	return r.c.send(Message{Type: TypeListenStop, ID: id})
}

func (r *recognizer) Abort() {
	id := r.current()
	if id == "" {
		return
	}
	r.c.retire(id)
	if err := r.c.send(Message{Type: TypeListenAbort, ID: id}); err != nil {
		r.c.log.Debug().Err(err).Str("id", id).Msg("Abort not delivered")
	}
}

type synthesizer struct {
	c      *Conn
	locale string

	mu sync.Mutex
	id string
}

func (s *synthesizer) Speak(_ context.Context, req capability.SpeakRequest, cb capability.SynthesizerCallback) error {
	id, err := s.c.register(cb)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()

	locale := req.Locale
	if locale == "" {
		locale = s.locale
	}
	if err := s.c.send(Message{Type: TypeSpeak, ID: id, Text: req.Text, Locale: locale, Rate: req.Rate}); err != nil {
		s.c.retire(id)
		return err
	}
	return nil
}

func (s *synthesizer) Cancel() {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	if id == "" {
		return
	}
	s.c.retire(id)
	if err := s.c.send(Message{Type: TypeSpeakCancel, ID: id}); err != nil {
		s.c.log.Debug().Err(err).Str("id", id).Msg("Cancel not delivered")
	}
}
