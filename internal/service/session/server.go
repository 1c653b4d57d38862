package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-interaction-engine/internal/observability/logging"
	"voice-interaction-engine/internal/observability/metrics"
	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/capability"
	"voice-interaction-engine/internal/voice/capability/remote"
)

// AudioSource switches a device's PCM stream on and off.
type AudioSource interface {
	OpenAudio() error
	CloseAudio() error
}

// AudioProvider is a capture provider fed with device audio.
type AudioProvider interface {
	capability.Provider
	io.Writer
}

// ServerRecognition builds a capture provider for a device that streams
// audio but cannot recognize speech itself.
type ServerRecognition func(audio AudioSource) AudioProvider

// Server runs sessions over device websockets.
type Server struct {
	deps             Deps
	handshakeTimeout time.Duration
	recognition      ServerRecognition

	wg sync.WaitGroup
}

type ServerOption func(*Server)

// WithHandshakeTimeout bounds the wait for the device hello.
func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.handshakeTimeout = d }
}

// WithServerRecognition enables server-side capture for audio-only devices.
func WithServerRecognition(r ServerRecognition) ServerOption {
	return func(s *Server) { s.recognition = r }
}

func NewServer(deps Deps, opts ...ServerOption) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	srv := &Server{deps: deps, handshakeTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Serve owns ws until the device disconnects or ctx is done.
func (srv *Server) Serve(ctx context.Context, ws *websocket.Conn, params Params) error {
	srv.wg.Add(1)
	defer srv.wg.Done()

	logger := logging.WithDevice(ws.RemoteAddr().String())
	conn := remote.NewConn(ws, remote.WithLogger(logger))

	caps, err := conn.Handshake(srv.handshakeTimeout)
	if err != nil {
		srv.deps.Metrics.RecordDeviceRejected("handshake")
		logger.Warn().Err(err).Msg("Device handshake failed")
		_ = conn.Close()
		return err
	}

	var provider capability.Provider = conn
	var opts []Option
	if !caps.Capture && caps.Audio && srv.recognition != nil {
		rp := srv.recognition(conn)
		provider = capability.Fallback(conn, rp)
		opts = append(opts, WithAudioSink(rp))
		logger.Info().Msg("Using server-side recognition")
	}

	s, err := New(provider, conn, params, srv.deps, opts...)
	if err != nil {
		srv.deps.Metrics.RecordDeviceRejected(string(voice.KindOf(err)))
		logger.Warn().Err(err).Msg("Session rejected")
		_ = conn.Notify(errorEvent("", err))
		_ = conn.Close()
		return fmt.Errorf("create session: %w", err)
	}
	defer s.Close()

	logger.Info().Str("sessionId", s.ID()).Str("mode", params.Mode.String()).Msg("Session started")
	s.Ready()
	return conn.Run(ctx, s)
}

// Wait blocks until every Serve call has returned and its session has
// flushed queued events, or ctx is done.
func (srv *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
