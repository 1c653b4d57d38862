package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/rs/zerolog"

	"voice-interaction-engine/internal/config"
	"voice-interaction-engine/internal/events"
	"voice-interaction-engine/internal/observability/logging"
	"voice-interaction-engine/internal/observability/metrics"
	"voice-interaction-engine/internal/quizbank"
	"voice-interaction-engine/internal/service/session"
	"voice-interaction-engine/internal/service/submission"
	"voice-interaction-engine/internal/voice/capability/google"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration
	Quizzes     *quizbank.Bank
	Sessions    *session.Server
	Publisher   *events.Publisher

	speech *speech.Client
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
}

// New constructs the application and its shared collaborators.
func New(cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	bank, err := quizbank.Load(cfg.Quiz.BankPath)
	if err != nil {
		a.cancel()
		return nil, err
	}
	a.Quizzes = bank

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicTurns:   cfg.Kafka.TopicTurns,
		TopicResults: cfg.Kafka.TopicResults,
		Principal:    cfg.Kafka.Principal,
	})

	deps := session.Deps{
		Publisher: a.Publisher,
		Metrics:   metrics.DefaultMetrics,
	}
	if cfg.Submission.Enabled {
		deps.Submitter = submission.New(cfg.Submission.BaseURL, cfg.Submission.Timeout)
	}

	opts := []session.ServerOption{session.WithHandshakeTimeout(cfg.Voice.HandshakeTimeout)}
	switch cfg.STT.Provider {
	case "remote":
	case "google":
		// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
		client, err := speech.NewClient(a.ctx)
		if err != nil {
			a.cancel()
			_ = a.Publisher.Close()
			return nil, fmt.Errorf("create speech client: %w", err)
		}
		a.speech = client
		sttCfg := google.Config{
			LanguageCode:   cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			InterimResults: cfg.STT.InterimResults,
			AudioEncoding:  cfg.STT.AudioEncoding,
		}
		opts = append(opts, session.WithServerRecognition(func(audio session.AudioSource) session.AudioProvider {
			return google.NewFromClient(client, sttCfg, audio)
		}))
	default:
		a.cancel()
		_ = a.Publisher.Close()
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
	a.Sessions = session.NewServer(deps, opts...)

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Int("quizzes", len(bank.List())).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("submission", cfg.Submission.Enabled).
		Msg("Voice interaction engine application created")
	return a, nil
}

// Context is cancelled when the application shuts down.
func (a *Application) Context() context.Context {
	return a.ctx
}

// Ready reports whether the application accepts sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice interaction engine starting")
	return nil
}

// Shutdown ends every live session, waits for their events to be handed to
// the publisher, and releases shared clients.
func (a *Application) Shutdown(ctx context.Context) {
	a.ready.Store(false)
	a.Logger.Info().Msg("Voice interaction engine shutting down")
	a.cancel()
	if err := a.Sessions.Wait(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Sessions still running at shutdown")
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Closing publisher failed")
	}
	if a.speech != nil {
		if err := a.speech.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Closing speech client failed")
		}
	}
}
