// Package google serves capture with Google Cloud Speech-to-Text, for devices
// that can stream microphone audio but cannot recognize speech themselves.
package google

import (
	"context"
	"errors"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/voice/capability"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns the default STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an encoding name to the proto enum. Unknown and
// non-uppercase names fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Stream is the bidirectional streaming recognize call.
type Stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Dialer opens recognition streams.
type Dialer interface {
	Open(ctx context.Context) (Stream, error)
}

// AudioSource switches the device's PCM stream on and off.
type AudioSource interface {
	OpenAudio() error
	CloseAudio() error
}

type clientDialer struct {
	client *speech.Client
}

func (d clientDialer) Open(ctx context.Context) (Stream, error) {
	stream, err := d.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Provider is a capture-only capability.Provider. Audio written to it is
// forwarded to the active recognition stream.
type Provider struct {
	dialer Dialer
	client *speech.Client
	cfg    Config
	audio  AudioSource
	log    zerolog.Logger

	mu     sync.Mutex
	active *recognizer
}

// New creates a provider backed by a Cloud Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config, audio AudioSource) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	p := NewWithDialer(clientDialer{client: c}, cfg, audio)
	p.client = c
	return p, nil
}

// NewFromClient creates a provider over a shared client. Close leaves the
// client open.
func NewFromClient(c *speech.Client, cfg Config, audio AudioSource) *Provider {
	return NewWithDialer(clientDialer{client: c}, cfg, audio)
}

// NewWithDialer creates a provider over an arbitrary stream dialer.
func NewWithDialer(d Dialer, cfg Config, audio AudioSource) *Provider {
	return &Provider{
		dialer: d,
		cfg:    cfg,
		audio:  audio,
		log:    log.With().Str("component", "google_stt").Logger(),
	}
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Probe implements capability.Provider.
func (p *Provider) Probe() capability.Capabilities {
	return capability.Capabilities{Capture: true}
}

// CreateCapture implements capability.Provider.
func (p *Provider) CreateCapture(locale string) (capability.Recognizer, error) {
	cfg := p.cfg
	if locale != "" {
		cfg.LanguageCode = locale
	}
	return &recognizer{p: p, cfg: cfg}, nil
}

// CreatePlayback implements capability.Provider.
func (p *Provider) CreatePlayback(string) (capability.Synthesizer, error) {
	return nil, capability.Unsupported("playback")
}

// Write forwards one PCM frame to the active recognizer. Frames arriving with
// no active recognizer are dropped.
func (p *Provider) Write(frame []byte) (int, error) {
	p.mu.Lock()
	r := p.active
	p.mu.Unlock()
	if r == nil {
		return len(frame), nil
	}
	if err := r.sendAudio(frame); err != nil {
		return 0, err
	}
	return len(frame), nil
}

func (p *Provider) activate(r *recognizer) {
	p.mu.Lock()
	p.active = r
	p.mu.Unlock()
}

func (p *Provider) deactivate(r *recognizer) {
	p.mu.Lock()
	if p.active == r {
		p.active = nil
	}
	p.mu.Unlock()
}

type recognizer struct {
	p   *Provider
	cfg Config

	// sendMu serializes Send and CloseSend on the stream.
	sendMu sync.Mutex

	mu      sync.Mutex
	stream  Stream
	cancel  context.CancelFunc
	aborted bool
	closed  bool
}

func (r *recognizer) Start(ctx context.Context, cb capability.RecognizerCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := r.p.dialer.Open(ctx)
	if err != nil {
		cancel()
		return err
	}

	// Send streaming config as the first message
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(r.cfg.AudioEncoding),
					SampleRateHertz: r.cfg.SampleRateHz,
					LanguageCode:    r.cfg.LanguageCode,
				},
				InterimResults: r.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return err
	}

	r.mu.Lock()
	r.stream = stream
	r.cancel = cancel
	r.mu.Unlock()

	r.p.activate(r)
	if r.p.audio != nil {
		if err := r.p.audio.OpenAudio(); err != nil {
			r.p.deactivate(r)
			cancel()
			return err
		}
	}
	go r.listen(stream, cb)
	return nil
}

func (r *recognizer) sendAudio(frame []byte) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	stream, closed := r.stream, r.closed
	r.mu.Unlock()
	if stream == nil || closed {
		return nil
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	})
}

// Stop half-closes the stream; trailing results and the end follow from listen.
func (r *recognizer) Stop() error {
	r.sendMu.Lock()
	r.mu.Lock()
	if r.stream == nil || r.closed {
		r.mu.Unlock()
		r.sendMu.Unlock()
		return nil
	}
	r.closed = true
	stream := r.stream
	r.mu.Unlock()
	err := stream.CloseSend()
	r.sendMu.Unlock()

	r.p.deactivate(r)
	r.closeAudio()
	return err
}

func (r *recognizer) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	r.p.deactivate(r)
	r.closeAudio()
	if cancel != nil {
		cancel()
	}
}

func (r *recognizer) closeAudio() {
	if r.p.audio == nil {
		return
	}
	if err := r.p.audio.CloseAudio(); err != nil {
		r.p.log.Debug().Err(err).Msg("Closing device audio failed")
	}
}

func (r *recognizer) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// listen receives transcript responses from Google and invokes callbacks.
func (r *recognizer) listen(stream Stream, cb capability.RecognizerCallback) {
	defer func() {
		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()
	for {
		resp, err := stream.Recv()
		if r.isAborted() {
			return
		}
		if errors.Is(err, io.EOF) {
			r.p.deactivate(r)
			cb.OnEnd()
			return
		}
		if err != nil {
			r.p.deactivate(r)
			r.closeAudio()
			cb.OnError(err)
			return
		}

		for _, res := range resp.Results {
			if len(res.Alternatives) == 0 {
				continue
			}
			cb.OnResult(res.Alternatives[0].Transcript, res.IsFinal)
		}
	}
}
