package capability

import (
	"errors"

	"voice-interaction-engine/internal/voice"
)

// fallback tries providers in order and uses the first one that supports
// the requested feature.
type fallback struct {
	providers []Provider
}

// Fallback composes providers. Probe reports the union of their capabilities;
// Create* returns the first handle whose provider does not fail with
// voice.ErrUnsupportedCapability. Any other error stops the search.
func Fallback(providers ...Provider) Provider {
	ps := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &fallback{providers: ps}
}

func (f *fallback) Probe() Capabilities {
	var caps Capabilities
	for _, p := range f.providers {
		c := p.Probe()
		caps.Capture = caps.Capture || c.Capture
		caps.Playback = caps.Playback || c.Playback
		caps.Audio = caps.Audio || c.Audio
	}
	return caps
}

func (f *fallback) CreateCapture(locale string) (Recognizer, error) {
	for _, p := range f.providers {
		if !p.Probe().Capture {
			continue
		}
		r, err := p.CreateCapture(locale)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, voice.ErrUnsupportedCapability) {
			return nil, err
		}
	}
	return nil, Unsupported("capture")
}

func (f *fallback) CreatePlayback(locale string) (Synthesizer, error) {
	for _, p := range f.providers {
		if !p.Probe().Playback {
			continue
		}
		s, err := p.CreatePlayback(locale)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, voice.ErrUnsupportedCapability) {
			return nil, err
		}
	}
	return nil, Unsupported("playback")
}
