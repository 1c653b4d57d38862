// Package fake provides an in-memory capability provider for tests.
// Devices never call back on their own; tests drive them with Interim, Final,
// End, Fail and Finish. The provider counts open device handles so leaks and
// listen/speak overlaps can be asserted.
package fake

import (
	"sync"

	"voice-interaction-engine/internal/voice/capability"
)

// Provider implements capability.Provider.
type Provider struct {
	mu    sync.Mutex
	caps  capability.Capabilities
	recs  []*Recognizer
	syns  []*Synthesizer
	openC int
	openP int

	overlaps       int // both a capture and a playback open
	doubleCaptures int // two captures open
	doublePlayback int // two playbacks open

	// EndOnStop makes Recognizer.Stop end the activation synchronously, the
	// way a browser ends recognition shortly after stop().
	EndOnStop bool
	// StartOnSpeak makes Synthesizer.Speak report OnStart synchronously.
	StartOnSpeak bool
	// EndOnCancel makes Synthesizer.Cancel report OnEnd, like an interrupted
	// browser utterance does.
	EndOnCancel bool
}

// New returns a provider supporting capture and playback.
func New() *Provider {
	return NewWith(capability.Capabilities{Capture: true, Playback: true})
}

// NewWith returns a provider with the given capabilities.
func NewWith(caps capability.Capabilities) *Provider {
	return &Provider{caps: caps, EndOnStop: true, StartOnSpeak: true}
}

// Probe implements capability.Provider.
func (p *Provider) Probe() capability.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

// SetCapabilities changes what later Probe and Create* calls report.
func (p *Provider) SetCapabilities(caps capability.Capabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.caps = caps
}

// CreateCapture implements capability.Provider.
func (p *Provider) CreateCapture(locale string) (capability.Recognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.caps.Capture {
		return nil, capability.Unsupported("capture")
	}
	r := &Recognizer{p: p, Locale: locale}
	p.recs = append(p.recs, r)
	return r, nil
}

// CreatePlayback implements capability.Provider.
func (p *Provider) CreatePlayback(locale string) (capability.Synthesizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.caps.Playback {
		return nil, capability.Unsupported("playback")
	}
	s := &Synthesizer{p: p, Locale: locale}
	p.syns = append(p.syns, s)
	return s, nil
}

// OpenCaptures returns the number of microphones currently held open.
func (p *Provider) OpenCaptures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openC
}

// OpenPlaybacks returns the number of speakers currently held open.
func (p *Provider) OpenPlaybacks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openP
}

// Violations returns how many times a device was opened while the
// listen/speak exclusion did not hold.
func (p *Provider) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlaps + p.doubleCaptures + p.doublePlayback
}

// Recognizers returns every recognizer created so far.
func (p *Provider) Recognizers() []*Recognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Recognizer(nil), p.recs...)
}

// Synthesizers returns every synthesizer created so far.
func (p *Provider) Synthesizers() []*Synthesizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Synthesizer(nil), p.syns...)
}

// LastRecognizer returns the most recently created recognizer or nil.
func (p *Provider) LastRecognizer() *Recognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.recs) == 0 {
		return nil
	}
	return p.recs[len(p.recs)-1]
}

// LastSynthesizer returns the most recently created synthesizer or nil.
func (p *Provider) LastSynthesizer() *Synthesizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.syns) == 0 {
		return nil
	}
	return p.syns[len(p.syns)-1]
}

func (p *Provider) acquire(capture bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capture {
		if p.openC > 0 {
			p.doubleCaptures++
		}
		p.openC++
	} else {
		if p.openP > 0 {
			p.doublePlayback++
		}
		p.openP++
	}
	if p.openC > 0 && p.openP > 0 {
		p.overlaps++
	}
}

func (p *Provider) release(capture bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if capture {
		p.openC--
	} else {
		p.openP--
	}
}

func (p *Provider) option(f func(*Provider) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return f(p)
}
