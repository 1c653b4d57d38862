// Package voice holds the types shared by the capture, playback, evaluation
// and turn-taking packages.
package voice

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLocale is used when no BCP-47 tag is configured.
	DefaultLocale = "en-US"
	// DefaultRate is the normal playback speed.
	DefaultRate = 1.0
	// MinRate and MaxRate bound the playback speed multiplier.
	MinRate = 0.5
	MaxRate = 2.0
)

// Utterance is one recognition result produced by a capture activation.
// Interim utterances may be revised; a final one never is.
type Utterance struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

// Options configures locale and speed for capture and playback.
type Options struct {
	Locale string
	Rate   float64
}

// DefaultOptions returns en-US at normal speed.
func DefaultOptions() Options {
	return Options{Locale: DefaultLocale, Rate: DefaultRate}
}

// WithDefaults fills empty fields with defaults.
func (o Options) WithDefaults() Options {
	if strings.TrimSpace(o.Locale) == "" {
		o.Locale = DefaultLocale
	}
	if o.Rate == 0 {
		o.Rate = DefaultRate
	}
	return o
}

// Validate reports ErrInvalidOption for an out-of-range rate or a malformed locale.
func (o Options) Validate() error {
	if o.Rate < MinRate || o.Rate > MaxRate {
		return fmt.Errorf("%w: rate %.2f outside [%.1f, %.1f]", ErrInvalidOption, o.Rate, MinRate, MaxRate)
	}
	if !validLocale(o.Locale) {
		return fmt.Errorf("%w: locale %q", ErrInvalidOption, o.Locale)
	}
	return nil
}

// validLocale does a shape check on a BCP-47 tag: alphanumeric subtags of
// 1-8 characters separated by hyphens, with an alphabetic primary subtag.
func validLocale(tag string) bool {
	if tag == "" {
		return false
	}
	for i, sub := range strings.Split(tag, "-") {
		if len(sub) == 0 || len(sub) > 8 {
			return false
		}
		for _, r := range sub {
			alpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			digit := r >= '0' && r <= '9'
			if i == 0 && !alpha {
				return false
			}
			if !alpha && !digit {
				return false
			}
		}
	}
	return true
}

// MatchPolicy selects how a transcript is compared with an expected answer.
type MatchPolicy int

const (
	// MatchSubstring accepts when the lower-cased, trimmed expected answer is a
	// substring of the lower-cased, trimmed transcript.
	MatchSubstring MatchPolicy = iota
	// MatchPhonetic additionally accepts answers that sound like the expected
	// answer, so a recognizer writing "for" still scores "four".
	MatchPhonetic
)

// String returns the string representation of the policy.
func (p MatchPolicy) String() string {
	switch p {
	case MatchSubstring:
		return "substring"
	case MatchPhonetic:
		return "phonetic"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// ParseMatchPolicy maps a configuration value to a MatchPolicy. The empty
// string selects MatchSubstring.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "substring", "case_insensitive_substring":
		return MatchSubstring, nil
	case "phonetic":
		return MatchPhonetic, nil
	default:
		return MatchSubstring, fmt.Errorf("%w: match policy %q", ErrInvalidOption, s)
	}
}

// QuizQuestion is an immutable prompt/answer pair.
type QuizQuestion struct {
	Prompt         string
	ExpectedAnswer string
	MatchPolicy    MatchPolicy
}

// EndReason tells why a playback activation ended.
type EndReason int

const (
	EndCompleted EndReason = iota
	EndCancelled
	EndFailed
)

// String returns the string representation of the reason.
func (r EndReason) String() string {
	switch r {
	case EndCompleted:
		return "completed"
	case EndCancelled:
		return "cancelled"
	case EndFailed:
		return "failed"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", r)
	}
}
