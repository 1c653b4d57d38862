// Package evaluate compares a spoken transcript with a quiz question's
// expected answer. Evaluation is pure: no I/O, no state.
package evaluate

import (
	"strings"

	"github.com/antzucaro/matchr"

	"voice-interaction-engine/internal/voice"
)

// Verdict is the outcome of an evaluation.
type Verdict bool

const (
	Incorrect Verdict = false
	Correct   Verdict = true
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	if v {
		return "correct"
	}
	return "incorrect"
}

// phoneticThreshold is the minimum Jaro-Winkler score for a window whose
// words share Double Metaphone codes with the expected answer.
const phoneticThreshold = 0.85

// Normalize lower-cases and trims s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Evaluate reports whether transcript answers q.
//
// Under every policy a transcript is Correct when the normalized expected
// answer is a substring of the normalized transcript, which tolerates filler
// such as "the answer is four". An empty expected answer never matches.
func Evaluate(transcript string, q voice.QuizQuestion) Verdict {
	t := Normalize(transcript)
	want := Normalize(q.ExpectedAnswer)
	if want == "" || t == "" {
		return Incorrect
	}
	if strings.Contains(t, want) {
		return Correct
	}
	if q.MatchPolicy == voice.MatchPhonetic && soundsLike(t, want) {
		return Correct
	}
	return Incorrect
}

// soundsLike slides a window of the expected answer's word count over the
// transcript and accepts the first window that matches word-by-word on
// Double Metaphone codes and scores above phoneticThreshold overall.
func soundsLike(transcript, want string) bool {
	words := strings.Fields(transcript)
	target := strings.Fields(want)
	n := len(target)
	if n == 0 || len(words) < n {
		return false
	}
	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		if !codesAlign(window, target) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), want, false) >= phoneticThreshold {
			return true
		}
	}
	return false
}

func codesAlign(a, b []string) bool {
	for i := range a {
		ap, as := matchr.DoubleMetaphone(a[i])
		bp, bs := matchr.DoubleMetaphone(b[i])
		if !overlap(ap, as, bp, bs) {
			return false
		}
	}
	return true
}

func overlap(ap, as, bp, bs string) bool {
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
