package turn

import (
	"fmt"
	"strings"

	"voice-interaction-engine/internal/voice"
)

// Mode selects how the controller composes capture and playback.
type Mode int

const (
	// ModeDictation listens without a system prompt and delivers the transcript.
	ModeDictation Mode = iota
	// ModeSingleQuestion optionally speaks one prompt, listens once and
	// delivers the transcript.
	ModeSingleQuestion
	// ModeQuiz runs prompt, answer, evaluation and feedback for every question.
	ModeQuiz
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDictation:
		return "dictation"
	case ModeSingleQuestion:
		return "single_question"
	case ModeQuiz:
		return "quiz"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", m)
	}
}

// ParseMode maps a configuration or query value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dictation":
		return ModeDictation, nil
	case "single_question", "question":
		return ModeSingleQuestion, nil
	case "quiz":
		return ModeQuiz, nil
	default:
		return ModeDictation, fmt.Errorf("%w: mode %q", voice.ErrInvalidOption, s)
	}
}

// State is the controller state.
type State int

const (
	StateIdle State = iota
	StatePrompting
	StateCapturing
	StateEvaluating
	StateFeedback
	StateDone
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePrompting:
		return "PROMPTING"
	case StateCapturing:
		return "CAPTURING"
	case StateEvaluating:
		return "EVALUATING"
	case StateFeedback:
		return "FEEDBACK"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Speaker attributes a turn.
type Speaker int

const (
	SpeakerSystem Speaker = iota
	SpeakerUser
)

// String returns the string representation of the speaker.
func (s Speaker) String() string {
	if s == SpeakerUser {
		return "user"
	}
	return "system"
}

// Kind is the role of a turn in the dialogue.
type Kind int

const (
	KindPrompt Kind = iota
	KindAnswer
	KindFeedback
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPrompt:
		return "prompt"
	case KindAnswer:
		return "answer"
	case KindFeedback:
		return "feedback"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// TurnState is the lifecycle of a single turn.
type TurnState int

const (
	TurnPending TurnState = iota
	TurnActive
	TurnComplete
	TurnCancelled
)

// String returns the string representation of the turn state.
func (s TurnState) String() string {
	switch s {
	case TurnPending:
		return "pending"
	case TurnActive:
		return "active"
	case TurnComplete:
		return "complete"
	case TurnCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Turn is one attributable unit of dialogue.
type Turn struct {
	Index    int
	Speaker  Speaker
	Kind     Kind
	Content  string
	State    TurnState
	Question int    // quiz question index, -1 when not tied to a question
	Verdict  string // "correct" or "incorrect" on evaluated quiz answers
}

// Session is a snapshot of the controller's dialogue state.
type Session struct {
	ID     string
	Mode   Mode
	State  State
	Turns  []Turn
	Score  int
	Cursor int
	Total  int
}
