package turn

import "voice-interaction-engine/internal/voice"

// Listener receives controller events. Callbacks run outside the controller
// lock, one at a time and in emission order, and may call back into the
// controller.
type Listener interface {
	// OnTranscriptUpdate is called for every interim or final utterance of
	// the active answer turn.
	OnTranscriptUpdate(u voice.Utterance)

	// OnTurnChange is called when a turn is created or changes state or content.
	OnTurnChange(t Turn)

	// OnScoreChange is called when a quiz answer is scored.
	OnScoreChange(score int)

	// OnResult delivers the final transcript in Dictation and SingleQuestion mode.
	OnResult(transcript string)

	// OnError delivers every non-fatal error. The controller never waits for
	// the caller to acknowledge it.
	OnError(err error)

	// OnDone is called when the controller enters StateDone.
	OnDone(s Session)

	// OnStateChange is called on every state transition.
	OnStateChange(from, to State)
}

// BaseListener implements Listener with no-ops; embed it to override a subset.
type BaseListener struct{}

func (BaseListener) OnTranscriptUpdate(voice.Utterance) {}
func (BaseListener) OnTurnChange(Turn)                  {}
func (BaseListener) OnScoreChange(int)                  {}
func (BaseListener) OnResult(string)                    {}
func (BaseListener) OnError(error)                      {}
func (BaseListener) OnDone(Session)                     {}
func (BaseListener) OnStateChange(State, State)         {}
