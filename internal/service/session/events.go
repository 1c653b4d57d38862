package session

import (
	"voice-interaction-engine/internal/voice"
	"voice-interaction-engine/internal/voice/turn"
)

// UI event kinds pushed to the device.
const (
	EventReady      = "ready"
	EventState      = "state"
	EventTranscript = "transcript"
	EventTurn       = "turn"
	EventScore      = "score"
	EventResult     = "result"
	EventError      = "error"
	EventDone       = "done"
)

// Event is the payload of a ui message.
type Event struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"sessionId"`
	Mode      string    `json:"mode,omitempty"`
	State     string    `json:"state,omitempty"`
	From      string    `json:"from,omitempty"`
	Text      string    `json:"text,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Turn      *TurnView `json:"turn,omitempty"`
	Score     *int      `json:"score,omitempty"`
	Total     int       `json:"total,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
}

type TurnView struct {
	Index    int    `json:"index"`
	Speaker  string `json:"speaker"`
	Kind     string `json:"kind"`
	State    string `json:"state"`
	Content  string `json:"content"`
	Question int    `json:"question"`
	Verdict  string `json:"verdict,omitempty"`
}

func viewOf(t turn.Turn) *TurnView {
	return &TurnView{
		Index:    t.Index,
		Speaker:  t.Speaker.String(),
		Kind:     t.Kind.String(),
		State:    t.State.String(),
		Content:  t.Content,
		Question: t.Question,
		Verdict:  t.Verdict,
	}
}

func errorEvent(id string, err error) Event {
	return Event{
		Kind:      EventError,
		SessionID: id,
		Error:     err.Error(),
		ErrorKind: string(voice.KindOf(err)),
	}
}
