// Package models defines the data structures for voice session events.
package models

const (
	EventTypeTurn   = "voice.turn"
	EventTypeResult = "voice.result"
)

// TurnEvent is published when a turn completes or is cancelled.
type TurnEvent struct {
	EventType string `json:"eventType" validate:"required,eq=voice.turn"`
	SessionID string `json:"sessionId" validate:"required"`
	Mode      string `json:"mode" validate:"required,oneof=dictation single_question quiz"`
	Timestamp int64  `json:"timestamp" validate:"required,gt=0"`
	Index     int    `json:"index" validate:"gte=0"`
	Speaker   string `json:"speaker" validate:"required,oneof=system user"`
	Kind      string `json:"kind" validate:"required,oneof=prompt answer feedback"`
	State     string `json:"state" validate:"required,oneof=complete cancelled"`
	Content   string `json:"content"`
	Question  int    `json:"question" validate:"gte=-1"`
	Verdict   string `json:"verdict,omitempty" validate:"omitempty,oneof=correct incorrect"`
}

// ResultEvent is published once per delivered transcript or finished quiz.
type ResultEvent struct {
	EventType  string `json:"eventType" validate:"required,eq=voice.result"`
	SessionID  string `json:"sessionId" validate:"required"`
	Mode       string `json:"mode" validate:"required,oneof=dictation single_question quiz"`
	Timestamp  int64  `json:"timestamp" validate:"required,gt=0"`
	Transcript string `json:"transcript,omitempty"`
	Score      int    `json:"score" validate:"gte=0,ltefield=Total"`
	Total      int    `json:"total" validate:"gte=0"`
	Turns      int    `json:"turns" validate:"gte=0"`
}
