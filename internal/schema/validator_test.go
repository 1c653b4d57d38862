package schema

import (
	"testing"
	"time"

	"voice-interaction-engine/internal/models"
)

func TestValidate_TurnEvent(t *testing.T) {
	v := New()
	valid := models.TurnEvent{
		EventType: models.EventTypeTurn,
		SessionID: "s-1",
		Mode:      "quiz",
		Timestamp: time.Now().UnixMilli(),
		Index:     1,
		Speaker:   "user",
		Kind:      "answer",
		State:     "complete",
		Content:   "four",
		Question:  0,
		Verdict:   "correct",
	}
	if err := v.Validate(valid); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*models.TurnEvent)
	}{
		{"missing session", func(e *models.TurnEvent) { e.SessionID = "" }},
		{"wrong event type", func(e *models.TurnEvent) { e.EventType = models.EventTypeResult }},
		{"unknown mode", func(e *models.TurnEvent) { e.Mode = "karaoke" }},
		{"unknown verdict", func(e *models.TurnEvent) { e.Verdict = "maybe" }},
		{"active state", func(e *models.TurnEvent) { e.State = "active" }},
		{"negative index", func(e *models.TurnEvent) { e.Index = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			if err := v.Validate(ev); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_ResultEvent(t *testing.T) {
	v := New()
	ev := models.ResultEvent{
		EventType: models.EventTypeResult,
		SessionID: "s-1",
		Mode:      "quiz",
		Timestamp: 1,
		Score:     2,
		Total:     3,
		Turns:     10,
	}
	if err := v.Validate(ev); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
	ev.Score = 4
	if err := v.Validate(ev); err == nil {
		t.Error("expected score above total to fail")
	}
}
