package events

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"voice-interaction-engine/internal/models"
	"voice-interaction-engine/internal/observability/metrics"
)

func validTurn() models.TurnEvent {
	return models.TurnEvent{
		EventType: models.EventTypeTurn,
		SessionID: "sess-123",
		Mode:      "quiz",
		Timestamp: time.Now().UnixMilli(),
		Index:     0,
		Speaker:   "system",
		Kind:      "prompt",
		State:     "complete",
		Content:   "What is 2 plus 2?",
		Question:  0,
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTurns != nil || p.writerResults != nil {
				t.Error("expected nil writers when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		TopicTurns:   "test.turn",
		TopicResults: "test.result",
		Principal:    "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicTurns != "test.turn" {
		t.Errorf("expected turn topic 'test.turn', got %s", p.topicTurns)
	}
	if p.topicResults != "test.result" {
		t.Errorf("expected result topic 'test.result', got %s", p.topicResults)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:      true,
		Brokers:      []string{"localhost:9092"},
		TopicTurns:   "test.turn",
		TopicResults: "test.result",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerTurns.Topic != "test.turn" || p.writerResults.Topic != "test.result" {
		t.Errorf("unexpected writer topics %q %q", p.writerTurns.Topic, p.writerResults.Topic)
	}
}

func TestPublisher_PublishTurn_Disabled(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(&Config{Enabled: false, TopicTurns: "test.turn"}, WithMetrics(m))

	if err := p.PublishTurn(context.Background(), validTurn()); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("test.turn", "turn")); got != 1 {
		t.Errorf("publish total = %v, want 1", got)
	}
}

func TestPublisher_PublishTurn_Invalid(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := New(&Config{Enabled: false, TopicTurns: "test.turn"}, WithMetrics(m))

	ev := validTurn()
	ev.SessionID = ""
	if err := p.PublishTurn(context.Background(), ev); err == nil {
		t.Error("expected validation error")
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("test.turn", "turn")); got != 0 {
		t.Errorf("invalid event counted as published: %v", got)
	}
}

func TestPublisher_PublishResult_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false}, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))

	ev := models.ResultEvent{
		EventType: models.EventTypeResult,
		SessionID: "sess-123",
		Mode:      "quiz",
		Timestamp: time.Now().UnixMilli(),
		Score:     2,
		Total:     3,
		Turns:     10,
	}
	if err := p.PublishResult(context.Background(), ev); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	ev.Score = 5
	if err := p.PublishResult(context.Background(), ev); err == nil {
		t.Error("expected error for score above total")
	}
}

func TestPublisher_Publish_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false}, WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())))

	// Create an unmarshalable value (channel)
	err := p.publish(context.Background(), nil, "t", "turn", "k", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilPublisher(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
