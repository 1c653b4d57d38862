package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestWithSession(t *testing.T) {
	buf := capture(t)
	l := WithSession("s-1", "quiz")
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["sessionId"] != "s-1" || entry["mode"] != "quiz" {
		t.Errorf("unexpected fields %v", entry)
	}
}

func TestWithDevice(t *testing.T) {
	buf := capture(t)
	l := WithDevice("10.0.0.1:5555")
	l.Info().Msg("connected")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["remoteAddr"] != "10.0.0.1:5555" || entry["component"] != "session" {
		t.Errorf("unexpected fields %v", entry)
	}
}

func TestInit_Level(t *testing.T) {
	prev := zerolog.GlobalLevel()
	prevLogger := log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prev)
		log.Logger = prevLogger
	})

	Init(Config{Level: "warn", Format: "json"})
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("level = %s", zerolog.GlobalLevel())
	}
	Init(Config{Level: "nonsense", Format: "console"})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("invalid level should fall back to info, got %s", zerolog.GlobalLevel())
	}
}
