package app

import (
	"context"
	"path/filepath"
	"testing"

	"voice-interaction-engine/internal/config"
)

func testConfig() *config.Configuration {
	cfg := config.Load()
	cfg.Kafka.Enabled = false
	cfg.STT.Provider = "remote"
	cfg.Quiz.BankPath = ""
	cfg.Observability.LogLevel = "error"
	return cfg
}

func TestNew_Lifecycle(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Ready() {
		t.Error("ready before Start")
	}
	if _, err := a.Quizzes.Get(""); err != nil {
		t.Errorf("default quiz missing: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if !a.Ready() || a.StartupTime.IsZero() {
		t.Error("expected ready after Start")
	}

	a.Shutdown(context.Background())
	if a.Ready() {
		t.Error("ready after Shutdown")
	}
	if a.Context().Err() == nil {
		t.Error("context not cancelled on Shutdown")
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.STT.Provider = "whisper"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown STT provider")
	}

	cfg = testConfig()
	cfg.Quiz.BankPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(cfg); err == nil {
		t.Error("expected error for missing quiz bank")
	}
}
