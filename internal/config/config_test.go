package config

import (
	"testing"
	"time"
)

func TestLoadRequiresAPIKey(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when API_KEY is unset")
	}
}

func TestLoadFillsDocumentedDefaults(t *testing.T) {
	t.Setenv("API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("got port %q, want 8080", cfg.Port)
	}
	if cfg.ProviderURL != "wss://api.voiceprovider.example/v1/realtime" {
		t.Errorf("got provider url %q, want the documented default", cfg.ProviderURL)
	}
	if cfg.EscalationThreshold != 70 {
		t.Errorf("got escalation threshold %d, want 70", cfg.EscalationThreshold)
	}
	if cfg.TranscriptionDebounce != 400*time.Millisecond {
		t.Errorf("got transcription debounce %v, want 400ms", cfg.TranscriptionDebounce)
	}
	if cfg.EchoWindow != 10*time.Second {
		t.Errorf("got echo window %v, want 10s", cfg.EchoWindow)
	}
	if cfg.AnalyticsTimeout != 5*time.Second {
		t.Errorf("got analytics timeout %v, want 5s", cfg.AnalyticsTimeout)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("got connect timeout %v, want 10s", cfg.ConnectTimeout)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("got redis addr %q, want localhost:6379", cfg.RedisAddr)
	}
	if cfg.Debug {
		t.Error("got debug true, want false by default")
	}
}

func TestLoadReadsOverriddenEnvVars(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("ESCALATION_THRESHOLD", "85")
	t.Setenv("DEBUG", "true")
	t.Setenv("DATABASE_URL", "postgres://example/db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("got port %q, want 9090", cfg.Port)
	}
	if cfg.EscalationThreshold != 85 {
		t.Errorf("got escalation threshold %d, want 85", cfg.EscalationThreshold)
	}
	if !cfg.Debug {
		t.Error("got debug false, want true")
	}
	if cfg.DatabaseURL != "postgres://example/db" {
		t.Errorf("got database url %q, want the overridden value", cfg.DatabaseURL)
	}
}
