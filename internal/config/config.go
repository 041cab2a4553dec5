// Package config loads the process configuration via viper, binding every
// environment variable spec'd for the mediation core and filling in the
// documented defaults. Modeled on lookatitude-beluga-ai's config.Load, but
// flat: this server has exactly one voice provider and one analysis
// collaborator, not a multi-backend registry.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration, populated once at startup.
type Config struct {
	APIKey              string
	Port                string
	Debug               bool
	VoiceModel          string
	AnalysisModel       string
	ProviderURL         string
	EscalationThreshold int

	TranscriptionDebounce time.Duration
	EchoWindow            time.Duration
	AnalyticsTimeout      time.Duration
	ConnectTimeout        time.Duration

	DatabaseURL string
	RedisAddr   string
}

// Load reads configuration from the environment, applying the spec's default
// timing constants where a variable is unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DEBUG", false)
	v.SetDefault("VOICE_MODEL", "")
	v.SetDefault("ANALYSIS_MODEL", "")
	v.SetDefault("PROVIDER_URL", "wss://api.voiceprovider.example/v1/realtime")
	v.SetDefault("ESCALATION_THRESHOLD", 70)
	v.SetDefault("TRANSCRIPTION_DEBOUNCE_MS", 400)
	v.SetDefault("ECHO_WINDOW_MS", 10000)
	v.SetDefault("ANALYTICS_TIMEOUT_MS", 5000)
	v.SetDefault("CONNECT_TIMEOUT_MS", 10000)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")

	for _, key := range []string{
		"API_KEY", "PORT", "DEBUG", "VOICE_MODEL", "ANALYSIS_MODEL", "PROVIDER_URL",
		"TRANSCRIPTION_DEBOUNCE_MS", "ECHO_WINDOW_MS", "ANALYTICS_TIMEOUT_MS",
		"CONNECT_TIMEOUT_MS", "DATABASE_URL", "REDIS_ADDR", "ESCALATION_THRESHOLD",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if v.GetString("API_KEY") == "" {
		return nil, fmt.Errorf("config: API_KEY is required")
	}

	cfg := &Config{
		APIKey:                v.GetString("API_KEY"),
		Port:                  v.GetString("PORT"),
		Debug:                 v.GetBool("DEBUG"),
		VoiceModel:            v.GetString("VOICE_MODEL"),
		AnalysisModel:         v.GetString("ANALYSIS_MODEL"),
		ProviderURL:           v.GetString("PROVIDER_URL"),
		EscalationThreshold:   v.GetInt("ESCALATION_THRESHOLD"),
		TranscriptionDebounce: time.Duration(v.GetInt("TRANSCRIPTION_DEBOUNCE_MS")) * time.Millisecond,
		EchoWindow:            time.Duration(v.GetInt("ECHO_WINDOW_MS")) * time.Millisecond,
		AnalyticsTimeout:      time.Duration(v.GetInt("ANALYTICS_TIMEOUT_MS")) * time.Millisecond,
		ConnectTimeout:        time.Duration(v.GetInt("CONNECT_TIMEOUT_MS")) * time.Millisecond,
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
	}
	return cfg, nil
}
