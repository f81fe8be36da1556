package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// DatabaseURL selects the Postgres store. Empty selects the in-memory
	// store, which only makes sense for local runs.
	DatabaseURL string

	GeminiAPIKey      string
	GeminiTextModel   string
	GeminiSpeechModel string
	GeminiVoice       string

	// Realtime upstream for live mode. Live mode is refused when the key is
	// empty.
	RealtimeURL    string
	RealtimeAPIKey string
	RealtimeVoice  string

	OpeningMessage string
	ClosingMessage string

	// OracleTimeout bounds each model call made while a session is in its
	// thinking state.
	OracleTimeout time.Duration

	// MinAudioBytes is the smallest answer recording worth transcribing.
	MinAudioBytes int

	WSWriteTimeout      time.Duration
	WSIdleTimeout       time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXHIRE_ADDR", ":8080"),
		DatabaseURL:         strings.TrimSpace(os.Getenv("VOXHIRE_DATABASE_URL")),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("VOXHIRE_GEMINI_API_KEY")),
		GeminiTextModel:     envOr("VOXHIRE_GEMINI_TEXT_MODEL", ""),
		GeminiSpeechModel:   envOr("VOXHIRE_GEMINI_SPEECH_MODEL", ""),
		GeminiVoice:         envOr("VOXHIRE_GEMINI_VOICE", ""),
		RealtimeURL:         envOr("VOXHIRE_REALTIME_URL", ""),
		RealtimeAPIKey:      strings.TrimSpace(os.Getenv("VOXHIRE_REALTIME_API_KEY")),
		RealtimeVoice:       envOr("VOXHIRE_REALTIME_VOICE", "alloy"),
		OpeningMessage:      envOr("VOXHIRE_OPENING_MESSAGE", ""),
		ClosingMessage:      envOr("VOXHIRE_CLOSING_MESSAGE", ""),
		OracleTimeout:       envDurationOr("VOXHIRE_ORACLE_TIMEOUT", 30*time.Second),
		MinAudioBytes:       envIntOr("VOXHIRE_MIN_AUDIO_BYTES", 1000),
		WSWriteTimeout:      envDurationOr("VOXHIRE_WS_WRITE_TIMEOUT", 10*time.Second),
		WSIdleTimeout:       envDurationOr("VOXHIRE_WS_IDLE_TIMEOUT", 5*time.Minute),
		ReadHeaderTimeout:   envDurationOr("VOXHIRE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXHIRE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.Addr == "" {
		return Config{}, fmt.Errorf("VOXHIRE_ADDR must not be empty")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("VOXHIRE_GEMINI_API_KEY must be set")
	}
	if cfg.OracleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXHIRE_ORACLE_TIMEOUT must be > 0")
	}
	if cfg.MinAudioBytes < 0 {
		return Config{}, fmt.Errorf("VOXHIRE_MIN_AUDIO_BYTES must be >= 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXHIRE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXHIRE_WS_IDLE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXHIRE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXHIRE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
