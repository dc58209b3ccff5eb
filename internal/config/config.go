package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the interview voice client.
type Config struct {
	ControlAddr      string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	AllowAnyOrigin   bool

	SessionID      string
	Track          string
	ChannelURL     string
	APIBaseURL     string
	APIToken       string
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	ReportTimeout  time.Duration
	LiveAudio      bool

	RecognitionURL    string
	RecognitionFormat string

	SynthesisURL      string
	SynthesisAPIKey   string
	LocalVoiceCommand string
	PlayerCommand     string
	TargetSampleRate  int
	NativeSampleRate  int
	FFmpegCommand     string
	AudioInputFormat  string
	AudioInputDevice  string
	DatabaseURL       string
}

// Load reads environment variables (and an optional .env file) and applies safe defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		ControlAddr:       envOrDefault("APP_CONTROL_ADDR", "127.0.0.1:8787"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "prepvoice"),
		LogLevel:          strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		SessionID:         stringsTrimSpace("INTERVIEW_SESSION_ID"),
		Track:             envOrDefault("INTERVIEW_TRACK", "fullstack"),
		ChannelURL:        envOrDefault("INTERVIEW_WS_URL", "ws://localhost:3001/interview"),
		APIBaseURL:        envOrDefault("INTERVIEW_API_BASE_URL", "http://localhost:3001/api"),
		APIToken:          stringsTrimSpace("INTERVIEW_API_TOKEN"),
		RecognitionURL:    stringsTrimSpace("RECOGNITION_URL"),
		RecognitionFormat: strings.ToLower(envOrDefault("RECOGNITION_FORMAT", "pcm")),
		SynthesisURL:      stringsTrimSpace("SYNTHESIS_URL"),
		SynthesisAPIKey:   stringsTrimSpace("SYNTHESIS_API_KEY"),
		LocalVoiceCommand: envOrDefault("LOCAL_VOICE_COMMAND", "espeak-ng"),
		PlayerCommand:     envOrDefault("PLAYER_COMMAND", "ffplay"),
		FFmpegCommand:     envOrDefault("AUDIO_FFMPEG_COMMAND", "ffmpeg"),
		AudioInputFormat:  envOrDefault("AUDIO_INPUT_FORMAT", "pulse"),
		AudioInputDevice:  envOrDefault("AUDIO_INPUT_DEVICE", "default"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		// Canonical transmission rate; the capture pipeline only ever downsamples to it.
		TargetSampleRate: 16000,
		NativeSampleRate: 48000,
		ShutdownTimeout:  10 * time.Second,
		ConnectTimeout:   10 * time.Second,
		PollInterval:     3 * time.Second,
		ReportTimeout:    90 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("INTERVIEW_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("INTERVIEW_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ReportTimeout, err = durationFromEnv("INTERVIEW_REPORT_TIMEOUT", cfg.ReportTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LiveAudio, err = boolFromEnv("INTERVIEW_LIVE_AUDIO", cfg.LiveAudio)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.NativeSampleRate, err = intFromEnv("AUDIO_NATIVE_SAMPLE_RATE", cfg.NativeSampleRate)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("INTERVIEW_CONNECT_TIMEOUT must be positive")
	}
	if cfg.PollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("INTERVIEW_POLL_INTERVAL must be at least 100ms")
	}
	if cfg.ReportTimeout <= cfg.PollInterval {
		return Config{}, fmt.Errorf("INTERVIEW_REPORT_TIMEOUT must exceed INTERVIEW_POLL_INTERVAL")
	}
	if cfg.NativeSampleRate <= 0 {
		return Config{}, fmt.Errorf("AUDIO_NATIVE_SAMPLE_RATE must be positive")
	}
	switch cfg.RecognitionFormat {
	case "pcm", "wav":
	default:
		return Config{}, fmt.Errorf("RECOGNITION_FORMAT must be pcm or wav, got %q", cfg.RecognitionFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
