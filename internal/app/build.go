package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/audio"
	"github.com/ent0n29/prepvoice/internal/channel"
	"github.com/ent0n29/prepvoice/internal/config"
	"github.com/ent0n29/prepvoice/internal/history"
	"github.com/ent0n29/prepvoice/internal/httpapi"
	"github.com/ent0n29/prepvoice/internal/interview"
	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/playback"
	"github.com/ent0n29/prepvoice/internal/recognition"
	"github.com/ent0n29/prepvoice/internal/report"
)

const sessionsAPITimeout = 10 * time.Second

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Session  *interview.Session
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Speech   string

	// Cleanup tears down the session and releases the history store.
	Cleanup func() error
}

// Build wires one interview session and its control API. Nothing connects yet;
// the caller joins with Session.Start.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, errors.New("INTERVIEW_SESSION_ID is required")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registry)

	recognizer, err := recognition.NewHTTPRecognizer(recognition.HTTPConfig{
		URL:      cfg.RecognitionURL,
		Format:   cfg.RecognitionFormat,
		APIToken: cfg.APIToken,
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("speech recognition init failed: %w", err)
	}

	speech, err := resolveSpeech(cfg)
	if err != nil {
		return nil, err
	}

	reports, err := report.NewClient(report.ClientConfig{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: sessionsAPITimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("sessions API client init failed: %w", err)
	}

	store, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	header := http.Header{}
	if cfg.APIToken != "" {
		header.Set("Authorization", "Bearer "+cfg.APIToken)
	}
	ch := channel.New(channel.Config{
		URL:            cfg.ChannelURL,
		ConnectTimeout: cfg.ConnectTimeout,
		Header:         header,
	}, logger, metrics)

	device := audio.NewFFmpegDevice(cfg.FFmpegCommand, cfg.AudioInputFormat, cfg.AudioInputDevice, cfg.NativeSampleRate)
	capture := audio.NewCapture(device, cfg.TargetSampleRate, logger)
	queue := playback.NewQueue(speech.synthesizer, speech.player, speech.local, logger, metrics)

	session, err := interview.New(interview.Config{
		SessionID:     cfg.SessionID,
		Track:         cfg.Track,
		LiveAudio:     cfg.LiveAudio,
		PollInterval:  cfg.PollInterval,
		ReportTimeout: cfg.ReportTimeout,
	}, interview.Deps{
		Channel:    ch,
		Queue:      queue,
		Recorder:   capture,
		Recognizer: recognizer,
		Reports:    reports,
		History:    store,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		queue.Close()
		_ = store.Close()
		return nil, err
	}

	api := httpapi.New(cfg, session, metrics, registry, logger)

	cleanup := func() error {
		session.Close()
		return store.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Session:  session,
		Metrics:  metrics,
		Registry: registry,
		Speech:   speech.detail,
		Cleanup:  cleanup,
	}, nil
}

// NewLogger builds a production logger at level; "debug" switches to the development
// encoder.
func NewLogger(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = atomic
	return zcfg.Build()
}
