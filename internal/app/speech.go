package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/prepvoice/internal/config"
	"github.com/ent0n29/prepvoice/internal/playback"
)

type speechSetup struct {
	synthesizer playback.Synthesizer
	player      playback.Player
	local       playback.LocalVoice
	detail      string
}

// resolveSpeech picks the output chain: remote synthesis when configured, the local
// voice command as fallback, and always a command player for server or remote audio.
func resolveSpeech(cfg config.Config) (speechSetup, error) {
	setup := speechSetup{player: playback.NewCommandPlayer(cfg.PlayerCommand)}

	if url := strings.TrimSpace(cfg.SynthesisURL); url != "" {
		s, err := playback.NewHTTPSynthesizer(playback.HTTPSynthesizerConfig{
			URL:    url,
			APIKey: cfg.SynthesisAPIKey,
		})
		if err != nil {
			return speechSetup{}, fmt.Errorf("speech synthesis init failed: %w", err)
		}
		setup.synthesizer = s
	}
	if strings.TrimSpace(cfg.LocalVoiceCommand) != "" {
		v, err := playback.NewCommandVoice(cfg.LocalVoiceCommand)
		if err != nil {
			return speechSetup{}, fmt.Errorf("local voice init failed: %w", err)
		}
		setup.local = v
	}

	switch {
	case setup.synthesizer != nil && setup.local != nil:
		setup.detail = "remote synthesis (local voice fallback)"
	case setup.synthesizer != nil:
		setup.detail = "remote synthesis"
	case setup.local != nil:
		setup.detail = "local voice"
	default:
		setup.detail = "server audio only"
	}
	return setup, nil
}
