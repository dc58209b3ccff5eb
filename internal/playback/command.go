package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ent0n29/prepvoice/internal/audio"
)

// CommandPlayer plays audio by piping it into an external player such as ffplay.
type CommandPlayer struct {
	command string
	args    []string
}

// NewCommandPlayer parses a command line such as "ffplay -nodisp -autoexit".
// An empty line selects ffplay with flags suitable for piped input.
func NewCommandPlayer(commandLine string) *CommandPlayer {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		fields = []string{"ffplay"}
	}
	args := fields[1:]
	if len(args) == 0 && strings.HasSuffix(fields[0], "ffplay") {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"}
	}
	return &CommandPlayer{command: fields[0], args: args}
}

func (p *CommandPlayer) Play(ctx context.Context, a Audio) error {
	if len(a.Data) == 0 {
		return ErrEmptyAudio
	}
	data := a.Data
	args := append([]string(nil), p.args...)
	if a.Format == FormatPCM16LE && !audio.IsWAV(data) {
		rate := a.SampleRate
		if rate <= 0 {
			rate = 24000
		}
		var buf bytes.Buffer
		if err := audio.WriteWAV(&buf, data, rate); err != nil {
			return err
		}
		data = buf.Bytes()
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player %s: %w: %s", p.command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CommandVoice speaks text with a local TTS command such as espeak-ng. The text is
// passed as the final argument.
type CommandVoice struct {
	command string
	args    []string
}

func NewCommandVoice(commandLine string) (*CommandVoice, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("local voice command is required")
	}
	return &CommandVoice{command: fields[0], args: fields[1:]}, nil
}

func (v *CommandVoice) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	args := append(append([]string(nil), v.args...), text)
	cmd := exec.CommandContext(ctx, v.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("local voice %s: %w: %s", v.command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
