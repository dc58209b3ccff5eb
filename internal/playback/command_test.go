package playback

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/prepvoice/internal/audio"
)

func writeScript(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCommandVoicePassesTextAsLastArg(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spoken.txt")
	script := writeScript(t, "voice.sh", "#!/usr/bin/env bash\nprintf '%s|' \"$@\" > "+out+"\n")

	v, err := NewCommandVoice(script + " -v en")
	if err != nil {
		t.Fatalf("NewCommandVoice() error = %v", err)
	}
	if err := v.Speak(context.Background(), "  tell me more  "); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "-v|en|tell me more|" {
		t.Fatalf("args = %q, want -v|en|tell me more|", got)
	}
}

func TestNewCommandVoiceRequiresCommand(t *testing.T) {
	if _, err := NewCommandVoice("  "); err == nil {
		t.Fatalf("NewCommandVoice() error = nil, want error")
	}
}

func TestCommandPlayerWrapsPCMInWAV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "played.bin")
	script := writeScript(t, "player.sh", "#!/usr/bin/env bash\ncat > "+out+"\n")

	p := NewCommandPlayer(script)
	err := p.Play(context.Background(), Audio{Data: []byte{1, 0, 2, 0}, Format: FormatPCM16LE, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !audio.IsWAV(got) || len(got) != 48 {
		t.Fatalf("player input is not a 48-byte WAV: len=%d", len(got))
	}
}

func TestCommandPlayerReportsFailure(t *testing.T) {
	script := writeScript(t, "broken.sh", "#!/usr/bin/env bash\ncat > /dev/null\necho 'no audio device' 1>&2\nexit 3\n")
	err := NewCommandPlayer(script).Play(context.Background(), Audio{Data: []byte("x"), Format: FormatMP3})
	if err == nil || !strings.Contains(err.Error(), "no audio device") {
		t.Fatalf("Play() error = %v, want stderr in error", err)
	}
}

func TestCommandPlayerStopsOnCancel(t *testing.T) {
	script := writeScript(t, "slow.sh", "#!/usr/bin/env bash\nexec sleep 5\n")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewCommandPlayer(script).Play(ctx, Audio{Data: []byte("x"), Format: FormatMP3})
	if err == nil {
		t.Fatalf("Play() error = nil, want cancellation")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("Play() ignored cancellation for %v", time.Since(start))
	}
}

func TestNewCommandPlayerDefaultsToFFplay(t *testing.T) {
	p := NewCommandPlayer("")
	if p.command != "ffplay" || !strings.Contains(strings.Join(p.args, " "), "pipe:0") {
		t.Fatalf("unexpected default player: %s %v", p.command, p.args)
	}
}
