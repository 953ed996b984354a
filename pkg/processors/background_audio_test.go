package processors

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alinavoice/alina/pkg/frames"
)

func TestBackgroundAudioHoldMusicLoop(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "hold.raw")
	if err := os.WriteFile(clip, bytes.Repeat([]byte{0x7F}, 160*3), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	p := NewBackgroundAudioProcessor("")
	p.SetHoldMusic(clip)
	meta := map[string]string{frames.MetaStreamID: "stream-1"}

	out, err := p.Process(frames.NewSystemFrame("stream-1", 0, "music_start", meta))
	if err != nil {
		t.Fatalf("music_start error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 audio frames from the hold clip, got %d", len(out))
	}
	for _, f := range out {
		if f.Kind() != frames.KindAudio {
			t.Fatalf("expected audio frame, got %v", f.Kind())
		}
		if f.Meta()[frames.MetaBackgroundSound] != "true" {
			t.Fatalf("hold music not marked as background sound")
		}
	}

	// A second start while active stays silent.
	out, err = p.Process(frames.NewSystemFrame("stream-1", 0, "music_start", meta))
	if err != nil {
		t.Fatalf("repeat music_start error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no frames while already playing, got %d", len(out))
	}

	// Stop passes through and re-arms the loop.
	out, err = p.Process(frames.NewSystemFrame("stream-1", 0, "music_stop", meta))
	if err != nil {
		t.Fatalf("music_stop error: %v", err)
	}
	if len(out) != 1 || out[0].Kind() != frames.KindSystem {
		t.Fatalf("expected the stop frame to pass through")
	}
	out, err = p.Process(frames.NewSystemFrame("stream-1", 0, "music_start", meta))
	if err != nil {
		t.Fatalf("restart error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected hold music to restart, got %d frames", len(out))
	}
}

func TestBackgroundAudioMusicFallsBackToComfortNoise(t *testing.T) {
	p := NewBackgroundAudioProcessor("")
	meta := map[string]string{frames.MetaStreamID: "stream-2"}

	out, err := p.Process(frames.NewSystemFrame("stream-2", 0, "music_start", meta))
	if err != nil {
		t.Fatalf("music_start error: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected the comfort-noise loop when no hold clip is configured")
	}
}
