package processors

import (
	"testing"
	"time"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/turn"
)

func sttText(text string, final bool) frames.TextFrame {
	meta := map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaSource:   "stt",
	}
	if final {
		meta[frames.MetaIsFinal] = "true"
	}
	return frames.NewTextFrame("stream-1", time.Now().UnixNano(), text, meta)
}

func llmText(text string, nonInterruptible bool) frames.TextFrame {
	meta := map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaSource:   "llm",
	}
	if nonInterruptible {
		meta[frames.MetaNonInterruptible] = "true"
	}
	return frames.NewTextFrame("stream-1", time.Now().UnixNano(), text, meta)
}

func process(t *testing.T, p *TurnProcessor, f frames.Frame) {
	t.Helper()
	if _, err := p.Process(f); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestTurnProtectionBlocksBargeIn(t *testing.T) {
	proc := NewTurnProcessor(turn.AggressiveStrategy{})

	process(t, proc, sttText("hello", false))
	process(t, proc, sttText("hello", true))
	process(t, proc, llmText("Please stay on the line while I book that.", true))
	if got := proc.Manager().State(); got != turn.StateSpeaking {
		t.Fatalf("expected speaking, got %v", got)
	}

	// Caller speech during a protected announcement must not barge in.
	process(t, proc, sttText("wait", false))
	if got := proc.Manager().State(); got != turn.StateSpeaking {
		t.Fatalf("expected speech to be suppressed, state %v", got)
	}

	// Playback completion lifts the protection.
	ready := frames.NewControlFrame("stream-1", time.Now().UnixNano(), frames.ControlAudioReady,
		map[string]string{frames.MetaStreamID: "stream-1"})
	process(t, proc, ready)
	if got := proc.Manager().State(); got != turn.StateListening {
		t.Fatalf("expected listening after playback, got %v", got)
	}

	process(t, proc, sttText("okay", true))
	process(t, proc, llmText("Anything else I can help with?", false))
	if got := proc.Manager().State(); got != turn.StateSpeaking {
		t.Fatalf("expected speaking, got %v", got)
	}

	// Ordinary replies remain interruptible.
	process(t, proc, sttText("actually", false))
	if got := proc.Manager().State(); got != turn.StateListening {
		t.Fatalf("expected barge-in to land, state %v", got)
	}
}
