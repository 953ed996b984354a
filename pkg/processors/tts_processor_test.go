package processors

import (
	"context"
	"testing"
	"time"

	"github.com/alinavoice/alina/pkg/adapters/tts"
	"github.com/alinavoice/alina/pkg/frames"
)

type mockTTS struct {
	flushCount int
	startCount int
	texts      []string
	out        chan frames.Frame
}

func (m *mockTTS) Name() string { return "mock_tts" }

func (m *mockTTS) Start(ctx context.Context) error {
	m.startCount++
	return nil
}

func (m *mockTTS) Close() error { return nil }

func (m *mockTTS) SendText(text string) error {
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockTTS) Flush() {
	m.flushCount++
}

func (m *mockTTS) Results() <-chan frames.Frame { return m.out }

func TestTTSProcessorInterruptionFlush(t *testing.T) {
	mock := &mockTTS{out: make(chan frames.Frame, 1)}
	factory := func(callSID, streamID string) tts.StreamingTTS { return mock }
	proc := NewTTSProcessor(factory)

	meta := map[string]string{frames.MetaStreamID: "stream-1", frames.MetaSource: "llm"}
	text := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "Halo", meta)
	if _, err := proc.Process(text); err != nil {
		t.Fatalf("process text: %v", err)
	}

	ctrl := frames.NewControlFrame("stream-1", time.Now().UnixNano(), frames.ControlStartInterruption, map[string]string{frames.MetaStreamID: "stream-1"})
	if _, err := proc.Process(ctrl); err != nil {
		t.Fatalf("process interruption: %v", err)
	}
	if mock.flushCount == 0 {
		t.Fatalf("expected flush to be called on interruption")
	}
}

func TestTTSProcessorCharacterTally(t *testing.T) {
	mock := &mockTTS{out: make(chan frames.Frame, 1)}
	factory := func(callSID, streamID string) tts.StreamingTTS { return mock }
	proc := NewTTSProcessor(factory)

	var tallyCall string
	var tallyChars int
	proc.SetCharacterTally(func(callSID string, chars int) {
		tallyCall = callSID
		tallyChars += chars
	})

	meta := map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaCallSID:  "call-1",
		frames.MetaSource:   "llm",
	}
	text := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "Your ride is booked.", meta)
	if _, err := proc.Process(text); err != nil {
		t.Fatalf("process text: %v", err)
	}
	if tallyCall != "call-1" {
		t.Fatalf("expected tally for call-1, got %q", tallyCall)
	}
	if tallyChars != len("Your ride is booked.") {
		t.Fatalf("expected %d chars, got %d", len("Your ride is booked."), tallyChars)
	}
}

func TestTTSProcessorFlushOnAnnouncement(t *testing.T) {
	mock := &mockTTS{out: make(chan frames.Frame, 1)}
	factory := func(callSID, streamID string) tts.StreamingTTS { return mock }
	proc := NewTTSProcessor(factory)

	meta := map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaCallSID:  "call-1",
		frames.MetaSource:   "llm",
		frames.MetaTTSFlush: "true",
	}
	text := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "One moment please.", meta)
	if _, err := proc.Process(text); err != nil {
		t.Fatalf("process text: %v", err)
	}
	if len(mock.texts) != 1 || mock.texts[0] != "One moment please." {
		t.Fatalf("expected text delivered, got %v", mock.texts)
	}
	if mock.flushCount == 0 {
		t.Fatalf("expected flush after announcement text")
	}
}
