package processors

import (
	"context"
	"testing"
	"time"

	"github.com/alinavoice/alina/pkg/adapters/stt"
	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/metrics"
)

type mockSTT struct {
	sent int
	out  chan frames.Frame
}

func (m *mockSTT) Name() string                    { return "mock_stt" }
func (m *mockSTT) Start(ctx context.Context) error { return nil }
func (m *mockSTT) Close() error                    { return nil }
func (m *mockSTT) SendAudio(frames.AudioFrame) error {
	m.sent++
	return nil
}
func (m *mockSTT) Results() <-chan frames.Frame { return m.out }

func audioFrame() frames.AudioFrame {
	meta := map[string]string{
		frames.MetaStreamID: "stream-1",
		frames.MetaCallSID:  "call-1",
	}
	// 8000 bytes of mulaw at 8 kHz mono is one second of speech.
	return frames.NewAudioFrame("stream-1", time.Now().UnixNano(), make([]byte, 8000), 8000, 1, meta)
}

func TestSTTMicGate(t *testing.T) {
	mock := &mockSTT{out: make(chan frames.Frame, 1)}
	proc := NewSTTProcessor(func(callSID, streamID string) stt.StreamingSTT { return mock })

	if _, err := proc.Process(audioFrame()); err != nil {
		t.Fatalf("process audio: %v", err)
	}
	if mock.sent != 1 {
		t.Fatalf("expected audio forwarded, sent=%d", mock.sent)
	}

	disable := frames.NewSystemFrame("stream-1", time.Now().UnixNano(), "stt_disable",
		map[string]string{frames.MetaStreamID: "stream-1"})
	if _, err := proc.Process(disable); err != nil {
		t.Fatalf("process disable: %v", err)
	}
	out, err := proc.Process(audioFrame())
	if err != nil {
		t.Fatalf("process muted audio: %v", err)
	}
	if mock.sent != 1 {
		t.Fatalf("expected muted audio to be dropped, sent=%d", mock.sent)
	}
	// The pipeline clock still ticks while the mic is parked.
	if len(out) != 1 || out[0].Kind() != frames.KindSystem {
		t.Fatalf("expected heartbeat for muted audio, got %v", out)
	}

	enable := frames.NewSystemFrame("stream-1", time.Now().UnixNano(), "stt_enable",
		map[string]string{frames.MetaStreamID: "stream-1"})
	if _, err := proc.Process(enable); err != nil {
		t.Fatalf("process enable: %v", err)
	}
	if _, err := proc.Process(audioFrame()); err != nil {
		t.Fatalf("process audio: %v", err)
	}
	if mock.sent != 2 {
		t.Fatalf("expected audio forwarded after enable, sent=%d", mock.sent)
	}
}

func TestSTTMicGateResolvesStreamByCall(t *testing.T) {
	mock := &mockSTT{out: make(chan frames.Frame, 1)}
	proc := NewSTTProcessor(func(callSID, streamID string) stt.StreamingSTT { return mock })

	if _, err := proc.Process(audioFrame()); err != nil {
		t.Fatalf("process audio: %v", err)
	}

	// Session-issued gates carry the call SID only.
	disable := frames.NewSystemFrame("", time.Now().UnixNano(), "stt_disable",
		map[string]string{frames.MetaCallSID: "call-1"})
	if _, err := proc.Process(disable); err != nil {
		t.Fatalf("process disable: %v", err)
	}
	if _, err := proc.Process(audioFrame()); err != nil {
		t.Fatalf("process muted audio: %v", err)
	}
	if mock.sent != 1 {
		t.Fatalf("expected muted audio to be dropped, sent=%d", mock.sent)
	}
}

func TestSTTRecordsAudioEvents(t *testing.T) {
	mock := &mockSTT{out: make(chan frames.Frame, 1)}
	proc := NewSTTProcessor(func(callSID, streamID string) stt.StreamingSTT { return mock })
	obs := metrics.NewMemoryObserver()
	proc.SetObserver(obs)

	if _, err := proc.Process(audioFrame()); err != nil {
		t.Fatalf("process audio: %v", err)
	}
	evs := obs.Named("stt_audio_in")
	if len(evs) != 1 {
		t.Fatalf("expected one stt_audio_in event, got %d", len(evs))
	}
	if evs[0].Tags[frames.MetaCallSID] != "call-1" {
		t.Fatalf("expected call tag, got %v", evs[0].Tags)
	}
}

func TestSTTAudioTally(t *testing.T) {
	mock := &mockSTT{out: make(chan frames.Frame, 1)}
	proc := NewSTTProcessor(func(callSID, streamID string) stt.StreamingSTT { return mock })

	var tallyCall string
	var seconds float64
	proc.SetAudioTally(func(callSID string, s float64) {
		tallyCall = callSID
		seconds += s
	})

	for i := 0; i < 3; i++ {
		if _, err := proc.Process(audioFrame()); err != nil {
			t.Fatalf("process audio: %v", err)
		}
	}
	if tallyCall != "call-1" {
		t.Fatalf("expected tally for call-1, got %q", tallyCall)
	}
	if seconds < 2.99 || seconds > 3.01 {
		t.Fatalf("expected three seconds tallied, got %f", seconds)
	}

	disable := frames.NewSystemFrame("stream-1", time.Now().UnixNano(), "stt_disable",
		map[string]string{frames.MetaStreamID: "stream-1"})
	if _, err := proc.Process(disable); err != nil {
		t.Fatalf("process disable: %v", err)
	}
	if _, err := proc.Process(audioFrame()); err != nil {
		t.Fatalf("process muted audio: %v", err)
	}
	if seconds > 3.01 {
		t.Fatalf("muted audio must not be billed, got %f", seconds)
	}
}
