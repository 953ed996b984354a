package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/logging"
)

type stubEnder struct {
	ended []string
	err   error
}

func (s *stubEnder) EndCall(ctx context.Context, callSID string) error {
	s.ended = append(s.ended, callSID)
	return s.err
}

func drainOne(t *testing.T, in chan frames.Frame) frames.Frame {
	t.Helper()
	select {
	case f := <-in:
		return f
	default:
		t.Fatalf("expected a frame")
		return nil
	}
}

func TestVoiceBridgeSay(t *testing.T) {
	in := make(chan frames.Frame, 4)
	vb := newVoiceBridge("CA100", "stream-1", "trace-1", in, nil, logging.Discard())

	vb.Say("Your ride is confirmed for ten thirty.", false)
	f := drainOne(t, in)
	sf, ok := f.(frames.SystemFrame)
	if !ok || sf.Name() != "say" {
		t.Fatalf("expected say frame, got %T %v", f, f)
	}
	meta := sf.Meta()
	if meta[frames.MetaSayText] != "Your ride is confirmed for ten thirty." {
		t.Fatalf("unexpected say text %q", meta[frames.MetaSayText])
	}
	if meta[frames.MetaTTSFlush] != "true" {
		t.Fatalf("expected flush on announcements")
	}
	if meta[frames.MetaNonInterruptible] != "true" {
		t.Fatalf("expected locked announcement")
	}
	if meta[frames.MetaCallSID] != "CA100" || meta[frames.MetaStreamID] != "stream-1" {
		t.Fatalf("missing addressing meta: %v", meta)
	}

	vb.Say("Anything else?", true)
	sf = drainOne(t, in).(frames.SystemFrame)
	if sf.Meta()[frames.MetaNonInterruptible] == "true" {
		t.Fatalf("interruptible say must not be locked")
	}

	// Empty text is dropped, not queued.
	vb.Say("", true)
	select {
	case f := <-in:
		t.Fatalf("unexpected frame %v", f)
	default:
	}
}

func TestVoiceBridgeMicGate(t *testing.T) {
	in := make(chan frames.Frame, 4)
	vb := newVoiceBridge("CA100", "stream-1", "trace-1", in, nil, logging.Discard())

	vb.SetMicEnabled(false)
	if sf := drainOne(t, in).(frames.SystemFrame); sf.Name() != "stt_disable" {
		t.Fatalf("expected stt_disable, got %q", sf.Name())
	}
	vb.SetMicEnabled(true)
	if sf := drainOne(t, in).(frames.SystemFrame); sf.Name() != "stt_enable" {
		t.Fatalf("expected stt_enable, got %q", sf.Name())
	}
}

func TestVoiceBridgeInjectUserText(t *testing.T) {
	in := make(chan frames.Frame, 4)
	vb := newVoiceBridge("CA100", "stream-1", "trace-1", in, nil, logging.Discard())

	vb.InjectUserText("My phone number is (301) 555-1234.")
	f := drainOne(t, in)
	tf, ok := f.(frames.TextFrame)
	if !ok {
		t.Fatalf("expected text frame, got %T", f)
	}
	if tf.Meta()[frames.MetaSource] != "dtmf" {
		t.Fatalf("expected dtmf source, got %q", tf.Meta()[frames.MetaSource])
	}
	if tf.Meta()[frames.MetaIsFinal] != "true" {
		t.Fatalf("injected text must be final")
	}
}

func TestVoiceBridgeSetInstructions(t *testing.T) {
	in := make(chan frames.Frame, 4)
	vb := newVoiceBridge("CA100", "stream-1", "trace-1", in, nil, logging.Discard())

	vb.SetInstructions("You are now booking the return leg.")
	sf := drainOne(t, in).(frames.SystemFrame)
	if sf.Name() != "set_instructions" {
		t.Fatalf("expected set_instructions, got %q", sf.Name())
	}
	if sf.Meta()[frames.MetaSystemMessage] != "You are now booking the return leg." {
		t.Fatalf("missing prompt in meta")
	}
}

func TestVoiceBridgeHangup(t *testing.T) {
	in := make(chan frames.Frame, 1)
	ender := &stubEnder{}
	vb := newVoiceBridge("CA100", "stream-1", "trace-1", in, ender, logging.Discard())

	if err := vb.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if len(ender.ended) != 1 || ender.ended[0] != "CA100" {
		t.Fatalf("expected EndCall for CA100, got %v", ender.ended)
	}

	ender.err = errors.New("twilio down")
	if err := vb.Hangup(context.Background()); err == nil {
		t.Fatalf("expected error surfaced")
	}

	// No transport wired (tests, local runs) is not an error.
	bare := newVoiceBridge("CA100", "stream-1", "trace-1", in, nil, logging.Discard())
	if err := bare.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup without ender: %v", err)
	}
}
