package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/session"
	"github.com/alinavoice/alina/pkg/transports"
)

// voiceBridge turns session commands into frames addressed to the
// call's orchestrator. Speech, mic gating and prompt swaps ride the
// same ordered channel as transport media, so a Say queued before a
// mute can never be reordered after it.
type voiceBridge struct {
	callSID  string
	streamID string
	traceID  string
	in       chan frames.Frame
	ender    transports.CallEnder
	logger   *slog.Logger
}

func newVoiceBridge(callSID, streamID, traceID string, in chan frames.Frame, ender transports.CallEnder, logger *slog.Logger) *voiceBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &voiceBridge{
		callSID:  callSID,
		streamID: streamID,
		traceID:  traceID,
		in:       in,
		ender:    ender,
		logger:   logger,
	}
}

func (v *voiceBridge) meta() map[string]string {
	return map[string]string{
		frames.MetaStreamID: v.streamID,
		frames.MetaCallSID:  v.callSID,
		frames.MetaTraceID:  v.traceID,
		frames.MetaSource:   "session",
	}
}

func (v *voiceBridge) send(f frames.Frame) {
	select {
	case v.in <- f:
	default:
		v.logger.Warn("voice_bridge_dropped_frame",
			"call_id", v.callSID, "kind", string(f.Kind()))
	}
}

func (v *voiceBridge) system(name string, meta map[string]string) {
	v.send(frames.NewSystemFrame(v.streamID, time.Now().UnixNano(), name, meta))
}

func (v *voiceBridge) Say(text string, interruptible bool) {
	if text == "" {
		return
	}
	meta := v.meta()
	meta[frames.MetaSayText] = text
	meta[frames.MetaTTSFlush] = "true"
	if !interruptible {
		meta[frames.MetaNonInterruptible] = "true"
	}
	v.system("say", meta)
}

func (v *voiceBridge) SetMicEnabled(enabled bool) {
	name := "stt_disable"
	if enabled {
		name = "stt_enable"
	}
	v.system(name, v.meta())
}

func (v *voiceBridge) StartTyping() {
	v.system("typing_start", v.meta())
}

func (v *voiceBridge) StopTyping() {
	v.system("typing_stop", v.meta())
}

func (v *voiceBridge) StartHoldMusic() {
	v.system("music_start", v.meta())
}

func (v *voiceBridge) StopHoldMusic() {
	v.system("music_stop", v.meta())
}

func (v *voiceBridge) SetInstructions(prompt string) {
	if prompt == "" {
		return
	}
	meta := v.meta()
	meta[frames.MetaSystemMessage] = prompt
	v.system("set_instructions", meta)
}

func (v *voiceBridge) InjectUserText(text string) {
	if text == "" {
		return
	}
	meta := v.meta()
	meta[frames.MetaSource] = "dtmf"
	meta[frames.MetaIsFinal] = "true"
	v.send(frames.NewTextFrame(v.streamID, time.Now().UnixNano(), text, meta))
}

func (v *voiceBridge) Hangup(ctx context.Context) error {
	if v.ender == nil {
		return nil
	}
	return v.ender.EndCall(ctx, v.callSID)
}

var _ session.Voice = (*voiceBridge)(nil)
