package engine

import (
	"github.com/alinavoice/alina/pkg/adapters/stt"
	"github.com/alinavoice/alina/pkg/adapters/tts"
	"github.com/alinavoice/alina/pkg/configutil"
	"github.com/alinavoice/alina/pkg/providers/deepgram"
	"github.com/alinavoice/alina/pkg/providers/elevenlabs"
	"github.com/alinavoice/alina/pkg/providers/openai"
)

// sttFactory dials one Deepgram websocket per media stream. Telephone
// audio arrives as 8kHz mulaw; utterance-end events drive end-of-turn.
func sttFactory(cfg configutil.Config, traceID string) func(callSID, streamID string) stt.StreamingSTT {
	sampleRate := cfg.Engine.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	return func(callSID, streamID string) stt.StreamingSTT {
		return deepgram.New(deepgram.Config{
			APIKey:     cfg.Deepgram.APIKey,
			Model:      cfg.Deepgram.Model,
			Language:   "en-US",
			SampleRate: sampleRate,
			Encoding:   "mulaw",
			Interim:    true,
			VADEvents:  true,
			StreamID:   streamID,
			CallSID:    callSID,
			TraceID:    traceID,
			Params: deepgram.DeepgramParams{
				EchoCancellation: true,
				UtteranceEndMS:   1000,
			},
		})
	}
}

// ttsFactory dials one ElevenLabs websocket per media stream, emitting
// mulaw chunks Twilio can play back directly.
func ttsFactory(cfg configutil.Config) func(callSID, streamID string) tts.StreamingTTS {
	sampleRate := cfg.Engine.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	return func(callSID, streamID string) tts.StreamingTTS {
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       cfg.ElevenLabs.APIKey,
			VoiceID:      cfg.ElevenLabs.VoiceID,
			ModelID:      cfg.ElevenLabs.ModelID,
			OutputFormat: cfg.ElevenLabs.OutputFormat,
			SampleRate:   sampleRate,
			StreamID:     streamID,
			CallSID:      callSID,
		})
	}
}

func agentAdapter(cfg configutil.Config) *openai.Adapter {
	return openai.NewAdapter(cfg.OpenAI.APIKey, cfg.OpenAI.AgentModel)
}

func supervisorAdapter(cfg configutil.Config) *openai.Adapter {
	return openai.NewAdapter(cfg.OpenAI.APIKey, cfg.OpenAI.SupervisorModel)
}
