package processors

import (
	"bytes"
	"encoding/base64"
	"os"
	"strings"
	"sync"

	"github.com/alinavoice/alina/pkg/frames"
	"github.com/alinavoice/alina/pkg/pipeline"
)

// BackgroundAudioProcessor plays a short comfort-noise loop while the agent
// is busy: during tool execution (thinking_start/thinking_end), while a
// typing indicator is requested (typing_start/typing_stop), and as hold
// music while a booking submits (music_start/music_stop). The loop masks
// dead air on slow backend calls.
type BackgroundAudioProcessor struct {
	mu     sync.Mutex
	active map[string]bool
	chunks [][]byte
	music  [][]byte
}

func NewBackgroundAudioProcessor(path string) *BackgroundAudioProcessor {
	raw := loadBackgroundAudio(path)
	if len(raw) < 160 {
		raw = bytes.Repeat([]byte{0xFF}, 160*5)
	}
	var chunks [][]byte
	for i := 0; i+160 <= len(raw); i += 160 {
		chunks = append(chunks, raw[i:i+160])
	}
	return &BackgroundAudioProcessor{
		active: make(map[string]bool),
		chunks: chunks,
	}
}

// SetHoldMusic loads the clip looped between music_start and music_stop.
// Without one the comfort-noise loop stands in.
func (p *BackgroundAudioProcessor) SetHoldMusic(path string) {
	raw := loadBackgroundAudio(path)
	var chunks [][]byte
	for i := 0; i+160 <= len(raw); i += 160 {
		chunks = append(chunks, raw[i:i+160])
	}
	p.mu.Lock()
	p.music = chunks
	p.mu.Unlock()
}

func (p *BackgroundAudioProcessor) Name() string { return "background_audio" }

func (p *BackgroundAudioProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	switch f.Kind() {
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		streamID := sf.Meta()[frames.MetaStreamID]
		switch sf.Name() {
		case "call_end":
			p.clear(streamID)
			return []frames.Frame{f}, nil
		case "thinking_start", "typing_start":
			return p.play(streamID, sf.Meta(), p.chunks), nil
		case "music_start":
			return p.play(streamID, sf.Meta(), p.musicChunks()), nil
		case "thinking_end", "typing_stop", "music_stop":
			p.clear(streamID)
			return []frames.Frame{f}, nil
		}
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		if cf.Code() == frames.ControlFlush || cf.Code() == frames.ControlCancel {
			p.clear(cf.Meta()[frames.MetaStreamID])
		}
	}
	return []frames.Frame{f}, nil
}

func (p *BackgroundAudioProcessor) musicChunks() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.music) > 0 {
		return p.music
	}
	return p.chunks
}

func (p *BackgroundAudioProcessor) play(streamID string, meta map[string]string, chunks [][]byte) []frames.Frame {
	p.mu.Lock()
	if p.active[streamID] {
		p.mu.Unlock()
		return nil
	}
	p.active[streamID] = true
	p.mu.Unlock()
	var out []frames.Frame
	for _, c := range chunks {
		frameMeta := map[string]string{
			frames.MetaEncoding:        "mulaw",
			frames.MetaBackgroundSound: "true",
		}
		for k, v := range meta {
			frameMeta[k] = v
		}
		out = append(out, frames.NewAudioFrameFromPool(streamID, 0, c, 8000, 1, frameMeta))
	}
	return out
}

func (p *BackgroundAudioProcessor) clear(streamID string) {
	p.mu.Lock()
	delete(p.active, streamID)
	p.mu.Unlock()
}

func loadBackgroundAudio(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if strings.HasSuffix(path, ".b64") {
		s := strings.TrimSpace(string(b))
		if s == "" {
			return nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err == nil && len(decoded) > 0 {
			return decoded
		}
	}
	return b
}

var _ pipeline.FrameProcessor = (*BackgroundAudioProcessor)(nil)
